// Command vecu runs a virtual UDS ECU.
//
//	vecu serve [-config vecu.toml]     serve the ECU over the TCP gateway
//	vecu demo                          walk the basic and multi-client scenarios
//	vecu sign -image cal.hex -key HEX  print the CMAC tag of a calibration image
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/LoveWonYoung/vecu/calibration"
	"github.com/LoveWonYoung/vecu/config"
	"github.com/LoveWonYoung/vecu/ecu"
	"github.com/LoveWonYoung/vecu/gateway"
	"github.com/LoveWonYoung/vecu/logrecorder"
	"github.com/LoveWonYoung/vecu/metrics"
)

const usage = `usage: vecu <command> [flags]

commands:
  serve   serve the ECU over the TCP gateway
  demo    run the basic and multi-client diagnostic walks on a virtual bus
  sign    print the CMAC tag of an Intel HEX calibration image
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(ctx, args)
	case "demo":
		err = runDemo(ctx, args, os.Stdout)
	case "sign":
		err = runSign(args, os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintln(os.Stderr, "vecu:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	path := fs.String("config", os.Getenv(config.EnvConfigPath), "TOML or YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}

	logger, closer, err := logrecorder.New(logrecorder.Options{
		Name:      "vecu_",
		Level:     cfg.Log.Level,
		Dir:       cfg.Log.Dir,
		NoColor:   cfg.Log.NoColor,
		Timestamp: true,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	rec := metrics.New()
	target, err := ecu.FromConfig(cfg.ECU, ecu.WithLogger(logger), ecu.WithMetrics(rec))
	if err != nil {
		return err
	}
	snap := target.Snapshot()
	logger.Info().
		Str("ecu", snap.ID).
		Int("dids", len(snap.DataIdentifiers)).
		Int("dtcs", len(snap.FaultCodes)).
		Msg("ecu ready")

	err = gateway.Run(ctx, cfg.Gateway, target, rec, logger)
	logger.Info().Err(err).Msg("gateway stopped")
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	config.ApplyEnvOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	path := fs.String("image", "", "Intel HEX calibration image")
	keyHex := fs.String("key", "", "AES key in hex (16, 24 or 32 bytes)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" || *keyHex == "" {
		return errors.New("sign: -image and -key are required")
	}

	key, err := hex.DecodeString(*keyHex)
	if err != nil {
		return fmt.Errorf("sign: invalid key: %w", err)
	}
	img, err := calibration.LoadFile(*path)
	if err != nil {
		return err
	}
	tag, err := img.Sign(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hex.EncodeToString(tag))
	return err
}

func demoLogger(verbose bool) zerolog.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, _, err := logrecorder.New(logrecorder.Options{Name: "vecu_demo_", Level: level})
	if err != nil {
		return zerolog.Nop()
	}
	return logger
}
