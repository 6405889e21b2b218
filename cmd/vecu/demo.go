package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LoveWonYoung/vecu/driver"
	"github.com/LoveWonYoung/vecu/ecu"
	"github.com/LoveWonYoung/vecu/tp_layer"
	"github.com/LoveWonYoung/vecu/uds"
	"github.com/LoveWonYoung/vecu/udsclient"
)

// demoDID 是演示中读取的 DID
type demoDID struct {
	id   uint16
	name string
}

// testerPresentTimeout 会话保持请求的单次超时
const testerPresentTimeout = 200 * time.Millisecond

var demoDIDs = []demoDID{
	{0x0102, "Software Version"},
	{0x0103, "Serial Number"},
	{0xF190, "VIN"},
}

func runDemo(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "log every frame")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := demoLogger(*verbose)

	if err := basicDemo(ctx, out, logger); err != nil {
		return err
	}
	return multiClientDemo(ctx, out, logger)
}

// connect 为 target 单独建一条虚拟总线并返回其上的诊断仪
func connect(target *ecu.ECU, logger zerolog.Logger) (*udsclient.UDSClient, error) {
	bus := driver.NewVirtualBus(driver.CAN, logger)
	bus.Attach(tp_layer.DefaultECUAddress(), target)
	return udsclient.NewUDSClient(bus, tp_layer.DefaultTesterAddress(), udsclient.WithLogger(logger))
}

func basicDemo(ctx context.Context, out io.Writer, logger zerolog.Logger) error {
	banner(out, "UDS DoCAN Virtual ECU - Basic Walk")

	target := ecu.New("DEMO_ECU_001", ecu.WithLogger(logger))
	target.SetDataIdentifier(0x0102, []byte("v1.2"))
	target.SetDataIdentifier(0x0103, []byte("AB12"))
	target.SetDataIdentifier(0xF190, []byte("WVWZZZ1JZXW000001"))
	target.AddFaultCode(0xC0FF01)
	target.AddFaultCode(0xC0FF02)
	fmt.Fprintf(out, "created ECU %s\n", target.ID())

	client, err := connect(target, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprint(out, "\n[1] Tester Present (0x3E):")
	report(out, client.TesterPresent(ctx))

	fmt.Fprint(out, "\n[2] Diagnostic Session Control (0x10), extended session:")
	session, err := client.DiagnosticSessionControl(ctx, 0x03)
	if report(out, err) {
		fmt.Fprintf(out, "    session: 0x%02X\n", session)
	}

	fmt.Fprintln(out, "\n[3] Read Data By Identifier (0x22)")
	readDIDs(ctx, out, client)

	fmt.Fprintln(out, "\n[4] Read DTC Information (0x19)")
	readDTCs(ctx, out, client)

	fmt.Fprint(out, "\n[5] Unsupported service (0x27):")
	_, err = client.Request([]byte{byte(uds.SecurityAccess), 0x01})
	report(out, err)

	snap := target.Snapshot()
	fmt.Fprintf(out, "\nsession active: %t, DIDs: %d, DTCs: %d\n",
		snap.SessionActive, len(snap.DataIdentifiers), len(snap.FaultCodes))
	return nil
}

func multiClientDemo(ctx context.Context, out io.Writer, logger zerolog.Logger) error {
	banner(out, "Advanced Virtual ECU - Multi-Client Diagnostic Session")

	target := ecu.New("VEHICLE_ECU_2024", ecu.WithLogger(logger))
	target.SetDataIdentifier(0x0102, []byte("SW25"))
	target.SetDataIdentifier(0x0103, []byte("VIN1"))
	target.AddFaultCode(0xC0FF01)
	fmt.Fprintf(out, "created ECU %s\n", target.ID())

	names := []string{"Scanner_1", "Programmer"}
	logs := make([]bytes.Buffer, len(names))

	errg, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		errg.Go(func() error {
			client, err := connect(target, logger.With().Str("client", name).Logger())
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			defer client.Close()
			testerWalk(gctx, &logs[i], name, client)
			return nil
		})
	}
	if err := errg.Wait(); err != nil {
		return err
	}

	for i := range logs {
		if _, err := logs[i].WriteTo(out); err != nil {
			return err
		}
	}
	banner(out, "Diagnostic session completed")
	return nil
}

func testerWalk(ctx context.Context, out io.Writer, name string, client *udsclient.UDSClient) {
	fmt.Fprintf(out, "\n[%s] extended session:", name)
	session, err := client.DiagnosticSessionControl(ctx, 0x03)
	if report(out, err) {
		fmt.Fprintf(out, "    entered session 0x%02X\n", session)
	}
	for i := range 3 {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprintf(out, "    tester present #%d:", i+1)
		_, err := client.RequestWithTimeout([]byte{byte(uds.TesterPresent)}, testerPresentTimeout)
		report(out, err)
	}

	fmt.Fprintf(out, "[%s] reading vehicle data\n", name)
	readDIDs(ctx, out, client)

	fmt.Fprintf(out, "[%s] reading DTCs\n", name)
	readDTCs(ctx, out, client)
}

func readDIDs(ctx context.Context, out io.Writer, client *udsclient.UDSClient) {
	for _, did := range demoDIDs {
		value, err := client.ReadDataByIdentifier(ctx, did.id)
		fmt.Fprintf(out, "    %s (0x%04X):", did.name, did.id)
		if report(out, err) {
			fmt.Fprintf(out, "    value %q\n", value)
		}
	}
}

func readDTCs(ctx context.Context, out io.Writer, client *udsclient.UDSClient) {
	fmt.Fprint(out, "    count:")
	count, err := client.ReadDTCCount(ctx)
	if !report(out, err) {
		return
	}
	fmt.Fprintf(out, "    total DTCs: %d\n", count)
	if count == 0 {
		return
	}

	fmt.Fprint(out, "    records:")
	codes, err := client.ReadDTCs(ctx)
	if report(out, err) {
		for _, code := range codes {
			fmt.Fprintf(out, "    %s (0x%06X)\n", code, uint32(code))
		}
	}
}

// report 输出结果并返回是否成功
func report(out io.Writer, err error) bool {
	if err != nil {
		fmt.Fprintf(out, " error: %v\n", err)
		return false
	}
	fmt.Fprintln(out, " ok")
	return true
}

func banner(out io.Writer, title string) {
	line := strings.Repeat("=", 60)
	fmt.Fprintf(out, "\n%s\n%s\n%s\n", line, title, line)
}
