package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/LoveWonYoung/vecu/logrecorder"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate returns a *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateECU(cfg, ve)
	validateGateway(cfg, ve)
	validateLog(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateECU(cfg *Config, ve *ValidationError) {
	e := cfg.ECU
	if strings.TrimSpace(e.ID) == "" {
		ve.Add("ecu.id must not be empty")
	}
	if _, err := e.ParsedDataIdentifiers(); err != nil {
		ve.Add("ecu.data_identifiers: %v", err)
	}
	if _, err := e.ParsedFaultCodes(); err != nil {
		ve.Add("ecu.fault_codes: %v", err)
	}

	img := e.Image
	if !img.Signed() {
		return
	}
	if img.Path == "" {
		ve.Add("ecu.image.key/tag set without ecu.image.path")
	}
	if key, err := img.ParsedKey(); err != nil {
		ve.Add("%v", err)
	} else if n := len(key); n != 16 && n != 24 && n != 32 {
		ve.Add("ecu.image.key must be 16, 24 or 32 bytes, got %d", n)
	}
	if tag, err := img.ParsedTag(); err != nil {
		ve.Add("%v", err)
	} else if len(tag) == 0 {
		ve.Add("ecu.image.tag must be set when ecu.image.key is")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if _, _, err := net.SplitHostPort(g.Listen); err != nil {
		ve.Add("gateway.listen %q: %v", g.Listen, err)
	}
	if g.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(g.MetricsListen); err != nil {
			ve.Add("gateway.metrics_listen %q: %v", g.MetricsListen, err)
		}
	}
	if g.FramesPerSecond < 0 {
		ve.Add("gateway.frames_per_second must be >= 0")
	}
	if g.FramesPerSecond > 0 && g.Burst < 1 {
		ve.Add("gateway.burst must be >= 1 when frames_per_second is set")
	}
}

func validateLog(cfg *Config, ve *ValidationError) {
	if _, ok := logrecorder.ParseLevel(cfg.Log.Level); !ok && cfg.Log.Level != "" {
		ve.Add("log.level %q is not a known level", cfg.Log.Level)
	}
}
