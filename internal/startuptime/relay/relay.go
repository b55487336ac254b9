// Package relay power-cycles the ECUs of a bench to produce an ignition-on event.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"
	"k8s.io/utils/exec"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/pkg/log"
)

// ErrRelay marks a hardware failure. A run cannot continue after it.
var ErrRelay = errors.New("relay failure")

const (
	DefaultUSBCommand = "usbrelay"
	DefaultUSBChannel = "BITFT_1"
	DefaultBaudRate   = 9600

	DefaultUSBDwell    = 3 * time.Second
	DefaultSerialDwell = 25 * time.Second

	usbSettle    = 200 * time.Millisecond
	serialSettle = 100 * time.Millisecond
)

// Config selects and parameterizes the relay of a bench.
type Config struct {
	USBCommand string
	USBChannel string
	SerialPort string
	BaudRate   int
	// Dwell is the time the ECUs stay unpowered. Zero picks the strategy default.
	Dwell time.Duration
}

// New returns the relay strategy wired for setup.
func New(setup core.SetupType, cfg Config, logger log.Logger) (core.Relay, error) {
	switch setup {
	case core.SetupPADAS:
		return NewUSBRelay(cfg, exec.New(), clock.RealClock{}, logger), nil
	case core.SetupElite:
		if cfg.SerialPort == "" {
			return nil, fmt.Errorf("%w: serial port is required for %s", ErrRelay, setup)
		}
		return NewSerialRelay(cfg, OpenSerial, clock.RealClock{}, logger), nil
	}
	return nil, fmt.Errorf("%w: no relay for setup %q", ErrRelay, setup)
}

// Skip is used when captures are replayed from disk.
type Skip struct {
	Logger log.Logger
}

func (s Skip) PowerCycle(context.Context) error {
	if s.Logger != nil {
		s.Logger.Info("Pre-generated logs in use, relay not switched")
	}
	return nil
}

// sleep blocks for d and reports a cancellation observed around it.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clk.Sleep(d)
	return ctx.Err()
}

func dwellOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
