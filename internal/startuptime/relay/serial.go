package relay

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/pkg/log"
)

const (
	serialOff = "AT+CH1=0"
	serialOn  = "AT+CH1=1"

	serialTimeout = time.Second
)

// Port is the part of a serial port the relay needs.
type Port interface {
	io.WriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial port.
type Opener func(name string, mode *serial.Mode) (Port, error)

// OpenSerial opens a real serial device.
func OpenSerial(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

var _ core.Relay = (*SerialRelay)(nil)

// SerialRelay drives an AT command relay board shared by every ECU of an ELITE bench.
type SerialRelay struct {
	port  string
	mode  *serial.Mode
	dwell time.Duration

	open   Opener
	clock  clock.Clock
	logger log.Logger
}

func NewSerialRelay(cfg Config, open Opener, clk clock.Clock, logger log.Logger) *SerialRelay {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &SerialRelay{
		port: cfg.SerialPort,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		dwell:  dwellOr(cfg.Dwell, DefaultSerialDwell),
		open:   open,
		clock:  clk,
		logger: logger.WithValues("port", cfg.SerialPort),
	}
}

func (r *SerialRelay) PowerCycle(ctx context.Context) error {
	p, err := r.open(r.port, r.mode)
	if err != nil {
		return fmt.Errorf("%w: open serial port %s: %v", ErrRelay, r.port, err)
	}
	defer p.Close()

	if err := p.SetReadTimeout(serialTimeout); err != nil {
		return fmt.Errorf("%w: configure serial port %s: %v", ErrRelay, r.port, err)
	}

	r.logger.Info("Turning OFF relay...")
	if err := r.write(p, serialOff); err != nil {
		return err
	}
	if err := sleep(ctx, r.clock, r.dwell); err != nil {
		return err
	}

	r.logger.Info("Turning ON relay...")
	if err := r.write(p, serialOn); err != nil {
		return err
	}
	return sleep(ctx, r.clock, serialSettle)
}

func (r *SerialRelay) write(p Port, cmd string) error {
	if _, err := io.WriteString(p, cmd); err != nil {
		return fmt.Errorf("%w: write %q to %s: %v", ErrRelay, cmd, r.port, err)
	}
	return nil
}
