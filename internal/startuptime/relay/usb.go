package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/clock"
	"k8s.io/utils/exec"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/pkg/log"
)

var _ core.Relay = (*USBRelay)(nil)

// USBRelay switches a USB HID relay through the usbrelay command line tool.
type USBRelay struct {
	command string
	channel string
	dwell   time.Duration

	exec   exec.Interface
	clock  clock.Clock
	logger log.Logger
}

func NewUSBRelay(cfg Config, e exec.Interface, clk clock.Clock, logger log.Logger) *USBRelay {
	r := &USBRelay{
		command: cfg.USBCommand,
		channel: cfg.USBChannel,
		dwell:   dwellOr(cfg.Dwell, DefaultUSBDwell),
		exec:    e,
		clock:   clk,
		logger:  logger,
	}
	if r.command == "" {
		r.command = DefaultUSBCommand
	}
	if r.channel == "" {
		r.channel = DefaultUSBChannel
	}
	if r.logger == nil {
		r.logger = log.NewNopLogger()
	}
	return r
}

func (r *USBRelay) PowerCycle(ctx context.Context) error {
	r.logger.Info("Turning OFF relay...", "channel", r.channel)
	if err := r.set(ctx, 0); err != nil {
		return err
	}
	if err := sleep(ctx, r.clock, r.dwell); err != nil {
		return err
	}

	r.logger.Info("Turning ON relay...", "channel", r.channel)
	if err := r.set(ctx, 1); err != nil {
		return err
	}
	return sleep(ctx, r.clock, usbSettle)
}

func (r *USBRelay) set(ctx context.Context, state int) error {
	arg := fmt.Sprintf("%s=%d", r.channel, state)
	out, err := r.exec.CommandContext(ctx, r.command, arg).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v: %s", ErrRelay, r.command, arg, err, strings.TrimSpace(string(out)))
	}
	return nil
}
