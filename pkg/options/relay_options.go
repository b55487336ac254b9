package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RelayOptions)(nil)

// RelayOptions select how the bench is power cycled.
type RelayOptions struct {
	// SerialPort drives the AT relay of ELITE benches, e.g. /dev/ttyUSB0 or COM3.
	SerialPort string `json:"serial-port" mapstructure:"serial-port"`
	BaudRate   int    `json:"baud-rate" mapstructure:"baud-rate"`
	// USBCommand and USBChannel drive the HID relay of PADAS benches.
	USBCommand string `json:"usb-command" mapstructure:"usb-command"`
	USBChannel string `json:"usb-channel" mapstructure:"usb-channel"`
	// Dwell overrides both the configuration file and the relay default.
	Dwell time.Duration `json:"dwell" mapstructure:"dwell"`
}

func NewRelayOptions() *RelayOptions {
	return &RelayOptions{
		BaudRate:   9600,
		USBCommand: "usbrelay",
		USBChannel: "BITFT_1",
	}
}

func (o *RelayOptions) Validate() []error {
	var errs []error
	if o.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("--relay.baud-rate must be positive, got %d", o.BaudRate))
	}
	if o.USBCommand == "" {
		errs = append(errs, fmt.Errorf("--relay.usb-command must not be empty"))
	}
	if o.Dwell < 0 {
		errs = append(errs, fmt.Errorf("--relay.dwell must not be negative"))
	}
	return errs
}

func (o *RelayOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.SerialPort, prefixed("relay.serial-port", prefixes), o.SerialPort, "Serial port of the AT relay (ELITE setups).")
	fs.IntVar(&o.BaudRate, prefixed("relay.baud-rate", prefixes), o.BaudRate, "Baud rate of the AT relay.")
	fs.StringVar(&o.USBCommand, prefixed("relay.usb-command", prefixes), o.USBCommand, "Command switching the USB relay (PADAS setups).")
	fs.StringVar(&o.USBChannel, prefixed("relay.usb-channel", prefixes), o.USBChannel, "USB relay channel.")
	fs.DurationVar(&o.Dwell, prefixed("relay.dwell", prefixes), o.Dwell, "Unpowered time per cycle; overrides the configuration file when set.")
}
