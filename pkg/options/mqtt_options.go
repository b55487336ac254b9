package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/ecukpi/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configures the optional run status events.
type MqttOptions struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`

	// InsecureSkipVerify accepts any broker certificate. Lab brokers only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every topic: {TopicRoot}/startup-time/...
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:         "tcp://localhost:1883",
		ClientID:       "ecukpi-startup",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		TopicRoot:      "ecukpi/v1",
	}
}

func (o *MqttOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	if err := o.ToClientConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("--mqtt.broker: %w", err))
	}
	if o.TopicRoot == "" {
		errs = append(errs, fmt.Errorf("--mqtt.topic-root must not be empty"))
	}
	if o.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--mqtt.connect-timeout must be positive"))
	}
	return errs
}

func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "mqtt.enabled", o.Enabled, "Publish run status events to an MQTT broker.")
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "MQTT client ID.")
	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT keep alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing the MQTT connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Topic prefix of status events.")
}

func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		ConnectTimeout:     o.ConnectTimeout,
		CleanStart:         true,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
