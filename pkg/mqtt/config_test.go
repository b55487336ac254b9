package mqtt

import (
	"testing"
	"time"
)

func TestNewClientDefaults(t *testing.T) {
	cfg := &ClientConfig{BrokerURL: "tcp://localhost:1883"}
	if _, err := NewClient(cfg, nil); err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if cfg.KeepAlive != 60 || cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"tcp://localhost:1883", true},
		{"wss://broker.example.com/mqtt", true},
		{"", false},
		{"http://localhost", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := (&ClientConfig{BrokerURL: tt.url}).Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestPublishBeforeStart(t *testing.T) {
	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://localhost:1883"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Publish(t.Context(), "a/b", 1, false, nil); err == nil {
		t.Error("Publish() before Start should fail")
	}
}
