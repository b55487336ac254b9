package mqtt

import (
	"context"
)

// Publisher is a publish-only MQTT client.
type Publisher interface {
	// Start initiates the connection to the broker. It returns immediately;
	// use AwaitConnection to wait.
	Start(ctx context.Context) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)
}
