// Package notifier publishes run status events to an MQTT broker.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/pkg/log"
	"github.com/autopeer-io/ecukpi/pkg/mqtt"
	"github.com/autopeer-io/ecukpi/pkg/mqtt/topic"
)

const (
	qos            = 1
	publishTimeout = 5 * time.Second

	statusRunning = "running"
	statusOffline = "offline"
)

// MQTT implements core.Notifier. Events go to {root}/startup-time/{ecu}/{event};
// the retained run status tracks whether a run is in progress.
type MQTT struct {
	client mqtt.Publisher
	topics *topic.TopicBuilder
	logger log.Logger
}

func New(client mqtt.Publisher, topics *topic.TopicBuilder, logger log.Logger) *MQTT {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &MQTT{client: client, topics: topics, logger: logger.WithName("notifier")}
}

// WillPayload is what the broker publishes on the status topic if the
// process dies mid-run.
func WillPayload() []byte {
	return []byte(statusOffline)
}

// Connect starts the client and waits for the broker up to timeout.
func (n *MQTT) Connect(ctx context.Context, timeout time.Duration) error {
	if err := n.client.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt client: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := n.client.AwaitConnection(waitCtx); err != nil {
		return fmt.Errorf("connect mqtt broker: %w", err)
	}
	return n.publish(ctx, n.topics.Status(), true, []byte(statusRunning))
}

func (n *MQTT) Notify(ctx context.Context, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.publish(ctx, n.topics.Event(string(ev.ECU), string(ev.Type)), false, payload)
}

// Close clears the retained status and disconnects.
func (n *MQTT) Close(ctx context.Context) {
	if err := n.publish(ctx, n.topics.Status(), true, []byte(statusOffline)); err != nil {
		n.logger.Warn("Run status not cleared", "error", err)
	}
	n.client.Disconnect(ctx)
}

func (n *MQTT) publish(ctx context.Context, t string, retain bool, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := n.client.Publish(ctx, t, qos, retain, payload); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	n.logger.Debug("Published", "topic", t)
	return nil
}
