package runtime

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stonekit/internal/runtime/bus"
	"github.com/drblury/stonekit/internal/runtime/codec"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

// lifecyclePrefix selects the events the forwarder publishes.
const lifecyclePrefix = "app."

// PublishEvent encodes ev with c and publishes it to topic.
func PublishEvent(ctx context.Context, publisher message.Publisher, topic string, ev *events.Event, c codec.Codec) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if ev == nil {
		return errspkg.ErrEventPayloadRequired
	}
	if c == nil {
		c = codec.JSON{}
	}

	msg, err := c.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// Forwarder publishes lifecycle events to a watermill topic. Event data is
// not forwarded because it holds in-process values such as providers and
// kernels.
type Forwarder struct {
	publisher message.Publisher
	topic     string
	codec     codec.Codec
	logger    loggingpkg.ServiceLogger
}

// NewForwarder builds a forwarder publishing to topic.
func NewForwarder(publisher message.Publisher, topic string, c codec.Codec, logger loggingpkg.ServiceLogger) *Forwarder {
	if c == nil {
		c = codec.JSON{}
	}
	return &Forwarder{publisher: publisher, topic: topic, codec: c, logger: logger}
}

// Attach subscribes the forwarder to every event of app. The subscription
// survives Clear.
func (f *Forwarder) Attach(app *Application) bus.Subscription {
	return app.On(events.Wildcard, f)
}

// Handle implements bus.Listener.
func (f *Forwarder) Handle(ctx context.Context, ev *events.Event) error {
	if !strings.HasPrefix(ev.Type(), lifecyclePrefix) {
		return nil
	}
	forwarded := ev.Clone()
	forwarded.Data = nil
	forwarded.Context = nil

	if err := PublishEvent(ctx, f.publisher, f.topic, forwarded, f.codec); err != nil {
		return err
	}
	if f.logger != nil {
		f.logger.Trace("Lifecycle event forwarded", loggingpkg.LogFields{"event": ev.Type(), "topic": f.topic})
	}
	return nil
}
