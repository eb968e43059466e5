// Package nats registers the NATS core backend.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/stonekit/transport"
)

const Name = "nats"

// ConnectionName identifies stonekit clients on the server.
const ConnectionName = "stonekit"

// ReconnectWait is the pause between reconnect attempts.
const ReconnectWait = 2 * time.Second

var (
	newPublisher = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}
	newSubscriber = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nats.NewSubscriber(cfg, logger)
	}
)

func init() {
	transport.Register(Name, Build, transport.NATSCapabilities)
}

// Build connects publisher and subscriber to the configured server. A
// queue group spreads each subject across the group's members.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("nats URL is required")
	}
	marshaler := &nats.NATSMarshaler{}
	options := connectOptions()

	pub, err := newPublisher(nats.PublisherConfig{URL: url, NatsOptions: options, Marshaler: marshaler}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("nats publisher: %w", err)
	}
	sub, err := newSubscriber(nats.SubscriberConfig{
		URL:              url,
		NatsOptions:      options,
		Unmarshaler:      marshaler,
		QueueGroupPrefix: cfg.GetNATSQueueGroup(),
	}, logger)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, fmt.Errorf("nats subscriber: %w", err)
	}
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

// connectOptions keep the connection alive across server restarts.
func connectOptions() []nc.Option {
	return []nc.Option{
		nc.Name(ConnectionName),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(ReconnectWait),
	}
}
