// Package kafka registers the Kafka backend.
package kafka

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stonekit/transport"
)

const Name = "kafka"

// Overridable in tests.
var (
	newPublisher = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}
	newSubscriber = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return kafka.NewSubscriber(cfg, logger)
	}
)

func init() {
	transport.Register(Name, Build, transport.KafkaCapabilities)
}

// Build dials the configured brokers. Subscribers join the configured
// consumer group.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, fmt.Errorf("kafka brokers are required")
	}
	marshaler := kafka.DefaultMarshaler{}

	pub, err := newPublisher(kafka.PublisherConfig{Brokers: brokers, Marshaler: marshaler}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("kafka publisher: %w", err)
	}
	sub, err := newSubscriber(kafka.SubscriberConfig{
		Brokers:       brokers,
		Unmarshaler:   marshaler,
		ConsumerGroup: cfg.GetKafkaConsumerGroup(),
	}, logger)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, fmt.Errorf("kafka subscriber: %w", err)
	}
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}
