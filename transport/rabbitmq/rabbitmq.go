// Package rabbitmq registers the AMQP backend. Publisher and subscriber
// share one reconnecting connection.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stonekit/transport"
)

const Name = "rabbitmq"

var (
	dial = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	newPublisher = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	newSubscriber = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
)

func init() {
	transport.Register(Name, Build, transport.RabbitMQCapabilities)
}

// Build uses durable fanout exchanges with one queue per topic.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("rabbitmq URL is required")
	}

	conn, err := dial(amqp.ConnectionConfig{AmqpURI: url, Reconnect: amqp.DefaultReconnectConfig()}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq connection: %w", err)
	}
	amqpConfig := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)

	pub, err := newPublisher(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq publisher: %w", err)
	}
	sub, err := newSubscriber(amqpConfig, logger, conn)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, fmt.Errorf("rabbitmq subscriber: %w", err)
	}
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}
