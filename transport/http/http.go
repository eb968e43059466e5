// Package http registers the watermill HTTP backend. Messages are POSTed to
// <publisher url><topic> and received on the subscriber's own server.
package http

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stonekit/transport"
)

const Name = "http"

var (
	newPublisher = func(cfg wmhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return wmhttp.NewPublisher(cfg, logger)
	}
	newSubscriber = func(addr string, cfg wmhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return wmhttp.NewSubscriber(addr, cfg, logger)
	}
)

func init() {
	transport.Register(Name, Build, transport.HTTPCapabilities)
}

// Build creates both halves and starts the subscriber server in the
// background.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, err := newPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: topicURL(cfg.GetHTTPPublisherURL()),
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("http publisher: %w", err)
	}

	sub, err := newSubscriber(cfg.GetHTTPServerAddress(), wmhttp.SubscriberConfig{
		UnmarshalMessageFunc: wmhttp.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, fmt.Errorf("http subscriber: %w", err)
	}

	if server, ok := sub.(*wmhttp.Subscriber); ok {
		go func() {
			if err := server.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
				logger.Error("http subscriber server stopped", err, nil)
			}
		}()
	}
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

func topicURL(base string) wmhttp.MarshalMessageFunc {
	base = strings.TrimRight(base, "/") + "/"
	return func(topic string, msg *message.Message) (*nethttp.Request, error) {
		return wmhttp.DefaultMarshalMessageFunc(base+strings.TrimLeft(topic, "/"), msg)
	}
}
