// Package channel registers the in-process gochannel backend. One pub/sub
// instance serves both halves, so a forwarder and a message adapter built
// from the same transport see each other's messages.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/stonekit/transport"
)

const Name = "channel"

// BufferSize is the output channel buffer per subscriber.
const BufferSize = 64

func init() {
	transport.Register(Name, Build, transport.ChannelCapabilities)
}

// Build returns a fresh gochannel pub/sub.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: BufferSize}, logger)
	return transport.Transport{Publisher: pubSub, Subscriber: pubSub}, nil
}
