package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stonekit/transport"
	"github.com/drblury/stonekit/transport/transporttest"
)

func TestRegistered(t *testing.T) {
	t.Parallel()

	assert.True(t, transport.DefaultRegistry.Has(Name))
	assert.Equal(t, transport.ChannelCapabilities, transport.CapabilitiesOf(Name))
}

func TestBuildDeliversMessages(t *testing.T) {
	t.Parallel()

	tr, err := Build(context.Background(), transporttest.Config{System: Name}, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs, err := tr.Subscriber.Subscribe(ctx, "greetings")
	require.NoError(t, err)

	require.NoError(t, tr.Publisher.Publish("greetings", message.NewMessage("m-1", []byte("hi"))))

	select {
	case msg := <-msgs:
		assert.Equal(t, "hi", string(msg.Payload))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}
