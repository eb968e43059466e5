package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stonekit/internal/runtime/codec"
	"github.com/drblury/stonekit/internal/runtime/config"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
	"github.com/drblury/stonekit/transport/transporttest"
)

func decodedTypes(t *testing.T, msgs []*message.Message) []string {
	t.Helper()
	types := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := codec.JSON{}.DecodeEvent(msg)
		require.NoError(t, err)
		types = append(types, ev.Type())
	}
	return types
}

func TestForwarderPublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	pub := &transporttest.Publisher{}
	app := newTestApp(t, func(o *config.Options) {
		o.Lifecycle.ForwardTopic = "lifecycle"
		o.App.Providers = []string{"p"}
	}, ApplicationDependencies{
		Catalog:   NewCatalog().Provider("p", providerFactory(&logProvider{log: &recorder{}})),
		Module:    okModule(),
		Publisher: pub,
	})
	runLifecycle(t, app)
	require.NoError(t, app.Emit(context.Background(), events.New("custom.event", "test")))
	require.NoError(t, app.Terminate(context.Background()))

	types := decodedTypes(t, pub.Published("lifecycle"))
	require.NotEmpty(t, types)
	for _, typ := range types {
		assert.True(t, strings.HasPrefix(typ, "app."), typ)
	}
	assert.Equal(t, events.SettingUp, types[0])
	assert.Contains(t, types, events.ProviderBooted)
	assert.Equal(t, events.Terminate, types[len(types)-1], "the forwarder survives clear")
}

func TestForwarderDropsInProcessData(t *testing.T) {
	t.Parallel()

	pub := &transporttest.Publisher{}
	f := NewForwarder(pub, "lifecycle", nil, loggingpkg.Discard())

	origin := struct{ name string }{"kernel"}
	ev := events.New(events.Started, events.SourceApplication,
		events.WithData("in-process-secret"),
		events.WithContext(origin),
		events.WithMetadata(map[string]any{"kernel": "default"}),
	)
	require.NoError(t, f.Handle(context.Background(), ev))

	msgs := pub.Published("lifecycle")
	require.Len(t, msgs, 1)
	assert.NotContains(t, string(msgs[0].Payload), "in-process-secret")
	assert.Equal(t, "in-process-secret", ev.Data, "the emitted event is left untouched")
	assert.Equal(t, origin, ev.Context)

	decoded, err := codec.JSON{}.DecodeEvent(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, ev.ID(), decoded.ID())
	assert.Equal(t, "default", decoded.Get("kernel", nil))

	require.NoError(t, f.Handle(context.Background(), events.New(events.EventHandled, "k")))
	assert.Len(t, pub.Published("lifecycle"), 1, "kernel events are not forwarded")
}

func TestForwardingWithoutPublisherIsDisabled(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, func(o *config.Options) {
		o.Lifecycle.ForwardTopic = "lifecycle"
	}, ApplicationDependencies{Module: okModule()})
	assert.Nil(t, app.forwarder)
	assert.Equal(t, "OK", runLifecycle(t, app))
}

func TestPublishEventValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := &transporttest.Publisher{}
	ev := events.New("greet", "test")

	assert.ErrorIs(t, PublishEvent(ctx, nil, "t", ev, nil), errspkg.ErrPublisherRequired)
	assert.ErrorIs(t, PublishEvent(ctx, pub, "", ev, nil), errspkg.ErrTopicRequired)
	assert.ErrorIs(t, PublishEvent(ctx, pub, "t", nil, nil), errspkg.ErrEventPayloadRequired)

	require.NoError(t, PublishEvent(ctx, pub, "t", ev, codec.CloudEvents{}))
	msgs := pub.Published("t")
	require.Len(t, msgs, 1)
	assert.Equal(t, codec.CloudEvents{}.ContentType(), msgs[0].Metadata.Get(codec.MetadataKeyContentType))
}
