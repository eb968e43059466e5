package message

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wm "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stonekit/internal/runtime"
	"github.com/drblury/stonekit/internal/runtime/codec"
	"github.com/drblury/stonekit/internal/runtime/config"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
	"github.com/drblury/stonekit/internal/runtime/logging"
	"github.com/drblury/stonekit/transport"
)

type greetHandler struct {
	calls atomic.Int64
}

func (h *greetHandler) Handle(_ context.Context, ev *events.Event) (events.Response, error) {
	h.calls.Add(1)
	var name string
	if raw, ok := ev.Data.([]byte); ok {
		_ = jsoncodec.Unmarshal(raw, &name)
	}
	if _, ok := ev.Context.(*wm.Message); !ok {
		return nil, errspkg.ErrNoDestination
	}
	return events.NewResponse(map[string]string{"greeting": "hello " + name}, http.StatusOK), nil
}

func newApp(t *testing.T) *runtime.Application {
	t.Helper()
	app, err := runtime.NewApplication(config.Default(), logging.Discard(), runtime.ApplicationDependencies{})
	require.NoError(t, err)
	return app
}

func newPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func startAdapter(t *testing.T, a *Adapter, h runtime.EventHandler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.Run(ctx, h)
		done <- err
	}()
	select {
	case <-a.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("adapter stopped early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("adapter did not start")
	}
	return cancel, done
}

func TestReplyTopicReceivesResponses(t *testing.T) {
	t.Parallel()

	ps := newPubSub(t)
	replies, err := ps.Subscribe(context.Background(), "greetings.out")
	require.NoError(t, err)

	h := &greetHandler{}
	a := New(newApp(t), config.AdapterOptions{ConsumeTopic: "greetings.in", ReplyTopic: "greetings.out"},
		WithTransport(transport.Transport{Publisher: ps, Subscriber: ps}))
	cancel, done := startAdapter(t, a, h)

	ev := events.New("greet", "test", events.WithData("ada"), events.WithMetadata(map[string]any{"correlation_id": "corr-7"}))
	msg, err := codec.JSON{}.EncodeEvent(ev)
	require.NoError(t, err)
	require.NoError(t, ps.Publish("greetings.in", msg))

	select {
	case reply := <-replies:
		reply.Ack()
		var body map[string]string
		require.NoError(t, jsoncodec.Unmarshal(reply.Payload, &body))
		assert.Equal(t, "hello ada", body["greeting"])
		assert.Equal(t, "200", reply.Metadata.Get(codec.MetadataKeyStatus))
		assert.Equal(t, ev.ID(), reply.Metadata.Get(codec.MetadataKeyReplyTo))
		assert.Equal(t, "corr-7", reply.Metadata.Get("correlation_id"))
	case <-time.After(5 * time.Second):
		t.Fatal("no reply received")
	}

	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, h.calls.Load())
}

func TestConsumeWithoutReply(t *testing.T) {
	t.Parallel()

	ps := newPubSub(t)
	h := &greetHandler{}
	a := New(newApp(t), config.AdapterOptions{ConsumeTopic: "jobs"},
		WithTransport(transport.Transport{Publisher: ps, Subscriber: ps}),
		WithCodec(codec.JSON{}))
	cancel, done := startAdapter(t, a, h)

	for i := 0; i < 3; i++ {
		msg, err := codec.JSON{}.EncodeEvent(events.New("job", "test"))
		require.NoError(t, err)
		require.NoError(t, ps.Publish("jobs", msg))
	}
	require.Eventually(t, func() bool { return h.calls.Load() == 3 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestFailuresSettledWithoutRedelivery(t *testing.T) {
	t.Parallel()

	conf := config.Default()
	conf.Transport.PubSubSystem = "nats"
	conf.Transport.NATSURL = "nats://localhost:4222"
	app, err := runtime.NewApplication(conf, logging.Discard(), runtime.ApplicationDependencies{})
	require.NoError(t, err)

	ps := newPubSub(t)
	var calls atomic.Int64
	failing := events.HandlerFunc(func(context.Context, *events.Event) (events.Response, error) {
		calls.Add(1)
		return nil, errspkg.ErrNoDestination
	})
	a := New(app, config.AdapterOptions{ConsumeTopic: "jobs"},
		WithTransport(transport.Transport{Publisher: ps, Subscriber: ps}))
	cancel, done := startAdapter(t, a, failing)

	msg, err := codec.JSON{}.EncodeEvent(events.New("job", "test"))
	require.NoError(t, err)
	require.NoError(t, ps.Publish("jobs", msg))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestConsumeTopicRequired(t *testing.T) {
	t.Parallel()

	_, err := New(newApp(t), config.AdapterOptions{}).Run(context.Background(), &greetHandler{})
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
}

func TestBuildsTransportFromConfig(t *testing.T) {
	t.Parallel()

	a := New(newApp(t), config.AdapterOptions{ConsumeTopic: "jobs"})
	cancel, done := startAdapter(t, a, &greetHandler{})
	cancel()
	require.NoError(t, <-done)
}

func TestFactoryRequiresApplication(t *testing.T) {
	t.Parallel()

	_, err := Factory(nil, config.AdapterOptions{})
	assert.Error(t, err)

	adapter, err := Factory(newApp(t), config.AdapterOptions{ConsumeTopic: "jobs"})
	require.NoError(t, err)
	assert.IsType(t, &Adapter{}, adapter)
}
