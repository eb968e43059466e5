package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/pipeline"
)

func respond(content any) pipeline.Next[*events.Event, events.Response] {
	return func(context.Context, *events.Event) (events.Response, error) {
		return events.NewResponse(content, 200), nil
	}
}

func TestRecovererMiddleware(t *testing.T) {
	t.Parallel()

	mw := RecovererMiddleware().Event
	_, err := mw(context.Background(), events.New("greet", "test"), func(context.Context, *events.Event) (events.Response, error) {
		panic("down the chain")
	})
	var panicErr *errspkg.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "down the chain", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)

	resp, err := mw(context.Background(), events.New("greet", "test"), respond("fine"))
	require.NoError(t, err)
	assert.Equal(t, "fine", resp.Content())
}

func TestCorrelationIDMiddlewareKeepsExistingID(t *testing.T) {
	t.Parallel()

	mw := CorrelationIDMiddleware().Event

	fresh := events.New("greet", "test")
	_, err := mw(context.Background(), fresh, respond(nil))
	require.NoError(t, err)
	id, ok := fresh.Get(MetadataKeyCorrelationID, nil).(string)
	require.True(t, ok)
	assert.Len(t, id, 26)

	existing := events.New("greet", "test").Set(MetadataKeyCorrelationID, "corr-1")
	_, err = mw(context.Background(), existing, respond(nil))
	require.NoError(t, err)
	assert.Equal(t, "corr-1", existing.Get(MetadataKeyCorrelationID, nil))
}

func TestTracerMiddlewarePassesThrough(t *testing.T) {
	t.Parallel()

	mw := TracerMiddleware().Event
	resp, err := mw(context.Background(), events.New("greet", "test"), respond("traced"))
	require.NoError(t, err)
	assert.Equal(t, "traced", resp.Content())

	boom := errors.New("boom")
	_, err = mw(context.Background(), events.New("greet", "test"), func(context.Context, *events.Event) (events.Response, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestMiddlewareRegistrationResolve(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil, ApplicationDependencies{Module: okModule()})

	mw, err := LogEventsMiddleware(nil).resolve(app)
	require.NoError(t, err)
	assert.IsType(t, EventMiddleware(nil), mw)

	mw, err = LogExchangeMiddleware(app.Logger()).resolve(nil)
	require.NoError(t, err)
	assert.IsType(t, TerminateMiddleware(nil), mw)

	_, err = LogResponsesMiddleware(nil).resolve(nil)
	assert.ErrorContains(t, err, "requires a logger")

	_, err = MiddlewareRegistration{Name: "odd", Stage: "sideways"}.resolve(app)
	assert.ErrorIs(t, err, errspkg.ErrInvalidMiddleware)

	_, err = MiddlewareRegistration{Name: "empty", Stage: StageResponse, Event: RecovererMiddleware().Event}.resolve(app)
	assert.ErrorIs(t, err, errspkg.ErrInvalidMiddleware)

	boom := errors.New("boom")
	_, err = MiddlewareRegistration{Name: "broken", Stage: StageEvent, Builder: func(*Application) (MiddlewareRegistration, error) {
		return MiddlewareRegistration{}, boom
	}}.resolve(app)
	assert.ErrorIs(t, err, boom)
}

func TestDefaultMiddlewareNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"recoverer", "correlation_id", "log_events"}, DefaultMiddlewareNames(StageEvent))
	assert.Equal(t, []string{"log_responses"}, DefaultMiddlewareNames(StageResponse))
	assert.Equal(t, []string{"log_exchange"}, DefaultMiddlewareNames(StageTerminate))
	assert.Nil(t, DefaultMiddlewareNames("other"))
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "", "b", "a"}))
}
