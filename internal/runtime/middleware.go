package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	idspkg "github.com/drblury/stonekit/internal/runtime/ids"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
	"github.com/drblury/stonekit/internal/runtime/pipeline"
)

// EventMiddleware runs before the destination.
type EventMiddleware = pipeline.Middleware[*events.Event, events.Response]

// ResponseMiddleware runs over the prepared response.
type ResponseMiddleware = pipeline.Middleware[*events.Exchange, events.Response]

// TerminateMiddleware runs over the last exchange when a kernel terminates.
type TerminateMiddleware = pipeline.Middleware[*events.Exchange, *events.Exchange]

// MiddlewareStage names the kernel pipeline a middleware belongs to.
type MiddlewareStage string

const (
	StageEvent     MiddlewareStage = "event"
	StageResponse  MiddlewareStage = "response"
	StageTerminate MiddlewareStage = "terminate"
)

// MetadataKeyCorrelationID is the event metadata path of the correlation id.
const MetadataKeyCorrelationID = "correlation_id"

// MiddlewareBuilder constructs a registration using the application, so
// middleware can capture its logger, metrics or container.
type MiddlewareBuilder func(app *Application) (MiddlewareRegistration, error)

// MiddlewareRegistration captures one named middleware. Exactly the field
// matching Stage must be set, directly or by Builder.
type MiddlewareRegistration struct {
	Name      string
	Stage     MiddlewareStage
	Event     EventMiddleware
	Response  ResponseMiddleware
	Terminate TerminateMiddleware
	Builder   MiddlewareBuilder
}

func middlewareKey(stage MiddlewareStage, name string) string {
	return "middleware." + string(stage) + "." + name
}

// resolve builds the registration and returns the middleware for its stage.
func (r MiddlewareRegistration) resolve(app *Application) (any, error) {
	built := r
	if r.Builder != nil {
		var err error
		built, err = r.Builder(app)
		if err != nil {
			return nil, fmt.Errorf("stonekit: building middleware %s: %w", r.Name, err)
		}
	}

	var mw any
	switch r.Stage {
	case StageEvent:
		if built.Event != nil {
			mw = built.Event
		}
	case StageResponse:
		if built.Response != nil {
			mw = built.Response
		}
	case StageTerminate:
		if built.Terminate != nil {
			mw = built.Terminate
		}
	default:
		return nil, fmt.Errorf("%w: %s has unknown stage %q", errspkg.ErrInvalidMiddleware, r.Name, r.Stage)
	}
	if mw == nil {
		return nil, fmt.Errorf("%w: %s has no %s middleware", errspkg.ErrInvalidMiddleware, r.Name, r.Stage)
	}
	return mw, nil
}

// DefaultMiddlewareNames lists the middleware a kernel runs unless its
// options disable defaults.
func DefaultMiddlewareNames(stage MiddlewareStage) []string {
	switch stage {
	case StageEvent:
		return []string{"recoverer", "correlation_id", "log_events"}
	case StageResponse:
		return []string{"log_responses"}
	case StageTerminate:
		return []string{"log_exchange"}
	default:
		return nil
	}
}

// DefaultMiddlewares returns the built-in registrations every catalog starts
// with.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		RecovererMiddleware(),
		CorrelationIDMiddleware(),
		LogEventsMiddleware(nil),
		TracerMiddleware(),
		LogResponsesMiddleware(nil),
		LogExchangeMiddleware(nil),
	}
}

// RecovererMiddleware converts panics raised further down the chain into
// errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:  "recoverer",
		Stage: StageEvent,
		Event: func(ctx context.Context, ev *events.Event, next pipeline.Next[*events.Event, events.Response]) (resp events.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = nil, &errspkg.PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			return next(ctx, ev)
		},
	}
}

// CorrelationIDMiddleware ensures each event carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:  "correlation_id",
		Stage: StageEvent,
		Event: func(ctx context.Context, ev *events.Event, next pipeline.Next[*events.Event, events.Response]) (events.Response, error) {
			if !ev.Metadata().Has(MetadataKeyCorrelationID) {
				ev.Set(MetadataKeyCorrelationID, idspkg.CreateULID())
			}
			return next(ctx, ev)
		},
	}
}

// LogEventsMiddleware logs every handled event at debug level. A nil logger
// means the application logger.
func LogEventsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:  "log_events",
		Stage: StageEvent,
		Builder: func(app *Application) (MiddlewareRegistration, error) {
			l, err := middlewareLogger(logger, app)
			if err != nil {
				return MiddlewareRegistration{}, err
			}
			return MiddlewareRegistration{
				Event: func(ctx context.Context, ev *events.Event, next pipeline.Next[*events.Event, events.Response]) (events.Response, error) {
					l.Debug("Handling event", loggingpkg.LogFields{
						"event_id":   ev.ID(),
						"event_type": ev.Type(),
						"source":     ev.Source,
						"locale":     ev.GetLocale(),
						"metadata":   ev.Metadata().Flatten(),
					})
					return next(ctx, ev)
				},
			}, nil
		},
	}
}

// TracerMiddleware wraps the rest of the chain in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:  "tracer",
		Stage: StageEvent,
		Event: func(ctx context.Context, ev *events.Event, next pipeline.Next[*events.Event, events.Response]) (events.Response, error) {
			ctx, span := otel.Tracer(tracerName).Start(ctx, "stonekit.kernel.handle")
			defer span.End()

			span.SetAttributes(
				attribute.String("event.id", ev.ID()),
				attribute.String("event.type", ev.Type()),
				attribute.String("event.source", ev.Source),
			)
			resp, err := next(ctx, ev)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else if resp != nil {
				span.SetAttributes(attribute.Int("response.status", resp.StatusCode()))
			}
			return resp, err
		},
	}
}

// LogResponsesMiddleware logs the final status of every response.
func LogResponsesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:  "log_responses",
		Stage: StageResponse,
		Builder: func(app *Application) (MiddlewareRegistration, error) {
			l, err := middlewareLogger(logger, app)
			if err != nil {
				return MiddlewareRegistration{}, err
			}
			return MiddlewareRegistration{
				Response: func(ctx context.Context, x *events.Exchange, next pipeline.Next[*events.Exchange, events.Response]) (events.Response, error) {
					start := time.Now()
					resp, err := next(ctx, x)
					if err == nil && resp != nil {
						l.Debug("Response ready", loggingpkg.LogFields{
							"event_id":    x.Event.ID(),
							"status":      resp.StatusCode(),
							"duration_ns": time.Since(start).Nanoseconds(),
						})
					}
					return resp, err
				},
			}, nil
		},
	}
}

// LogExchangeMiddleware logs the last exchange when a kernel terminates.
func LogExchangeMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:  "log_exchange",
		Stage: StageTerminate,
		Builder: func(app *Application) (MiddlewareRegistration, error) {
			l, err := middlewareLogger(logger, app)
			if err != nil {
				return MiddlewareRegistration{}, err
			}
			return MiddlewareRegistration{
				Terminate: func(ctx context.Context, x *events.Exchange, next pipeline.Next[*events.Exchange, *events.Exchange]) (*events.Exchange, error) {
					fields := loggingpkg.LogFields{}
					if x.Event != nil {
						fields["event_id"] = x.Event.ID()
						fields["event_type"] = x.Event.Type()
					}
					if x.Response != nil {
						fields["status"] = x.Response.StatusCode()
					}
					l.Debug("Kernel terminating", fields)
					return next(ctx, x)
				},
			}, nil
		},
	}
}

func middlewareLogger(logger loggingpkg.ServiceLogger, app *Application) (loggingpkg.ServiceLogger, error) {
	if logger != nil {
		return logger, nil
	}
	if app == nil || app.logger == nil {
		return nil, errors.New("stonekit: logging middleware requires a logger")
	}
	return app.logger, nil
}
