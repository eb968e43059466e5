package handlers

import (
	"context"
	"fmt"
	"net/http"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
)

// JSONEventContext exposes the decoded payload to JSON handlers.
type JSONEventContext[T any] struct {
	EventContextBase
	Payload T
}

// JSONHandlerFunc processes a decoded payload and returns the response
// content.
type JSONHandlerFunc[T any, O any] func(ctx context.Context, ev JSONEventContext[T]) (O, error)

// JSON adapts fn into a destination. The event data is decoded into T:
// bytes and strings as JSON, a T as-is, anything else re-encoded through
// JSON. An O that is already a Response is returned unchanged; any other
// value is wrapped in a 200 response.
func JSON[T any, O any](fn JSONHandlerFunc[T, O]) events.HandlerFunc {
	return func(ctx context.Context, ev *events.Event) (events.Response, error) {
		if fn == nil {
			return nil, errspkg.ErrHandlerRequired
		}
		if ev == nil {
			return nil, errspkg.ErrNilEvent
		}
		payload, err := decodeJSON[T](ev.Data)
		if err != nil {
			return nil, unprocessable(err)
		}

		out, err := fn(ctx, JSONEventContext[T]{EventContextBase: EventContextBase{Event: ev}, Payload: payload})
		if err != nil {
			return nil, err
		}
		return wrapResponse(out), nil
	}
}

func decodeJSON[T any](data any) (T, error) {
	var payload T
	switch d := data.(type) {
	case nil:
		return payload, nil
	case T:
		return d, nil
	case []byte:
		if len(d) == 0 {
			return payload, nil
		}
		err := jsoncodec.Unmarshal(d, &payload)
		return payload, err
	case string:
		if d == "" {
			return payload, nil
		}
		err := jsoncodec.Unmarshal([]byte(d), &payload)
		return payload, err
	default:
		err := jsoncodec.Convert(d, &payload)
		return payload, err
	}
}

func wrapResponse(out any) events.Response {
	if resp, ok := out.(events.Response); ok {
		return resp
	}
	resp := events.NewResponse(out, http.StatusOK)
	if out != nil {
		resp.SetHeader(MetadataKeyEventSchema, fmt.Sprintf("%T", out))
	}
	return resp
}

func unprocessable(err error) error {
	return errspkg.Wrap(err, CodeUnprocessable, StatusUnprocessable, "event payload could not be decoded")
}
