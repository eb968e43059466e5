package handlers

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
)

// ProtoEventContext exposes the decoded protobuf payload.
type ProtoEventContext[T proto.Message] struct {
	EventContextBase
	Payload T
}

// ProtoHandlerFunc processes a typed protobuf payload. A nil result yields a
// nil response.
type ProtoHandlerFunc[T proto.Message] func(ctx context.Context, ev ProtoEventContext[T]) (proto.Message, error)

var protoUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}

// Proto adapts fn into a destination. T must be a concrete generated
// message pointer. The event data is decoded with protojson; a T is used
// as-is.
func Proto[T proto.Message](fn ProtoHandlerFunc[T]) events.HandlerFunc {
	return func(ctx context.Context, ev *events.Event) (events.Response, error) {
		if fn == nil {
			return nil, errspkg.ErrHandlerRequired
		}
		if ev == nil {
			return nil, errspkg.ErrNilEvent
		}
		payload, err := decodeProto[T](ev.Data)
		if err != nil {
			return nil, err
		}

		out, err := fn(ctx, ProtoEventContext[T]{EventContextBase: EventContextBase{Event: ev}, Payload: payload})
		if err != nil {
			return nil, err
		}
		if isNilProto(out) {
			return nil, nil
		}
		return wrapResponse(out), nil
	}
}

func newMessage[T proto.Message]() (T, error) {
	var zero T
	if any(zero) == nil {
		return zero, errspkg.ErrMessageTypeRequired
	}
	msg, ok := zero.ProtoReflect().Type().New().Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", errspkg.ErrMessageTypeRequired, zero)
	}
	return msg, nil
}

func decodeProto[T proto.Message](data any) (T, error) {
	if d, ok := data.(T); ok && !isNilProto(d) {
		return d, nil
	}
	msg, err := newMessage[T]()
	if err != nil {
		return msg, err
	}

	var raw []byte
	switch d := data.(type) {
	case nil:
		return msg, nil
	case []byte:
		raw = d
	case string:
		raw = []byte(d)
	case proto.Message:
		raw, err = protojson.Marshal(d)
	default:
		raw, err = jsoncodec.Marshal(d)
	}
	if err != nil {
		return msg, unprocessable(err)
	}
	if len(raw) == 0 {
		return msg, nil
	}
	if err := protoUnmarshal.Unmarshal(raw, msg); err != nil {
		return msg, unprocessable(fmt.Errorf("decoding %T: %w", msg, err))
	}
	return msg, nil
}

func isNilProto(msg proto.Message) bool {
	if msg == nil {
		return true
	}
	return !msg.ProtoReflect().IsValid()
}
