package codec

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/stonekit/internal/runtime/events"
	idspkg "github.com/drblury/stonekit/internal/runtime/ids"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
)

// Proto encodes the event envelope as a binary google.protobuf.Struct. Data
// decodes to its JSON encoding.
type Proto struct{}

func (Proto) Name() string        { return "proto" }
func (Proto) ContentType() string { return "application/x-protobuf" }

// EncodeEvent wraps ev in a Struct envelope.
func (p Proto) EncodeEvent(ev *events.Event) (*message.Message, error) {
	if ev == nil {
		return nil, fmt.Errorf("stonekit: cannot encode nil event")
	}
	env := newEnvelope(ev)
	fields := map[string]any{
		"id":     env.ID,
		"type":   env.Type,
		"source": env.Source,
		"time":   env.Time.Format(time.RFC3339Nano),
		"locale": env.Locale,
	}
	md, err := jsonCompatible(env.Metadata)
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding event metadata: %w", err)
	}
	fields["metadata"] = md
	if ev.Data != nil {
		data, err := jsonCompatible(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("stonekit: encoding event data: %w", err)
		}
		fields["data"] = data
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding event: %w", err)
	}
	payload, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding event: %w", err)
	}
	return newMessage(ev.ID(), payload, ev, p.ContentType()), nil
}

// DecodeEvent reads a Struct envelope. Payloads that are not a Struct become
// a raw event.
func (Proto) DecodeEvent(msg *message.Message) (*events.Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("stonekit: cannot decode nil message")
	}
	var st structpb.Struct
	if err := proto.Unmarshal(msg.Payload, &st); err != nil {
		return rawEvent(msg), nil
	}
	fields := st.GetFields()
	env := envelope{
		ID:     fields["id"].GetStringValue(),
		Type:   fields["type"].GetStringValue(),
		Source: fields["source"].GetStringValue(),
		Locale: fields["locale"].GetStringValue(),
	}
	if env.Type == "" {
		return rawEvent(msg), nil
	}
	if env.ID == "" {
		env.ID = msg.UUID
	}
	if ts := fields["time"].GetStringValue(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			env.Time = parsed
		}
	}
	if md := fields["metadata"].GetStructValue(); md != nil {
		env.Metadata = md.AsMap()
	}

	var data any
	if v, ok := fields["data"]; ok {
		raw, err := jsoncodec.Marshal(v.AsInterface())
		if err != nil {
			return nil, fmt.Errorf("stonekit: decoding event data: %w", err)
		}
		data = raw
	}
	return env.event(data), nil
}

// EncodeResponse serialises proto content in binary form; other content is
// converted to a Struct value first.
func (p Proto) EncodeResponse(resp events.Response, ev *events.Event) (*message.Message, error) {
	if resp == nil {
		return nil, fmt.Errorf("stonekit: cannot encode nil response")
	}
	var payload []byte
	var err error
	switch content := resp.Content().(type) {
	case nil:
	case proto.Message:
		payload, err = proto.Marshal(content)
	default:
		var compatible any
		compatible, err = jsonCompatible(content)
		if err == nil {
			var value *structpb.Value
			value, err = structpb.NewValue(compatible)
			if err == nil {
				payload, err = proto.Marshal(value)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding response: %w", err)
	}
	return responseMessage(resp, ev, payload, p.ContentType(), idspkg.CreateULID()), nil
}

// jsonCompatible converts v into the map/slice/scalar shapes structpb
// accepts by round-tripping it through JSON.
func jsonCompatible(v any) (any, error) {
	raw, err := rawJSON(v)
	if err != nil || raw == nil {
		return nil, err
	}
	var out any
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
