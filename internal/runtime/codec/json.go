package codec

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/stonekit/internal/runtime/events"
	idspkg "github.com/drblury/stonekit/internal/runtime/ids"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
	"github.com/drblury/stonekit/internal/runtime/metadata"
)

// JSON encodes events as a JSON envelope. Byte payloads that hold JSON are
// embedded as-is and decode back to the same bytes.
type JSON struct{}

func (JSON) Name() string        { return "json" }
func (JSON) ContentType() string { return "application/json" }

type jsonEnvelope struct {
	envelope
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent wraps ev in an envelope message.
func (JSON) EncodeEvent(ev *events.Event) (*message.Message, error) {
	if ev == nil {
		return nil, fmt.Errorf("stonekit: cannot encode nil event")
	}
	data, err := rawJSON(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding event data: %w", err)
	}
	env := jsonEnvelope{envelope: newEnvelope(ev), Data: data}
	payload, err := jsoncodec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding event: %w", err)
	}
	return newMessage(ev.ID(), payload, ev, JSON{}.ContentType()), nil
}

// DecodeEvent reads an envelope message. Payloads without an envelope become
// an event typed by the message metadata whose data is the raw payload.
func (JSON) DecodeEvent(msg *message.Message) (*events.Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("stonekit: cannot decode nil message")
	}
	var env jsonEnvelope
	if jsoncodec.Valid(msg.Payload) {
		if err := jsoncodec.Unmarshal(msg.Payload, &env); err != nil {
			env = jsonEnvelope{}
		}
	}
	if env.Type == "" {
		return rawEvent(msg), nil
	}
	if env.ID == "" {
		env.ID = msg.UUID
	}
	var data any
	if len(env.Data) > 0 {
		data = []byte(env.Data)
	}
	return env.event(data), nil
}

// EncodeResponse serialises the response content.
func (c JSON) EncodeResponse(resp events.Response, ev *events.Event) (*message.Message, error) {
	if resp == nil {
		return nil, fmt.Errorf("stonekit: cannot encode nil response")
	}
	payload, err := responsePayload(resp.Content(), func(m proto.Message) ([]byte, error) {
		return protoJSON.Marshal(m)
	})
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding response: %w", err)
	}
	return responseMessage(resp, ev, payload, c.ContentType(), idspkg.CreateULID()), nil
}

func rawJSON(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil
	case []byte:
		if jsoncodec.Valid(d) {
			return json.RawMessage(d), nil
		}
		return jsoncodec.Marshal(string(d))
	case json.RawMessage:
		return d, nil
	case proto.Message:
		return protoJSON.Marshal(d)
	default:
		return jsoncodec.Marshal(d)
	}
}

func rawEvent(msg *message.Message) *events.Event {
	eventType := msg.Metadata.Get(MetadataKeyEventType)
	if eventType == "" {
		eventType = DefaultEventType
	}
	return events.New(eventType, "message",
		events.WithID(msg.UUID),
		events.WithMetadataStore(metadata.FromWatermill(msg.Metadata)),
		events.WithData(append([]byte(nil), msg.Payload...)),
	)
}
