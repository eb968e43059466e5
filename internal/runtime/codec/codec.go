// Package codec converts events and responses to and from watermill
// messages.
package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
	"github.com/drblury/stonekit/internal/runtime/metadata"
)

// Metadata keys set on encoded messages.
const (
	MetadataKeyEventType   = "stonekit_event_type"
	MetadataKeyContentType = "content_type"
	MetadataKeyStatus      = "stonekit_status"
	MetadataKeyReplyTo     = "stonekit_reply_to"
)

// DefaultEventType is used for messages that carry no envelope or type.
const DefaultEventType = "message.received"

// Codec encodes events and responses for a transport.
type Codec interface {
	Name() string
	ContentType() string
	EncodeEvent(ev *events.Event) (*message.Message, error)
	DecodeEvent(msg *message.Message) (*events.Event, error)
	EncodeResponse(resp events.Response, ev *events.Event) (*message.Message, error)
}

// ForName returns the codec registered under name.
func ForName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "proto", "protobuf":
		return Proto{}, nil
	case "cloudevents":
		return CloudEvents{}, nil
	default:
		return nil, fmt.Errorf("stonekit: unknown codec %q", name)
	}
}

type envelope struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Source   string         `json:"source,omitempty"`
	Time     time.Time      `json:"time"`
	Locale   string         `json:"locale,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func newEnvelope(ev *events.Event) envelope {
	return envelope{
		ID:       ev.ID(),
		Type:     ev.Type(),
		Source:   ev.Source,
		Time:     ev.Time,
		Locale:   ev.Locale,
		Metadata: ev.Metadata().All(),
	}
}

func (e envelope) event(data any) *events.Event {
	opts := []events.Option{
		events.WithID(e.ID),
		events.WithLocale(e.Locale),
		events.WithMetadataStore(metadata.New(e.Metadata)),
		events.WithData(data),
	}
	if !e.Time.IsZero() {
		opts = append(opts, events.WithTime(e.Time))
	}
	return events.New(e.Type, e.Source, opts...)
}

func newMessage(id string, payload []byte, ev *events.Event, contentType string) *message.Message {
	msg := message.NewMessage(id, payload)
	if ev != nil {
		msg.Metadata = metadata.ToWatermill(ev.Metadata())
		msg.Metadata.Set(MetadataKeyEventType, ev.Type())
	}
	msg.Metadata.Set(MetadataKeyContentType, contentType)
	return msg
}

// responsePayload encodes response content: bytes and strings stay raw,
// proto messages use encode, anything else is JSON.
func responsePayload(content any, encodeProto func(proto.Message) ([]byte, error)) ([]byte, error) {
	switch c := content.(type) {
	case nil:
		return nil, nil
	case []byte:
		return c, nil
	case string:
		return []byte(c), nil
	case proto.Message:
		return encodeProto(c)
	default:
		return jsoncodec.Marshal(c)
	}
}

func responseMessage(resp events.Response, ev *events.Event, payload []byte, contentType, id string) *message.Message {
	msg := newMessage(id, payload, nil, contentType)
	msg.Metadata.Set(MetadataKeyStatus, strconv.Itoa(resp.StatusCode()))
	if ev != nil {
		msg.Metadata.Set(MetadataKeyReplyTo, ev.ID())
		msg.Metadata.Set(MetadataKeyEventType, ev.Type())
		if cid, ok := ev.Get("correlation_id", nil).(string); ok {
			msg.Metadata.Set("correlation_id", cid)
		}
	}
	return msg
}

var protoJSON = protojson.MarshalOptions{EmitUnpopulated: true}
