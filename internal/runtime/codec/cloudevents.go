package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/stonekit/internal/runtime/events"
	idspkg "github.com/drblury/stonekit/internal/runtime/ids"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
	"github.com/drblury/stonekit/internal/runtime/metadata"
)

// SpecVersion is the CloudEvents specification version produced and
// accepted.
const SpecVersion = "1.0"

// CloudEvents extension attributes carrying stonekit event state.
const (
	ExtCorrelationID = "correlationid"
	ExtLocale        = "sklocale"
	ExtMetadata      = "skmetadata"
)

// metadataPrefixUnknown stores foreign extension attributes in event
// metadata.
const metadataPrefixUnknown = "cloudevents."

var knownAttributes = map[string]bool{
	"specversion":     true,
	"type":            true,
	"source":          true,
	"id":              true,
	"time":            true,
	"datacontenttype": true,
	"dataschema":      true,
	"subject":         true,
	"data":            true,
	"data_base64":     true,
	ExtCorrelationID:  true,
	ExtLocale:         true,
	ExtMetadata:       true,
}

// CloudEvents encodes events in the CloudEvents 1.0 structured JSON mode.
// JSON data is embedded, other bytes travel as data_base64.
type CloudEvents struct{}

func (CloudEvents) Name() string        { return "cloudevents" }
func (CloudEvents) ContentType() string { return "application/cloudevents+json" }

// EncodeEvent renders ev as a structured CloudEvent.
func (c CloudEvents) EncodeEvent(ev *events.Event) (*message.Message, error) {
	if ev == nil {
		return nil, fmt.Errorf("stonekit: cannot encode nil event")
	}
	source := ev.Source
	if source == "" {
		source = "stonekit"
	}
	attrs := map[string]any{
		"specversion": SpecVersion,
		"type":        ev.Type(),
		"source":      source,
		"id":          ev.ID(),
	}
	if !ev.Time.IsZero() {
		attrs["time"] = ev.Time.UTC().Format(time.RFC3339Nano)
	}
	if ev.Locale != "" {
		attrs[ExtLocale] = ev.Locale
	}

	md := ev.Metadata().All()
	if cid, ok := md["correlation_id"].(string); ok && cid != "" {
		attrs[ExtCorrelationID] = cid
	}
	if len(md) > 0 {
		raw, err := jsoncodec.Marshal(md)
		if err != nil {
			return nil, fmt.Errorf("stonekit: encoding event metadata: %w", err)
		}
		attrs[ExtMetadata] = string(raw)
	}

	if err := setCloudEventData(attrs, ev.Data); err != nil {
		return nil, fmt.Errorf("stonekit: encoding event data: %w", err)
	}

	payload, err := jsoncodec.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding event: %w", err)
	}
	return newMessage(ev.ID(), payload, ev, c.ContentType()), nil
}

func setCloudEventData(attrs map[string]any, data any) error {
	switch d := data.(type) {
	case nil:
		return nil
	case []byte:
		if jsoncodec.Valid(d) {
			attrs["datacontenttype"] = "application/json"
			attrs["data"] = json.RawMessage(d)
			return nil
		}
		attrs["datacontenttype"] = "application/octet-stream"
		attrs["data_base64"] = base64.StdEncoding.EncodeToString(d)
		return nil
	case proto.Message:
		raw, err := protoJSON.Marshal(d)
		if err != nil {
			return err
		}
		attrs["datacontenttype"] = "application/json"
		attrs["dataschema"] = string(d.ProtoReflect().Descriptor().FullName())
		attrs["data"] = json.RawMessage(raw)
		return nil
	default:
		raw, err := rawJSON(d)
		if err != nil {
			return err
		}
		attrs["datacontenttype"] = "application/json"
		attrs["data"] = raw
		return nil
	}
}

// DecodeEvent reads a structured CloudEvent. The required attributes are
// validated; payloads that are not a CloudEvent become a raw event.
func (CloudEvents) DecodeEvent(msg *message.Message) (*events.Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("stonekit: cannot decode nil message")
	}
	var attrs map[string]json.RawMessage
	if !jsoncodec.Valid(msg.Payload) || jsoncodec.Unmarshal(msg.Payload, &attrs) != nil {
		return rawEvent(msg), nil
	}
	if _, ok := attrs["specversion"]; !ok {
		return rawEvent(msg), nil
	}

	str := func(name string) string {
		var v string
		if raw, ok := attrs[name]; ok {
			_ = jsoncodec.Unmarshal(raw, &v)
		}
		return v
	}
	if err := validateCloudEvent(str("specversion"), str("type"), str("source"), str("id")); err != nil {
		return nil, fmt.Errorf("stonekit: invalid cloudevent: %w", err)
	}

	md := map[string]any{}
	if raw := str(ExtMetadata); raw != "" {
		if err := jsoncodec.Unmarshal([]byte(raw), &md); err != nil {
			return nil, fmt.Errorf("stonekit: decoding cloudevent metadata: %w", err)
		}
	}
	store := metadata.New(md)
	if cid := str(ExtCorrelationID); cid != "" {
		store.Set("correlation_id", cid)
	}
	for name, raw := range attrs {
		if knownAttributes[name] {
			continue
		}
		var v any
		if err := jsoncodec.Unmarshal(raw, &v); err == nil {
			store.Set(metadataPrefixUnknown+name, v)
		}
	}

	opts := []events.Option{
		events.WithID(str("id")),
		events.WithLocale(str(ExtLocale)),
		events.WithMetadataStore(store),
	}
	if ts := str("time"); ts != "" {
		if parsed, err := parseCloudEventTime(ts); err == nil {
			opts = append(opts, events.WithTime(parsed))
		}
	}
	if raw, ok := attrs["data"]; ok {
		opts = append(opts, events.WithData([]byte(raw)))
	} else if encoded := str("data_base64"); encoded != "" {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("stonekit: decoding cloudevent data_base64: %w", err)
		}
		opts = append(opts, events.WithData(data))
	}
	return events.New(str("type"), str("source"), opts...), nil
}

// EncodeResponse renders the response as a CloudEvent of type
// "<event type>.response".
func (c CloudEvents) EncodeResponse(resp events.Response, ev *events.Event) (*message.Message, error) {
	if resp == nil {
		return nil, fmt.Errorf("stonekit: cannot encode nil response")
	}
	eventType := "stonekit.response"
	if ev != nil {
		eventType = ev.Type() + ".response"
	}
	attrs := map[string]any{
		"specversion": SpecVersion,
		"type":        eventType,
		"source":      "stonekit",
		"id":          idspkg.CreateULID(),
		"time":        time.Now().UTC().Format(time.RFC3339Nano),
	}
	content := resp.Content()
	if s, ok := content.(string); ok {
		content = []byte(s)
	}
	if err := setCloudEventData(attrs, content); err != nil {
		return nil, fmt.Errorf("stonekit: encoding response: %w", err)
	}
	payload, err := jsoncodec.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("stonekit: encoding response: %w", err)
	}
	return responseMessage(resp, ev, payload, c.ContentType(), attrs["id"].(string)), nil
}

func validateCloudEvent(specVersion, eventType, source, id string) error {
	var missing []string
	if specVersion != SpecVersion {
		return fmt.Errorf("specversion must be %q, got %q", SpecVersion, specVersion)
	}
	if eventType == "" {
		missing = append(missing, "type")
	}
	if source == "" {
		missing = append(missing, "source")
	}
	if id == "" {
		missing = append(missing, "id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required attributes: %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseCloudEventTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as cloudevent time", s)
}
