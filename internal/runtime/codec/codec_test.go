package codec

import (
	"encoding/base64"
	"strconv"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
)

func TestForName(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]string{"": "json", "JSON": "json", "proto": "proto", "protobuf": "proto", "cloudevents": "cloudevents"} {
		c, err := ForName(name)
		require.NoError(t, err)
		assert.Equal(t, want, c.Name())
	}
	_, err := ForName("xml")
	assert.Error(t, err)
}

func TestCodecsRoundTripEvents(t *testing.T) {
	t.Parallel()

	for _, c := range []Codec{JSON{}, Proto{}, CloudEvents{}} {
		t.Run(c.Name(), func(t *testing.T) {
			t.Parallel()

			ev := events.New("user.created", "http",
				events.WithData(map[string]any{"name": "ada"}),
				events.WithLocale("de"),
			)
			ev.Set("correlation_id", "c-1")

			msg, err := c.EncodeEvent(ev)
			require.NoError(t, err)
			assert.Equal(t, ev.ID(), msg.UUID)
			assert.Equal(t, "user.created", msg.Metadata.Get(MetadataKeyEventType))
			assert.Equal(t, c.ContentType(), msg.Metadata.Get(MetadataKeyContentType))

			decoded, err := c.DecodeEvent(msg)
			require.NoError(t, err)
			assert.Equal(t, ev.ID(), decoded.ID())
			assert.Equal(t, "user.created", decoded.Type())
			assert.Equal(t, "http", decoded.Source)
			assert.Equal(t, "de", decoded.Locale)
			assert.Equal(t, "c-1", decoded.Get("correlation_id", nil))
			assert.True(t, ev.Time.Equal(decoded.Time))
			assert.JSONEq(t, `{"name":"ada"}`, string(decoded.Data.([]byte)))
		})
	}
}

func TestJSONKeepsRawJSONData(t *testing.T) {
	t.Parallel()

	ev := events.New("order.placed", "cli", events.WithData([]byte(`{"id":7}`)))
	msg, err := JSON{}.EncodeEvent(ev)
	require.NoError(t, err)

	decoded, err := JSON{}.DecodeEvent(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(decoded.Data.([]byte)))
}

func TestDecodeRawPayload(t *testing.T) {
	t.Parallel()

	for _, c := range []Codec{JSON{}, Proto{}, CloudEvents{}} {
		msg := message.NewMessage("m-1", []byte("plain text"))
		msg.Metadata.Set(MetadataKeyEventType, "sms.received")
		msg.Metadata.Set("tenant", "acme")

		ev, err := c.DecodeEvent(msg)
		require.NoError(t, err, c.Name())
		assert.Equal(t, "m-1", ev.ID())
		assert.Equal(t, "sms.received", ev.Type())
		assert.Equal(t, "acme", ev.Get("tenant", nil))
		assert.Equal(t, []byte("plain text"), ev.Data)
	}

	ev, err := JSON{}.DecodeEvent(message.NewMessage("m-2", []byte(`{"hello":"world"}`)))
	require.NoError(t, err)
	assert.Equal(t, DefaultEventType, ev.Type())
}

func TestNilInputs(t *testing.T) {
	t.Parallel()

	for _, c := range []Codec{JSON{}, Proto{}, CloudEvents{}} {
		_, err := c.EncodeEvent(nil)
		assert.Error(t, err)
		_, err = c.DecodeEvent(nil)
		assert.Error(t, err)
		_, err = c.EncodeResponse(nil, nil)
		assert.Error(t, err)
	}
}

func TestJSONEncodeResponse(t *testing.T) {
	t.Parallel()

	ev := events.New("greet", "message")
	ev.Set("correlation_id", "c-9")

	msg, err := JSON{}.EncodeResponse(events.NewResponse(map[string]string{"msg": "hi"}, 201), ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, string(msg.Payload))
	assert.Equal(t, strconv.Itoa(201), msg.Metadata.Get(MetadataKeyStatus))
	assert.Equal(t, ev.ID(), msg.Metadata.Get(MetadataKeyReplyTo))
	assert.Equal(t, "c-9", msg.Metadata.Get("correlation_id"))

	msg, err = JSON{}.EncodeResponse(events.NewResponse("OK", 0), nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(msg.Payload))
}

func TestProtoEncodeResponse(t *testing.T) {
	t.Parallel()

	content, err := structpb.NewStruct(map[string]any{"ok": true})
	require.NoError(t, err)

	msg, err := Proto{}.EncodeResponse(events.NewResponse(content, 200), nil)
	require.NoError(t, err)
	var decoded structpb.Struct
	require.NoError(t, proto.Unmarshal(msg.Payload, &decoded))
	assert.True(t, decoded.GetFields()["ok"].GetBoolValue())

	msg, err = Proto{}.EncodeResponse(events.NewResponse(map[string]any{"n": 1}, 200), nil)
	require.NoError(t, err)
	var value structpb.Value
	require.NoError(t, proto.Unmarshal(msg.Payload, &value))
	assert.InDelta(t, 1, value.GetStructValue().GetFields()["n"].GetNumberValue(), 0)
}

func TestCloudEventsStructuredMode(t *testing.T) {
	t.Parallel()

	ev := events.New("order.placed", "", events.WithData([]byte(`{"id":7}`)))
	ev.Set("correlation_id", "c-3")
	msg, err := CloudEvents{}.EncodeEvent(ev)
	require.NoError(t, err)

	var attrs map[string]any
	require.NoError(t, jsoncodec.Unmarshal(msg.Payload, &attrs))
	assert.Equal(t, SpecVersion, attrs["specversion"])
	assert.Equal(t, "stonekit", attrs["source"])
	assert.Equal(t, "application/json", attrs["datacontenttype"])
	assert.Equal(t, "c-3", attrs[ExtCorrelationID])
	assert.Equal(t, map[string]any{"id": float64(7)}, attrs["data"])
}

func TestCloudEventsBinaryData(t *testing.T) {
	t.Parallel()

	ev := events.New("file.uploaded", "cli", events.WithData([]byte{0xff, 0x00, 0x01}))
	msg, err := CloudEvents{}.EncodeEvent(ev)
	require.NoError(t, err)

	var attrs map[string]any
	require.NoError(t, jsoncodec.Unmarshal(msg.Payload, &attrs))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0x00, 0x01}), attrs["data_base64"])

	decoded, err := CloudEvents{}.DecodeEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00, 0x01}, decoded.Data)
}

func TestCloudEventsDecodeForeignEvent(t *testing.T) {
	t.Parallel()

	payload := `{"specversion":"1.0","type":"com.example.ping","source":"/sensors/ping","id":"e-1",` +
		`"time":"2024-05-01T10:00:00Z","region":"eu","data":{"n":1}}`
	ev, err := CloudEvents{}.DecodeEvent(message.NewMessage("m-1", []byte(payload)))
	require.NoError(t, err)
	assert.Equal(t, "e-1", ev.ID())
	assert.Equal(t, "com.example.ping", ev.Type())
	assert.Equal(t, "/sensors/ping", ev.Source)
	assert.Equal(t, 2024, ev.Time.Year())
	assert.Equal(t, "eu", ev.Get("cloudevents.region", nil))
	assert.JSONEq(t, `{"n":1}`, string(ev.Data.([]byte)))
}

func TestCloudEventsRejectsInvalidEnvelope(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		`{"specversion":"0.3","type":"a","source":"b","id":"c"}`,
		`{"specversion":"1.0","source":"b"}`,
	} {
		_, err := CloudEvents{}.DecodeEvent(message.NewMessage("m", []byte(payload)))
		assert.Error(t, err, payload)
	}
}

func TestCloudEventsEncodeResponse(t *testing.T) {
	t.Parallel()

	ev := events.New("greet", "message")
	msg, err := CloudEvents{}.EncodeResponse(events.NewResponse("OK", 200), ev)
	require.NoError(t, err)

	var attrs map[string]any
	require.NoError(t, jsoncodec.Unmarshal(msg.Payload, &attrs))
	assert.Equal(t, "greet.response", attrs["type"])
	assert.NotEmpty(t, attrs["data_base64"])
	assert.Equal(t, ev.ID(), msg.Metadata.Get(MetadataKeyReplyTo))
	assert.Equal(t, "200", msg.Metadata.Get(MetadataKeyStatus))
}
