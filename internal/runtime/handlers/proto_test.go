package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
)

func echoName(_ context.Context, ev ProtoEventContext[*structpb.Struct]) (proto.Message, error) {
	return wrapperspb.String("hello " + ev.Payload.GetFields()["name"].GetStringValue()), nil
}

func TestProtoDecodesSupportedData(t *testing.T) {
	t.Parallel()

	typed, err := structpb.NewStruct(map[string]any{"name": "cy"})
	require.NoError(t, err)

	tests := []struct {
		name string
		data any
		want string
	}{
		{"bytes", []byte(`{"name":"ada"}`), "hello ada"},
		{"string", `{"name":"bob"}`, "hello bob"},
		{"typed", typed, "hello cy"},
		{"map", map[string]any{"name": "dee"}, "hello dee"},
		{"nil", nil, "hello "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, err := Proto(echoName)(context.Background(), events.New("greet", "test", events.WithData(tt.data)))
			require.NoError(t, err)
			require.NotNil(t, resp)
			msg, ok := resp.Content().(*wrapperspb.StringValue)
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.GetValue())
		})
	}
}

func TestProtoDecodeFailureIsUnprocessable(t *testing.T) {
	t.Parallel()

	_, err := Proto(echoName)(context.Background(), events.New("greet", "test", events.WithData([]byte(`not json`))))
	var appErr *errspkg.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CodeUnprocessable, appErr.Code)
}

func TestProtoNilResultYieldsNilResponse(t *testing.T) {
	t.Parallel()

	h := Proto(func(context.Context, ProtoEventContext[*structpb.Struct]) (proto.Message, error) {
		return nil, nil
	})
	resp, err := h(context.Background(), events.New("greet", "test"))
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestProtoRequiresConcreteType(t *testing.T) {
	t.Parallel()

	h := Proto(func(context.Context, ProtoEventContext[proto.Message]) (proto.Message, error) {
		return nil, nil
	})
	_, err := h(context.Background(), events.New("greet", "test", events.WithData([]byte(`{}`))))
	assert.ErrorIs(t, err, errspkg.ErrMessageTypeRequired)

	_, err = Proto[*structpb.Struct](nil)(context.Background(), events.New("greet", "test"))
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}
