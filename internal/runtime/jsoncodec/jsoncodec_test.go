package jsoncodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	in := greeting{ID: 42, Name: "stonekit"}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out greeting
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)

	indented, err := MarshalIndent(in, "", "  ")
	require.NoError(t, err)
	assert.Contains(t, string(indented), "\n  \"id\"")
}

func TestEncodeAndDecode(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	require.NoError(t, Encode(buf, greeting{ID: 7, Name: "stream"}))

	var decoded greeting
	require.NoError(t, Decode(buf, &decoded))
	assert.Equal(t, greeting{ID: 7, Name: "stream"}, decoded)
}

func TestConvertMapIntoStruct(t *testing.T) {
	t.Parallel()

	var out greeting
	require.NoError(t, Convert(map[string]any{"id": 3, "name": "ada"}, &out))
	assert.Equal(t, greeting{ID: 3, Name: "ada"}, out)

	assert.Error(t, Convert(map[string]any{"id": "three"}, &out))
}

func TestValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Valid([]byte(`{"a":1}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}
