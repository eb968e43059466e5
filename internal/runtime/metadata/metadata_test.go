package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetSetPaths(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Set("http.method", "GET").Set("http.headers.accept", "application/json")

	assert.Equal(t, "GET", s.Get("http.method", nil))
	assert.Equal(t, "application/json", s.GetString("http.headers.accept", ""))
	assert.Equal(t, "fallback", s.Get("http.missing", "fallback"))
	assert.True(t, s.Has("http.headers"))
	assert.False(t, s.Has(""))
	assert.Equal(t, 1, s.Len())
}

func TestStoreSetReplacesScalarIntermediate(t *testing.T) {
	t.Parallel()

	s := New(map[string]any{"user": "ada"})
	s.Set("user.name", "ada")

	assert.Equal(t, "ada", s.Get("user.name", nil))
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	s := New(nil).Set("a.b", 1).Set("a.c", 2)
	assert.True(t, s.Delete("a.b"))
	assert.False(t, s.Delete("a.b"))
	assert.False(t, s.Delete("x.y"))
	assert.Equal(t, 2, s.Get("a.c", nil))
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	original := New(map[string]any{
		"tags":   []any{"a", map[string]any{"k": "v"}},
		"nested": map[string]any{"key": "value"},
	})
	clone := original.Clone()
	clone.Set("nested.key", "changed")

	assert.Equal(t, "value", original.Get("nested.key", nil))
	assert.Equal(t, "changed", clone.Get("nested.key", nil))
}

func TestNewCopiesInput(t *testing.T) {
	t.Parallel()

	input := map[string]any{"nested": map[string]any{"key": "value"}}
	s := New(input)
	input["nested"].(map[string]any)["key"] = "mutated"

	assert.Equal(t, "value", s.Get("nested.key", nil))
}

func TestNilStoreIsReadOnly(t *testing.T) {
	t.Parallel()

	var s *Store
	assert.Equal(t, "x", s.Get("a", "x"))
	assert.Nil(t, s.Set("a", 1))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.All())
	assert.Empty(t, s.Flatten())
}

func TestFlattenAndFromFlat(t *testing.T) {
	t.Parallel()

	s := New(nil).Set("correlation_id", "abc").Set("http.status", 201).Set("http.path", "/hi")
	flat := s.Flatten()

	assert.Equal(t, map[string]string{
		"correlation_id": "abc",
		"http.status":    "201",
		"http.path":      "/hi",
	}, flat)

	rebuilt := FromFlat(flat)
	assert.Equal(t, "/hi", rebuilt.Get("http.path", nil))
	assert.Equal(t, "201", rebuilt.Get("http.status", nil))
}

func TestWatermillBridge(t *testing.T) {
	t.Parallel()

	md := message.Metadata{"trace.id": "t-1", "name": "greet"}
	s := FromWatermill(md)
	require.NotNil(t, s)
	assert.Equal(t, "t-1", s.Get("trace.id", nil))

	back := ToWatermill(s)
	assert.Equal(t, "t-1", back.Get("trace.id"))
	assert.Equal(t, "greet", back.Get("name"))

	assert.Equal(t, 0, FromWatermill(nil).Len())
	assert.Empty(t, ToWatermill(nil))
}
