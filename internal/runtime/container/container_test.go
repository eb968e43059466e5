package container

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
)

type mailer struct{ id int64 }

func counterFactory(counter *atomic.Int64) Factory {
	return func(*Container) (any, error) {
		return &mailer{id: counter.Add(1)}, nil
	}
}

func TestBindIsTransient(t *testing.T) {
	t.Parallel()

	var built atomic.Int64
	c := New().Bind("mailer", counterFactory(&built))

	first, err := c.Make("mailer")
	require.NoError(t, err)
	second, err := c.Make("mailer")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, built.Load())
}

func TestSingletonIsBuiltOnce(t *testing.T) {
	t.Parallel()

	var built atomic.Int64
	c := New().Singleton("mailer", counterFactory(&built))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Make("mailer")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, built.Load())
}

func TestInstanceAndAliases(t *testing.T) {
	t.Parallel()

	c := New().Instance("config", "value")
	require.NoError(t, c.Alias("config", "cfg"))
	require.NoError(t, c.Alias("cfg", "settings"))

	v, err := c.Make("settings")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	assert.True(t, c.Bound("cfg"))
	assert.True(t, c.Has("settings"))
	assert.Error(t, c.Alias("self", "self"))
}

func TestAutoBindRegistersAliases(t *testing.T) {
	t.Parallel()

	var built atomic.Int64
	c := New().AutoBind("mailer", counterFactory(&built), true, "mail", "smtp")

	a, err := c.Make("mail")
	require.NoError(t, err)
	b, err := c.Make("smtp")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestTypedKeys(t *testing.T) {
	t.Parallel()

	type serviceKey struct{ name string }
	c := New().Instance(serviceKey{"db"}, 42)

	v, err := Resolve[int](c, serviceKey{"db"})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, c.Bound(serviceKey{"cache"}))
}

func TestMakeErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := New().Bind("broken", func(*Container) (any, error) { return nil, boom })

	_, err := c.Make("broken")
	assert.ErrorIs(t, err, boom)

	_, err = c.Make("missing")
	assert.ErrorIs(t, err, errspkg.ErrBindingNotFound)

	_, err = Resolve[string](New().Instance("n", 1), "n")
	assert.ErrorIs(t, err, errspkg.ErrBindingType)

	assert.Panics(t, func() { c.MustMake("missing") })
}

func TestChildScopes(t *testing.T) {
	t.Parallel()

	parent := New().Instance("app", "stonekit")
	child := parent.Child().Instance("event", "greet")

	v, err := child.Make("app")
	require.NoError(t, err)
	assert.Equal(t, "stonekit", v)

	assert.True(t, child.Bound("event"))
	assert.False(t, parent.Bound("event"))

	child.Instance("app", "override")
	v, err = child.Make("app")
	require.NoError(t, err)
	assert.Equal(t, "override", v)
	v, err = parent.Make("app")
	require.NoError(t, err)
	assert.Equal(t, "stonekit", v)

	child.Clear()
	assert.True(t, child.Bound("app"), "parent bindings stay visible after a child clear")
}

func TestInstanceReplacesBinding(t *testing.T) {
	t.Parallel()

	c := New().Bind("k", func(*Container) (any, error) { return "built", nil })
	c.Instance("k", "instance")
	v, err := c.Make("k")
	require.NoError(t, err)
	assert.Equal(t, "instance", v)
	assert.Len(t, c.Keys(), 1)
}

func TestClear(t *testing.T) {
	t.Parallel()

	c := New().Instance("a", 1).Bind("b", func(*Container) (any, error) { return 2, nil })
	require.NoError(t, c.Alias("a", "alpha"))
	c.Clear()

	assert.False(t, c.Has("a"))
	assert.False(t, c.Has("b"))
	assert.False(t, c.Has("alpha"))
	assert.Empty(t, c.Keys())
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	c := New()
	got, ok := FromContext(WithContainer(context.Background(), c))
	require.True(t, ok)
	assert.Same(t, c, got)
}
