// Package container implements the service container shared by the
// application, its providers and kernels.
package container

import (
	"context"
	"fmt"
	"sync"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
)

// Key identifies a binding. Any comparable value works; strings are
// conventional.
type Key = any

// Factory builds a value, resolving its own dependencies from c.
type Factory func(c *Container) (any, error)

type binding struct {
	factory   Factory
	singleton bool

	once     sync.Mutex
	resolved bool
	value    any
}

// Container binds keys to factories, instances and aliases. Child containers
// layer over a parent: writes stay local and lookups fall back to the parent.
type Container struct {
	mu        sync.RWMutex
	parent    *Container
	bindings  map[Key]*binding
	instances map[Key]any
	aliases   map[string]Key
}

// New returns an empty container.
func New() *Container {
	return &Container{
		bindings:  make(map[Key]*binding),
		instances: make(map[Key]any),
		aliases:   make(map[string]Key),
	}
}

// Child returns a scope layered over c.
func (c *Container) Child() *Container {
	child := New()
	child.parent = c
	return child
}

// Bind registers a transient factory: every Make builds a new value.
func (c *Container) Bind(key Key, f Factory) *Container {
	return c.AutoBind(key, f, false)
}

// Singleton registers a factory whose first result is reused.
func (c *Container) Singleton(key Key, f Factory) *Container {
	return c.AutoBind(key, f, true)
}

// AutoBind registers f under key, optionally as a singleton, and adds aliases.
func (c *Container) AutoBind(key Key, f Factory, singleton bool, aliases ...string) *Container {
	c.mu.Lock()
	delete(c.instances, key)
	c.bindings[key] = &binding{factory: f, singleton: singleton}
	for _, alias := range aliases {
		c.aliases[alias] = key
	}
	c.mu.Unlock()
	return c
}

// Instance binds an already built value.
func (c *Container) Instance(key Key, value any) *Container {
	c.mu.Lock()
	delete(c.bindings, key)
	c.instances[key] = value
	c.mu.Unlock()
	return c
}

// Alias makes alias resolve to key. Aliasing a name to itself is rejected.
func (c *Container) Alias(key Key, alias string) error {
	if name, ok := key.(string); ok && name == alias {
		return fmt.Errorf("stonekit: %q cannot alias itself", alias)
	}
	c.mu.Lock()
	c.aliases[alias] = key
	c.mu.Unlock()
	return nil
}

// Make resolves key. Aliases are followed first, then instances, bindings and
// finally the parent container.
func (c *Container) Make(key Key) (any, error) {
	key = c.canonical(key)

	c.mu.RLock()
	if v, ok := c.instances[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	b, ok := c.bindings[key]
	c.mu.RUnlock()

	if ok {
		return c.build(key, b)
	}
	if c.parent != nil {
		return c.parent.Make(key)
	}
	return nil, fmt.Errorf("%w: %v", errspkg.ErrBindingNotFound, key)
}

// MustMake resolves key and panics on failure.
func (c *Container) MustMake(key Key) any {
	v, err := c.Make(key)
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Container) build(key Key, b *binding) (any, error) {
	if !b.singleton {
		return c.invoke(key, b.factory)
	}

	b.once.Lock()
	defer b.once.Unlock()
	if b.resolved {
		return b.value, nil
	}
	v, err := c.invoke(key, b.factory)
	if err != nil {
		return nil, err
	}
	b.value, b.resolved = v, true
	return v, nil
}

func (c *Container) invoke(key Key, f Factory) (any, error) {
	if f == nil {
		return nil, fmt.Errorf("stonekit: binding %v has no factory", key)
	}
	v, err := f(c)
	if err != nil {
		return nil, fmt.Errorf("stonekit: resolving %v: %w", key, err)
	}
	return v, nil
}

// Bound reports whether key (or the key it aliases) has a binding or instance
// in c or its parents.
func (c *Container) Bound(key Key) bool {
	key = c.canonical(key)

	c.mu.RLock()
	_, isInstance := c.instances[key]
	_, isBinding := c.bindings[key]
	c.mu.RUnlock()

	if isInstance || isBinding {
		return true
	}
	return c.parent != nil && c.parent.Bound(key)
}

// Has reports whether key is bound or registered as an alias.
func (c *Container) Has(key Key) bool {
	if c.Bound(key) {
		return true
	}
	name, ok := key.(string)
	if !ok {
		return false
	}
	for scope := c; scope != nil; scope = scope.parent {
		scope.mu.RLock()
		_, aliased := scope.aliases[name]
		scope.mu.RUnlock()
		if aliased {
			return true
		}
	}
	return false
}

// Keys returns the keys bound directly in c.
func (c *Container) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]Key, 0, len(c.instances)+len(c.bindings))
	for k := range c.instances {
		keys = append(keys, k)
	}
	for k := range c.bindings {
		keys = append(keys, k)
	}
	return keys
}

// Clear drops every binding, instance and alias held by c. Parents are left
// untouched.
func (c *Container) Clear() {
	c.mu.Lock()
	c.bindings = make(map[Key]*binding)
	c.instances = make(map[Key]any)
	c.aliases = make(map[string]Key)
	c.mu.Unlock()
}

func (c *Container) canonical(key Key) Key {
	name, ok := key.(string)
	if !ok {
		return key
	}
	seen := map[string]struct{}{}
	for {
		target, found := c.lookupAlias(name)
		if !found {
			return key
		}
		key = target
		next, isString := target.(string)
		if !isString {
			return key
		}
		if _, loop := seen[next]; loop {
			return key
		}
		seen[name] = struct{}{}
		name = next
	}
}

func (c *Container) lookupAlias(name string) (Key, bool) {
	for scope := c; scope != nil; scope = scope.parent {
		scope.mu.RLock()
		target, ok := scope.aliases[name]
		scope.mu.RUnlock()
		if ok {
			return target, true
		}
	}
	return nil, false
}

// Resolve makes key and asserts the result to T.
func Resolve[T any](c *Container, key Key) (T, error) {
	var zero T
	v, err := c.Make(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %v is %T, want %T", errspkg.ErrBindingType, key, v, zero)
	}
	return typed, nil
}

type contextKey struct{}

// WithContainer stores c in ctx.
func WithContainer(ctx context.Context, c *Container) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the container stored in ctx, if any.
func FromContext(ctx context.Context) (*Container, bool) {
	c, ok := ctx.Value(contextKey{}).(*Container)
	return c, ok && c != nil
}
