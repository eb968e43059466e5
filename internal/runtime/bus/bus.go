// Package bus is the synchronous publish/subscribe primitive used for
// lifecycle and kernel notifications.
package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
)

// Listener receives emitted events.
type Listener interface {
	Handle(ctx context.Context, ev *events.Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev *events.Event) error

func (f ListenerFunc) Handle(ctx context.Context, ev *events.Event) error {
	return f(ctx, ev)
}

// Subscriber registers several listeners at once.
type Subscriber interface {
	Subscribe(b *Bus) error
}

// Subscription identifies one registered listener.
type Subscription struct {
	id   uint64
	name string
}

// Name returns the event name the subscription listens to.
func (s Subscription) Name() string { return s.name }

// Option configures a subscription.
type Option func(*entry)

// Persistent keeps the subscription across Reset.
func Persistent() Option {
	return func(e *entry) { e.persistent = true }
}

type entry struct {
	id         uint64
	listener   Listener
	persistent bool
}

// ListenerError carries the failures of one emission.
type ListenerError struct {
	Event string
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("stonekit: listeners for %q failed: %v", e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// Bus delivers events synchronously, in registration order. Every listener is
// isolated: a returned error or a panic is collected and the remaining
// listeners still run.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	channels map[string][]entry
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{channels: make(map[string][]entry)}
}

// On subscribes l to name. Use events.Wildcard to receive every event.
func (b *Bus) On(name string, l Listener, opts ...Option) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	e := entry{id: b.nextID, listener: l}
	for _, opt := range opts {
		opt(&e)
	}
	b.channels[name] = append(b.channels[name], e)
	return Subscription{id: e.id, name: name}
}

// OnFunc subscribes a function.
func (b *Bus) OnFunc(name string, fn func(ctx context.Context, ev *events.Event) error, opts ...Option) Subscription {
	return b.On(name, ListenerFunc(fn), opts...)
}

// Subscribe lets s register its listeners.
func (b *Bus) Subscribe(s Subscriber) error {
	if s == nil {
		return nil
	}
	return s.Subscribe(b)
}

// Emit delivers ev to the listeners of ev.Type() followed by wildcard
// listeners. Listener failures are joined into a *ListenerError.
func (b *Bus) Emit(ctx context.Context, ev *events.Event) error {
	if ev == nil {
		return errspkg.ErrNilEvent
	}

	b.mu.RLock()
	targets := append([]entry(nil), b.channels[ev.Type()]...)
	if ev.Type() != events.Wildcard {
		targets = append(targets, b.channels[events.Wildcard]...)
	}
	b.mu.RUnlock()

	var errs []error
	for _, target := range targets {
		if err := invoke(ctx, target.listener, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &ListenerError{Event: ev.Type(), Err: errors.Join(errs...)}
}

func invoke(ctx context.Context, l Listener, ev *events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return l.Handle(ctx, ev)
}

// RemoveListener drops one subscription.
func (b *Bus) RemoveListener(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.channels[sub.name]
	for i, e := range list {
		if e.id == sub.id {
			b.channels[sub.name] = append(list[:i:i], list[i+1:]...)
			if len(b.channels[sub.name]) == 0 {
				delete(b.channels, sub.name)
			}
			return true
		}
	}
	return false
}

// RemoveAllListeners drops every listener of the given names, or of every
// name when none are given. Persistent listeners are removed too.
func (b *Bus) RemoveAllListeners(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(names) == 0 {
		b.channels = make(map[string][]entry)
		return
	}
	for _, name := range names {
		delete(b.channels, name)
	}
}

// Reset drops every non-persistent listener.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, list := range b.channels {
		kept := list[:0:0]
		for _, e := range list {
			if e.persistent {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(b.channels, name)
			continue
		}
		b.channels[name] = kept
	}
}

// HasListeners reports whether name has at least one listener.
func (b *Bus) HasListeners(name string) bool {
	return b.ListenerCount(name) > 0
}

// ListenerCount returns the number of listeners subscribed to name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[name])
}

// Names returns every event name with listeners, sorted.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
