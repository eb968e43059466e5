package runtime

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/singleflight"

	"github.com/drblury/stonekit/internal/runtime/bus"
	"github.com/drblury/stonekit/internal/runtime/container"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

// Registerer is the one method every provider must implement.
type Registerer interface {
	Register(ctx context.Context) error
}

// Booter is implemented by providers that need a boot step after every
// provider has registered.
type Booter interface {
	Boot(ctx context.Context) error
}

// Terminator is implemented by providers that release resources on shutdown.
type Terminator interface {
	Terminate(ctx context.Context) error
}

// ListenerProvider declares bus listeners keyed by event name.
type ListenerProvider interface {
	Listeners() map[string][]bus.Listener
}

// SubscriberProvider declares bus subscribers.
type SubscriberProvider interface {
	Subscribers() []bus.Subscriber
}

// AliasProvider declares container aliases, alias name to bound key.
type AliasProvider interface {
	Aliases() map[string]container.Key
}

// CommandProvider contributes commands to the CLI adapter.
type CommandProvider interface {
	Commands() []*cobra.Command
}

// ProviderID is the identity used to de-duplicate providers: the provider's
// dynamic type.
type ProviderID = reflect.Type

// ProviderIDOf returns the identity of p.
func ProviderIDOf(p any) ProviderID {
	return reflect.TypeOf(p)
}

// ProviderName returns a readable name for p, used in logs and snapshots.
func ProviderName(p any) string {
	t := reflect.TypeOf(p)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// providerSet keeps providers in insertion order together with their
// registration and boot markers.
type providerSet struct {
	mu         sync.RWMutex
	order      []ProviderID
	items      map[ProviderID]any
	registered map[ProviderID]bool
	booted     map[ProviderID]bool
	wired      map[ProviderID]bool
	keys       map[ProviderID]string

	group singleflight.Group
}

func newProviderSet() *providerSet {
	return &providerSet{
		items:      make(map[ProviderID]any),
		registered: make(map[ProviderID]bool),
		booted:     make(map[ProviderID]bool),
		wired:      make(map[ProviderID]bool),
		keys:       make(map[ProviderID]string),
	}
}

// add appends p unless a provider with the same identity is present.
func (s *providerSet) add(p any) bool {
	id := ProviderIDOf(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return false
	}
	s.order = append(s.order, id)
	s.items[id] = p
	return true
}

func (s *providerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *providerSet) at(i int) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.order) {
		return nil, false
	}
	return s.items[s.order[i]], true
}

func (s *providerSet) list() []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]any, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

func (s *providerSet) isRegistered(id ProviderID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered[id]
}

func (s *providerSet) markRegistered(id ProviderID) {
	s.mu.Lock()
	s.registered[id] = true
	s.mu.Unlock()
}

func (s *providerSet) isBooted(id ProviderID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.booted[id]
}

func (s *providerSet) markBooted(id ProviderID) {
	s.mu.Lock()
	s.booted[id] = true
	s.mu.Unlock()
}

// markWired reports whether the caller is the first to wire id.
func (s *providerSet) markWired(id ProviderID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wired[id] {
		return false
	}
	s.wired[id] = true
	return true
}

// key returns a stable singleflight key for id, unique within the set.
func (s *providerSet) key(id ProviderID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		k = "register:" + strconv.Itoa(len(s.keys)+1)
		s.keys[id] = k
	}
	return k
}

// ProviderInfo describes one provider in a snapshot.
type ProviderInfo struct {
	Name       string `json:"name"`
	Registered bool   `json:"registered"`
	Booted     bool   `json:"booted"`
}

func (s *providerSet) infos() []ProviderInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProviderInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, ProviderInfo{
			Name:       ProviderName(s.items[id]),
			Registered: s.registered[id],
			Booted:     s.booted[id],
		})
	}
	return out
}

type registeringKey struct {
	set *providerSet
	id  ProviderID
}

// registerProvider is the idempotence gate shared by the application and
// event kernels. booted reports whether the owner has completed its boot
// pass, in which case the provider is booted right away.
func (a *Application) registerProvider(ctx context.Context, set *providerSet, p any, force bool, booted func() bool) error {
	if p == nil {
		return fmt.Errorf("%w: <nil>", errspkg.ErrProviderRegisterMissing)
	}
	id := ProviderIDOf(p)
	if !force && set.isRegistered(id) {
		return nil
	}
	registerer, ok := p.(Registerer)
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrProviderRegisterMissing, ProviderName(p))
	}
	marker := registeringKey{set: set, id: id}
	if ctx.Value(marker) != nil {
		return nil
	}
	ctx = context.WithValue(ctx, marker, true)

	if force {
		return a.runRegister(ctx, set, p, registerer, booted)
	}
	_, err, _ := set.group.Do(set.key(id), func() (any, error) {
		if set.isRegistered(id) {
			return nil, nil
		}
		return nil, a.runRegister(ctx, set, p, registerer, booted)
	})
	return err
}

func (a *Application) runRegister(ctx context.Context, set *providerSet, p any, registerer Registerer, booted func() bool) error {
	id := ProviderIDOf(p)
	name := ProviderName(p)
	set.add(p)

	a.emit(ctx, events.ProviderRegistering, providerOptions(p)...)
	if err := registerer.Register(ctx); err != nil {
		return fmt.Errorf("stonekit: registering provider %s: %w", name, err)
	}
	set.markRegistered(id)

	if err := a.applyProviderDeclarations(p); err != nil {
		return err
	}
	if booted() {
		if err := a.wireProvider(set, p); err != nil {
			return err
		}
		if err := a.BootProvider(ctx, p); err != nil {
			return err
		}
		set.markBooted(id)
	}

	a.emit(ctx, events.ProviderRegistered, providerOptions(p)...)
	a.logger.Debug("Provider registered", loggingpkg.LogFields{"provider": name, "late": booted()})
	return nil
}

// applyProviderDeclarations applies aliases and collects commands.
func (a *Application) applyProviderDeclarations(p any) error {
	if ap, ok := p.(AliasProvider); ok {
		for alias, key := range ap.Aliases() {
			if err := a.container.Alias(key, alias); err != nil {
				return fmt.Errorf("stonekit: provider %s: %w", ProviderName(p), err)
			}
		}
	}
	if cp, ok := p.(CommandProvider); ok {
		a.mu.Lock()
		a.commands = append(a.commands, cp.Commands()...)
		a.mu.Unlock()
	}
	return nil
}

// wireProvider subscribes the provider's declared listeners and subscribers
// once per provider set.
func (a *Application) wireProvider(set *providerSet, p any) error {
	if !set.markWired(ProviderIDOf(p)) {
		return nil
	}
	if lp, ok := p.(ListenerProvider); ok {
		for name, listeners := range lp.Listeners() {
			for _, l := range listeners {
				a.bus.On(name, l)
			}
		}
	}
	if sp, ok := p.(SubscriberProvider); ok {
		for _, s := range sp.Subscribers() {
			if err := a.bus.Subscribe(s); err != nil {
				return fmt.Errorf("stonekit: provider %s subscriber: %w", ProviderName(p), err)
			}
		}
	}
	return nil
}

func providerOptions(p any) []events.Option {
	return []events.Option{
		events.WithData(p),
		events.WithMetadata(map[string]any{"provider": ProviderName(p)}),
	}
}
