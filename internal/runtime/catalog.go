package runtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/drblury/stonekit/internal/runtime/bus"
	"github.com/drblury/stonekit/internal/runtime/config"
	"github.com/drblury/stonekit/internal/runtime/container"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
)

// ProviderFactory builds a provider. The result must implement Registerer.
type ProviderFactory func(app *Application) (any, error)

// ListenerFactory builds a bus listener referenced from configuration.
type ListenerFactory func(app *Application) (bus.Listener, error)

// SubscriberFactory builds a bus subscriber referenced from configuration.
type SubscriberFactory func(app *Application) (bus.Subscriber, error)

// BootstrapperFactory builds a bootstrapper.
type BootstrapperFactory func(app *Application) (Bootstrapper, error)

// ServiceDefinition is a container binding applied during Register.
type ServiceDefinition struct {
	Name      string
	Factory   container.Factory
	Singleton bool
	Aliases   []string
}

// Catalog maps the names used in configuration to the factories that build
// them. It is safe for concurrent use.
type Catalog struct {
	mu            sync.RWMutex
	providers     map[string]ProviderFactory
	listeners     map[string]ListenerFactory
	subscribers   map[string]SubscriberFactory
	kernels       map[string]KernelFactory
	adapters      map[string]AdapterFactory
	bootstrappers map[string]BootstrapperFactory
	handlers      map[string]events.Handler
	routers       map[string]events.Router
	middleware    []MiddlewareRegistration
	services      []ServiceDefinition
}

// NewCatalog returns a catalog holding the built-in kernels, bootstrappers
// and middleware.
func NewCatalog() *Catalog {
	c := EmptyCatalog().
		Kernel("default", NewDefaultKernel).
		Kernel("event", func(app *Application, name string, opts config.KernelOptions) (Kernel, error) {
			return NewEventKernel(app, name, opts)
		})
	for name, factory := range builtinBootstrappers {
		c.Bootstrapper(name, factory)
	}
	for _, reg := range DefaultMiddlewares() {
		c.Middleware(reg)
	}
	return c
}

// EmptyCatalog returns a catalog without built-ins.
func EmptyCatalog() *Catalog {
	return &Catalog{
		providers:     make(map[string]ProviderFactory),
		listeners:     make(map[string]ListenerFactory),
		subscribers:   make(map[string]SubscriberFactory),
		kernels:       make(map[string]KernelFactory),
		adapters:      make(map[string]AdapterFactory),
		bootstrappers: make(map[string]BootstrapperFactory),
		handlers:      make(map[string]events.Handler),
		routers:       make(map[string]events.Router),
	}
}

// Provider registers a provider factory.
func (c *Catalog) Provider(name string, f ProviderFactory) *Catalog {
	c.mu.Lock()
	c.providers[name] = f
	c.mu.Unlock()
	return c
}

// Listener registers a listener factory.
func (c *Catalog) Listener(name string, f ListenerFactory) *Catalog {
	c.mu.Lock()
	c.listeners[name] = f
	c.mu.Unlock()
	return c
}

// Subscriber registers a subscriber factory.
func (c *Catalog) Subscriber(name string, f SubscriberFactory) *Catalog {
	c.mu.Lock()
	c.subscribers[name] = f
	c.mu.Unlock()
	return c
}

// Kernel registers a kernel factory under a kernel type.
func (c *Catalog) Kernel(kind string, f KernelFactory) *Catalog {
	c.mu.Lock()
	c.kernels[kind] = f
	c.mu.Unlock()
	return c
}

// Adapter registers an adapter factory.
func (c *Catalog) Adapter(name string, f AdapterFactory) *Catalog {
	c.mu.Lock()
	c.adapters[name] = f
	c.mu.Unlock()
	return c
}

// Bootstrapper registers a bootstrapper factory.
func (c *Catalog) Bootstrapper(name string, f BootstrapperFactory) *Catalog {
	c.mu.Lock()
	c.bootstrappers[name] = f
	c.mu.Unlock()
	return c
}

// Handler registers a named destination handler.
func (c *Catalog) Handler(name string, h events.Handler) *Catalog {
	c.mu.Lock()
	c.handlers[name] = h
	c.mu.Unlock()
	return c
}

// Router registers a named destination router.
func (c *Catalog) Router(name string, r events.Router) *Catalog {
	c.mu.Lock()
	c.routers[name] = r
	c.mu.Unlock()
	return c
}

// Middleware registers a middleware. A registration with the same stage and
// name replaces the earlier one.
func (c *Catalog) Middleware(reg MiddlewareRegistration) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.middleware {
		if existing.Stage == reg.Stage && existing.Name == reg.Name {
			c.middleware[i] = reg
			return c
		}
	}
	c.middleware = append(c.middleware, reg)
	return c
}

// Service registers a container binding applied during Register.
func (c *Catalog) Service(def ServiceDefinition) *Catalog {
	c.mu.Lock()
	c.services = append(c.services, def)
	c.mu.Unlock()
	return c
}

func unknownEntry(kind, name string) error {
	return fmt.Errorf("%w: %s %q", errspkg.ErrUnknownEntry, kind, name)
}

func lookup[T any](c *Catalog, entries map[string]T, kind, name string) (T, error) {
	c.mu.RLock()
	v, ok := entries[name]
	c.mu.RUnlock()
	if !ok {
		var zero T
		return zero, unknownEntry(kind, name)
	}
	return v, nil
}

// LookupProvider returns the provider factory registered under name.
func (c *Catalog) LookupProvider(name string) (ProviderFactory, error) {
	return lookup(c, c.providers, "provider", name)
}

// LookupListener returns the listener factory registered under name.
func (c *Catalog) LookupListener(name string) (ListenerFactory, error) {
	return lookup(c, c.listeners, "listener", name)
}

// LookupSubscriber returns the subscriber factory registered under name.
func (c *Catalog) LookupSubscriber(name string) (SubscriberFactory, error) {
	return lookup(c, c.subscribers, "subscriber", name)
}

// LookupKernel returns the kernel factory registered under kind.
func (c *Catalog) LookupKernel(kind string) (KernelFactory, error) {
	return lookup(c, c.kernels, "kernel", kind)
}

// LookupAdapter returns the adapter factory registered under name.
func (c *Catalog) LookupAdapter(name string) (AdapterFactory, error) {
	return lookup(c, c.adapters, "adapter", name)
}

// LookupBootstrapper returns the bootstrapper factory registered under name.
func (c *Catalog) LookupBootstrapper(name string) (BootstrapperFactory, error) {
	return lookup(c, c.bootstrappers, "bootstrapper", name)
}

// LookupHandler returns the handler registered under name.
func (c *Catalog) LookupHandler(name string) (events.Handler, error) {
	return lookup(c, c.handlers, "handler", name)
}

// LookupRouter returns the router registered under name.
func (c *Catalog) LookupRouter(name string) (events.Router, error) {
	return lookup(c, c.routers, "router", name)
}

func (c *Catalog) middlewareRegistrations() []MiddlewareRegistration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MiddlewareRegistration(nil), c.middleware...)
}

func (c *Catalog) serviceDefinitions() []ServiceDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ServiceDefinition(nil), c.services...)
}

// Names lists the registered names per entry kind, sorted.
func (c *Catalog) Names() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := map[string][]string{
		"provider":     sortedKeys(c.providers),
		"listener":     sortedKeys(c.listeners),
		"subscriber":   sortedKeys(c.subscribers),
		"kernel":       sortedKeys(c.kernels),
		"adapter":      sortedKeys(c.adapters),
		"bootstrapper": sortedKeys(c.bootstrappers),
		"handler":      sortedKeys(c.handlers),
		"router":       sortedKeys(c.routers),
	}
	for _, reg := range c.middleware {
		out["middleware"] = append(out["middleware"], string(reg.Stage)+"."+reg.Name)
	}
	return out
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
