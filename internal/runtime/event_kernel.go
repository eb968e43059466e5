package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/drblury/stonekit/internal/runtime/config"
	"github.com/drblury/stonekit/internal/runtime/container"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
	"github.com/drblury/stonekit/internal/runtime/pipeline"
)

// Container keys bound for each handled event.
const (
	EventKey         = "event"
	EventSnapshotKey = "event.snapshot"
	RouterKey        = "router"
	HandlerKey       = "handler"
)

// CurrentEvent returns the event being handled by the kernel that owns ctx.
func CurrentEvent(ctx context.Context) (*events.Event, bool) {
	scope, ok := container.FromContext(ctx)
	if !ok {
		return nil, false
	}
	ev, err := container.Resolve[*events.Event](scope, EventKey)
	return ev, err == nil && ev != nil
}

// EventKernel turns events into responses through the event middleware, a
// destination, the response middleware and, on shutdown, the terminate
// middleware. The event and response of a call are threaded through it, so
// one kernel can handle events concurrently.
type EventKernel struct {
	app   *Application
	name  string
	opts  config.KernelOptions
	scope *container.Container
	stats *KernelStats

	providers *providerSet
	group     singleflight.Group

	mu       sync.Mutex
	prepared bool
	booted   bool
	last     *events.Exchange
}

// NewEventKernel builds an event kernel named name.
func NewEventKernel(app *Application, name string, opts config.KernelOptions) (*EventKernel, error) {
	if app == nil {
		return nil, errors.New("stonekit: event kernel requires an application")
	}
	return &EventKernel{
		app:       app,
		name:      name,
		opts:      opts,
		scope:     app.container.Child(),
		stats:     newKernelStats(),
		providers: newProviderSet(),
	}, nil
}

// Name returns the kernel name.
func (k *EventKernel) Name() string { return k.name }

// Options returns the kernel options.
func (k *EventKernel) Options() config.KernelOptions { return k.opts }

// Stats returns the handling statistics.
func (k *EventKernel) Stats() KernelStatsSnapshot { return k.stats.Snapshot() }

// Container returns the kernel scope: the parent of every per-event scope.
func (k *EventKernel) Container() *container.Container { return k.scope }

// Providers lists the kernel-scoped providers.
func (k *EventKernel) Providers() []any { return k.providers.list() }

func (k *EventKernel) isBooted() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.booted
}

// Run bootstraps the application when needed, prepares the kernel and hands
// it to the configured adapter.
func (k *EventKernel) Run(ctx context.Context) (any, error) {
	if err := ensureBootstrapped(ctx, k.app); err != nil {
		return nil, err
	}
	if err := k.BeforeHandle(ctx); err != nil {
		return nil, err
	}
	if k.opts.Adapter == "" {
		return nil, fmt.Errorf("%w: kernel %q", errspkg.ErrAdapterRequired, k.name)
	}
	factory, err := k.app.catalog.LookupAdapter(k.opts.Adapter)
	if err != nil {
		return nil, err
	}
	adapter, err := factory(k.app, k.app.conf.Adapter(k.opts.Adapter))
	if err != nil {
		return nil, fmt.Errorf("stonekit: building adapter %q: %w", k.opts.Adapter, err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: kernel %q", errspkg.ErrAdapterRequired, k.name)
	}

	k.app.logger.Info("Kernel running", loggingpkg.LogFields{"kernel": k.name, "adapter": k.opts.Adapter})
	return adapter.Run(ctx, k)
}

// BeforeHandle runs once per kernel: it binds the configured destination
// into the kernel scope unless one is already bound, checks the configured
// middleware, and registers the kernel-scoped providers.
func (k *EventKernel) BeforeHandle(ctx context.Context) error {
	k.mu.Lock()
	done := k.prepared
	k.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := k.group.Do("before_handle", func() (any, error) {
		k.mu.Lock()
		done := k.prepared
		k.mu.Unlock()
		if done {
			return nil, nil
		}
		if err := k.beforeHandle(ctx); err != nil {
			return nil, err
		}
		k.mu.Lock()
		k.prepared = true
		k.mu.Unlock()
		return nil, nil
	})
	return err
}

func (k *EventKernel) beforeHandle(ctx context.Context) error {
	if k.opts.Router != "" && !k.scope.Bound(RouterKey) {
		r, err := k.app.catalog.LookupRouter(k.opts.Router)
		if err != nil {
			return err
		}
		k.scope.Instance(RouterKey, r)
	}
	if k.opts.Handler != "" && !k.scope.Bound(HandlerKey) {
		h, err := k.app.catalog.LookupHandler(k.opts.Handler)
		if err != nil {
			return err
		}
		k.scope.Instance(HandlerKey, h)
	}

	for _, stage := range []MiddlewareStage{StageEvent, StageResponse, StageTerminate} {
		for _, name := range k.middlewareNames(stage) {
			if !k.scope.Bound(middlewareKey(stage, name)) {
				return unknownEntry("middleware", string(stage)+"."+name)
			}
		}
	}

	for _, name := range k.opts.Providers {
		p, err := k.app.resolveProvider(name)
		if err != nil {
			return err
		}
		k.providers.add(p)
	}
	for i := 0; i < k.providers.len(); i++ {
		p, _ := k.providers.at(i)
		if err := k.app.registerProvider(ctx, k.providers, p, false, k.isBooted); err != nil {
			return err
		}
	}
	return nil
}

// RegisterProvider registers a provider in the kernel scope.
func (k *EventKernel) RegisterProvider(ctx context.Context, p any, force bool) error {
	return k.app.registerProvider(ctx, k.providers, p, force, k.isBooted)
}

// Handle runs ev through the kernel.
func (k *EventKernel) Handle(ctx context.Context, ev *events.Event) (events.Response, error) {
	if ev == nil {
		return nil, errspkg.ErrNilEvent
	}
	if err := k.BeforeHandle(ctx); err != nil {
		return nil, err
	}

	done := k.app.metrics.trackInFlight(k.name)
	start := time.Now()
	resp, err := k.handle(ctx, ev)
	elapsed := time.Since(start)
	done()

	k.stats.record(elapsed, err)
	k.app.metrics.observeEvent(k.name, elapsed, err)
	return resp, err
}

func (k *EventKernel) handle(ctx context.Context, ev *events.Event) (events.Response, error) {
	scope := k.scope.Child()
	scope.Instance(EventKey, ev).Instance(EventSnapshotKey, ev.Clone())
	ctx = container.WithContainer(ctx, scope)
	if ev.Locale == "" {
		ev.Locale = k.app.Locale()
	}
	if err := k.bootOnce(ctx); err != nil {
		return nil, err
	}

	resp, err := k.sendThroughDestination(ctx, scope, ev)
	if err != nil {
		return nil, err
	}
	return k.prepareResponse(ctx, scope, ev, resp)
}

func (k *EventKernel) bootOnce(ctx context.Context) error {
	if k.isBooted() {
		return nil
	}
	_, err, _ := k.group.Do("boot", func() (any, error) {
		if k.isBooted() {
			return nil, nil
		}
		for i := 0; i < k.providers.len(); i++ {
			p, _ := k.providers.at(i)
			id := ProviderIDOf(p)
			if k.providers.isBooted(id) {
				continue
			}
			if err := k.app.wireProvider(k.providers, p); err != nil {
				return nil, err
			}
			if err := k.app.BootProvider(ctx, p); err != nil {
				return nil, err
			}
			k.providers.markBooted(id)
		}
		k.mu.Lock()
		k.booted = true
		k.mu.Unlock()
		return nil, nil
	})
	return err
}

func (k *EventKernel) sendThroughDestination(ctx context.Context, scope *container.Container, ev *events.Event) (events.Response, error) {
	return pipeline.New[*events.Event, events.Response](scope).
		Send(ev).
		Through(stagePipes[*events.Event, events.Response](k.middlewareNames(StageEvent), StageEvent)...).
		Then(ctx, func(ctx context.Context, ev *events.Event) (events.Response, error) {
			return k.dispatch(ctx, scope, ev)
		})
}

func (k *EventKernel) dispatch(ctx context.Context, scope *container.Container, ev *events.Event) (events.Response, error) {
	dest, err := resolveDestination(scope)
	if err != nil {
		return nil, err
	}
	resp, err := safeCall(func() (events.Response, error) { return dest(ctx, ev) })
	if err != nil {
		k.app.errors.Report(ctx, err)
		return k.app.errors.Render(err), nil
	}
	return resp, nil
}

type destination func(ctx context.Context, ev *events.Event) (events.Response, error)

// resolveDestination prefers a bound router over a bound handler.
func resolveDestination(scope *container.Container) (destination, error) {
	for _, key := range []string{RouterKey, HandlerKey} {
		if !scope.Bound(key) {
			continue
		}
		v, err := scope.Make(key)
		if err != nil {
			return nil, err
		}
		switch d := v.(type) {
		case events.Router:
			return d.Dispatch, nil
		case events.Handler:
			return d.Handle, nil
		case func(context.Context, *events.Event) (events.Response, error):
			return d, nil
		default:
			return nil, fmt.Errorf("%w: %s is %T", errspkg.ErrInvalidDestination, key, v)
		}
	}
	return nil, errspkg.ErrNoDestination
}

func (k *EventKernel) prepareResponse(ctx context.Context, scope *container.Container, ev *events.Event, resp events.Response) (events.Response, error) {
	if resp == nil {
		k.remember(ev, nil)
		k.emit(ctx, events.EventHandled, ev)
		return nil, nil
	}

	k.emit(ctx, events.PreparingResponse, ev, events.WithData(&events.Exchange{Event: ev, Response: resp}))
	prepared, err := resp.Prepare(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("stonekit: preparing response: %w", err)
	}
	if prepared == nil {
		prepared = resp
	}
	k.emit(ctx, events.ResponsePrepared, ev, events.WithData(&events.Exchange{Event: ev, Response: prepared}))

	final, err := pipeline.New[*events.Exchange, events.Response](scope).
		Send(&events.Exchange{Event: ev, Response: prepared}).
		Through(stagePipes[*events.Exchange, events.Response](k.middlewareNames(StageResponse), StageResponse)...).
		Then(ctx, func(_ context.Context, x *events.Exchange) (events.Response, error) {
			return x.Response, nil
		})
	if err != nil {
		return nil, err
	}

	k.remember(ev, final)
	k.emit(ctx, events.EventHandled, ev, events.WithData(final))
	return final, nil
}

func (k *EventKernel) emit(ctx context.Context, name string, ev *events.Event, opts ...events.Option) {
	opts = append(opts,
		events.WithContext(k),
		events.WithMetadata(map[string]any{"kernel": k.name, "event_id": ev.ID(), "event_type": ev.Type()}),
	)
	k.app.Emit(ctx, events.New(name, k.name, opts...))
}

func (k *EventKernel) remember(ev *events.Event, resp events.Response) {
	k.mu.Lock()
	k.last = &events.Exchange{Event: ev, Response: resp}
	k.mu.Unlock()
}

// LastExchange returns the last handled event and its response.
func (k *EventKernel) LastExchange() *events.Exchange {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last
}

// OnTerminate runs the terminate middleware over the last exchange. Failures
// are reported, not returned.
func (k *EventKernel) OnTerminate(ctx context.Context) {
	last := k.LastExchange()
	if last == nil {
		return
	}
	_, err := pipeline.New[*events.Exchange, *events.Exchange](k.scope).
		Send(last).
		Through(stagePipes[*events.Exchange, *events.Exchange](k.middlewareNames(StageTerminate), StageTerminate)...).
		ThenReturn(ctx)
	if err != nil {
		k.app.errors.Report(ctx, err)
	}
}

// Terminate runs OnTerminate and terminates the kernel-scoped providers.
func (k *EventKernel) Terminate(ctx context.Context) error {
	k.OnTerminate(ctx)

	var errs []error
	for _, p := range k.providers.list() {
		if t, ok := p.(Terminator); ok {
			if err := t.Terminate(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stonekit: terminating provider %s: %w", ProviderName(p), err))
			}
		}
	}
	return errors.Join(errs...)
}

// middlewareNames lists the middleware of one stage: defaults first unless
// disabled, then the configured names, without duplicates.
func (k *EventKernel) middlewareNames(stage MiddlewareStage) []string {
	mw := k.opts.Middleware
	if mw.Skip {
		return nil
	}
	var names []string
	if !mw.DisableDefaults {
		names = append(names, DefaultMiddlewareNames(stage)...)
	}
	switch stage {
	case StageEvent:
		names = append(names, mw.Event...)
	case StageResponse:
		names = append(names, mw.Response...)
	case StageTerminate:
		names = append(names, mw.Terminate...)
	}
	return dedupe(names)
}

func stagePipes[P, R any](names []string, stage MiddlewareStage) []pipeline.Pipe[P, R] {
	pipes := make([]pipeline.Pipe[P, R], 0, len(names))
	for _, name := range names {
		pipes = append(pipes, pipeline.Service[P, R](middlewareKey(stage, name)))
	}
	return pipes
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok || name == "" {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
