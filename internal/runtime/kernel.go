package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/stonekit/internal/runtime/config"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
)

// Kernel is what Start runs.
type Kernel interface {
	Run(ctx context.Context) (any, error)
}

// KernelTerminator is implemented by kernels with a shutdown step.
type KernelTerminator interface {
	Terminate(ctx context.Context) error
}

// KernelFactory builds the named kernel from its options.
type KernelFactory func(app *Application, name string, opts config.KernelOptions) (Kernel, error)

// EventHandler is the surface adapters drive: one event in, one response out.
type EventHandler interface {
	Handle(ctx context.Context, ev *events.Event) (events.Response, error)
}

// Adapter feeds events from a concrete source into a handler until the
// source is exhausted or ctx is cancelled.
type Adapter interface {
	Run(ctx context.Context, handler EventHandler) (any, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, handler EventHandler) (any, error)

func (f AdapterFunc) Run(ctx context.Context, handler EventHandler) (any, error) {
	return f(ctx, handler)
}

// AdapterFactory builds an adapter from its options.
type AdapterFactory func(app *Application, opts config.AdapterOptions) (Adapter, error)

// DefaultKernel runs the application module once.
type DefaultKernel struct {
	app  *Application
	name string

	mu     sync.Mutex
	runner Runner
}

// NewDefaultKernel is the catalog factory for the "default" kernel type.
func NewDefaultKernel(app *Application, name string, _ config.KernelOptions) (Kernel, error) {
	return &DefaultKernel{app: app, name: name}, nil
}

// Run bootstraps the application when needed, builds the module and runs
// it. Errors raised while building or running the module are reported and
// rendered into the output. A module without an entry point is an error.
func (k *DefaultKernel) Run(ctx context.Context) (any, error) {
	if err := ensureBootstrapped(ctx, k.app); err != nil {
		return nil, err
	}

	module := k.app.module
	if err := module.validate(); err != nil {
		return nil, err
	}
	runner, err := safeCall(func() (Runner, error) { return module.build(k.app.container) })
	if err != nil {
		return k.fail(ctx, err), nil
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: factory returned no runner", errspkg.ErrInvalidModule)
	}
	k.mu.Lock()
	k.runner = runner
	k.mu.Unlock()

	out, err := safeCall(func() (any, error) { return runner.Run(ctx) })
	if err != nil {
		return k.fail(ctx, err), nil
	}
	return out, nil
}

func (k *DefaultKernel) fail(ctx context.Context, err error) events.Response {
	k.app.errors.Report(ctx, err)
	return k.app.errors.Render(err)
}

// Terminate forwards to the module runner when it implements Terminator.
func (k *DefaultKernel) Terminate(ctx context.Context) error {
	k.mu.Lock()
	runner := k.runner
	k.runner = nil
	k.mu.Unlock()

	if t, ok := runner.(Terminator); ok {
		return t.Terminate(ctx)
	}
	return nil
}

func ensureBootstrapped(ctx context.Context, app *Application) error {
	if app.HasBeenBootstrapped() {
		return nil
	}
	return app.BootstrapWith(ctx, app.bootstrappers())
}
