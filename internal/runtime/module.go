package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/drblury/stonekit/internal/runtime/container"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
)

// EntryKind tells how the application module is obtained.
type EntryKind int

const (
	// EntryRunner modules carry a ready Runner.
	EntryRunner EntryKind = iota + 1
	// EntryFactory modules are built from the container at run time.
	EntryFactory
)

func (k EntryKind) String() string {
	switch k {
	case EntryRunner:
		return "runner"
	case EntryFactory:
		return "factory"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// Runner is the user program driven by the default kernel.
type Runner interface {
	Run(ctx context.Context) (any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) (any, error)

func (f RunnerFunc) Run(ctx context.Context) (any, error) {
	return f(ctx)
}

// ModuleFactory builds the runner from the container.
type ModuleFactory func(c *container.Container) (Runner, error)

// Module is the application entry point.
type Module struct {
	Kind    EntryKind
	Runner  Runner
	Factory ModuleFactory
}

// RunnerModule wraps a runner.
func RunnerModule(r Runner) Module {
	return Module{Kind: EntryRunner, Runner: r}
}

// FuncModule wraps a function.
func FuncModule(fn func(ctx context.Context) (any, error)) Module {
	return Module{Kind: EntryRunner, Runner: RunnerFunc(fn)}
}

// FactoryModule wraps a factory resolved against the container.
func FactoryModule(f ModuleFactory) Module {
	return Module{Kind: EntryFactory, Factory: f}
}

// validate rejects modules that carry no entry point.
func (m Module) validate() error {
	switch m.Kind {
	case EntryRunner:
		if m.Runner == nil {
			return fmt.Errorf("%w: runner module without runner", errspkg.ErrInvalidModule)
		}
	case EntryFactory:
		if m.Factory == nil {
			return fmt.Errorf("%w: factory module without factory", errspkg.ErrInvalidModule)
		}
	default:
		return fmt.Errorf("%w: kind %s", errspkg.ErrInvalidModule, m.Kind)
	}
	return nil
}

// build returns the runner of a validated module, calling the factory for
// EntryFactory modules.
func (m Module) build(c *container.Container) (Runner, error) {
	if m.Kind == EntryRunner {
		return m.Runner, nil
	}
	r, err := m.Factory(c)
	if err != nil {
		return nil, fmt.Errorf("stonekit: building application module: %w", err)
	}
	return r, nil
}

// safeCall runs fn and converts a panic into a *errors.PanicError.
func safeCall[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
