// Package pipeline runs a payload through an ordered chain of middleware.
//
// Each middleware receives the payload and a next function. Calling next hands
// the (possibly replaced) payload to the following middleware; returning
// without calling next ends the chain with that result. Errors propagate
// unchanged to the caller of Then or ThenReturn.
package pipeline

import (
	"context"
	"fmt"

	"github.com/drblury/stonekit/internal/runtime/container"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
)

// Next continues the chain.
type Next[P, R any] func(ctx context.Context, payload P) (R, error)

// Middleware is a bare function pipe.
type Middleware[P, R any] func(ctx context.Context, payload P, next Next[P, R]) (R, error)

// Handler is a middleware object, typically resolved from the container.
type Handler[P, R any] interface {
	Handle(ctx context.Context, payload P, next Next[P, R]) (R, error)
}

// PipeKind tells how a Pipe is obtained.
type PipeKind int

const (
	// PipeFunc pipes carry their middleware directly.
	PipeFunc PipeKind = iota
	// PipeService pipes are resolved from the container when reached.
	PipeService
)

func (k PipeKind) String() string {
	switch k {
	case PipeFunc:
		return "func"
	case PipeService:
		return "service"
	default:
		return fmt.Sprintf("PipeKind(%d)", int(k))
	}
}

// Pipe is one entry of the chain.
type Pipe[P, R any] struct {
	Kind PipeKind
	Func Middleware[P, R]
	Key  container.Key
}

// Func wraps a middleware function.
func Func[P, R any](mw Middleware[P, R]) Pipe[P, R] {
	return Pipe[P, R]{Kind: PipeFunc, Func: mw}
}

// Service refers to a middleware bound in the container under key.
func Service[P, R any](key container.Key) Pipe[P, R] {
	return Pipe[P, R]{Kind: PipeService, Key: key}
}

// Pipeline sends a payload through pipes. A Pipeline is built per run and is
// not meant to be shared between goroutines.
type Pipeline[P, R any] struct {
	container *container.Container
	payload   P
	pipes     []Pipe[P, R]
}

// New creates a pipeline resolving service pipes from c. c may be nil when
// only function pipes are used.
func New[P, R any](c *container.Container) *Pipeline[P, R] {
	return &Pipeline[P, R]{container: c}
}

// Send sets the payload.
func (p *Pipeline[P, R]) Send(payload P) *Pipeline[P, R] {
	p.payload = payload
	return p
}

// Through replaces the pipes.
func (p *Pipeline[P, R]) Through(pipes ...Pipe[P, R]) *Pipeline[P, R] {
	p.pipes = append([]Pipe[P, R](nil), pipes...)
	return p
}

// Pipe appends pipes.
func (p *Pipeline[P, R]) Pipe(pipes ...Pipe[P, R]) *Pipeline[P, R] {
	p.pipes = append(p.pipes, pipes...)
	return p
}

// Then runs the chain with terminal as its final step.
func (p *Pipeline[P, R]) Then(ctx context.Context, terminal Next[P, R]) (R, error) {
	return p.step(0, terminal)(ctx, p.payload)
}

// ThenReturn runs the chain and returns the final payload. The payload type
// must be assignable to the result type.
func (p *Pipeline[P, R]) ThenReturn(ctx context.Context) (R, error) {
	return p.Then(ctx, func(_ context.Context, payload P) (R, error) {
		result, ok := any(payload).(R)
		if !ok {
			var zero R
			return zero, fmt.Errorf("%w: %T", errspkg.ErrPayloadNotResult, payload)
		}
		return result, nil
	})
}

func (p *Pipeline[P, R]) step(index int, terminal Next[P, R]) Next[P, R] {
	return func(ctx context.Context, payload P) (R, error) {
		if err := ctx.Err(); err != nil {
			var zero R
			return zero, err
		}
		if index >= len(p.pipes) {
			return terminal(ctx, payload)
		}
		mw, err := p.resolve(p.pipes[index])
		if err != nil {
			var zero R
			return zero, err
		}
		return mw(ctx, payload, p.step(index+1, terminal))
	}
}

func (p *Pipeline[P, R]) resolve(pipe Pipe[P, R]) (Middleware[P, R], error) {
	switch pipe.Kind {
	case PipeFunc:
		if pipe.Func == nil {
			return nil, fmt.Errorf("%w: nil func pipe", errspkg.ErrInvalidMiddleware)
		}
		return pipe.Func, nil
	case PipeService:
		if p.container == nil {
			return nil, fmt.Errorf("%w: %v", errspkg.ErrBindingNotFound, pipe.Key)
		}
		resolved, err := p.container.Make(pipe.Key)
		if err != nil {
			return nil, err
		}
		return asMiddleware[P, R](pipe.Key, resolved)
	default:
		return nil, fmt.Errorf("%w: unknown pipe kind %s", errspkg.ErrInvalidMiddleware, pipe.Kind)
	}
}

func asMiddleware[P, R any](key container.Key, v any) (Middleware[P, R], error) {
	switch mw := v.(type) {
	case Middleware[P, R]:
		return mw, nil
	case func(context.Context, P, Next[P, R]) (R, error):
		return mw, nil
	case Handler[P, R]:
		return mw.Handle, nil
	default:
		return nil, fmt.Errorf("%w: %v is %T", errspkg.ErrInvalidMiddleware, key, v)
	}
}
