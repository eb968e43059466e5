// Package direct feeds a fixed list of events to a kernel in-process. It is
// the adapter used by tests and by programs that drive an event kernel from
// code.
package direct

import (
	"context"
	"fmt"

	"github.com/drblury/stonekit/internal/runtime"
	"github.com/drblury/stonekit/internal/runtime/config"
	"github.com/drblury/stonekit/internal/runtime/events"
)

// Name is the catalog key of the direct adapter.
const Name = "direct"

// Adapter hands its events to the kernel in order.
type Adapter struct {
	events []*events.Event
}

// New returns an adapter for evs.
func New(evs ...*events.Event) *Adapter {
	return &Adapter{events: evs}
}

// Factory returns a catalog factory that always serves evs.
func Factory(evs ...*events.Event) runtime.AdapterFactory {
	return func(*runtime.Application, config.AdapterOptions) (runtime.Adapter, error) {
		return New(evs...), nil
	}
}

// Run handles every event and returns the responses. With a single event the
// output is that event's response rather than a slice.
func (a *Adapter) Run(ctx context.Context, handler runtime.EventHandler) (any, error) {
	responses := make([]events.Response, 0, len(a.events))
	for _, ev := range a.events {
		if err := ctx.Err(); err != nil {
			return responses, err
		}
		resp, err := handler.Handle(ctx, ev)
		if err != nil {
			return responses, fmt.Errorf("stonekit: direct adapter: %w", err)
		}
		responses = append(responses, resp)
	}
	if len(responses) == 1 {
		return responses[0], nil
	}
	return responses, nil
}
