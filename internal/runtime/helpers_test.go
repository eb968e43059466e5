package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drblury/stonekit/internal/runtime/bus"
	"github.com/drblury/stonekit/internal/runtime/config"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func (r *recorder) listener(entry string) bus.Listener {
	return bus.ListenerFunc(func(context.Context, *events.Event) error {
		r.add(entry)
		return nil
	})
}

// logProvider registers with "r" and boots with "b".
type logProvider struct{ log *recorder }

func (p *logProvider) Register(context.Context) error { p.log.add("r"); return nil }
func (p *logProvider) Boot(context.Context) error     { p.log.add("b"); return nil }

// registerOnly has no boot step.
type registerOnly struct{ log *recorder }

func (p *registerOnly) Register(context.Context) error { p.log.add("register-only"); return nil }

// terminatingProvider also shuts down.
type terminatingProvider struct{ log *recorder }

func (p *terminatingProvider) Register(context.Context) error  { return nil }
func (p *terminatingProvider) Terminate(context.Context) error { p.log.add("provider.terminate"); return nil }

// listeningProvider declares a listener on the terminate event.
type listeningProvider struct{ log *recorder }

func (p *listeningProvider) Register(context.Context) error { return nil }
func (p *listeningProvider) Listeners() map[string][]bus.Listener {
	return map[string][]bus.Listener{
		events.Terminating: {p.log.listener("declared.terminating")},
		events.Terminate:   {p.log.listener("declared.terminate")},
	}
}

type noRegister struct{}

func newTestApp(t *testing.T, mutate func(*config.Options), deps ApplicationDependencies) *Application {
	t.Helper()
	conf := config.Default()
	if mutate != nil {
		mutate(conf)
	}
	app, err := NewApplication(conf, loggingpkg.Discard(), deps)
	require.NoError(t, err)
	return app
}

func providerFactory(p any) ProviderFactory {
	return func(*Application) (any, error) { return p, nil }
}

func okModule() Module {
	return FuncModule(func(context.Context) (any, error) { return "OK", nil })
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
