package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/drblury/stonekit/internal/runtime/bus"
	"github.com/drblury/stonekit/internal/runtime/codec"
	"github.com/drblury/stonekit/internal/runtime/config"
	"github.com/drblury/stonekit/internal/runtime/container"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

const tracerName = "github.com/drblury/stonekit"

// Phase is the lifecycle position of an application.
type Phase string

const (
	PhaseNew        Phase = "new"
	PhaseSetUp      Phase = "set_up"
	PhaseRegistered Phase = "registered"
	PhaseBooted     Phase = "booted"
	PhaseStarted    Phase = "started"
	PhaseTerminated Phase = "terminated"
)

var phaseRank = map[Phase]int{
	PhaseNew:        0,
	PhaseTerminated: 0,
	PhaseSetUp:      1,
	PhaseRegistered: 2,
	PhaseBooted:     3,
	PhaseStarted:    4,
}

// Container keys of the core services bound during Setup.
const (
	AppKey          = "app"
	ContainerKey    = "container"
	EventsKey       = "events"
	ConfigKey       = "config"
	LoggerKey       = "logger"
	ErrorHandlerKey = "errorHandler"
	MetricsKey      = "metrics"
)

// ApplicationDependencies groups the optional collaborators of an
// application.
type ApplicationDependencies struct {
	Catalog      *Catalog
	Module       Module
	Hooks        LifecycleHooks
	ErrorHandler *ErrorHandler
	// Registerer receives the prometheus collectors. Without it metrics are
	// only collected when conf.Metrics.Enabled is set.
	Registerer prometheus.Registerer
	// Publisher feeds the lifecycle forwarder.
	Publisher message.Publisher
	Container *container.Container
}

// Application drives a module through setup, register, boot, start and
// terminate.
type Application struct {
	conf      *config.Options
	logger    loggingpkg.ServiceLogger
	catalog   *Catalog
	module    Module
	hooks     LifecycleHooks
	errors    *ErrorHandler
	metrics   *Metrics
	container *container.Container
	bus       *bus.Bus
	forwarder *Forwarder

	group singleflight.Group

	mu           sync.RWMutex
	phase        Phase
	setUp        bool
	booted       bool
	bootstrapped bool
	// bound and wired mark the declarative bindings and listeners applied
	// in the current cycle.
	bound        bool
	wired        bool
	locale       string
	providers    *providerSet
	kernels      map[string]Kernel
	kernelTypes  map[string]string
	commands     []*cobra.Command
}

type phaseMarker string

// NewApplication validates conf and wires the application collaborators.
func NewApplication(conf *config.Options, log loggingpkg.ServiceLogger, deps ApplicationDependencies) (*Application, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	config.ApplyDefaults(conf)
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		conf:        conf,
		logger:      log.With(loggingpkg.LogFields{"app": conf.App.Name}),
		catalog:     deps.Catalog,
		module:      deps.Module,
		hooks:       deps.Hooks,
		errors:      deps.ErrorHandler,
		container:   deps.Container,
		bus:         bus.New(),
		phase:       PhaseNew,
		locale:      conf.App.Locale,
		providers:   newProviderSet(),
		kernels:     make(map[string]Kernel),
		kernelTypes: make(map[string]string),
	}
	if app.catalog == nil {
		app.catalog = NewCatalog()
	}
	if app.container == nil {
		app.container = container.New()
	}
	if app.errors == nil {
		app.errors = NewErrorHandler(app.logger, conf.App.Logging, conf.IsDebug())
	}
	if conf.Metrics.Enabled || deps.Registerer != nil {
		metrics, err := NewMetrics(deps.Registerer, conf.Metrics.Namespace)
		if err != nil {
			return nil, fmt.Errorf("stonekit: registering metrics: %w", err)
		}
		app.metrics = metrics
	}

	if topic := conf.Lifecycle.ForwardTopic; topic != "" {
		if deps.Publisher == nil {
			app.logger.Info("Lifecycle forwarding disabled, no publisher", loggingpkg.LogFields{"topic": topic})
		} else {
			app.forwarder = NewForwarder(deps.Publisher, topic, codec.JSON{}, app.logger)
			app.forwarder.Attach(app)
		}
	}
	return app, nil
}

// Setup materialises the configuration: core services and middleware, then
// kernels, providers and bootstrappers. Calling it again rebuilds kernels and
// providers.
func (a *Application) Setup(ctx context.Context) error {
	return a.runPhase(ctx, "setup", func(ctx context.Context) error {
		if err := runHook(ctx, a.hooks.OnInit, a); err != nil {
			return fmt.Errorf("stonekit: init hook: %w", err)
		}
		a.emit(ctx, events.SettingUp)

		a.bindCoreServices()
		a.bindMiddleware()
		if err := a.buildKernels(); err != nil {
			return err
		}
		if err := a.buildProviders(); err != nil {
			return err
		}
		if err := a.bindBootstrappers(); err != nil {
			return err
		}

		a.mu.Lock()
		a.setUp = true
		a.advance(PhaseSetUp)
		a.mu.Unlock()
		a.emit(ctx, events.Setup)
		return nil
	})
}

func (a *Application) bindCoreServices() {
	a.container.
		Instance(AppKey, a).
		Instance(ContainerKey, a.container).
		Instance(EventsKey, a.bus).
		Instance(ConfigKey, a.conf).
		Instance(LoggerKey, a.logger).
		Instance(ErrorHandlerKey, a.errors)
	if a.metrics != nil {
		a.container.Instance(MetricsKey, a.metrics)
	}
}

func (a *Application) bindMiddleware() {
	for _, reg := range a.catalog.middlewareRegistrations() {
		reg := reg
		a.container.Singleton(middlewareKey(reg.Stage, reg.Name), func(*container.Container) (any, error) {
			return reg.resolve(a)
		})
	}
}

var builtinBootstrappers = map[string]BootstrapperFactory{
	BootstrapRegisterProviders: func(*Application) (Bootstrapper, error) { return RegisterProviders(), nil },
	BootstrapBootProviders:     func(*Application) (Bootstrapper, error) { return BootProviders(), nil },
	BootstrapLoadEnvironment:   func(*Application) (Bootstrapper, error) { return LoadEnvironment(), nil },
}

func (a *Application) bindBootstrappers() error {
	for _, name := range a.bootstrappers() {
		factory, err := a.catalog.LookupBootstrapper(name)
		if err != nil {
			builtin, ok := builtinBootstrappers[name]
			if !ok {
				return err
			}
			factory = builtin
		}
		a.container.Singleton(bootstrapperKey(name), func(*container.Container) (any, error) {
			return factory(a)
		})
	}
	return nil
}

// bootstrappers lists the bootstrappers run by the kernels: the configured
// ones in order, followed by register and boot unless they were listed.
func (a *Application) bootstrappers() []string {
	names := append([]string(nil), a.conf.App.Bootstrappers...)
	return dedupe(append(names, BootstrapRegisterProviders, BootstrapBootProviders))
}

func (a *Application) buildKernels() error {
	options := make(map[string]config.KernelOptions, len(a.conf.App.Kernels)+1)
	for name, opts := range a.conf.App.Kernels {
		options[name] = opts
	}
	if _, ok := options[config.DefaultKernel]; !ok {
		options[config.DefaultKernel] = config.KernelOptions{Type: config.DefaultKernel}
	}

	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	kernels := make(map[string]Kernel, len(names))
	types := make(map[string]string, len(names))
	for _, name := range names {
		opts := options[name]
		kind := opts.Type
		if kind == "" {
			kind = config.DefaultKernelType
			if name == config.DefaultKernel {
				kind = config.DefaultKernel
			}
		}
		factory, err := a.catalog.LookupKernel(kind)
		if err != nil {
			if kind != config.DefaultKernel {
				return err
			}
			factory = NewDefaultKernel
		}
		kernel, err := factory(a, name, opts)
		if err != nil {
			return fmt.Errorf("stonekit: building kernel %q: %w", name, err)
		}
		kernels[name] = kernel
		types[name] = kind
	}

	a.mu.Lock()
	a.kernels = kernels
	a.kernelTypes = types
	a.mu.Unlock()
	return nil
}

func (a *Application) buildProviders() error {
	set := newProviderSet()
	for _, name := range a.conf.App.Providers {
		p, err := a.resolveProvider(name)
		if err != nil {
			return err
		}
		set.add(p)
	}
	a.mu.Lock()
	a.providers = set
	a.mu.Unlock()
	return nil
}

// resolveProvider builds the named catalog provider through a transient
// container binding.
func (a *Application) resolveProvider(name string) (any, error) {
	key := "provider." + name
	if !a.container.Bound(key) {
		factory, err := a.catalog.LookupProvider(name)
		if err != nil {
			return nil, err
		}
		a.container.Bind(key, func(*container.Container) (any, error) {
			return factory(a)
		})
	}
	p, err := a.container.Make(key)
	if err != nil {
		return nil, fmt.Errorf("stonekit: building provider %s: %w", name, err)
	}
	return p, nil
}

// Register registers every provider, then applies the configured bindings
// and catalog services.
func (a *Application) Register(ctx context.Context) error {
	if !a.IsSetUp() {
		return errspkg.ErrApplicationNotSetUp
	}
	marker := phaseMarker("register")
	if ctx.Value(marker) != nil {
		return nil
	}
	ctx = context.WithValue(ctx, marker, true)

	_, err, _ := a.group.Do(string(marker), func() (any, error) {
		return nil, a.runPhase(ctx, "register", a.register)
	})
	return err
}

func (a *Application) register(ctx context.Context) error {
	set := a.providerSet()
	for i := 0; i < set.len(); i++ {
		p, _ := set.at(i)
		if err := a.registerProvider(ctx, set, p, false, a.IsBooted); err != nil {
			return err
		}
	}
	a.mu.RLock()
	bound := a.bound
	a.mu.RUnlock()
	if !bound {
		if err := a.applyBindings(); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.bound = true
	a.advance(PhaseRegistered)
	a.mu.Unlock()
	return nil
}

func (a *Application) applyBindings() error {
	for _, b := range a.conf.App.Bindings {
		value := b.Value
		a.container.AutoBind(b.Name, func(*container.Container) (any, error) {
			return value, nil
		}, b.Singleton, b.Alias...)
	}
	for _, def := range a.catalog.serviceDefinitions() {
		if def.Factory == nil {
			return fmt.Errorf("stonekit: service %q has no factory", def.Name)
		}
		a.container.AutoBind(def.Name, def.Factory, def.Singleton, def.Aliases...)
	}
	return nil
}

// RegisterProvider registers p unless it is already registered and force is
// false. Once the application is booted, p is booted right away.
func (a *Application) RegisterProvider(ctx context.Context, p any, force bool) error {
	return a.registerProvider(ctx, a.providerSet(), p, force, a.IsBooted)
}

// Boot wires the declared listeners and subscribers and boots every
// provider. It runs once until the application is cleared.
func (a *Application) Boot(ctx context.Context) error {
	if !a.IsSetUp() {
		return errspkg.ErrApplicationNotSetUp
	}
	if a.IsBooted() {
		return nil
	}
	marker := phaseMarker("boot")
	if ctx.Value(marker) != nil {
		return nil
	}
	ctx = context.WithValue(ctx, marker, true)

	_, err, _ := a.group.Do(string(marker), func() (any, error) {
		if a.IsBooted() {
			return nil, nil
		}
		return nil, a.runPhase(ctx, "boot", a.boot)
	})
	return err
}

func (a *Application) boot(ctx context.Context) error {
	a.mu.RLock()
	wired := a.wired
	a.mu.RUnlock()
	if !wired {
		if err := a.wireConfigured(); err != nil {
			return err
		}
		a.mu.Lock()
		a.wired = true
		a.mu.Unlock()
	}

	set := a.providerSet()
	for i := 0; i < set.len(); i++ {
		p, _ := set.at(i)
		id := ProviderIDOf(p)
		if set.isBooted(id) {
			continue
		}
		if err := a.wireProvider(set, p); err != nil {
			return err
		}
		if err := a.BootProvider(ctx, p); err != nil {
			return err
		}
		set.markBooted(id)
	}

	a.mu.Lock()
	a.booted = true
	a.advance(PhaseBooted)
	a.mu.Unlock()
	return nil
}

// wireConfigured subscribes the listeners and subscribers named in the
// configuration.
func (a *Application) wireConfigured() error {
	for _, binding := range a.conf.App.Listeners {
		for _, name := range binding.Names {
			factory, err := a.catalog.LookupListener(name)
			if err != nil {
				return err
			}
			listener, err := factory(a)
			if err != nil {
				return fmt.Errorf("stonekit: building listener %s: %w", name, err)
			}
			a.bus.On(binding.Event, listener)
		}
	}
	for _, name := range a.conf.App.Subscribers {
		factory, err := a.catalog.LookupSubscriber(name)
		if err != nil {
			return err
		}
		subscriber, err := factory(a)
		if err != nil {
			return fmt.Errorf("stonekit: building subscriber %s: %w", name, err)
		}
		if err := a.bus.Subscribe(subscriber); err != nil {
			return fmt.Errorf("stonekit: subscriber %s: %w", name, err)
		}
	}
	return nil
}

// BootProvider boots p when it implements Booter. It does not check whether
// p was booted before.
func (a *Application) BootProvider(ctx context.Context, p any) error {
	booter, ok := p.(Booter)
	if !ok {
		return nil
	}
	a.emit(ctx, events.ProviderBooting, providerOptions(p)...)
	if err := booter.Boot(ctx); err != nil {
		return fmt.Errorf("stonekit: booting provider %s: %w", ProviderName(p), err)
	}
	a.emit(ctx, events.ProviderBooted, providerOptions(p)...)
	return nil
}

// Start runs the active kernel and returns its output.
func (a *Application) Start(ctx context.Context) (any, error) {
	if !a.IsSetUp() {
		return nil, errspkg.ErrApplicationNotSetUp
	}
	name := a.conf.ActiveKernel()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "stonekit.application.start",
		trace.WithAttributes(
			attribute.String("stonekit.app", a.Name()),
			attribute.String("stonekit.kernel", name),
		),
	)
	defer span.End()

	var out any
	err := a.runPhase(ctx, "start", func(ctx context.Context) error {
		if err := runHook(ctx, a.hooks.BeforeHandle, a); err != nil {
			return fmt.Errorf("stonekit: before handle hook: %w", err)
		}
		a.emit(ctx, events.Starting)

		kernel, ok := a.Kernel(name)
		if !ok {
			return fmt.Errorf("%w: %q", errspkg.ErrKernelNotFound, name)
		}
		kernelMeta := events.WithMetadata(map[string]any{"kernel": name})
		a.emit(ctx, events.KernelRunning, events.WithData(kernel), kernelMeta)
		result, err := kernel.Run(ctx)
		if err != nil {
			return err
		}
		a.emit(ctx, events.KernelRan, events.WithData(result), kernelMeta)

		a.mu.Lock()
		a.advance(PhaseStarted)
		a.mu.Unlock()
		a.emit(ctx, events.Started, events.WithData(result))
		out = result
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// Terminate shuts the active kernel and the providers down, runs the
// OnTerminate hook and clears the application. Termination errors are
// joined. The terminate event is emitted after the clear, so only
// listeners added through On observe it.
func (a *Application) Terminate(ctx context.Context) error {
	return a.runPhase(ctx, "terminate", func(ctx context.Context) error {
		a.emit(ctx, events.Terminating)

		var errs []error
		if kernel, ok := a.Kernel(a.conf.ActiveKernel()); ok {
			if t, ok := kernel.(KernelTerminator); ok {
				if err := t.Terminate(ctx); err != nil {
					errs = append(errs, fmt.Errorf("stonekit: terminating kernel: %w", err))
				}
			}
		}
		for _, p := range a.providerSet().list() {
			if t, ok := p.(Terminator); ok {
				if err := t.Terminate(ctx); err != nil {
					errs = append(errs, fmt.Errorf("stonekit: terminating provider %s: %w", ProviderName(p), err))
				}
			}
		}
		if err := runHook(ctx, a.hooks.OnTerminate, a); err != nil {
			errs = append(errs, fmt.Errorf("stonekit: terminate hook: %w", err))
		}

		a.Clear()
		a.emit(ctx, events.Terminate)
		return errors.Join(errs...)
	})
}

// Clear returns the application to a new-equivalent state. Listeners added
// through On survive.
func (a *Application) Clear() {
	a.container.Clear()
	a.bus.Reset()

	a.mu.Lock()
	a.providers = newProviderSet()
	a.kernels = make(map[string]Kernel)
	a.kernelTypes = make(map[string]string)
	a.commands = nil
	a.setUp = false
	a.booted = false
	a.bootstrapped = false
	a.bound = false
	a.wired = false
	a.locale = a.conf.App.Locale
	a.phase = PhaseTerminated
	a.mu.Unlock()
}

// BootstrapWith runs the named bootstrappers once until the application is
// cleared. A nested call returns immediately.
func (a *Application) BootstrapWith(ctx context.Context, names []string) error {
	a.mu.Lock()
	if a.bootstrapped {
		a.mu.Unlock()
		return nil
	}
	a.bootstrapped = true
	a.mu.Unlock()

	for _, name := range names {
		b, err := container.Resolve[Bootstrapper](a.container, bootstrapperKey(name))
		if err != nil {
			return fmt.Errorf("stonekit: bootstrapper %s: %w", name, err)
		}
		if err := b.Bootstrap(ctx, a); err != nil {
			return fmt.Errorf("stonekit: bootstrapper %s: %w", name, err)
		}
	}
	return nil
}

// On subscribes l to name. The subscription survives Clear.
func (a *Application) On(name string, l bus.Listener) bus.Subscription {
	return a.bus.On(name, l, bus.Persistent())
}

// Emit publishes ev on the bus. Listener failures are logged and returned.
func (a *Application) Emit(ctx context.Context, ev *events.Event) error {
	if ev == nil {
		return errspkg.ErrNilEvent
	}
	err := a.bus.Emit(ctx, ev)
	if err != nil {
		a.metrics.listenerFailed(ev.Type())
		a.logger.Error("Event listener failed", err, loggingpkg.LogFields{"event": ev.Type(), "event_id": ev.ID()})
	}
	return err
}

func (a *Application) emit(ctx context.Context, name string, opts ...events.Option) {
	opts = append([]events.Option{events.WithContext(a)}, opts...)
	_ = a.Emit(ctx, events.New(name, events.SourceApplication, opts...))
}

// runPhase records metrics and logs around one lifecycle phase.
func (a *Application) runPhase(ctx context.Context, phase string, fn func(context.Context) error) error {
	start := time.Now()
	a.logger.Debug("Lifecycle phase starting", loggingpkg.LogFields{"phase": phase})

	err := fn(ctx)
	elapsed := time.Since(start)
	a.metrics.observePhase(phase, elapsed, err)

	fields := loggingpkg.LogFields{"phase": phase, "duration_ms": elapsed.Milliseconds()}
	if err != nil {
		a.logger.Error("Lifecycle phase failed", err, fields)
		return err
	}
	a.logger.Info("Lifecycle phase completed", fields)
	return nil
}

// advance moves the phase forward; callers hold a.mu.
func (a *Application) advance(p Phase) {
	if phaseRank[p] > phaseRank[a.phase] {
		a.phase = p
	}
}

func (a *Application) providerSet() *providerSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.providers
}

// Container returns the application container.
func (a *Application) Container() *container.Container { return a.container }

// Events returns the application bus.
func (a *Application) Events() *bus.Bus { return a.bus }

// Catalog returns the registration table.
func (a *Application) Catalog() *Catalog { return a.catalog }

// Config returns the application options.
func (a *Application) Config() *config.Options { return a.conf }

// Logger returns the application logger.
func (a *Application) Logger() loggingpkg.ServiceLogger { return a.logger }

// ErrorHandler returns the error handler.
func (a *Application) ErrorHandler() *ErrorHandler { return a.errors }

// Metrics returns the prometheus collectors, nil when metrics are disabled.
func (a *Application) Metrics() *Metrics { return a.metrics }

// Kernel returns the named kernel.
func (a *Application) Kernel(name string) (Kernel, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	k, ok := a.kernels[name]
	return k, ok
}

// Kernels returns the kernel names, sorted.
func (a *Application) Kernels() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedKeys(a.kernels)
}

// Providers returns the providers in registration order.
func (a *Application) Providers() []any { return a.providerSet().list() }

// IsRegistered reports whether a provider with the identity of p is
// registered.
func (a *Application) IsRegistered(p any) bool {
	return a.providerSet().isRegistered(ProviderIDOf(p))
}

// IsSetUp reports whether Setup completed since the last Clear.
func (a *Application) IsSetUp() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.setUp
}

// IsBooted reports whether Boot completed since the last Clear.
func (a *Application) IsBooted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.booted
}

// HasBeenBootstrapped reports whether BootstrapWith ran since the last
// Clear.
func (a *Application) HasBeenBootstrapped() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bootstrapped
}

// Phase returns the lifecycle phase.
func (a *Application) Phase() Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase
}

// Commands returns the commands contributed by providers.
func (a *Application) Commands() []*cobra.Command {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*cobra.Command(nil), a.commands...)
}

func (a *Application) IsDebug() bool { return a.conf.IsDebug() }
func (a *Application) Env() string   { return a.conf.App.Env }
func (a *Application) Name() string  { return a.conf.App.Name }

// Locale returns the application locale.
func (a *Application) Locale() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.locale
}

// SetLocale changes the application locale and emits app.locale.updated.
func (a *Application) SetLocale(ctx context.Context, locale string) {
	a.mu.Lock()
	previous := a.locale
	a.locale = locale
	a.mu.Unlock()
	a.emit(ctx, events.LocaleUpdated,
		events.WithData(locale),
		events.WithMetadata(map[string]any{"previous": previous}),
	)
}
