/*
Package runtime drives a stonekit application through its lifecycle and turns
inbound events into responses.

# Architecture Overview

An Application owns a service container, an event bus and a catalog. Setup
materialises the configuration, Register and Boot run the providers, Start
runs the active kernel and Terminate shuts everything down and clears the
state so the same application can be set up again.

# Package Structure

## Application (application.go)

The lifecycle phases, the container keys of the core services and the
accessors adapters use. Phases are guarded by singleflight so concurrent
callers share one run.

## Providers (provider.go)

Provider capabilities are small interfaces: Registerer is required, Booter,
Terminator, ListenerProvider, SubscriberProvider, AliasProvider and
CommandProvider are optional. A provider's identity is its dynamic type.

## Catalog (catalog.go)

The registration table mapping configuration names to provider, listener,
subscriber, kernel, adapter and bootstrapper factories, destinations and
middleware.

## Kernels (kernel.go, event_kernel.go)

DefaultKernel runs the application Module once and reports then renders any
error it raises. EventKernel handles events through the event middleware, a
router or handler, response preparation and the response middleware. Each
event gets its own child scope, so one kernel serves concurrent events.

## Middleware (middleware.go)

Named registrations per stage (event, response, terminate):
  - recoverer: converts panics into errors
  - correlation_id: ensures every event carries a correlation id
  - log_events, log_responses, log_exchange: debug logging
  - tracer: OpenTelemetry span around the rest of the chain

## Errors, Metrics and Stats (errorhandler.go, metrics.go, stats.go)

Report-then-render error handling, prometheus collectors for phases and
kernels, and per-kernel latency and throughput windows.

## Forwarding and Introspection (forwarder.go, introspect.go)

Lifecycle events can be published to a watermill topic, and the application
state is served as JSON for the HTTP adapter.

# Sub-packages

  - bus/: synchronous, error-isolating publish/subscribe
  - codec/: JSON, protobuf and CloudEvents message codecs
  - config/: options, defaults, validation and loading
  - container/: the scoped service container
  - errors/: sentinel errors and ApplicationError
  - events/: events, responses and destinations
  - handlers/: typed JSON and protobuf destination handlers
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling
  - logging/: logger interface and adapters
  - metadata/: nested event metadata
  - pipeline/: the generic middleware pipeline

# Usage Example

	catalog := runtime.NewCatalog().
		Provider("audit", func(*runtime.Application) (any, error) { return &AuditProvider{}, nil })

	conf := config.Default()
	conf.App.Providers = []string{"audit"}

	app, err := runtime.NewApplication(conf, logger, runtime.ApplicationDependencies{
		Catalog: catalog,
		Module:  runtime.FuncModule(run),
	})
	if err != nil {
		return err
	}
	if err := app.Setup(ctx); err != nil {
		return err
	}
	out, err := app.Start(ctx)
*/
package runtime
