// Package stonekit runs an application through a fixed lifecycle: setup,
// register, boot, start and terminate. Setup materialises the configuration
// into kernels, providers, listeners and container bindings; register and
// boot walk the providers; start runs the active kernel; terminate shuts
// everything down and clears the application so it can run again.
//
// # Providers
//
// A provider is any value with a Register method. Optional interfaces add a
// boot step (Booter), a shutdown step (Terminator), event listeners
// (ListenerProvider), subscribers, container aliases and CLI commands.
// Providers are identified by their dynamic type, so registering the same
// type twice is a no-op unless forced. Providers registered after boot are
// booted immediately.
//
// # Kernels
//
// The default kernel runs the application Module once. The event kernel
// hands events from an adapter through three middleware pipelines (event,
// response and terminate) around a destination: a Router bound in the
// kernel scope wins over a Handler. Errors raised by destinations are
// reported by the ErrorHandler and rendered into a response; CurrentEvent
// returns the event being handled from inside a destination.
//
// # Adapters
//
// Adapters feed events into an event kernel:
//   - direct: a fixed list of events, handled in-process
//   - http: a chi router with prometheus metrics and an introspection route
//   - cli: one command line invocation, plus a cobra command tree
//   - message: a watermill router consuming a broker topic
//
// # Transports
//
// The message adapter and the lifecycle forwarder run on watermill
// transports registered under the transport package: channel, kafka,
// rabbitmq, nats, http and aws.
//
// A minimal application loads Options, builds a Catalog with its handlers
// and providers, calls New and drives the phases:
//
//	app, err := stonekit.New(conf, logger, stonekit.ApplicationDependencies{Catalog: catalog})
//	if err != nil { ... }
//	if err := app.Setup(ctx); err != nil { ... }
//	out, err := app.Start(ctx)
//	defer app.Terminate(ctx)
package stonekit
