package events

// Lifecycle event names emitted by the application.
const (
	SettingUp   = "app.hook.settingUp"
	Setup       = "app.hook.setup"
	Starting    = "app.hook.starting"
	Started     = "app.hook.started"
	Terminating = "app.hook.terminating"
	Terminate   = "app.hook.terminate"

	ProviderRegistering = "app.provider.registering"
	ProviderRegistered  = "app.provider.registered"
	ProviderBooting     = "app.provider.booting"
	ProviderBooted      = "app.provider.booted"

	KernelRunning = "app.kernel.running"
	KernelRan     = "app.kernel.ran"

	LocaleUpdated = "app.locale.updated"
)

// Kernel event names emitted while handling an event.
const (
	PreparingResponse = "kernel.preparing_response"
	ResponsePrepared  = "kernel.response_prepared"
	EventHandled      = "kernel.event_handled"
)

// Wildcard subscribes to every event.
const Wildcard = "*"

// SourceApplication is the source of lifecycle events.
const SourceApplication = "app"
