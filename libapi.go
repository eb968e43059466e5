package stonekit

import (
	"context"

	"google.golang.org/protobuf/proto"

	httpadapter "github.com/drblury/stonekit/adapter/http"
	messageadapter "github.com/drblury/stonekit/adapter/message"
	runtimepkg "github.com/drblury/stonekit/internal/runtime"
	buspkg "github.com/drblury/stonekit/internal/runtime/bus"
	codecpkg "github.com/drblury/stonekit/internal/runtime/codec"
	configpkg "github.com/drblury/stonekit/internal/runtime/config"
	containerpkg "github.com/drblury/stonekit/internal/runtime/container"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	eventspkg "github.com/drblury/stonekit/internal/runtime/events"
	handlerpkg "github.com/drblury/stonekit/internal/runtime/handlers"
	idspkg "github.com/drblury/stonekit/internal/runtime/ids"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
	metadatapkg "github.com/drblury/stonekit/internal/runtime/metadata"
	"github.com/drblury/stonekit/transport"
)

type (
	Application             = runtimepkg.Application
	ApplicationDependencies = runtimepkg.ApplicationDependencies
	ApplicationSnapshot     = runtimepkg.ApplicationSnapshot
	Phase                   = runtimepkg.Phase
	LifecycleHooks          = runtimepkg.LifecycleHooks
	Catalog                 = runtimepkg.Catalog
	ServiceDefinition       = runtimepkg.ServiceDefinition

	Module        = runtimepkg.Module
	ModuleFactory = runtimepkg.ModuleFactory
	Runner        = runtimepkg.Runner
	RunnerFunc    = runtimepkg.RunnerFunc

	Kernel         = runtimepkg.Kernel
	EventKernel    = runtimepkg.EventKernel
	EventHandler   = runtimepkg.EventHandler
	Adapter        = runtimepkg.Adapter
	AdapterFunc    = runtimepkg.AdapterFunc
	AdapterFactory = runtimepkg.AdapterFactory
	KernelFactory  = runtimepkg.KernelFactory
	KernelStats    = runtimepkg.KernelStatsSnapshot

	Bootstrapper     = runtimepkg.Bootstrapper
	BootstrapperFunc = runtimepkg.BootstrapperFunc

	Registerer         = runtimepkg.Registerer
	Booter             = runtimepkg.Booter
	Terminator         = runtimepkg.Terminator
	ListenerProvider   = runtimepkg.ListenerProvider
	SubscriberProvider = runtimepkg.SubscriberProvider
	AliasProvider      = runtimepkg.AliasProvider
	CommandProvider    = runtimepkg.CommandProvider
	ProviderInfo       = runtimepkg.ProviderInfo

	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareStage        = runtimepkg.MiddlewareStage
	EventMiddleware        = runtimepkg.EventMiddleware
	ResponseMiddleware     = runtimepkg.ResponseMiddleware
	TerminateMiddleware    = runtimepkg.TerminateMiddleware

	ErrorHandler = runtimepkg.ErrorHandler
	ErrorView    = runtimepkg.ErrorView

	Event            = eventspkg.Event
	EventOption      = eventspkg.Option
	Response         = eventspkg.Response
	OutgoingResponse = eventspkg.OutgoingResponse
	Exchange         = eventspkg.Exchange
	Handler          = eventspkg.Handler
	HandlerFunc      = eventspkg.HandlerFunc
	Router           = eventspkg.Router
	RouterFunc       = eventspkg.RouterFunc
	TypeRouter       = eventspkg.TypeRouter

	Bus          = buspkg.Bus
	Listener     = buspkg.Listener
	ListenerFunc = buspkg.ListenerFunc
	Subscriber   = buspkg.Subscriber
	Subscription = buspkg.Subscription

	Container = containerpkg.Container
	Factory   = containerpkg.Factory

	Options          = configpkg.Options
	KernelOptions    = configpkg.KernelOptions
	AdapterOptions   = configpkg.AdapterOptions
	TransportOptions = configpkg.TransportOptions

	Codec    = codecpkg.Codec
	Metadata = metadatapkg.Store

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	JSONEventContext[T any]            = handlerpkg.JSONEventContext[T]
	JSONHandlerFunc[T any, O any]      = handlerpkg.JSONHandlerFunc[T, O]
	ProtoEventContext[T proto.Message] = handlerpkg.ProtoEventContext[T]
	ProtoHandlerFunc[T proto.Message]  = handlerpkg.ProtoHandlerFunc[T]

	ApplicationError      = errspkg.ApplicationError
	PanicError            = errspkg.PanicError
	ConfigValidationError = errspkg.ConfigValidationError

	Transport = transport.Transport
)

var (
	NewApplication = runtimepkg.NewApplication
	NewCatalog     = runtimepkg.NewCatalog
	EmptyCatalog   = runtimepkg.EmptyCatalog
	LoggingHooks   = runtimepkg.LoggingHooks
	CurrentEvent   = runtimepkg.CurrentEvent
	ProviderName   = runtimepkg.ProviderName

	FuncModule    = runtimepkg.FuncModule
	RunnerModule  = runtimepkg.RunnerModule
	FactoryModule = runtimepkg.FactoryModule

	RegisterProvidersBootstrapper = runtimepkg.RegisterProviders
	BootProvidersBootstrapper     = runtimepkg.BootProviders
	LoadEnvironmentBootstrapper   = runtimepkg.LoadEnvironment

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	LogEventsMiddleware     = runtimepkg.LogEventsMiddleware
	LogResponsesMiddleware  = runtimepkg.LogResponsesMiddleware
	LogExchangeMiddleware   = runtimepkg.LogExchangeMiddleware

	PublishEvent = runtimepkg.PublishEvent

	NewEvent          = eventspkg.New
	WithEventID       = eventspkg.WithID
	WithEventData     = eventspkg.WithData
	WithEventMetadata = eventspkg.WithMetadata
	WithEventLocale   = eventspkg.WithLocale
	WithEventContext  = eventspkg.WithContext
	NewResponse       = eventspkg.NewResponse
	NewTypeRouter     = eventspkg.NewTypeRouter

	PersistentListener = buspkg.Persistent
	NewContainer       = containerpkg.New

	LoadConfig     = configpkg.Load
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateOptions

	CodecForName = codecpkg.ForName

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	DiscardLogger        = loggingpkg.Discard

	NewApplicationError = errspkg.NewApplicationError
	WrapError           = errspkg.Wrap

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	RegisterTransport = transport.Register

	ErrConfigRequired          = errspkg.ErrConfigRequired
	ErrLoggerRequired          = errspkg.ErrLoggerRequired
	ErrApplicationNotSetUp     = errspkg.ErrApplicationNotSetUp
	ErrProviderRegisterMissing = errspkg.ErrProviderRegisterMissing
	ErrKernelNotFound          = errspkg.ErrKernelNotFound
	ErrInvalidModule           = errspkg.ErrInvalidModule
	ErrNilEvent                = errspkg.ErrNilEvent
	ErrNoDestination           = errspkg.ErrNoDestination
	ErrInvalidDestination      = errspkg.ErrInvalidDestination
	ErrAdapterRequired         = errspkg.ErrAdapterRequired
	ErrUnknownEntry            = errspkg.ErrUnknownEntry
	ErrBindingNotFound         = errspkg.ErrBindingNotFound
	ErrBindingType             = errspkg.ErrBindingType
	ErrPublisherRequired       = errspkg.ErrPublisherRequired
	ErrTopicRequired           = errspkg.ErrTopicRequired
)

// Middleware stages.
const (
	StageEvent     = runtimepkg.StageEvent
	StageResponse  = runtimepkg.StageResponse
	StageTerminate = runtimepkg.StageTerminate
)

// Lifecycle and kernel event names.
const (
	EventSettingUp           = eventspkg.SettingUp
	EventSetup               = eventspkg.Setup
	EventStarting            = eventspkg.Starting
	EventStarted             = eventspkg.Started
	EventTerminating         = eventspkg.Terminating
	EventTerminate           = eventspkg.Terminate
	EventProviderRegistering = eventspkg.ProviderRegistering
	EventProviderRegistered  = eventspkg.ProviderRegistered
	EventProviderBooting     = eventspkg.ProviderBooting
	EventProviderBooted      = eventspkg.ProviderBooted
	EventKernelRunning       = eventspkg.KernelRunning
	EventKernelRan           = eventspkg.KernelRan
	EventLocaleUpdated       = eventspkg.LocaleUpdated
	EventPreparingResponse   = eventspkg.PreparingResponse
	EventResponsePrepared    = eventspkg.ResponsePrepared
	EventHandled             = eventspkg.EventHandled
	EventWildcard            = eventspkg.Wildcard
)

// Metadata keys shared by adapters and handlers.
const (
	MetadataKeyCorrelationID = handlerpkg.MetadataKeyCorrelationID
	MetadataKeyEventSchema   = handlerpkg.MetadataKeyEventSchema
)

// DefaultCatalog returns the built-in catalog with the HTTP and message
// adapters registered. The CLI and direct adapters take per-run arguments
// and are registered by their callers.
func DefaultCatalog() *Catalog {
	return runtimepkg.NewCatalog().
		Adapter(httpadapter.Name, httpadapter.Factory).
		Adapter(messageadapter.Name, messageadapter.Factory)
}

// New builds an application, using DefaultCatalog when deps names none.
func New(conf *Options, logger ServiceLogger, deps ApplicationDependencies) (*Application, error) {
	if deps.Catalog == nil {
		deps.Catalog = DefaultCatalog()
	}
	return runtimepkg.NewApplication(conf, logger, deps)
}

// BuildTransport builds the transport selected by conf, e.g. to feed
// ApplicationDependencies.Publisher for lifecycle forwarding. The caller
// closes it.
func BuildTransport(ctx context.Context, conf *Options, logger ServiceLogger) (Transport, error) {
	if conf == nil {
		return Transport{}, ErrConfigRequired
	}
	if logger == nil {
		return Transport{}, ErrLoggerRequired
	}
	return transport.Build(ctx, &conf.Transport, loggingpkg.NewWatermillAdapter(logger))
}

// JSONHandler decodes event data into T and wraps the result in a response.
func JSONHandler[T any, O any](fn JSONHandlerFunc[T, O]) HandlerFunc {
	return handlerpkg.JSON(fn)
}

// ProtoHandler decodes event data into the message type T.
func ProtoHandler[T proto.Message](fn ProtoHandlerFunc[T]) HandlerFunc {
	return handlerpkg.Proto(fn)
}

// Resolve builds key from c and asserts its type.
func Resolve[T any](c *Container, key any) (T, error) {
	return containerpkg.Resolve[T](c, key)
}
