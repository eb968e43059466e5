// Package message consumes broker messages as events. Each message on the
// consume topic is decoded by a codec, handled by the kernel and, when a
// reply topic is configured, the response is published back.
package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	wm "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/stonekit/internal/runtime"
	"github.com/drblury/stonekit/internal/runtime/codec"
	"github.com/drblury/stonekit/internal/runtime/config"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
	"github.com/drblury/stonekit/transport"
	_ "github.com/drblury/stonekit/transport/transports"
)

// Name is the catalog key of the message adapter.
const Name = "message"

// Retry backoff of failed messages.
const (
	RetryInitialInterval = 100 * time.Millisecond
	RetryMaxInterval     = 5 * time.Second
)

// ErrDecode marks messages the codec could not read. They are reported and
// acknowledged.
var ErrDecode = errors.New("stonekit: message cannot be decoded")

// Option configures an Adapter.
type Option func(*Adapter)

// WithTransport injects the transport instead of building one from the
// application configuration. An injected transport is not closed by Run.
func WithTransport(t transport.Transport) Option {
	return func(a *Adapter) { a.transport = &t }
}

// WithCodec overrides the codec named in the adapter options.
func WithCodec(c codec.Codec) Option {
	return func(a *Adapter) { a.codec = c }
}

// Adapter runs a watermill router feeding one kernel.
type Adapter struct {
	app       *runtime.Application
	opts      config.AdapterOptions
	transport *transport.Transport
	codec     codec.Codec

	ready     chan struct{}
	readyOnce sync.Once
}

// New returns a message adapter.
func New(app *runtime.Application, opts config.AdapterOptions, options ...Option) *Adapter {
	a := &Adapter{app: app, opts: opts.WithDefaults(), ready: make(chan struct{})}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Factory is the catalog factory of the message adapter.
func Factory(app *runtime.Application, opts config.AdapterOptions) (runtime.Adapter, error) {
	if app == nil {
		return nil, errors.New("stonekit: message adapter requires an application")
	}
	return New(app, opts), nil
}

// Ready is closed once the router is consuming.
func (a *Adapter) Ready() <-chan struct{} { return a.ready }

// Run consumes until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handler runtime.EventHandler) (any, error) {
	if a.opts.ConsumeTopic == "" {
		return nil, fmt.Errorf("%w: message adapter consume topic", errspkg.ErrTopicRequired)
	}
	c := a.codec
	if c == nil {
		var err error
		if c, err = codec.ForName(a.opts.Codec); err != nil {
			return nil, err
		}
	}

	logger := loggingpkg.NewWatermillAdapter(a.app.Logger())
	tr, owned, err := a.resolveTransport(ctx)
	if err != nil {
		return nil, err
	}
	if owned {
		defer func() {
			if cerr := tr.Close(); cerr != nil {
				a.app.Logger().Error("Failed to close transport", cerr, nil)
			}
		}()
	}

	router, err := wm.NewRouter(wm.RouterConfig{CloseTimeout: a.opts.ShutdownTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("stonekit: creating message router: %w", err)
	}
	router.AddMiddleware(middleware.CorrelationID, middleware.Recoverer)
	caps := transport.CapabilitiesOf(a.app.Config().Transport.PubSubSystem)
	if !caps.Redelivers() {
		router.AddMiddleware(a.settle)
	}
	if a.opts.MaxRetries > 0 {
		router.AddMiddleware(middleware.Retry{
			MaxRetries:      a.opts.MaxRetries,
			InitialInterval: RetryInitialInterval,
			MaxInterval:     RetryMaxInterval,
			Multiplier:      2,
			Logger:          logger,
			ShouldRetry: func(params middleware.RetryParams) bool {
				return !errors.Is(params.Err, errspkg.ErrNoDestination) &&
					!errors.Is(params.Err, errspkg.ErrInvalidDestination)
			},
		}.Middleware)
	}

	handlerName := "stonekit." + a.opts.ConsumeTopic
	if a.opts.ReplyTopic != "" {
		router.AddHandler(handlerName, a.opts.ConsumeTopic, tr.Subscriber, a.opts.ReplyTopic, tr.Publisher, a.replyHandler(handler, c))
	} else {
		router.AddNoPublisherHandler(handlerName, a.opts.ConsumeTopic, tr.Subscriber, a.consumeHandler(handler, c))
	}

	go func() {
		select {
		case <-router.Running():
			a.readyOnce.Do(func() { close(a.ready) })
		case <-ctx.Done():
		}
	}()

	a.app.Logger().Info("Message adapter consuming", loggingpkg.LogFields{
		"topic":       a.opts.ConsumeTopic,
		"reply_topic": a.opts.ReplyTopic,
		"codec":       c.Name(),
		"redelivers":  caps.Redelivers(),
	})
	if err := router.Run(ctx); err != nil {
		return nil, fmt.Errorf("stonekit: message router: %w", err)
	}
	return nil, nil
}

func (a *Adapter) resolveTransport(ctx context.Context) (transport.Transport, bool, error) {
	if a.transport != nil {
		return *a.transport, false, nil
	}
	logger := loggingpkg.NewWatermillAdapter(a.app.Logger())
	tr, err := transport.Build(ctx, &a.app.Config().Transport, logger)
	if err != nil {
		return transport.Transport{}, false, err
	}
	return tr, true, nil
}

func (a *Adapter) replyHandler(handler runtime.EventHandler, c codec.Codec) wm.HandlerFunc {
	return func(msg *wm.Message) ([]*wm.Message, error) {
		ev, err := a.decode(msg, c)
		if err != nil {
			return nil, nil
		}
		resp, err := handler.Handle(msg.Context(), ev)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}
		reply, err := c.EncodeResponse(resp, ev)
		if err != nil {
			return nil, err
		}
		middleware.SetCorrelationID(middleware.MessageCorrelationID(msg), reply)
		return []*wm.Message{reply}, nil
	}
}

func (a *Adapter) consumeHandler(handler runtime.EventHandler, c codec.Codec) wm.NoPublishHandlerFunc {
	return func(msg *wm.Message) error {
		ev, err := a.decode(msg, c)
		if err != nil {
			return nil
		}
		_, err = handler.Handle(msg.Context(), ev)
		return err
	}
}

// settle reports handler failures and acknowledges the message. It is
// installed for backends that cannot redeliver a nacked message.
func (a *Adapter) settle(h wm.HandlerFunc) wm.HandlerFunc {
	return func(msg *wm.Message) ([]*wm.Message, error) {
		out, err := h(msg)
		if err != nil {
			a.app.ErrorHandler().Report(msg.Context(), err)
			return nil, nil
		}
		return out, nil
	}
}

// decode reports undecodable messages, which are then acknowledged.
func (a *Adapter) decode(msg *wm.Message, c codec.Codec) (*events.Event, error) {
	ev, err := c.DecodeEvent(msg)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDecode, err)
		a.app.ErrorHandler().Report(msg.Context(), err)
		return nil, err
	}
	ev.Context = msg
	return ev, nil
}
