// Package http serves an event kernel over HTTP. Every request under the
// catch-all route becomes an "http.request" event; the kernel response is
// written back with its status and headers. The router also exposes the
// prometheus registry and, when enabled, the application snapshot.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/stonekit/internal/runtime"
	"github.com/drblury/stonekit/internal/runtime/config"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/handlers"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

// Name is the catalog key of the HTTP adapter.
const Name = "http"

// EventType is the type of events built from requests.
const EventType = "http.request"

// Metadata keys set on request events.
const (
	MetadataKeyMethod  = "http.method"
	MetadataKeyPath    = "http.path"
	MetadataKeyQuery   = "http.query"
	MetadataKeyHeaders = "http.headers"
)

// HeaderCorrelationID carries the correlation id in and out.
const HeaderCorrelationID = "X-Correlation-ID"

// MaxBodyBytes caps the request body read into the event.
const MaxBodyBytes = 10 << 20

// ErrBodyTooLarge rejects requests whose body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("stonekit: request body too large")

const readHeaderTimeout = 10 * time.Second

// Adapter serves a kernel on opts.Address.
type Adapter struct {
	app  *runtime.Application
	opts config.AdapterOptions
}

// New returns an HTTP adapter. opts should already carry adapter defaults.
func New(app *runtime.Application, opts config.AdapterOptions) *Adapter {
	return &Adapter{app: app, opts: opts.WithDefaults()}
}

// Factory is the catalog factory of the HTTP adapter.
func Factory(app *runtime.Application, opts config.AdapterOptions) (runtime.Adapter, error) {
	if app == nil {
		return nil, errors.New("stonekit: http adapter requires an application")
	}
	return New(app, opts), nil
}

// Handler returns the router serving handler.
func (a *Adapter) Handler(handler runtime.EventHandler) nethttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if a.opts.MetricsPath != "" {
		r.Handle(a.opts.MetricsPath, promhttp.HandlerFor(a.app.Metrics().Gatherer(), promhttp.HandlerOpts{}))
	}
	if a.opts.Introspection {
		r.Handle(runtime.IntrospectionPath, runtime.IntrospectionHandler(a.app, a.opts.CORSOrigin))
	}
	r.HandleFunc("/*", a.serveEvent(handler))
	return r
}

func (a *Adapter) serveEvent(handler runtime.EventHandler) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ev, err := NewEvent(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		w.Header().Set(HeaderCorrelationID, ev.Metadata().GetString(handlers.MetadataKeyCorrelationID, ""))

		resp, err := handler.Handle(r.Context(), ev)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if err := WriteResponse(w, resp); err != nil {
			a.app.Logger().Error("Failed to write response", err, loggingpkg.LogFields{"path": r.URL.Path})
		}
	}
}

func (a *Adapter) fail(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	handler := a.app.ErrorHandler()
	handler.Report(r.Context(), err)
	if werr := WriteResponse(w, handler.Render(err)); werr != nil {
		a.app.Logger().Error("Failed to write error response", werr, loggingpkg.LogFields{"path": r.URL.Path})
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handler runtime.EventHandler) (any, error) {
	ln, err := net.Listen("tcp", a.opts.Address)
	if err != nil {
		return nil, fmt.Errorf("stonekit: http listen on %s: %w", a.opts.Address, err)
	}
	a.app.Logger().Info("HTTP adapter listening", loggingpkg.LogFields{
		"address":       ln.Addr().String(),
		"metrics_path":  a.opts.MetricsPath,
		"introspection": a.opts.Introspection,
	})
	return nil, Serve(ctx, ln, a.Handler(handler), a.opts.ShutdownTimeout)
}

// Serve runs an HTTP server on ln. When ctx is cancelled the server is shut
// down, waiting at most shutdownTimeout for in-flight requests.
func Serve(ctx context.Context, ln net.Listener, handler nethttp.Handler, shutdownTimeout time.Duration) error {
	srv := &nethttp.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("stonekit: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stonekit: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// NewEvent converts a request into an event. The body becomes the event
// data and the request itself the event context. Bodies over MaxBodyBytes
// fail with a 413 application error.
func NewEvent(r *nethttp.Request) (*events.Event, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("stonekit: reading request body: %w", err)
		}
		if len(body) > MaxBodyBytes {
			return nil, errspkg.Wrap(ErrBodyTooLarge, "CORE-413", nethttp.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes.", MaxBodyBytes))
		}
	}

	query := make(map[string]any, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		query[key] = strings.Join(values, ",")
	}
	headers := make(map[string]any, len(r.Header))
	for key, values := range r.Header {
		headers[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	correlationID := r.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = middleware.GetReqID(r.Context())
	}
	meta := map[string]any{
		"http": map[string]any{
			"method":  r.Method,
			"path":    r.URL.Path,
			"query":   query,
			"headers": headers,
		},
	}
	if correlationID != "" {
		meta[handlers.MetadataKeyCorrelationID] = correlationID
	}

	opts := []events.Option{
		events.WithData(body),
		events.WithContext(r),
		events.WithMetadata(meta),
	}
	if locale := preferredLocale(r.Header.Get("Accept-Language")); locale != "" {
		opts = append(opts, events.WithLocale(locale))
	}
	return events.New(EventType, Name, opts...), nil
}

func preferredLocale(header string) string {
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

// WriteResponse writes resp to w. Byte and string content is written as is,
// proto messages as protojson and anything else as JSON. A nil response is
// 204 No Content.
func WriteResponse(w nethttp.ResponseWriter, resp events.Response) error {
	if resp == nil {
		w.WriteHeader(nethttp.StatusNoContent)
		return nil
	}
	if out, ok := resp.(*events.OutgoingResponse); ok {
		for name, value := range out.Headers().Flatten() {
			w.Header().Set(name, value)
		}
	}

	status := resp.StatusCode()
	if status == 0 {
		status = nethttp.StatusOK
	}

	var (
		body        []byte
		contentType string
		err         error
	)
	switch content := resp.Content().(type) {
	case nil:
		w.WriteHeader(status)
		return nil
	case []byte:
		body, contentType = content, "application/octet-stream"
	case string:
		body, contentType = []byte(content), "text/plain; charset=utf-8"
	case proto.Message:
		body, err = protojson.Marshal(content)
		contentType = "application/json"
	default:
		body, err = jsoncodec.Marshal(content)
		contentType = "application/json"
	}
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(nethttp.StatusInternalServerError)
		_, _ = io.WriteString(w, nethttp.StatusText(nethttp.StatusInternalServerError))
		return fmt.Errorf("stonekit: encoding response: %w", err)
	}

	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}
