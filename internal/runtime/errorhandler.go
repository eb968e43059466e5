package runtime

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/drblury/stonekit/internal/runtime/config"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

// ProductionErrorMessage replaces the message of unexpected errors outside
// debug mode.
const ProductionErrorMessage = "An unexpected error has occurred."

// ErrorView is the rendered form of an error.
type ErrorView struct {
	Code     string         `json:"code"`
	Status   int            `json:"status"`
	Message  string         `json:"message"`
	Detail   []string       `json:"detail,omitempty"`
	Stack    string         `json:"stack,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorHandler reports errors to the logger and renders them into responses.
type ErrorHandler struct {
	logger            loggingpkg.ServiceLogger
	debug             bool
	levels            map[string]string
	dontReport        map[string]struct{}
	withoutDuplicates bool

	mu       sync.Mutex
	reported map[error]struct{}
}

// NewErrorHandler builds a handler from the logging options. Error codes are
// matched case-insensitively.
func NewErrorHandler(logger loggingpkg.ServiceLogger, opts config.LoggingOptions, debug bool) *ErrorHandler {
	h := &ErrorHandler{
		logger:            logger,
		debug:             debug,
		levels:            make(map[string]string, len(opts.Levels)),
		dontReport:        make(map[string]struct{}, len(opts.DontReport)),
		withoutDuplicates: opts.WithoutDuplicates,
		reported:          make(map[error]struct{}),
	}
	for code, level := range opts.Levels {
		h.levels[strings.ToLower(code)] = strings.ToLower(level)
	}
	for _, code := range opts.DontReport {
		h.dontReport[strings.ToLower(code)] = struct{}{}
	}
	return h
}

// Report logs err unless its code is excluded or, with WithoutDuplicates,
// the same error value was already reported.
func (h *ErrorHandler) Report(ctx context.Context, err error) {
	if err == nil || h == nil || h.logger == nil {
		return
	}
	code := errspkg.CodeOf(err)
	if _, skip := h.dontReport[strings.ToLower(code)]; skip {
		return
	}
	if h.withoutDuplicates && !h.firstReport(err) {
		return
	}

	fields := loggingpkg.LogFields{"code": code}
	if ev, ok := CurrentEvent(ctx); ok {
		fields["event_id"] = ev.ID()
		fields["event_type"] = ev.Type()
		if cid := ev.Get(MetadataKeyCorrelationID, nil); cid != nil {
			fields[MetadataKeyCorrelationID] = cid
		}
	}
	var panicErr *errspkg.PanicError
	if errors.As(err, &panicErr) {
		fields["stack"] = string(panicErr.Stack)
	}

	switch h.levels[strings.ToLower(code)] {
	case "trace":
		fields["error"] = err.Error()
		h.logger.Trace("Error reported", fields)
	case "debug":
		fields["error"] = err.Error()
		h.logger.Debug("Error reported", fields)
	case "info":
		fields["error"] = err.Error()
		h.logger.Info("Error reported", fields)
	case "warn":
		fields["error"] = err.Error()
		fields["level"] = "warn"
		h.logger.Info("Error reported", fields)
	default:
		h.logger.Error("Error reported", err, fields)
	}
}

func (h *ErrorHandler) firstReport(err error) bool {
	if !reflect.TypeOf(err).Comparable() {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, seen := h.reported[err]; seen {
		return false
	}
	h.reported[err] = struct{}{}
	return true
}

// View renders err into an ErrorView.
func (h *ErrorHandler) View(err error) ErrorView {
	view := ErrorView{
		Code:    errspkg.CodeOf(err),
		Status:  http.StatusInternalServerError,
		Message: ProductionErrorMessage,
	}

	var appErr *errspkg.ApplicationError
	if errors.As(err, &appErr) {
		view.Status = appErr.StatusCode()
		if appErr.Message != "" {
			view.Message = appErr.Message
		}
	}

	if h != nil && h.debug {
		view.Message = err.Error()
		view.Detail = errorChain(err)
		var panicErr *errspkg.PanicError
		if errors.As(err, &panicErr) {
			view.Stack = string(panicErr.Stack)
		}
		if appErr != nil && len(appErr.Metadata) > 0 {
			view.Metadata = appErr.Metadata
		}
	}
	return view
}

// Render turns err into a response carrying its ErrorView.
func (h *ErrorHandler) Render(err error) events.Response {
	view := h.View(err)
	return events.NewResponse(view, view.Status)
}

func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}
