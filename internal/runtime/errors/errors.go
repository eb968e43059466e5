package errors

import (
	sterrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrConfigRequired          = sterrors.New("stonekit: configuration is required")
	ErrLoggerRequired          = sterrors.New("stonekit: logger is required")
	ErrApplicationNotSetUp     = sterrors.New("stonekit: application has not been set up")
	ErrProviderRegisterMissing = sterrors.New("stonekit: provider does not implement Register")
	ErrKernelNotFound          = sterrors.New("stonekit: kernel not found")
	ErrInvalidModule           = sterrors.New("stonekit: application module is invalid")
	ErrNilEvent                = sterrors.New("stonekit: event must not be nil")
	ErrNoDestination           = sterrors.New("stonekit: no router or handler bound for event")
	ErrInvalidDestination      = sterrors.New("stonekit: bound destination has an unsupported type")
	ErrAdapterRequired         = sterrors.New("stonekit: kernel adapter is required")
	ErrUnknownEntry            = sterrors.New("stonekit: unknown catalog entry")
	ErrBindingNotFound         = sterrors.New("stonekit: binding not found")
	ErrBindingType             = sterrors.New("stonekit: binding has unexpected type")
	ErrInvalidMiddleware       = sterrors.New("stonekit: middleware has an unsupported type")
	ErrPayloadNotResult        = sterrors.New("stonekit: pipeline payload cannot be returned as result")
	ErrPublisherRequired       = sterrors.New("stonekit: publisher is required")
	ErrTopicRequired           = sterrors.New("stonekit: topic is required")
	ErrEventPayloadRequired    = sterrors.New("stonekit: event payload is required")
	ErrHandlerRequired         = sterrors.New("stonekit: handler function is required")
	ErrMessageTypeRequired     = sterrors.New("stonekit: handler needs a concrete message type")
)

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "stonekit: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// DefaultErrorCode is used when an error carries no code of its own.
const DefaultErrorCode = "CORE-500"

// ApplicationError is the typed error raised by application modules and
// destinations. Its message is considered safe to show to callers.
type ApplicationError struct {
	Code     string
	Status   int
	Message  string
	Metadata map[string]any
	Cause    error
}

// NewApplicationError builds an error with the default code and status.
func NewApplicationError(message string) *ApplicationError {
	return &ApplicationError{Code: DefaultErrorCode, Status: http.StatusInternalServerError, Message: message}
}

// Wrap attaches code and status to cause.
func Wrap(cause error, code string, status int, message string) *ApplicationError {
	return &ApplicationError{Code: code, Status: status, Message: message, Cause: cause}
}

// WithMetadata returns e after attaching key/value context.
func (e *ApplicationError) WithMetadata(key string, value any) *ApplicationError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func (e *ApplicationError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Cause != nil && e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", e.code(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.code(), msg)
}

func (e *ApplicationError) Unwrap() error {
	return e.Cause
}

func (e *ApplicationError) code() string {
	if e.Code == "" {
		return DefaultErrorCode
	}
	return e.Code
}

// StatusCode returns the configured status, defaulting to 500.
func (e *ApplicationError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// CodeOf returns the error code carried by err, or DefaultErrorCode.
func CodeOf(err error) string {
	var appErr *ApplicationError
	if sterrors.As(err, &appErr) {
		return appErr.code()
	}
	return DefaultErrorCode
}

// PanicError carries a recovered panic value and the stack it was raised on.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stonekit: recovered panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
