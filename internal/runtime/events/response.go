package events

import (
	"context"
	"net/http"

	"github.com/drblury/stonekit/internal/runtime/metadata"
)

// Response is what a destination produces for an event.
type Response interface {
	Content() any
	StatusCode() int
	// Prepare finalises the response for the event that produced it.
	Prepare(ctx context.Context, ev *Event) (Response, error)
}

// OutgoingResponse is the default Response implementation.
type OutgoingResponse struct {
	content         any
	originalContent any
	statusCode      int
	statusMessage   string
	headers         *metadata.Store
	prepared        bool
}

// NewResponse builds a response. A zero status means 200.
func NewResponse(content any, status int) *OutgoingResponse {
	r := &OutgoingResponse{headers: metadata.New(nil)}
	r.SetContent(content)
	r.SetStatus(status, "")
	return r
}

func (r *OutgoingResponse) Content() any { return r.content }

// OriginalContent returns the content as first set, before SetContent calls
// by middleware replaced it.
func (r *OutgoingResponse) OriginalContent() any { return r.originalContent }

func (r *OutgoingResponse) StatusCode() int { return r.statusCode }

func (r *OutgoingResponse) StatusMessage() string { return r.statusMessage }

// SetContent replaces the content.
func (r *OutgoingResponse) SetContent(content any) *OutgoingResponse {
	if r.originalContent == nil {
		r.originalContent = content
	}
	r.content = content
	return r
}

// SetStatus sets the status code and message. The message defaults to the
// HTTP reason phrase.
func (r *OutgoingResponse) SetStatus(code int, message string) *OutgoingResponse {
	if code == 0 {
		code = http.StatusOK
	}
	if message == "" {
		message = http.StatusText(code)
	}
	r.statusCode = code
	r.statusMessage = message
	return r
}

// Headers exposes response headers as a key-path store.
func (r *OutgoingResponse) Headers() *metadata.Store { return r.headers }

// SetHeader writes one header.
func (r *OutgoingResponse) SetHeader(name string, value string) *OutgoingResponse {
	r.headers.Set(name, value)
	return r
}

// IsPrepared reports whether Prepare ran.
func (r *OutgoingResponse) IsPrepared() bool { return r.prepared }

// Prepare marks the response as prepared and returns it unchanged.
func (r *OutgoingResponse) Prepare(context.Context, *Event) (Response, error) {
	r.prepared = true
	return r, nil
}

// Exchange pairs an event with the response produced for it.
type Exchange struct {
	Event    *Event
	Response Response
}
