// Package events defines the value objects that flow through kernels: the
// inbound Event, the outbound Response and the destinations that turn one into
// the other.
package events

import (
	"time"

	idspkg "github.com/drblury/stonekit/internal/runtime/ids"
	"github.com/drblury/stonekit/internal/runtime/metadata"
)

// DefaultLocale is used when an event carries no locale of its own.
const DefaultLocale = "en"

// Event is an inbound occurrence: an HTTP request, a CLI invocation, a broker
// message or a lifecycle notification. Type and ID are fixed at construction;
// metadata, data and locale are mutable while the event is being handled.
type Event struct {
	id        string
	eventType string

	// Source names the emitting context, e.g. "http" or "app".
	Source string
	// Time is when the occurrence happened.
	Time time.Time
	// Locale is the negotiated locale; DefaultLocale is the fallback.
	Locale        string
	DefaultLocale string
	// Data is the payload. Adapters use raw bytes; in-process callers may
	// pass typed values.
	Data any
	// Context is the originating object (an *http.Request, the application)
	// and is never serialised.
	Context any

	metadata *metadata.Store
}

// Option configures an event at construction.
type Option func(*Event)

// New builds an event with a fresh ULID and the current time.
func New(eventType, source string, opts ...Option) *Event {
	ev := &Event{
		id:            idspkg.CreateULID(),
		eventType:     eventType,
		Source:        source,
		Time:          time.Now().UTC(),
		DefaultLocale: DefaultLocale,
		metadata:      metadata.New(nil),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.id = id
		}
	}
}

// WithTime sets the occurrence time.
func WithTime(t time.Time) Option {
	return func(e *Event) { e.Time = t }
}

// WithData sets the payload.
func WithData(data any) Option {
	return func(e *Event) { e.Data = data }
}

// WithMetadata merges top-level entries into the metadata store.
func WithMetadata(values map[string]any) Option {
	return func(e *Event) { e.metadata.Merge(values) }
}

// WithMetadataStore replaces the metadata store.
func WithMetadataStore(store *metadata.Store) Option {
	return func(e *Event) {
		if store != nil {
			e.metadata = store
		}
	}
}

// WithLocale sets the locale.
func WithLocale(locale string) Option {
	return func(e *Event) { e.Locale = locale }
}

// WithContext attaches the originating object.
func WithContext(origin any) Option {
	return func(e *Event) { e.Context = origin }
}

// ID returns the event identifier.
func (e *Event) ID() string { return e.id }

// Type returns the event type.
func (e *Event) Type() string { return e.eventType }

// Metadata exposes the key-path store.
func (e *Event) Metadata() *metadata.Store { return e.metadata }

// Get reads a metadata path.
func (e *Event) Get(path string, fallback any) any {
	return e.metadata.Get(path, fallback)
}

// Set writes a metadata path.
func (e *Event) Set(path string, value any) *Event {
	if e.metadata == nil {
		e.metadata = metadata.New(nil)
	}
	e.metadata.Set(path, value)
	return e
}

// GetLocale returns the locale or the default locale.
func (e *Event) GetLocale() string {
	if e.Locale != "" {
		return e.Locale
	}
	if e.DefaultLocale != "" {
		return e.DefaultLocale
	}
	return DefaultLocale
}

// Clone returns a snapshot: metadata is deep copied, Data and Context are
// shared.
func (e *Event) Clone() *Event {
	clone := *e
	clone.metadata = e.metadata.Clone()
	return &clone
}
