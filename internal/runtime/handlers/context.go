// Package handlers turns typed functions into event destinations: JSON
// payloads decoded into Go values and protobuf payloads decoded with
// protojson.
package handlers

import (
	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/metadata"
)

// EventContextBase carries the event shared by JSON and proto handlers.
type EventContextBase struct {
	Event *events.Event
}

// Metadata returns the event metadata store.
func (b EventContextBase) Metadata() *metadata.Store {
	if b.Event == nil {
		return nil
	}
	return b.Event.Metadata()
}

// CloneMetadata returns a copy of the metadata that handlers can mutate for
// outgoing events.
func (b EventContextBase) CloneMetadata() *metadata.Store {
	return b.Metadata().Clone()
}

// Get retrieves a metadata value as a string.
func (b EventContextBase) Get(key string) string {
	return b.Metadata().GetString(key, "")
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b EventContextBase) CorrelationID() string {
	return b.Get(MetadataKeyCorrelationID)
}

// Locale returns the event locale.
func (b EventContextBase) Locale() string {
	if b.Event == nil {
		return events.DefaultLocale
	}
	return b.Event.GetLocale()
}
