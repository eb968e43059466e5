package handlers

// Metadata and header keys used by typed handlers.
const (
	// MetadataKeyCorrelationID tracks related events across services.
	MetadataKeyCorrelationID = "correlation_id"

	// MetadataKeyEventSchema names the Go type of a handler's response
	// content. It is set as a response header.
	MetadataKeyEventSchema = "event_message_schema"
)

// Code and status of payload decoding failures.
const (
	CodeUnprocessable   = "CORE-422"
	StatusUnprocessable = 422
)
