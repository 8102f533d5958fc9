// Package types defines the event data model shared by the client library
// and the ingestion service.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventRecord is the atomic unit of telemetry shipped through the pipeline.
// The envelope fields are validated at ingestion; Data is carried opaquely.
type EventRecord struct {
	// EventType tags the semantic kind of the event (open vocabulary).
	EventType string `json:"event_type"`

	// Timestamp is when the event occurred. Assigned by the producer, or by
	// the client at buffering time when left zero. Not guaranteed to be
	// monotonic within a producer.
	Timestamp time.Time `json:"timestamp"`

	// SessionID correlates events from one logical agent run. The field is
	// always present on the wire; an empty value means unattributed.
	SessionID string `json:"session_id"`

	// WorkflowID and ToolUseID are optional secondary correlation keys.
	WorkflowID string `json:"workflow_id,omitempty"`
	ToolUseID  string `json:"tool_use_id,omitempty"`

	// Provider names the emitting subsystem. Never validated against a
	// fixed set so new producers need no pipeline changes.
	Provider string `json:"provider,omitempty"`

	// Data is the event-type-specific payload, passed through opaquely.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Batch is an ordered sequence of records accumulated by one buffer between
// flushes. It is the unit of transport and of storage writes. Attempts counts
// delivery attempts for the retry/backoff policy; it is not serialized.
type Batch struct {
	ID       string
	Records  []EventRecord
	Attempts int
}

// Envelope field validation errors. The reason strings double as rejection
// counter labels.
const (
	ReasonMissingEventType = "missing_event_type"
	ReasonMissingSessionID = "missing_session_id"
	ReasonBadTimestamp     = "bad_timestamp"
	ReasonMalformed        = "malformed"
)

// EnvelopeError describes why a single envelope was rejected.
type EnvelopeError struct {
	Reason string
	Detail string
}

// Error returns a formatted error string.
func (e *EnvelopeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid envelope (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid envelope (%s)", e.Reason)
}

// ParseEnvelope decodes and validates one raw event envelope.
//
// Validation covers the envelope only: event_type present and non-empty,
// session_id present (an empty string is accepted as unattributed, a missing
// key is not), and timestamp parseable. The data payload is never inspected.
func ParseEnvelope(raw json.RawMessage) (EventRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return EventRecord{}, &EnvelopeError{Reason: ReasonMalformed, Detail: err.Error()}
	}

	var rec EventRecord

	eventType, ok := fields["event_type"]
	if !ok {
		return EventRecord{}, &EnvelopeError{Reason: ReasonMissingEventType, Detail: "event_type is required"}
	}
	if err := json.Unmarshal(eventType, &rec.EventType); err != nil || rec.EventType == "" {
		return EventRecord{}, &EnvelopeError{Reason: ReasonMissingEventType, Detail: "event_type must be a non-empty string"}
	}

	// session_id must be present on the envelope, but an empty value is
	// accepted: unattributed events are never rejected for missing
	// correlation.
	sessionID, ok := fields["session_id"]
	if !ok {
		return EventRecord{}, &EnvelopeError{Reason: ReasonMissingSessionID, Detail: "session_id is required"}
	}
	if err := json.Unmarshal(sessionID, &rec.SessionID); err != nil {
		return EventRecord{}, &EnvelopeError{Reason: ReasonMissingSessionID, Detail: "session_id must be a string"}
	}

	ts, ok := fields["timestamp"]
	if !ok {
		return EventRecord{}, &EnvelopeError{Reason: ReasonBadTimestamp, Detail: "timestamp is required"}
	}
	if err := json.Unmarshal(ts, &rec.Timestamp); err != nil {
		return EventRecord{}, &EnvelopeError{Reason: ReasonBadTimestamp, Detail: "timestamp must be RFC 3339"}
	}

	if v, ok := fields["workflow_id"]; ok {
		_ = json.Unmarshal(v, &rec.WorkflowID)
	}
	if v, ok := fields["tool_use_id"]; ok {
		_ = json.Unmarshal(v, &rec.ToolUseID)
	}
	if v, ok := fields["provider"]; ok {
		_ = json.Unmarshal(v, &rec.Provider)
	}
	if v, ok := fields["data"]; ok {
		if err := json.Unmarshal(v, &rec.Data); err != nil {
			return EventRecord{}, &EnvelopeError{Reason: ReasonMalformed, Detail: "data must be a JSON object"}
		}
	}

	return rec, nil
}
