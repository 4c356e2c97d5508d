// Package commbus provides CommBus Message Definitions.
//
// This module defines all message types for the repair kernel bus.
// Messages are organized by domain.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// HealthStatus represents canonical health status values.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// =============================================================================
// RUN LIFECYCLE EVENTS
// =============================================================================

// RunStarted is emitted when a governor loop begins for a patch.
// Subscribers: telemetry, trace logging.
type RunStarted struct {
	PatchID     string `json:"patch_id"`
	SessionID   string `json:"session_id"`
	ErrorType   string `json:"error_type"`
	MaxAttempts int    `json:"max_attempts"`
}

// Category implements the Message interface.
func (m *RunStarted) Category() string { return string(MessageCategoryEvent) }

// RunCompleted is emitted when a governor loop terminates (any final action).
// Subscribers: telemetry, trace logging, memory indexing.
type RunCompleted struct {
	PatchID       string  `json:"patch_id"`
	SessionID     string  `json:"session_id"`
	FinalAction   string  `json:"final_action"`
	Attempts      int     `json:"attempts"`
	DurationMS    int     `json:"duration_ms"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// Category implements the Message interface.
func (m *RunCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// ATTEMPT EVENTS
// =============================================================================

// AttemptEvaluated is emitted after each judged attempt, terminal or not.
// Subscribers: telemetry, trace logging.
type AttemptEvaluated struct {
	PatchID        string  `json:"patch_id"`
	SessionID      string  `json:"session_id"`
	Index          int     `json:"index"`
	ErrorsTotal    int     `json:"errors_total"`
	ErrorsResolved int     `json:"errors_resolved"`
	Confidence     float64 `json:"confidence"`
	Trend          string  `json:"trend"`
	BreakerState   string  `json:"breaker_state"`
	Action         string  `json:"action"`
}

// Category implements the Message interface.
func (m *AttemptEvaluated) Category() string { return string(MessageCategoryEvent) }

// BreakerTripped is emitted when a session's breaker transitions to open.
type BreakerTripped struct {
	PatchID      string `json:"patch_id"`
	SessionID    string `json:"session_id"`
	AttemptIndex int    `json:"attempt_index"`
	FailureCount int    `json:"failure_count"`
}

// Category implements the Message interface.
func (m *BreakerTripped) Category() string { return string(MessageCategoryEvent) }

// CascadeExceeded is emitted when cascade depth passes its maximum.
type CascadeExceeded struct {
	PatchID   string `json:"patch_id"`
	SessionID string `json:"session_id"`
	Depth     int    `json:"depth"`
}

// Category implements the Message interface.
func (m *CascadeExceeded) Category() string { return string(MessageCategoryEvent) }

// StoreWriteFailed is emitted when persisting an envelope fails. Persistence
// failures never block the governor's decision; this event is the side channel
// carrying the warning.
type StoreWriteFailed struct {
	PatchID   string `json:"patch_id"`
	Operation string `json:"operation"` // "put", "seal"
	Error     string `json:"error"`
}

// Category implements the Message interface.
func (m *StoreWriteFailed) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// HISTORY QUERIES
// =============================================================================

// GetEnvelope queries the canonical envelope for a patch.
type GetEnvelope struct {
	PatchID string `json:"patch_id"`
}

// Category implements the Message interface.
func (m *GetEnvelope) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetEnvelope) IsQuery() {}

// EnvelopeResponse is the response for GetEnvelope query.
type EnvelopeResponse struct {
	Found bool           `json:"found"`
	State map[string]any `json:"state,omitempty"`
}

// ListEnvelopes queries the most recent envelopes by creation time.
type ListEnvelopes struct {
	Limit int `json:"limit"`
}

// Category implements the Message interface.
func (m *ListEnvelopes) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *ListEnvelopes) IsQuery() {}

// ListEnvelopesResponse is the response for ListEnvelopes query.
type ListEnvelopesResponse struct {
	States []map[string]any `json:"states"`
}

// FindSimilar queries historical outcomes resembling a message/code pair.
type FindSimilar struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Limit   int    `json:"limit"`
}

// Category implements the Message interface.
func (m *FindSimilar) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *FindSimilar) IsQuery() {}

// FindSimilarResponse is the response for FindSimilar query.
type FindSimilarResponse struct {
	Matches []map[string]any `json:"matches"`
}

// =============================================================================
// HEALTH CHECK QUERIES
// =============================================================================

// HealthCheckRequest requests health check from a component.
type HealthCheckRequest struct {
	Component string `json:"component"` // "store", "memory", "governor"
}

// Category implements the Message interface.
func (m *HealthCheckRequest) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *HealthCheckRequest) IsQuery() {}

// HealthCheckResponse is the response for HealthCheckRequest.
type HealthCheckResponse struct {
	Component string         `json:"component"`
	Status    string         `json:"status"` // "healthy", "degraded", "unhealthy"
	Details   map[string]any `json:"details,omitempty"`
	LatencyMS *int           `json:"latency_ms,omitempty"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
// This is useful for dynamically-typed messages like those decoded from JSON.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	// First check if the message can provide its own type
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	// Otherwise use the static type switch
	switch msg.(type) {
	case *RunStarted:
		return "RunStarted"
	case *RunCompleted:
		return "RunCompleted"
	case *AttemptEvaluated:
		return "AttemptEvaluated"
	case *BreakerTripped:
		return "BreakerTripped"
	case *CascadeExceeded:
		return "CascadeExceeded"
	case *StoreWriteFailed:
		return "StoreWriteFailed"
	case *GetEnvelope:
		return "GetEnvelope"
	case *ListEnvelopes:
		return "ListEnvelopes"
	case *FindSimilar:
		return "FindSimilar"
	case *HealthCheckRequest:
		return "HealthCheckRequest"
	default:
		return "Unknown"
	}
}
