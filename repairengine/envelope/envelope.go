package envelope

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSealed is returned when mutating an envelope whose final action is set.
var ErrSealed = errors.New("envelope: already sealed")

// =============================================================================
// Attempt
// =============================================================================

// BreakerSnapshot captures the breaker position taken after one attempt's
// evaluation, so the envelope is an exact audit trail of breaker evolution.
type BreakerSnapshot struct {
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
}

// Attempt is one judged outcome within an envelope. Immutable once appended.
type Attempt struct {
	Index           int             `json:"index"`
	ErrorType       ErrorType       `json:"error_type"`
	Message         string          `json:"message"`
	ErrorsTotal     int             `json:"errors_total"`
	ErrorsResolved  int             `json:"errors_resolved"`
	Confidence      float64         `json:"confidence"`
	BreakerSnapshot BreakerSnapshot `json:"breaker_snapshot"`
	Timestamp       time.Time       `json:"timestamp"`
}

// =============================================================================
// Envelope
// =============================================================================

// Envelope is the append-only record of one repair session.
//
// Invariants:
//   - Attempts are never reordered or truncated; insertion order is
//     chronological order.
//   - BreakerState and CascadeDepth always reflect the state after the last
//     appended attempt.
//   - FinalAction is set exactly once, on the attempt that terminates the loop.
type Envelope struct {
	// Identification
	PatchID   string `json:"patch_id"`
	SessionID string `json:"session_id"`

	// Original Input
	ErrorType    ErrorType `json:"error_type"`
	Message      string    `json:"message"`
	PatchCode    string    `json:"patch_code"`
	OriginalCode string    `json:"original_code"`

	// Audit Trail
	Attempts []Attempt `json:"attempts"`

	// Judge State (after the last appended attempt)
	BreakerState BreakerState `json:"breaker_state"`
	CascadeDepth int          `json:"cascade_depth"`

	// Disposition
	FinalAction   *Action        `json:"final_action,omitempty"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`

	// Timing
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SealedAt  *time.Time `json:"sealed_at,omitempty"`

	// Metadata
	Extras map[string]any `json:"extras,omitempty"`
}

// New creates an in-progress envelope for one repair session.
func New(patchID, sessionID string, errorType ErrorType, message, patchCode, originalCode string) *Envelope {
	now := time.Now().UTC()
	if patchID == "" {
		patchID = "patch_" + uuid.New().String()[:16]
	}
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:16]
	}
	return &Envelope{
		PatchID:      patchID,
		SessionID:    sessionID,
		ErrorType:    errorType,
		Message:      message,
		PatchCode:    patchCode,
		OriginalCode: originalCode,
		Attempts:     []Attempt{},
		BreakerState: BreakerClosed,
		CascadeDepth: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
		Extras:       make(map[string]any),
	}
}

// Sealed returns true once a final action has been recorded.
func (e *Envelope) Sealed() bool {
	return e.FinalAction != nil
}

// Append records one judged attempt together with the post-evaluation judge
// state. Fails if the envelope is already sealed.
func (e *Envelope) Append(a Attempt, breakerState BreakerState, cascadeDepth int) error {
	if e.Sealed() {
		return ErrSealed
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	e.Attempts = append(e.Attempts, a)
	e.BreakerState = breakerState
	e.CascadeDepth = cascadeDepth
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Seal records the terminal action. Fails on a second call.
func (e *Envelope) Seal(action Action, reason *FailureReason) error {
	if e.Sealed() {
		return ErrSealed
	}
	now := time.Now().UTC()
	e.FinalAction = &action
	e.FailureReason = reason
	e.SealedAt = &now
	e.UpdatedAt = now
	return nil
}

// LastAttempt returns the most recently appended attempt, or nil if none.
func (e *Envelope) LastAttempt() *Attempt {
	if len(e.Attempts) == 0 {
		return nil
	}
	return &e.Attempts[len(e.Attempts)-1]
}

// HasImprovement returns true if any appended attempt strictly reduced the
// total error count versus the attempt before it. The first attempt never
// counts: with a single sample there is no baseline to improve on.
func (e *Envelope) HasImprovement() bool {
	for i := 1; i < len(e.Attempts); i++ {
		if e.Attempts[i].ErrorsTotal < e.Attempts[i-1].ErrorsTotal {
			return true
		}
	}
	return false
}

// =============================================================================
// Clone - Deep Copy for the Governor's Working Copy
// =============================================================================

// Clone creates a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	clone := &Envelope{
		PatchID:      e.PatchID,
		SessionID:    e.SessionID,
		ErrorType:    e.ErrorType,
		Message:      e.Message,
		PatchCode:    e.PatchCode,
		OriginalCode: e.OriginalCode,
		BreakerState: e.BreakerState,
		CascadeDepth: e.CascadeDepth,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}

	clone.Attempts = make([]Attempt, len(e.Attempts))
	copy(clone.Attempts, e.Attempts)

	if e.FinalAction != nil {
		action := *e.FinalAction
		clone.FinalAction = &action
	}
	if e.FailureReason != nil {
		reason := *e.FailureReason
		clone.FailureReason = &reason
	}
	if e.SealedAt != nil {
		t := *e.SealedAt
		clone.SealedAt = &t
	}
	clone.Extras = deepCopyAnyMap(e.Extras)

	return clone
}

func deepCopyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyAnyMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	default:
		return v // Primitives are copied by value
	}
}
