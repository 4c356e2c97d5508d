package envelope

import (
	"time"

	"github.com/jeeves-cluster-organization/repairkernel/repairengine/typeutil"
)

// =============================================================================
// Serialization
// =============================================================================

// ToStateDict converts the envelope to a state dict for persistence.
func (e *Envelope) ToStateDict() map[string]any {
	attempts := make([]any, len(e.Attempts))
	for i, a := range e.Attempts {
		attempts[i] = map[string]any{
			"index":           a.Index,
			"error_type":      string(a.ErrorType),
			"message":         a.Message,
			"errors_total":    a.ErrorsTotal,
			"errors_resolved": a.ErrorsResolved,
			"confidence":      a.Confidence,
			"breaker_snapshot": map[string]any{
				"state":         string(a.BreakerSnapshot.State),
				"failure_count": a.BreakerSnapshot.FailureCount,
			},
			"timestamp": a.Timestamp.Format(time.RFC3339Nano),
		}
	}

	// Optional fields are stored as string-or-nil so a state dict
	// round-trips identically with or without a JSON hop in between.
	var finalAction any
	if e.FinalAction != nil {
		finalAction = string(*e.FinalAction)
	}
	var failureReason any
	if e.FailureReason != nil {
		failureReason = string(*e.FailureReason)
	}
	var sealedAt any
	if e.SealedAt != nil {
		sealedAt = e.SealedAt.Format(time.RFC3339Nano)
	}

	return map[string]any{
		"patch_id":       e.PatchID,
		"session_id":     e.SessionID,
		"error_type":     string(e.ErrorType),
		"message":        e.Message,
		"patch_code":     e.PatchCode,
		"original_code":  e.OriginalCode,
		"attempts":       attempts,
		"breaker_state":  string(e.BreakerState),
		"cascade_depth":  e.CascadeDepth,
		"final_action":   finalAction,
		"failure_reason": failureReason,
		"created_at":     e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     e.UpdatedAt.Format(time.RFC3339Nano),
		"sealed_at":      sealedAt,
		"extras":         e.Extras,
	}
}

// FromStateDict creates an envelope from a state dict.
func FromStateDict(state map[string]any) *Envelope {
	e := New(
		typeutil.SafeStringDefault(state["patch_id"], ""),
		typeutil.SafeStringDefault(state["session_id"], ""),
		ErrorType(typeutil.SafeStringDefault(state["error_type"], string(ErrorTypeRuntime))),
		typeutil.SafeStringDefault(state["message"], ""),
		typeutil.SafeStringDefault(state["patch_code"], ""),
		typeutil.SafeStringDefault(state["original_code"], ""),
	)

	if v, ok := typeutil.SafeSlice(state["attempts"]); ok {
		e.Attempts = make([]Attempt, 0, len(v))
		for _, raw := range v {
			m, ok := typeutil.SafeMapStringAny(raw)
			if !ok {
				continue
			}
			e.Attempts = append(e.Attempts, attemptFromStateDict(m))
		}
	}

	e.BreakerState = BreakerState(typeutil.SafeStringDefault(state["breaker_state"], string(BreakerClosed)))
	e.CascadeDepth = typeutil.SafeIntDefault(state["cascade_depth"], 0)

	if v, ok := typeutil.SafeString(state["final_action"]); ok {
		action := Action(v)
		e.FinalAction = &action
	}
	if v, ok := typeutil.SafeString(state["failure_reason"]); ok {
		reason := FailureReason(v)
		e.FailureReason = &reason
	}
	if t, ok := parseTimestamp(state["created_at"]); ok {
		e.CreatedAt = t
	}
	if t, ok := parseTimestamp(state["updated_at"]); ok {
		e.UpdatedAt = t
	}
	if t, ok := parseTimestamp(state["sealed_at"]); ok {
		e.SealedAt = &t
	}
	if v, ok := typeutil.SafeMapStringAny(state["extras"]); ok {
		e.Extras = v
	}

	return e
}

func attemptFromStateDict(m map[string]any) Attempt {
	a := Attempt{
		Index:          typeutil.SafeIntDefault(m["index"], 0),
		ErrorType:      ErrorType(typeutil.SafeStringDefault(m["error_type"], string(ErrorTypeRuntime))),
		Message:        typeutil.SafeStringDefault(m["message"], ""),
		ErrorsTotal:    typeutil.SafeIntDefault(m["errors_total"], 0),
		ErrorsResolved: typeutil.SafeIntDefault(m["errors_resolved"], 0),
		Confidence:     typeutil.SafeFloat64Default(m["confidence"], 0),
	}
	if snap, ok := typeutil.SafeMapStringAny(m["breaker_snapshot"]); ok {
		a.BreakerSnapshot = BreakerSnapshot{
			State:        BreakerState(typeutil.SafeStringDefault(snap["state"], string(BreakerClosed))),
			FailureCount: typeutil.SafeIntDefault(snap["failure_count"], 0),
		}
	}
	if t, ok := parseTimestamp(m["timestamp"]); ok {
		a.Timestamp = t
	}
	return a
}

func parseTimestamp(v any) (time.Time, bool) {
	s, ok := typeutil.SafeString(v)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
