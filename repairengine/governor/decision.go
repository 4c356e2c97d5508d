package governor

import (
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/judge"
)

// =============================================================================
// DECISION TABLE
// =============================================================================

// DecisionInput is the full judgment state for one attempt.
type DecisionInput struct {
	Index       int
	MaxAttempts int

	ErrorsTotal int
	Confidence  float64
	Trend       judge.Trend

	BreakerState     envelope.BreakerState
	CascadeExceeded  bool
	PriorImprovement bool

	PromoteThreshold float64
}

// Decide maps one attempt's judgment state to an action. Rules are
// evaluated top to bottom; the first match wins.
//
//  1. Cascade depth exceeded: terminal. ROLLBACK when the session showed
//     at least one improving step worth keeping context for, else STOP.
//  2. Breaker OPEN: ROLLBACK. Never STOP; STOP is reserved for budget
//     exhaustion without breaker involvement.
//  3. Grace window (first two attempts): RETRY unconditionally, unless
//     this attempt already consumed the whole budget.
//  4. Clean outcome on an improving trend: SUCCESS.
//  5. Confident improving outcome: PROMOTE.
//  6. Improving or stagnant with budget left: RETRY.
//  7. Budget exhausted: STOP.
//  8. Otherwise (regressing): ROLLBACK.
func Decide(in DecisionInput) envelope.Action {
	if in.CascadeExceeded {
		if in.PriorImprovement {
			return envelope.ActionRollback
		}
		return envelope.ActionStop
	}

	if in.BreakerState == envelope.BreakerOpen {
		return envelope.ActionRollback
	}

	if in.Index <= judge.GraceAttempts {
		if in.Index >= in.MaxAttempts {
			return envelope.ActionStop
		}
		return envelope.ActionRetry
	}

	if in.Trend == judge.TrendImproving {
		if in.ErrorsTotal == 0 {
			return envelope.ActionSuccess
		}
		if in.Confidence >= in.PromoteThreshold {
			return envelope.ActionPromote
		}
	}

	if (in.Trend == judge.TrendImproving || in.Trend == judge.TrendStagnant) && in.Index < in.MaxAttempts {
		return envelope.ActionRetry
	}

	if in.Index >= in.MaxAttempts {
		return envelope.ActionStop
	}

	return envelope.ActionRollback
}
