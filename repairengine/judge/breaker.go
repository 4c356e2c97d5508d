package judge

import (
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
)

const (
	// GraceAttempts is the number of leading attempts exempt from trip
	// evaluation. With fewer than two samples no trend baseline exists, so a
	// single bad first sample must not starve the loop.
	GraceAttempts = 2

	// DefaultMaxFailureStreak is the consecutive non-improving attempt count
	// that trips the breaker.
	DefaultMaxFailureStreak = 5

	// DefaultErrorRateBudget is the allowed growth of the error count relative
	// to the first attempt's baseline. Exceeding it with no improvement on the
	// current attempt trips the breaker.
	DefaultErrorRateBudget = 1.5

	// DefaultProbeAfterBlocked is how many blocked evaluations an open breaker
	// absorbs before permitting a half-open probe.
	DefaultProbeAfterBlocked = 1
)

// CircuitBreaker is a trend-aware failure-tolerance state machine gating
// whether further repair attempts are permitted.
//
// Transitions:
//   - CLOSED -> OPEN when the non-improving streak reaches the cutoff, or the
//     error-rate budget is exceeded with no improvement on the current
//     attempt. Neither condition is evaluated inside the grace window.
//   - OPEN -> HALF_OPEN after probeAfterBlocked further evaluations.
//   - HALF_OPEN -> CLOSED if the probe attempt improves, else back to OPEN.
type CircuitBreaker struct {
	state             envelope.BreakerState
	failureCount      int
	evaluations       int
	baselineTotal     int
	blockedEvals      int
	errorRateBudget   float64
	maxFailureStreak  int
	probeAfterBlocked int
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall back
// to the package defaults.
func NewCircuitBreaker(errorRateBudget float64, maxFailureStreak, probeAfterBlocked int) *CircuitBreaker {
	if errorRateBudget <= 0 {
		errorRateBudget = DefaultErrorRateBudget
	}
	if maxFailureStreak <= 0 {
		maxFailureStreak = DefaultMaxFailureStreak
	}
	if probeAfterBlocked <= 0 {
		probeAfterBlocked = DefaultProbeAfterBlocked
	}
	return &CircuitBreaker{
		state:             envelope.BreakerClosed,
		errorRateBudget:   errorRateBudget,
		maxFailureStreak:  maxFailureStreak,
		probeAfterBlocked: probeAfterBlocked,
	}
}

// Observe feeds one attempt's outcome into the state machine and returns the
// resulting state. The first observed attempt establishes the error baseline
// for the rate budget.
func (b *CircuitBreaker) Observe(errorsTotal int, improving bool) envelope.BreakerState {
	b.evaluations++
	if b.evaluations == 1 {
		b.baselineTotal = errorsTotal
	}

	switch b.state {
	case envelope.BreakerOpen:
		b.blockedEvals++
		if b.blockedEvals >= b.probeAfterBlocked {
			b.state = envelope.BreakerHalfOpen
		}
		return b.state

	case envelope.BreakerHalfOpen:
		if improving {
			b.state = envelope.BreakerClosed
			b.failureCount = 0
		} else {
			b.state = envelope.BreakerOpen
			b.blockedEvals = 0
		}
		return b.state
	}

	// CLOSED: grace window first, then trip evaluation.
	if b.evaluations <= GraceAttempts {
		return b.state
	}
	if improving {
		b.failureCount = 0
		return b.state
	}

	b.failureCount++
	if b.failureCount >= b.maxFailureStreak {
		b.trip()
		return b.state
	}

	baseline := b.baselineTotal
	if baseline < 1 {
		baseline = 1
	}
	if float64(errorsTotal) > b.errorRateBudget*float64(baseline) {
		b.trip()
	}
	return b.state
}

func (b *CircuitBreaker) trip() {
	b.state = envelope.BreakerOpen
	b.blockedEvals = 0
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() envelope.BreakerState {
	return b.state
}

// FailureCount returns the current consecutive non-improving streak.
func (b *CircuitBreaker) FailureCount() int {
	return b.failureCount
}

// Snapshot captures the post-evaluation state for the envelope audit trail.
func (b *CircuitBreaker) Snapshot() envelope.BreakerSnapshot {
	return envelope.BreakerSnapshot{
		State:        b.state,
		FailureCount: b.failureCount,
	}
}
