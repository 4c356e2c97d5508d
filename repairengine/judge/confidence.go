// Package judge provides the per-session judgment state machines consulted by
// the attempt governor: confidence/trend scoring, the trend-aware circuit
// breaker, and the cascade depth guard. Each repair session owns its own
// instances; nothing in this package is shared across sessions.
package judge

// Trend classifies error-count movement across consecutive attempts.
type Trend string

const (
	// TrendUnknown means fewer than two samples exist; no judgment yet.
	TrendUnknown Trend = "unknown"
	// TrendImproving means the error count strictly decreased.
	TrendImproving Trend = "improving"
	// TrendStagnant means the error count did not change.
	TrendStagnant Trend = "stagnant"
	// TrendRegressing means the error count increased.
	TrendRegressing Trend = "regressing"
)

// DefaultSmoothingStep bounds how far confidence can move on one sample.
const DefaultSmoothingStep = 0.25

// ConfidenceTracker scores each attempt's outcome and classifies the
// short-term trend. Confidence moves gradually: a bounded delta against the
// previous attempt's value keeps noisy single samples from swinging it.
type ConfidenceTracker struct {
	smoothingStep float64
	totals        []int
	confidence    float64
}

// NewConfidenceTracker creates a tracker. A non-positive smoothingStep falls
// back to DefaultSmoothingStep.
func NewConfidenceTracker(smoothingStep float64) *ConfidenceTracker {
	if smoothingStep <= 0 {
		smoothingStep = DefaultSmoothingStep
	}
	return &ConfidenceTracker{smoothingStep: smoothingStep}
}

// Score records one outcome and returns the smoothed confidence in [0,1].
// The base value derives from errors_resolved / max(errors_total, 1); a clean
// outcome (zero remaining errors) scores a full base of 1.
func (t *ConfidenceTracker) Score(errorsTotal, errorsResolved int) float64 {
	denom := errorsTotal
	if denom < 1 {
		denom = 1
	}
	base := float64(errorsResolved) / float64(denom)
	if errorsTotal == 0 {
		base = 1
	}
	base = clamp01(base)

	if len(t.totals) == 0 {
		t.confidence = base
	} else {
		delta := base - t.confidence
		if delta > t.smoothingStep {
			delta = t.smoothingStep
		} else if delta < -t.smoothingStep {
			delta = -t.smoothingStep
		}
		t.confidence = clamp01(t.confidence + delta)
	}

	t.totals = append(t.totals, errorsTotal)
	return t.confidence
}

// Confidence returns the current smoothed confidence.
func (t *ConfidenceTracker) Confidence() float64 {
	return t.confidence
}

// Classify returns the trend over the two most recent samples. Improvement is
// strict: the total error count must have decreased versus the immediately
// prior attempt. Resolved errors alone do not count if the total held steady,
// so an attempt that fixes some errors while introducing new ones is never
// misclassified as progress.
func (t *ConfidenceTracker) Classify() Trend {
	n := len(t.totals)
	if n < 2 {
		return TrendUnknown
	}
	prev, last := t.totals[n-2], t.totals[n-1]
	switch {
	case last < prev:
		return TrendImproving
	case last > prev:
		return TrendRegressing
	default:
		return TrendStagnant
	}
}

// Samples returns how many outcomes have been scored.
func (t *ConfidenceTracker) Samples() int {
	return len(t.totals)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
