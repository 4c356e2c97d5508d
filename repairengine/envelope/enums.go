// Package envelope provides envelope enums and the repair Envelope implementation.
//
// The envelope is the append-only record of one repair session: every judged
// attempt, the breaker snapshot taken after it, and the final disposition.
package envelope

// Action represents a governor decision for an attempt - exactly one per attempt.
type Action string

const (
	// ActionRetry indicates the loop should evaluate another attempt.
	ActionRetry Action = "retry"
	// ActionPromote indicates the patch is accepted with residual errors.
	ActionPromote Action = "promote"
	// ActionSuccess indicates the patch is accepted with zero remaining errors.
	ActionSuccess Action = "success"
	// ActionRollback indicates the patch must be discarded.
	ActionRollback Action = "rollback"
	// ActionStop indicates the session ended without a usable patch.
	ActionStop Action = "stop"
)

// IsTerminal returns true if the action ends the attempt loop.
func (a Action) IsTerminal() bool {
	return a == ActionPromote || a == ActionSuccess || a == ActionRollback || a == ActionStop
}

// ErrorType classifies the dominant error reported by the outcome producer.
type ErrorType string

const (
	// ErrorTypeSyntax indicates a parse/compile failure.
	ErrorTypeSyntax ErrorType = "syntax"
	// ErrorTypeLogic indicates incorrect behavior with valid code.
	ErrorTypeLogic ErrorType = "logic"
	// ErrorTypeRuntime indicates a failure raised during execution.
	ErrorTypeRuntime ErrorType = "runtime"
	// ErrorTypePerformance indicates a resource or latency regression.
	ErrorTypePerformance ErrorType = "performance"
	// ErrorTypeSecurity indicates a vulnerability finding.
	ErrorTypeSecurity ErrorType = "security"
)

// ParseErrorType validates a wire value against the known classifications.
func ParseErrorType(s string) (ErrorType, bool) {
	switch t := ErrorType(s); t {
	case ErrorTypeSyntax, ErrorTypeLogic, ErrorTypeRuntime, ErrorTypePerformance, ErrorTypeSecurity:
		return t, true
	default:
		return "", false
	}
}

// BreakerState represents the circuit breaker position after an attempt.
type BreakerState string

const (
	// BreakerClosed allows attempts to flow freely.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen blocks further attempts; the governor maps this to rollback.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen permits one probe attempt to test recovery.
	BreakerHalfOpen BreakerState = "half_open"
)

// FailureReason distinguishes why a session stopped outside the normal
// decision table - exactly one per sealed envelope, when present.
type FailureReason string

const (
	// FailureReasonProducerError indicates the outcome producer returned an error.
	FailureReasonProducerError FailureReason = "producer_error"
	// FailureReasonProducerTimeout indicates the outcome producer exceeded its deadline.
	FailureReasonProducerTimeout FailureReason = "producer_timeout"
	// FailureReasonCancelled indicates the caller cancelled the run mid-loop.
	FailureReasonCancelled FailureReason = "cancelled"
)
