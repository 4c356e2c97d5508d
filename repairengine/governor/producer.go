// Package governor drives the attempt-and-judge loop for one repair
// session: it consumes outcomes from an external producer, feeds them to
// the judges, applies the decision table, and maintains the envelope.
package governor

import (
	"context"
	"errors"

	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
)

// =============================================================================
// OUTCOME PRODUCER
// =============================================================================

// ProducerRequest carries everything the external judge needs to evaluate
// the current patch.
type ProducerRequest struct {
	PatchCode    string
	OriginalCode string
	ErrorType    envelope.ErrorType
	Message      string

	// PriorContext is the attempt history so far, oldest first. The
	// producer may use it to avoid repeating failed strategies; it must
	// not mutate it.
	PriorContext []envelope.Attempt
}

// Outcome is one judged result from the external producer.
type Outcome struct {
	ErrorType      envelope.ErrorType
	Message        string
	ErrorsTotal    int
	ErrorsResolved int
}

// OutcomeProducer is the external judge consumed by the governor. A call
// is read-only from the governor's perspective: it evaluates the patch
// and reports remaining errors. Errors and timeouts are fatal for the
// session.
type OutcomeProducer interface {
	Produce(ctx context.Context, req *ProducerRequest) (*Outcome, error)
}

// ProducerFunc adapts a function to the OutcomeProducer interface.
type ProducerFunc func(ctx context.Context, req *ProducerRequest) (*Outcome, error)

// Produce implements OutcomeProducer.
func (f ProducerFunc) Produce(ctx context.Context, req *ProducerRequest) (*Outcome, error) {
	return f(ctx, req)
}

// =============================================================================
// SCRIPTED PRODUCER
// =============================================================================

// ErrScriptExhausted is returned when a scripted producer runs out of
// outcomes.
var ErrScriptExhausted = errors.New("governor: scripted outcomes exhausted")

// ScriptedProducer replays a fixed outcome sequence. It backs the CLI's
// scripted run mode and deterministic tests.
type ScriptedProducer struct {
	outcomes []Outcome
	next     int
}

// NewScriptedProducer creates a producer that yields the given outcomes
// in order and fails with ErrScriptExhausted afterwards.
func NewScriptedProducer(outcomes []Outcome) *ScriptedProducer {
	return &ScriptedProducer{outcomes: outcomes}
}

// Produce implements OutcomeProducer.
func (p *ScriptedProducer) Produce(ctx context.Context, req *ProducerRequest) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.next >= len(p.outcomes) {
		return nil, ErrScriptExhausted
	}
	out := p.outcomes[p.next]
	p.next++
	if out.ErrorType == "" {
		out.ErrorType = req.ErrorType
	}
	return &out, nil
}
