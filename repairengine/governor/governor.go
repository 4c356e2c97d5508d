package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/repairkernel/commbus"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/config"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/judge"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/memory"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/observability"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/store"
)

const tracerName = "repairengine/governor"

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// RunRequest describes one repair session. PatchID and SessionID are
// generated when empty. MaxAttempts <= 0 falls back to the configured
// default.
type RunRequest struct {
	PatchID      string
	SessionID    string
	ErrorType    envelope.ErrorType
	Message      string
	PatchCode    string
	OriginalCode string
	MaxAttempts  int
}

// RunResult is the outcome of one governor run. Extras is an open map
// for observer enrichment; no consumer may require it. StoreWarnings
// lists persistence failures that were absorbed without blocking the
// decision.
type RunResult struct {
	Action        envelope.Action
	Envelope      *envelope.Envelope
	Extras        map[string]any
	StoreWarnings []string
}

// Options carries the governor's optional collaborators.
type Options struct {
	Bus    commbus.CommBus
	Index  *memory.MemoryIndex
	Logger commbus.Logger
}

// =============================================================================
// ATTEMPT GOVERNOR
// =============================================================================

// AttemptGovernor orchestrates the sequential attempt loop. The loop for
// one envelope is strictly sequential; independent envelopes may run
// concurrently on the same governor since all judgment state is created
// per run.
type AttemptGovernor struct {
	cfg      *config.GovernorConfig
	store    store.EnvelopeStore
	producer OutcomeProducer
	bus      commbus.CommBus
	index    *memory.MemoryIndex
	logger   commbus.Logger
}

// New creates a governor. cfg, st, and producer are required; Options
// fields are optional.
func New(cfg *config.GovernorConfig, st store.EnvelopeStore, producer OutcomeProducer, opts Options) (*AttemptGovernor, error) {
	if cfg == nil {
		return nil, errors.New("governor: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("governor: %w", err)
	}
	if st == nil {
		return nil, errors.New("governor: store is required")
	}
	if producer == nil {
		return nil, errors.New("governor: outcome producer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = commbus.NopLogger()
	}
	return &AttemptGovernor{
		cfg:      cfg,
		store:    st,
		producer: producer,
		bus:      opts.Bus,
		index:    opts.Index,
		logger:   logger,
	}, nil
}

// ErrPatchSealed is returned by Run when the requested patch ID already
// resolves to a sealed envelope. Sealed envelopes are retained read-only
// for audit; a new session must use a fresh patch ID.
var ErrPatchSealed = errors.New("governor: envelope for patch is already sealed")

// run holds the mutable state of one active loop.
type run struct {
	env      *envelope.Envelope
	tracker  *judge.ConfidenceTracker
	breaker  *judge.CircuitBreaker
	guard    *judge.CascadeGuard
	logger   commbus.Logger
	warnings []string
	started  time.Time
}

// Run executes the attempt loop until a terminal action. The returned
// error is non-nil only for pre-loop failures (a second concurrent run
// for the same patch) and for cancellation; producer failures terminate
// the loop normally with a STOP result and a recorded failure reason.
func (g *AttemptGovernor) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	env := envelope.New(req.PatchID, req.SessionID, req.ErrorType,
		req.Message, req.PatchCode, req.OriginalCode)

	release, err := g.store.Acquire(env.PatchID)
	if err != nil {
		return nil, err
	}
	defer release()

	// A sealed envelope is read-only history; reusing its ID would
	// overwrite the audit trail.
	if prior, getErr := g.store.Get(ctx, env.PatchID); getErr == nil && prior.Sealed() {
		return nil, fmt.Errorf("%w: %s", ErrPatchSealed, env.PatchID)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = g.cfg.MaxAttempts
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "governor.run", trace.WithAttributes(
		attribute.String("patch_id", env.PatchID),
		attribute.String("session_id", env.SessionID),
		attribute.String("error_type", string(env.ErrorType)),
		attribute.Int("max_attempts", maxAttempts),
	))
	defer span.End()

	r := &run{
		env:     env,
		tracker: judge.NewConfidenceTracker(g.cfg.SmoothingStep),
		breaker: judge.NewCircuitBreaker(g.cfg.ErrorRateBudget, g.cfg.MaxFailureStreak, g.cfg.ProbeAfterBlocked),
		guard:   judge.NewCascadeGuard(g.cfg.MaxCascadeDepth),
		logger:  g.logger.Bind("patch_id", env.PatchID, "session_id", env.SessionID),
		started: time.Now(),
	}
	r.logger.Info("run_started", "error_type", env.ErrorType, "max_attempts", maxAttempts)
	g.publish(ctx, &commbus.RunStarted{
		PatchID:     env.PatchID,
		SessionID:   env.SessionID,
		ErrorType:   string(env.ErrorType),
		MaxAttempts: maxAttempts,
	})

	bo := newRetryBackOff(g.cfg)
	producerTimeout := time.Duration(g.cfg.ProducerTimeout) * time.Second
	maxInterval := time.Duration(g.cfg.RetryMaxIntervalMS) * time.Millisecond

	for index := 1; ; index++ {
		if ctx.Err() != nil {
			return g.sealCancelled(ctx, r), ctx.Err()
		}

		attemptCtx, attemptSpan := tracer.Start(ctx, "governor.attempt",
			trace.WithAttributes(attribute.Int("index", index)))
		action, reason := g.evaluateAttempt(attemptCtx, r, index, maxAttempts, producerTimeout)
		attemptSpan.SetAttributes(attribute.String("action", string(action)))
		attemptSpan.End()

		if action.IsTerminal() {
			result := g.finish(ctx, r, action, reason)
			if reason != nil && *reason == envelope.FailureReasonCancelled {
				return result, ctx.Err()
			}
			return result, nil
		}

		delay := retryDelay(bo, g.cfg.Temperature, index+1, maxInterval)
		if err := waitRetry(ctx, delay); err != nil {
			return g.sealCancelled(ctx, r), err
		}
	}
}

// evaluateAttempt runs one iteration: produce, judge, decide, append,
// persist. It returns the decided action and, for producer failures, the
// distinguishing reason.
func (g *AttemptGovernor) evaluateAttempt(ctx context.Context, r *run, index, maxAttempts int, producerTimeout time.Duration) (envelope.Action, *envelope.FailureReason) {
	depth := r.guard.Enter()

	prodCtx, cancel := context.WithTimeout(ctx, producerTimeout)
	outcome, err := safeProduce(prodCtx, r.logger, g.producer, &ProducerRequest{
		PatchCode:    r.env.PatchCode,
		OriginalCode: r.env.OriginalCode,
		ErrorType:    r.env.ErrorType,
		Message:      r.env.Message,
		PriorContext: r.env.Attempts,
	})
	cancel()

	if err != nil {
		return g.recordProducerFailure(ctx, r, index, err)
	}

	confidence := r.tracker.Score(outcome.ErrorsTotal, outcome.ErrorsResolved)
	trend := r.tracker.Classify()
	improving := trend == judge.TrendImproving

	prevState := r.breaker.State()
	state := r.breaker.Observe(outcome.ErrorsTotal, improving)
	if state != prevState {
		observability.RecordBreakerTransition(string(state))
		if state == envelope.BreakerOpen {
			r.logger.Warning("breaker_tripped", "index", index, "failure_count", r.breaker.FailureCount())
			g.publish(ctx, &commbus.BreakerTripped{
				PatchID:      r.env.PatchID,
				SessionID:    r.env.SessionID,
				AttemptIndex: index,
				FailureCount: r.breaker.FailureCount(),
			})
		}
	}

	exceeded := r.guard.Exceeded()
	if exceeded {
		r.logger.Warning("cascade_exceeded", "depth", depth)
		observability.RecordCascadeExceeded()
		g.publish(ctx, &commbus.CascadeExceeded{
			PatchID:   r.env.PatchID,
			SessionID: r.env.SessionID,
			Depth:     depth,
		})
	}

	action := Decide(DecisionInput{
		Index:            index,
		MaxAttempts:      maxAttempts,
		ErrorsTotal:      outcome.ErrorsTotal,
		Confidence:       confidence,
		Trend:            trend,
		BreakerState:     state,
		CascadeExceeded:  exceeded,
		PriorImprovement: r.env.HasImprovement() || improving,
		PromoteThreshold: g.cfg.PromoteThreshold,
	})

	attempt := envelope.Attempt{
		Index:           index,
		ErrorType:       outcome.ErrorType,
		Message:         outcome.Message,
		ErrorsTotal:     outcome.ErrorsTotal,
		ErrorsResolved:  outcome.ErrorsResolved,
		Confidence:      confidence,
		BreakerSnapshot: r.breaker.Snapshot(),
		Timestamp:       time.Now().UTC(),
	}
	if appendErr := r.env.Append(attempt, state, r.guard.Depth()); appendErr != nil {
		// Only reachable on a sealed envelope, which the loop never
		// reuses; treat as a stop so history stays intact.
		r.logger.Error("append_failed", "index", index, "error", appendErr.Error())
		return envelope.ActionStop, nil
	}

	g.persist(ctx, r, "put")
	observability.RecordAttempt(string(trend), confidence)
	r.logger.Debug("attempt_evaluated",
		"index", index,
		"errors_total", outcome.ErrorsTotal,
		"errors_resolved", outcome.ErrorsResolved,
		"confidence", confidence,
		"trend", trend,
		"breaker_state", state,
		"action", action,
	)
	g.publish(ctx, &commbus.AttemptEvaluated{
		PatchID:        r.env.PatchID,
		SessionID:      r.env.SessionID,
		Index:          index,
		ErrorsTotal:    outcome.ErrorsTotal,
		ErrorsResolved: outcome.ErrorsResolved,
		Confidence:     confidence,
		Trend:          string(trend),
		BreakerState:   string(state),
		Action:         string(action),
	})

	return action, nil
}

// recordProducerFailure appends a failure attempt, feeding the breaker a
// non-improving sample, and maps the failure to STOP with a reason.
func (g *AttemptGovernor) recordProducerFailure(ctx context.Context, r *run, index int, err error) (envelope.Action, *envelope.FailureReason) {
	reason := envelope.FailureReasonProducerError
	switch {
	case ctx.Err() != nil:
		reason = envelope.FailureReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		reason = envelope.FailureReasonProducerTimeout
	}
	r.logger.Error("producer_failed", "index", index, "reason", reason, "error", err.Error())

	lastTotal := 0
	if last := r.env.LastAttempt(); last != nil {
		lastTotal = last.ErrorsTotal
	}
	state := r.breaker.Observe(lastTotal, false)

	attempt := envelope.Attempt{
		Index:           index,
		ErrorType:       r.env.ErrorType,
		Message:         err.Error(),
		ErrorsTotal:     lastTotal,
		ErrorsResolved:  0,
		Confidence:      r.tracker.Confidence(),
		BreakerSnapshot: r.breaker.Snapshot(),
		Timestamp:       time.Now().UTC(),
	}
	if appendErr := r.env.Append(attempt, state, r.guard.Depth()); appendErr != nil {
		r.logger.Error("append_failed", "index", index, "error", appendErr.Error())
	}
	g.persist(context.WithoutCancel(ctx), r, "put")

	return envelope.ActionStop, &reason
}

// finish seals the envelope, persists the final state, and emits the
// terminal events and metrics.
func (g *AttemptGovernor) finish(ctx context.Context, r *run, action envelope.Action, reason *envelope.FailureReason) *RunResult {
	// Terminal bookkeeping must outlive the caller's cancellation.
	ctx = context.WithoutCancel(ctx)

	if err := r.env.Seal(action, reason); err != nil {
		r.logger.Error("seal_failed", "error", err.Error())
	}
	g.persist(ctx, r, "seal")

	if g.index != nil {
		g.index.Record(r.env)
	}

	durationMS := int(time.Since(r.started).Milliseconds())
	observability.RecordRun(string(action), durationMS)
	r.logger.Info("run_completed",
		"final_action", action,
		"attempts", len(r.env.Attempts),
		"duration_ms", durationMS,
	)

	var reasonStr *string
	if reason != nil {
		s := string(*reason)
		reasonStr = &s
	}
	g.publish(ctx, &commbus.RunCompleted{
		PatchID:       r.env.PatchID,
		SessionID:     r.env.SessionID,
		FinalAction:   string(action),
		Attempts:      len(r.env.Attempts),
		DurationMS:    durationMS,
		FailureReason: reasonStr,
	})

	return &RunResult{
		Action:        action,
		Envelope:      r.env,
		Extras:        r.env.Extras,
		StoreWarnings: r.warnings,
	}
}

// sealCancelled terminates a cancelled run: the last successfully
// appended attempt stands and the envelope seals with STOP.
func (g *AttemptGovernor) sealCancelled(ctx context.Context, r *run) *RunResult {
	reason := envelope.FailureReasonCancelled
	return g.finish(ctx, r, envelope.ActionStop, &reason)
}

// persist writes the working envelope to the store. Failures are logged
// and surfaced as warnings; they never block the decision.
func (g *AttemptGovernor) persist(ctx context.Context, r *run, operation string) {
	err := g.store.Put(ctx, r.env)
	observability.RecordStoreOperation(operation, err)
	if err == nil {
		return
	}

	r.logger.Warning("store_write_failed", "operation", operation, "error", err.Error())
	r.warnings = append(r.warnings, fmt.Sprintf("%s: %v", operation, err))
	g.publish(ctx, &commbus.StoreWriteFailed{
		PatchID:   r.env.PatchID,
		Operation: operation,
		Error:     err.Error(),
	})
}

func (g *AttemptGovernor) publish(ctx context.Context, event commbus.Message) {
	if g.bus == nil {
		return
	}
	if err := g.bus.Publish(ctx, event); err != nil {
		g.logger.Warning("event_publish_failed",
			"event", commbus.GetMessageType(event), "error", err.Error())
	}
}
