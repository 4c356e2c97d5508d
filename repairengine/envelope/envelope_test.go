package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAttempt(index, errorsTotal, errorsResolved int) Attempt {
	return Attempt{
		Index:          index,
		ErrorType:      ErrorTypeSyntax,
		Message:        "unexpected token",
		ErrorsTotal:    errorsTotal,
		ErrorsResolved: errorsResolved,
		Confidence:     0.5,
		BreakerSnapshot: BreakerSnapshot{
			State:        BreakerClosed,
			FailureCount: 0,
		},
	}
}

// =============================================================================
// CREATION TESTS
// =============================================================================

func TestNewEnvelopeBasic(t *testing.T) {
	// Create envelope with explicit identifiers.
	env := New("patch-123", "sess-456", ErrorTypeLogic, "off by one", "fixed code", "broken code")

	assert.Equal(t, "patch-123", env.PatchID)
	assert.Equal(t, "sess-456", env.SessionID)
	assert.Equal(t, ErrorTypeLogic, env.ErrorType)
	assert.Equal(t, "off by one", env.Message)
	assert.Equal(t, "fixed code", env.PatchCode)
	assert.Equal(t, "broken code", env.OriginalCode)
}

func TestNewEnvelopeGeneratesIDs(t *testing.T) {
	// Empty identifiers get generated values.
	env := New("", "", ErrorTypeSyntax, "msg", "p", "o")

	assert.NotEmpty(t, env.PatchID)
	assert.NotEmpty(t, env.SessionID)
	assert.Contains(t, env.PatchID, "patch_")
	assert.Contains(t, env.SessionID, "sess_")
}

func TestEnvelopeInitialState(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")

	assert.Empty(t, env.Attempts)
	assert.Equal(t, BreakerClosed, env.BreakerState)
	assert.Equal(t, 0, env.CascadeDepth)
	assert.Nil(t, env.FinalAction)
	assert.Nil(t, env.FailureReason)
	assert.Nil(t, env.SealedAt)
	assert.False(t, env.Sealed())
}

// =============================================================================
// APPEND / SEAL TESTS
// =============================================================================

func TestAppendRecordsJudgeState(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")

	err := env.Append(testAttempt(1, 10, 0), BreakerClosed, 1)
	require.NoError(t, err)

	require.Len(t, env.Attempts, 1)
	assert.Equal(t, BreakerClosed, env.BreakerState)
	assert.Equal(t, 1, env.CascadeDepth)
	assert.False(t, env.Attempts[0].Timestamp.IsZero())
}

func TestAppendPreservesOrder(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")

	for i := 1; i <= 5; i++ {
		require.NoError(t, env.Append(testAttempt(i, 10-i, 1), BreakerClosed, i))
	}

	require.Len(t, env.Attempts, 5)
	for i, a := range env.Attempts {
		assert.Equal(t, i+1, a.Index)
	}
}

func TestAppendOnlyAcrossLifetime(t *testing.T) {
	// Attempt count is monotonically non-decreasing and prior attempts
	// never change after being appended.
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")

	require.NoError(t, env.Append(testAttempt(1, 10, 0), BreakerClosed, 1))
	first := env.Attempts[0]

	require.NoError(t, env.Append(testAttempt(2, 8, 2), BreakerClosed, 2))
	require.NoError(t, env.Append(testAttempt(3, 4, 4), BreakerClosed, 3))

	assert.Equal(t, first, env.Attempts[0])
	assert.Len(t, env.Attempts, 3)
}

func TestSealSetsFinalActionOnce(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")
	require.NoError(t, env.Append(testAttempt(1, 0, 10), BreakerClosed, 1))

	require.NoError(t, env.Seal(ActionSuccess, nil))

	require.NotNil(t, env.FinalAction)
	assert.Equal(t, ActionSuccess, *env.FinalAction)
	assert.NotNil(t, env.SealedAt)
	assert.True(t, env.Sealed())

	// Second seal must fail.
	err := env.Seal(ActionStop, nil)
	assert.ErrorIs(t, err, ErrSealed)
	assert.Equal(t, ActionSuccess, *env.FinalAction)
}

func TestSealRecordsFailureReason(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")

	reason := FailureReasonProducerTimeout
	require.NoError(t, env.Seal(ActionStop, &reason))

	require.NotNil(t, env.FailureReason)
	assert.Equal(t, FailureReasonProducerTimeout, *env.FailureReason)
}

func TestAppendAfterSealFails(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")
	require.NoError(t, env.Seal(ActionRollback, nil))

	err := env.Append(testAttempt(1, 10, 0), BreakerClosed, 1)
	assert.ErrorIs(t, err, ErrSealed)
	assert.Empty(t, env.Attempts)
}

// =============================================================================
// IMPROVEMENT TESTS
// =============================================================================

func TestHasImprovementRequiresStrictDecrease(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")

	// Resolved errors with an unchanged total is not improvement.
	require.NoError(t, env.Append(testAttempt(1, 10, 0), BreakerClosed, 1))
	a := testAttempt(2, 10, 3)
	require.NoError(t, env.Append(a, BreakerClosed, 2))
	assert.False(t, env.HasImprovement())

	// A strict decrease is.
	require.NoError(t, env.Append(testAttempt(3, 6, 4), BreakerClosed, 3))
	assert.True(t, env.HasImprovement())
}

func TestHasImprovementSingleAttempt(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")
	require.NoError(t, env.Append(testAttempt(1, 0, 10), BreakerClosed, 1))

	// One sample has no baseline to improve on.
	assert.False(t, env.HasImprovement())
}

func TestParseErrorType(t *testing.T) {
	for _, valid := range []string{"syntax", "logic", "runtime", "performance", "security"} {
		got, ok := ParseErrorType(valid)
		assert.True(t, ok, valid)
		assert.Equal(t, ErrorType(valid), got)
	}

	for _, invalid := range []string{"", "SYNTAX", "segfault", "logic "} {
		_, ok := ParseErrorType(invalid)
		assert.False(t, ok, "%q", invalid)
	}
}

func TestActionIsTerminal(t *testing.T) {
	assert.False(t, ActionRetry.IsTerminal())
	assert.True(t, ActionPromote.IsTerminal())
	assert.True(t, ActionSuccess.IsTerminal())
	assert.True(t, ActionRollback.IsTerminal())
	assert.True(t, ActionStop.IsTerminal())
}

// =============================================================================
// CLONE TESTS
// =============================================================================

func TestCloneIsDeep(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")
	require.NoError(t, env.Append(testAttempt(1, 10, 0), BreakerClosed, 1))
	env.Extras["nested"] = map[string]any{"key": "value"}

	clone := env.Clone()

	// Mutating the clone leaves the original untouched.
	clone.Attempts[0].Message = "changed"
	clone.Extras["nested"].(map[string]any)["key"] = "changed"
	require.NoError(t, clone.Append(testAttempt(2, 8, 2), BreakerClosed, 2))

	assert.Equal(t, "unexpected token", env.Attempts[0].Message)
	assert.Equal(t, "value", env.Extras["nested"].(map[string]any)["key"])
	assert.Len(t, env.Attempts, 1)
	assert.Len(t, clone.Attempts, 2)
}

func TestClonePreservesSealState(t *testing.T) {
	env := New("p1", "s1", ErrorTypeSyntax, "msg", "p", "o")
	reason := FailureReasonCancelled
	require.NoError(t, env.Seal(ActionStop, &reason))

	clone := env.Clone()

	require.NotNil(t, clone.FinalAction)
	assert.Equal(t, ActionStop, *clone.FinalAction)
	require.NotNil(t, clone.FailureReason)
	assert.Equal(t, FailureReasonCancelled, *clone.FailureReason)
	require.NotNil(t, clone.SealedAt)
	assert.True(t, clone.SealedAt.Equal(*env.SealedAt))
}

// =============================================================================
// SERIALIZATION TESTS
// =============================================================================

func TestStateDictRoundTrip(t *testing.T) {
	env := New("p1", "s1", ErrorTypeLogic, "off by one", "patched", "original")
	a := testAttempt(1, 10, 0)
	a.Timestamp = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, env.Append(a, BreakerClosed, 1))
	b := testAttempt(2, 6, 4)
	b.Confidence = 0.72
	b.BreakerSnapshot = BreakerSnapshot{State: BreakerHalfOpen, FailureCount: 3}
	require.NoError(t, env.Append(b, BreakerHalfOpen, 2))
	require.NoError(t, env.Seal(ActionPromote, nil))

	restored := FromStateDict(env.ToStateDict())

	assert.Equal(t, env.PatchID, restored.PatchID)
	assert.Equal(t, env.SessionID, restored.SessionID)
	assert.Equal(t, env.ErrorType, restored.ErrorType)
	require.Len(t, restored.Attempts, 2)
	assert.Equal(t, env.Attempts[0].ErrorsTotal, restored.Attempts[0].ErrorsTotal)
	assert.Equal(t, 0.72, restored.Attempts[1].Confidence)
	assert.Equal(t, BreakerHalfOpen, restored.Attempts[1].BreakerSnapshot.State)
	assert.Equal(t, 3, restored.Attempts[1].BreakerSnapshot.FailureCount)
	assert.Equal(t, BreakerHalfOpen, restored.BreakerState)
	require.NotNil(t, restored.FinalAction)
	assert.Equal(t, ActionPromote, *restored.FinalAction)
	assert.Nil(t, restored.FailureReason)
	assert.True(t, restored.Attempts[0].Timestamp.Equal(env.Attempts[0].Timestamp))
}

func TestFromStateDictToleratesLooseTypes(t *testing.T) {
	// JSON unmarshaling hands back float64 for every number.
	state := map[string]any{
		"patch_id":      "p1",
		"session_id":    "s1",
		"error_type":    "runtime",
		"breaker_state": "open",
		"cascade_depth": float64(4),
		"attempts": []any{
			map[string]any{
				"index":           float64(1),
				"error_type":      "runtime",
				"message":         "panic",
				"errors_total":    float64(7),
				"errors_resolved": float64(2),
				"confidence":      0.3,
				"breaker_snapshot": map[string]any{
					"state":         "open",
					"failure_count": float64(5),
				},
			},
		},
	}

	env := FromStateDict(state)

	assert.Equal(t, "p1", env.PatchID)
	assert.Equal(t, BreakerOpen, env.BreakerState)
	assert.Equal(t, 4, env.CascadeDepth)
	require.Len(t, env.Attempts, 1)
	assert.Equal(t, 7, env.Attempts[0].ErrorsTotal)
	assert.Equal(t, 5, env.Attempts[0].BreakerSnapshot.FailureCount)
}
