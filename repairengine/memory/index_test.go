package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
)

func sealedEnvelope(patchID, message string, action envelope.Action) *envelope.Envelope {
	env := envelope.New(patchID, "sess_idx", envelope.ErrorTypeRuntime,
		message, "patched", "original")
	_ = env.Append(envelope.Attempt{Index: 1, ErrorsTotal: 3, Message: message},
		envelope.BreakerClosed, 1)
	_ = env.Seal(action, nil)
	return env
}

func TestRecordIgnoresUnsealedEnvelopes(t *testing.T) {
	idx := NewMemoryIndex(0, 0)

	open := envelope.New("patch_open", "sess", envelope.ErrorTypeLogic,
		"nil pointer dereference in handler", "p", "o")
	idx.Record(open)

	assert.Equal(t, 0, idx.HotLen())
	assert.Empty(t, idx.Similar("nil pointer dereference", "", 5))
}

func TestSimilarRanksByScore(t *testing.T) {
	idx := NewMemoryIndex(0, 0)
	idx.Record(sealedEnvelope("patch_close", "nil pointer dereference in request handler", envelope.ActionPromote))
	idx.Record(sealedEnvelope("patch_far", "timeout waiting for database migration lock", envelope.ActionStop))
	idx.Record(sealedEnvelope("patch_mid", "nil map assignment in handler setup", envelope.ActionRollback))

	matches := idx.Similar("nil pointer dereference in handler", "", 10)
	require.NotEmpty(t, matches)
	assert.Equal(t, "patch_close", matches[0].PatchID)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i].Score, matches[i-1].Score)
	}
	for _, m := range matches {
		assert.NotEqual(t, "patch_far", m.PatchID)
	}
}

func TestSimilarRespectsLimit(t *testing.T) {
	idx := NewMemoryIndex(0, 0)
	for i := 0; i < 8; i++ {
		idx.Record(sealedEnvelope(fmt.Sprintf("patch_%d", i),
			"index out of range in slice access", envelope.ActionStop))
	}

	matches := idx.Similar("index out of range", "", 3)
	assert.Len(t, matches, 3)
}

func TestSimilarEmptyQueryReturnsNothing(t *testing.T) {
	idx := NewMemoryIndex(0, 0)
	idx.Record(sealedEnvelope("patch_a", "syntax error near token", envelope.ActionSuccess))

	assert.Empty(t, idx.Similar("", "", 5))
	assert.Empty(t, idx.Similar("x", "", 5)) // single chars are noise
}

func TestRecordReplacesSamePatchID(t *testing.T) {
	idx := NewMemoryIndex(0, 0)
	idx.Record(sealedEnvelope("patch_dup", "first version of the message", envelope.ActionStop))
	idx.Record(sealedEnvelope("patch_dup", "second version of the message", envelope.ActionPromote))

	assert.Equal(t, 1, idx.HotLen())
	matches := idx.Similar("second version of the message", "", 5)
	require.Len(t, matches, 1)
	assert.Equal(t, envelope.ActionPromote, matches[0].FinalAction)
}

func TestEvictionKeepsHotSetBounded(t *testing.T) {
	idx := NewMemoryIndex(3, 2)
	for i := 0; i < 10; i++ {
		idx.Record(sealedEnvelope(fmt.Sprintf("patch_evict_%d", i),
			"recurring runtime failure in worker loop", envelope.ActionStop))
	}

	assert.Equal(t, 3, idx.HotLen())
	assert.Equal(t, 2, idx.OverflowLen())

	// Only the newest entries remain matchable.
	matches := idx.Similar("recurring runtime failure in worker loop", "", 10)
	assert.Len(t, matches, 3)
	seen := map[string]bool{}
	for _, m := range matches {
		seen[m.PatchID] = true
	}
	assert.True(t, seen["patch_evict_9"])
	assert.True(t, seen["patch_evict_8"])
	assert.True(t, seen["patch_evict_7"])
}

func TestTokenizerSplitsIdentifiers(t *testing.T) {
	terms := indexTerms("parseConfig failed", "pkg/loader.go")
	assert.True(t, terms["parse"])
	assert.True(t, terms["config"])
	assert.True(t, terms["failed"])
	assert.True(t, terms["loader"])
	assert.True(t, terms["go"])
}

func TestJaccardBounds(t *testing.T) {
	a := indexTerms("nil pointer dereference")
	b := indexTerms("nil pointer dereference")
	c := indexTerms("completely unrelated words here")

	assert.InDelta(t, 1.0, jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, jaccard(a, c))
	assert.Equal(t, 0.0, jaccard(a, map[string]bool{}))
}
