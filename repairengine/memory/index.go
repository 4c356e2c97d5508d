// Package memory indexes sealed repair envelopes for "find similar past
// outcome" lookups. Matching is term based rather than embedding based:
// messages and code are tokenized and compared with Jaccard similarity.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultHotCapacity bounds the number of entries eligible for
	// similarity matching.
	DefaultHotCapacity = 256

	// DefaultOverflowCapacity bounds entries evicted from the hot set.
	// Overflow entries are retained for Get-style recall but no longer
	// participate in similarity scoring.
	DefaultOverflowCapacity = 1024
)

// =============================================================================
// MEMORY INDEX
// =============================================================================

// Match is one similarity hit, ordered best first.
type Match struct {
	PatchID     string
	SessionID   string
	ErrorType   envelope.ErrorType
	Message     string
	FinalAction envelope.Action
	Attempts    int
	Score       float64
}

type entry struct {
	patchID     string
	sessionID   string
	errorType   envelope.ErrorType
	message     string
	finalAction envelope.Action
	attempts    int
	terms       map[string]bool
	seq         uint64
}

// MemoryIndex is a bounded index of terminal envelopes. Record and
// Similar are safe for concurrent use and never block on each other
// beyond a short critical section; lookups are best effort and may
// return fewer results than requested.
type MemoryIndex struct {
	mu          sync.RWMutex
	hot         []*entry
	overflow    []*entry
	hotCap      int
	overflowCap int
	nextSeq     uint64
}

// NewMemoryIndex creates an index with the given bounds. Values <= 0
// fall back to the defaults.
func NewMemoryIndex(hotCapacity, overflowCapacity int) *MemoryIndex {
	if hotCapacity <= 0 {
		hotCapacity = DefaultHotCapacity
	}
	if overflowCapacity <= 0 {
		overflowCapacity = DefaultOverflowCapacity
	}
	return &MemoryIndex{
		hotCap:      hotCapacity,
		overflowCap: overflowCapacity,
	}
}

// Record indexes a sealed envelope. Unsealed envelopes are ignored: the
// index only answers questions about completed sessions. Recording the
// same patch ID again replaces the previous entry.
func (idx *MemoryIndex) Record(env *envelope.Envelope) {
	if env == nil || env.FinalAction == nil {
		return
	}

	e := &entry{
		patchID:     env.PatchID,
		sessionID:   env.SessionID,
		errorType:   env.ErrorType,
		message:     env.Message,
		finalAction: *env.FinalAction,
		attempts:    len(env.Attempts),
		terms:       indexTerms(env.Message, env.OriginalCode, string(env.ErrorType)),
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(env.PatchID)

	e.seq = idx.nextSeq
	idx.nextSeq++
	idx.hot = append(idx.hot, e)

	// Evict oldest hot entries into the overflow, oldest first.
	for len(idx.hot) > idx.hotCap {
		oldest := idx.hot[0]
		idx.hot = idx.hot[1:]
		idx.overflow = append(idx.overflow, oldest)
	}
	for len(idx.overflow) > idx.overflowCap {
		idx.overflow = idx.overflow[1:]
	}
}

// Similar returns up to limit matches ordered by descending score.
// Entries with zero overlap are excluded. A limit <= 0 uses 10.
func (idx *MemoryIndex) Similar(message, code string, limit int) []Match {
	if limit <= 0 {
		limit = 10
	}
	query := indexTerms(message, code)
	if len(query) == 0 {
		return nil
	}

	idx.mu.RLock()
	matches := make([]Match, 0, len(idx.hot))
	for _, e := range idx.hot {
		score := jaccard(query, e.terms)
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{
			PatchID:     e.patchID,
			SessionID:   e.sessionID,
			ErrorType:   e.errorType,
			Message:     e.message,
			FinalAction: e.finalAction,
			Attempts:    e.attempts,
			Score:       score,
		})
	}
	idx.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].PatchID < matches[j].PatchID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// HotLen reports the current hot set size.
func (idx *MemoryIndex) HotLen() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.hot)
}

// OverflowLen reports the current overflow size.
func (idx *MemoryIndex) OverflowLen() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.overflow)
}

func (idx *MemoryIndex) removeLocked(patchID string) {
	for i, e := range idx.hot {
		if e.patchID == patchID {
			idx.hot = append(idx.hot[:i], idx.hot[i+1:]...)
			return
		}
	}
	for i, e := range idx.overflow {
		if e.patchID == patchID {
			idx.overflow = append(idx.overflow[:i], idx.overflow[i+1:]...)
			return
		}
	}
}

// =============================================================================
// TOKENIZATION
// =============================================================================

// indexTerms tokenizes the inputs into a lowercase term set. Identifier
// separators and camelCase boundaries split into words; single
// characters are dropped as noise.
func indexTerms(inputs ...string) map[string]bool {
	terms := make(map[string]bool)
	for _, input := range inputs {
		var expanded strings.Builder
		for i, r := range input {
			if i > 0 && r >= 'A' && r <= 'Z' {
				expanded.WriteRune(' ')
			}
			expanded.WriteRune(r)
		}

		text := strings.ToLower(expanded.String())
		text = strings.NewReplacer("_", " ", "-", " ", ".", " ", "/", " ",
			"(", " ", ")", " ", ":", " ", ",", " ", ";", " ", "=", " ").Replace(text)

		for _, word := range strings.Fields(text) {
			if len(word) >= 2 {
				terms[word] = true
			}
		}
	}
	return terms
}

// jaccard computes |intersection| / |union| over two term sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for term := range a {
		if b[term] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
