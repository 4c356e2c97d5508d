package governor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/repairkernel/commbus"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/memory"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/store"
)

// =============================================================================
// HISTORY QUERY HANDLERS
// =============================================================================

// RegisterHistoryHandlers wires the envelope history queries onto the
// bus: GetEnvelope and ListEnvelopes against the store, FindSimilar
// against the memory index, and a health check probing the store.
func RegisterHistoryHandlers(bus commbus.CommBus, st store.EnvelopeStore, idx *memory.MemoryIndex) error {
	if err := bus.RegisterHandler("GetEnvelope", func(ctx context.Context, msg commbus.Message) (any, error) {
		query, ok := msg.(*commbus.GetEnvelope)
		if !ok {
			return nil, fmt.Errorf("unexpected message type %T", msg)
		}
		env, err := st.Get(ctx, query.PatchID)
		if errors.Is(err, store.ErrNotFound) {
			return &commbus.EnvelopeResponse{Found: false}, nil
		}
		if err != nil {
			return nil, err
		}
		return &commbus.EnvelopeResponse{Found: true, State: env.ToStateDict()}, nil
	}); err != nil {
		return err
	}

	if err := bus.RegisterHandler("ListEnvelopes", func(ctx context.Context, msg commbus.Message) (any, error) {
		query, ok := msg.(*commbus.ListEnvelopes)
		if !ok {
			return nil, fmt.Errorf("unexpected message type %T", msg)
		}
		envs, err := st.List(ctx, query.Limit)
		if err != nil {
			return nil, err
		}
		states := make([]map[string]any, 0, len(envs))
		for _, env := range envs {
			states = append(states, env.ToStateDict())
		}
		return &commbus.ListEnvelopesResponse{States: states}, nil
	}); err != nil {
		return err
	}

	if err := bus.RegisterHandler("FindSimilar", func(ctx context.Context, msg commbus.Message) (any, error) {
		query, ok := msg.(*commbus.FindSimilar)
		if !ok {
			return nil, fmt.Errorf("unexpected message type %T", msg)
		}
		var matches []map[string]any
		if idx != nil {
			for _, m := range idx.Similar(query.Message, query.Code, query.Limit) {
				matches = append(matches, map[string]any{
					"patch_id":     m.PatchID,
					"session_id":   m.SessionID,
					"error_type":   string(m.ErrorType),
					"message":      m.Message,
					"final_action": string(m.FinalAction),
					"attempts":     m.Attempts,
					"score":        m.Score,
				})
			}
		}
		return &commbus.FindSimilarResponse{Matches: matches}, nil
	}); err != nil {
		return err
	}

	return bus.RegisterHandler("HealthCheckRequest", func(ctx context.Context, msg commbus.Message) (any, error) {
		status := commbus.HealthStatusHealthy
		details := map[string]any{}
		if _, err := st.List(ctx, 1); err != nil {
			status = commbus.HealthStatusUnhealthy
			details["store_error"] = err.Error()
		}
		if idx != nil {
			details["index_hot"] = idx.HotLen()
			details["index_overflow"] = idx.OverflowLen()
		}
		return &commbus.HealthCheckResponse{
			Component: "governor",
			Status:    string(status),
			Details:   details,
		}, nil
	})
}
