package commbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *InMemoryCommBus {
	return NewInMemoryCommBus(2*time.Second, NopLogger())
}

// =============================================================================
// PUBLISH TESTS
// =============================================================================

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := newTestBus()
	var count atomic.Int64

	for i := 0; i < 3; i++ {
		bus.Subscribe("AttemptEvaluated", func(ctx context.Context, msg Message) (any, error) {
			count.Add(1)
			return nil, nil
		})
	}

	err := bus.Publish(context.Background(), &AttemptEvaluated{PatchID: "p1", Index: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count.Load())
}

func TestPublishNoSubscribersIsNoop(t *testing.T) {
	bus := newTestBus()

	err := bus.Publish(context.Background(), &RunStarted{PatchID: "p1"})
	assert.NoError(t, err)
}

func TestPublishSubscriberErrorDoesNotStopOthers(t *testing.T) {
	bus := newTestBus()
	var succeeded atomic.Int64

	bus.Subscribe("RunCompleted", func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New("subscriber boom")
	})
	bus.Subscribe("RunCompleted", func(ctx context.Context, msg Message) (any, error) {
		succeeded.Add(1)
		return nil, nil
	})

	err := bus.Publish(context.Background(), &RunCompleted{PatchID: "p1", FinalAction: "stop"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), succeeded.Load())
}

func TestPublishDeliversPayload(t *testing.T) {
	bus := newTestBus()
	var mu sync.Mutex
	var got *AttemptEvaluated

	bus.Subscribe("AttemptEvaluated", func(ctx context.Context, msg Message) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		got = msg.(*AttemptEvaluated)
		return nil, nil
	})

	event := &AttemptEvaluated{
		PatchID:      "p1",
		Index:        3,
		ErrorsTotal:  6,
		Confidence:   0.7,
		Trend:        "improving",
		BreakerState: "closed",
		Action:       "retry",
	}
	require.NoError(t, bus.Publish(context.Background(), event))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Index)
	assert.Equal(t, "improving", got.Trend)
}

// =============================================================================
// SUBSCRIBE / UNSUBSCRIBE TESTS
// =============================================================================

func TestUnsubscribeRemovesOnlyThatSubscriber(t *testing.T) {
	bus := newTestBus()
	var first, second atomic.Int64

	unsubFirst := bus.Subscribe("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		first.Add(1)
		return nil, nil
	})
	bus.Subscribe("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		second.Add(1)
		return nil, nil
	})

	unsubFirst()
	require.NoError(t, bus.Publish(context.Background(), &RunStarted{PatchID: "p1"}))

	assert.Equal(t, int64(0), first.Load())
	assert.Equal(t, int64(1), second.Load())
	assert.Len(t, bus.GetSubscribers("RunStarted"), 1)
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	bus := newTestBus()

	unsub := bus.Subscribe("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	})
	bus.Subscribe("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	})

	unsub()
	unsub()
	assert.Len(t, bus.GetSubscribers("RunStarted"), 1)
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSendInvokesSingleHandler(t *testing.T) {
	bus := newTestBus()
	var invoked atomic.Int64

	require.NoError(t, bus.RegisterHandler("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		invoked.Add(1)
		return nil, nil
	}))

	require.NoError(t, bus.Send(context.Background(), &RunStarted{PatchID: "p1"}))
	assert.Equal(t, int64(1), invoked.Load())
}

func TestSendWithoutHandlerIsNoop(t *testing.T) {
	bus := newTestBus()

	assert.NoError(t, bus.Send(context.Background(), &RunStarted{PatchID: "p1"}))
}

func TestSendReturnsHandlerError(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New("handler boom")
	}))

	err := bus.Send(context.Background(), &RunStarted{PatchID: "p1"})
	assert.Error(t, err)
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestQuerySyncReturnsHandlerResponse(t *testing.T) {
	bus := newTestBus()

	require.NoError(t, bus.RegisterHandler("GetEnvelope", func(ctx context.Context, msg Message) (any, error) {
		query := msg.(*GetEnvelope)
		return &EnvelopeResponse{Found: true, State: map[string]any{"patch_id": query.PatchID}}, nil
	}))

	result, err := bus.QuerySync(context.Background(), &GetEnvelope{PatchID: "p1"})
	require.NoError(t, err)

	resp, ok := result.(*EnvelopeResponse)
	require.True(t, ok)
	assert.True(t, resp.Found)
	assert.Equal(t, "p1", resp.State["patch_id"])
}

func TestQuerySyncNoHandler(t *testing.T) {
	bus := newTestBus()

	_, err := bus.QuerySync(context.Background(), &GetEnvelope{PatchID: "p1"})
	require.Error(t, err)

	var noHandler *NoHandlerError
	assert.ErrorAs(t, err, &noHandler)
}

func TestQuerySyncTimesOut(t *testing.T) {
	bus := NewInMemoryCommBus(50*time.Millisecond, NopLogger())

	require.NoError(t, bus.RegisterHandler("ListEnvelopes", func(ctx context.Context, msg Message) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := bus.QuerySync(context.Background(), &ListEnvelopes{Limit: 10})
	require.Error(t, err)

	var timeout *QueryTimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestRegisterHandlerRejectsDuplicates(t *testing.T) {
	bus := newTestBus()

	handler := func(ctx context.Context, msg Message) (any, error) { return nil, nil }
	require.NoError(t, bus.RegisterHandler("GetEnvelope", handler))

	err := bus.RegisterHandler("GetEnvelope", handler)
	require.Error(t, err)

	var dup *HandlerAlreadyRegisteredError
	assert.ErrorAs(t, err, &dup)
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

// recordingMiddleware tracks before/after invocations for ordering assertions.
type recordingMiddleware struct {
	name  string
	trace *[]string
	mu    *sync.Mutex
}

func (m *recordingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.trace = append(*m.trace, m.name+".before")
	return message, nil
}

func (m *recordingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.trace = append(*m.trace, m.name+".after")
	return result, nil
}

func TestMiddlewareRunsInOrderAndReverses(t *testing.T) {
	bus := newTestBus()
	var trace []string
	var mu sync.Mutex

	bus.AddMiddleware(&recordingMiddleware{name: "outer", trace: &trace, mu: &mu})
	bus.AddMiddleware(&recordingMiddleware{name: "inner", trace: &trace, mu: &mu})
	require.NoError(t, bus.RegisterHandler("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	}))

	require.NoError(t, bus.Send(context.Background(), &RunStarted{PatchID: "p1"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"outer.before", "inner.before", "inner.after", "outer.after"}, trace)
}

// abortMiddleware drops every message.
type abortMiddleware struct{}

func (abortMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	return nil, nil
}

func (abortMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, nil
}

func TestMiddlewareCanAbortMessage(t *testing.T) {
	bus := newTestBus()
	var invoked atomic.Int64

	bus.AddMiddleware(abortMiddleware{})
	bus.Subscribe("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		invoked.Add(1)
		return nil, nil
	})

	require.NoError(t, bus.Publish(context.Background(), &RunStarted{PatchID: "p1"}))
	assert.Equal(t, int64(0), invoked.Load())
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	mw := NewLoggingMiddleware(NopLogger())
	msg := &RunStarted{PatchID: "p1"}

	processed, err := mw.Before(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, Message(msg), processed)

	result, err := mw.After(context.Background(), msg, "result", nil)
	require.NoError(t, err)
	assert.Equal(t, "result", result)
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE TESTS
// =============================================================================

func TestCircuitBreakerMiddlewareOpensAfterThreshold(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(3, time.Minute, nil, NopLogger())
	msg := &GetEnvelope{PatchID: "p1"}
	ctx := context.Background()

	boom := errors.New("handler boom")
	for i := 0; i < 3; i++ {
		_, _ = mw.After(ctx, msg, nil, boom)
	}

	assert.Equal(t, "open", mw.GetStates()["GetEnvelope"])

	// Open circuit blocks the next request.
	processed, err := mw.Before(ctx, msg)
	require.NoError(t, err)
	assert.Nil(t, processed)
}

func TestCircuitBreakerMiddlewareHalfOpenRecovery(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(1, time.Millisecond, nil, NopLogger())
	msg := &GetEnvelope{PatchID: "p1"}
	ctx := context.Background()

	_, _ = mw.After(ctx, msg, nil, errors.New("handler boom"))
	require.Equal(t, "open", mw.GetStates()["GetEnvelope"])

	time.Sleep(5 * time.Millisecond)

	// Reset timeout elapsed: half-open probe allowed.
	processed, err := mw.Before(ctx, msg)
	require.NoError(t, err)
	require.NotNil(t, processed)
	assert.Equal(t, "half-open", mw.GetStates()["GetEnvelope"])

	// Probe success closes the circuit.
	_, _ = mw.After(ctx, msg, nil, nil)
	assert.Equal(t, "closed", mw.GetStates()["GetEnvelope"])
}

func TestCircuitBreakerMiddlewareExcludedTypesBypass(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(1, time.Minute, []string{"HealthCheckRequest"}, NopLogger())
	msg := &HealthCheckRequest{Component: "store"}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = mw.After(ctx, msg, nil, errors.New("handler boom"))
	}

	processed, err := mw.Before(ctx, msg)
	require.NoError(t, err)
	assert.NotNil(t, processed)
}

func TestCircuitBreakerMiddlewareReset(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(1, time.Minute, nil, NopLogger())
	msg := &GetEnvelope{PatchID: "p1"}
	ctx := context.Background()

	_, _ = mw.After(ctx, msg, nil, errors.New("handler boom"))
	require.Equal(t, "open", mw.GetStates()["GetEnvelope"])

	msgType := "GetEnvelope"
	mw.Reset(&msgType)
	assert.Empty(t, mw.GetStates())
}

// =============================================================================
// INTROSPECTION / LIFECYCLE TESTS
// =============================================================================

func TestHasHandler(t *testing.T) {
	bus := newTestBus()

	assert.False(t, bus.HasHandler("GetEnvelope"))
	require.NoError(t, bus.RegisterHandler("GetEnvelope", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	}))
	assert.True(t, bus.HasHandler("GetEnvelope"))
}

func TestGetRegisteredTypes(t *testing.T) {
	bus := newTestBus()

	require.NoError(t, bus.RegisterHandler("GetEnvelope", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	}))
	bus.Subscribe("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	})

	types := bus.GetRegisteredTypes()
	assert.ElementsMatch(t, []string{"GetEnvelope", "RunStarted"}, types)
}

func TestClearRemovesEverything(t *testing.T) {
	bus := newTestBus()

	require.NoError(t, bus.RegisterHandler("GetEnvelope", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	}))
	bus.Subscribe("RunStarted", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	})
	bus.AddMiddleware(abortMiddleware{})

	bus.Clear()

	assert.False(t, bus.HasHandler("GetEnvelope"))
	assert.Empty(t, bus.GetSubscribers("RunStarted"))
	assert.Empty(t, bus.GetRegisteredTypes())
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := newTestBus()
	var count atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Subscribe("AttemptEvaluated", func(ctx context.Context, msg Message) (any, error) {
				count.Add(1)
				return nil, nil
			})
			_ = bus.Publish(context.Background(), &AttemptEvaluated{PatchID: "p1"})
		}()
	}
	wg.Wait()

	// Every publish sees at least the goroutine's own subscriber.
	assert.GreaterOrEqual(t, count.Load(), int64(8))
}
