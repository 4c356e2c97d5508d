// Package commbus provides tests for message types.
package commbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// MESSAGE CATEGORY TESTS
// =============================================================================

func TestEventCategories(t *testing.T) {
	events := []Message{
		&RunStarted{},
		&RunCompleted{},
		&AttemptEvaluated{},
		&BreakerTripped{},
		&CascadeExceeded{},
		&StoreWriteFailed{},
	}
	for _, msg := range events {
		assert.Equal(t, "event", msg.Category(), "%T", msg)
	}
}

func TestQueryCategories(t *testing.T) {
	queries := []Query{
		&GetEnvelope{},
		&ListEnvelopes{},
		&FindSimilar{},
		&HealthCheckRequest{},
	}
	for _, msg := range queries {
		assert.Equal(t, "query", msg.Category(), "%T", msg)
	}
}

// =============================================================================
// MESSAGE TYPE ROUTING TESTS
// =============================================================================

func TestGetMessageType(t *testing.T) {
	cases := map[string]Message{
		"RunStarted":         &RunStarted{},
		"RunCompleted":       &RunCompleted{},
		"AttemptEvaluated":   &AttemptEvaluated{},
		"BreakerTripped":     &BreakerTripped{},
		"CascadeExceeded":    &CascadeExceeded{},
		"StoreWriteFailed":   &StoreWriteFailed{},
		"GetEnvelope":        &GetEnvelope{},
		"ListEnvelopes":      &ListEnvelopes{},
		"FindSimilar":        &FindSimilar{},
		"HealthCheckRequest": &HealthCheckRequest{},
	}
	for want, msg := range cases {
		assert.Equal(t, want, GetMessageType(msg))
	}
}

// dynamicMessage exercises the TypedMessage escape hatch.
type dynamicMessage struct {
	name string
}

func (m *dynamicMessage) Category() string    { return "event" }
func (m *dynamicMessage) MessageType() string { return m.name }

func TestGetMessageTypeHonorsTypedMessage(t *testing.T) {
	msg := &dynamicMessage{name: "CustomEvent"}
	assert.Equal(t, "CustomEvent", GetMessageType(msg))
}

func TestGetMessageTypeUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", GetMessageType(nopMessage{}))
}

type nopMessage struct{}

func (nopMessage) Category() string { return "event" }
