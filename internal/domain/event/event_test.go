package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsIdentityAndCorrelation(t *testing.T) {
	evt := New(TypeTaskStatusChanged, map[string]interface{}{"to_status": "DONE"})

	assert.NotEmpty(t, evt.ID)
	assert.NotEmpty(t, evt.CorrelationID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, TypeTaskStatusChanged, evt.Type)

	other := New(TypeTaskStatusChanged, nil)
	assert.NotEqual(t, evt.ID, other.ID)
}

func TestNewWithCorrelationJoinsChain(t *testing.T) {
	evt := NewWithCorrelation(TypeDecisionCompleted, nil, "corr-123")
	assert.Equal(t, "corr-123", evt.CorrelationID)

	// An empty correlation keeps the generated one instead of wiping it.
	evt = NewWithCorrelation(TypeDecisionCompleted, nil, "")
	assert.NotEmpty(t, evt.CorrelationID)
}

func TestNewForTaskScopesAggregate(t *testing.T) {
	evt := NewForTask(TypeTaskTagged, "t-1", "org-1", nil)
	assert.Equal(t, "t-1", evt.TaskID)
	assert.Equal(t, "org-1", evt.OrgID)
}

func TestWithPayloadIsImmutable(t *testing.T) {
	evt := New(TypeSweepCompleted, map[string]interface{}{"sweep": "sla"})
	enriched := evt.WithPayload("duration_ms", int64(42))

	require.NotSame(t, evt, enriched)
	assert.NotContains(t, evt.Payload, "duration_ms")
	assert.Equal(t, int64(42), enriched.GetPayloadInt("duration_ms"))
	assert.Equal(t, "sla", enriched.GetPayloadString("sweep"))
}

func TestPayloadAccessorsCoerceTypes(t *testing.T) {
	evt := New(TypeStatsAggregated, map[string]interface{}{
		"count_int":   7,
		"count_float": 7.0,
		"score":       0.85,
		"flag":        true,
		"name":        "weekly",
		"wrong_type":  []string{"x"},
	})

	assert.Equal(t, int64(7), evt.GetPayloadInt("count_int"))
	assert.Equal(t, int64(7), evt.GetPayloadInt("count_float"))
	assert.Equal(t, 0.85, evt.GetPayloadFloat("score"))
	assert.Equal(t, float64(7), evt.GetPayloadFloat("count_int"))
	assert.True(t, evt.GetPayloadBool("flag"))
	assert.Equal(t, "weekly", evt.GetPayloadString("name"))

	assert.Equal(t, "", evt.GetPayloadString("wrong_type"))
	assert.Equal(t, int64(0), evt.GetPayloadInt("missing"))
	assert.False(t, evt.GetPayloadBool("missing"))
}
