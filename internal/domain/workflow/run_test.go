package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMachineHappyPath(t *testing.T) {
	m := NewRunMachine()
	ctx := context.Background()

	assert.Equal(t, StateScheduled, m.State())
	require.NoError(t, m.Fire(ctx, TriggerStart))
	assert.Equal(t, StateRunning, m.State())
	require.NoError(t, m.Fire(ctx, TriggerComplete))
	assert.Equal(t, StateCompleted, m.State())
}

func TestRunMachineFailureAndRetry(t *testing.T) {
	m := NewRunMachine()
	ctx := context.Background()

	require.NoError(t, m.Fire(ctx, TriggerStart))
	require.NoError(t, m.Fire(ctx, TriggerFail))
	assert.Equal(t, StateFailed, m.State())

	// A failed run may be rescheduled and started again.
	require.NoError(t, m.Fire(ctx, TriggerRetry))
	assert.Equal(t, StateScheduled, m.State())
	require.NoError(t, m.Fire(ctx, TriggerStart))
	assert.Equal(t, StateRunning, m.State())
}

func TestRunMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewRunMachine()
	ctx := context.Background()

	err := m.Fire(ctx, TriggerComplete)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateScheduled, m.State())

	require.NoError(t, m.Fire(ctx, TriggerStart))
	require.NoError(t, m.Fire(ctx, TriggerComplete))

	// Completed is terminal.
	assert.Empty(t, m.PermittedTriggers())
	require.Error(t, m.Fire(ctx, TriggerStart))
}

func TestRunMachineCanFire(t *testing.T) {
	m := NewRunMachine()

	assert.True(t, m.CanFire(TriggerStart))
	assert.False(t, m.CanFire(TriggerComplete))
	assert.False(t, m.CanFire(TriggerRetry))
}

func TestGuardedTransition(t *testing.T) {
	allowed := false
	b := NewBuilder()
	b.Configure(StateScheduled).
		PermitIf(TriggerStart, StateRunning, func(ctx context.Context) bool { return allowed })
	m := b.Build(StateScheduled)

	err := m.Fire(context.Background(), TriggerStart)
	require.ErrorIs(t, err, ErrGuardFailed)
	assert.Equal(t, StateScheduled, m.State())

	allowed = true
	require.NoError(t, m.Fire(context.Background(), TriggerStart))
	assert.Equal(t, StateRunning, m.State())
}

func TestMachinesFromSameBuilderAreIndependent(t *testing.T) {
	b := NewBuilder()
	b.Configure(StateScheduled).Permit(TriggerStart, StateRunning)

	m1 := b.Build(StateScheduled)
	m2 := b.Build(StateScheduled)

	require.NoError(t, m1.Fire(context.Background(), TriggerStart))
	assert.Equal(t, StateRunning, m1.State())
	assert.Equal(t, StateScheduled, m2.State())
}
