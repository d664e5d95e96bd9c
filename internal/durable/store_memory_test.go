package durable

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRunStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()

	rec := &RunRecord{RunID: "evt-1", Workflow: "wf", Input: json.RawMessage(`{"a":1}`)}
	require.NoError(t, store.Create(ctx, rec))
	assert.Equal(t, RunStatusPending, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NotZero(t, rec.ExpiresAt)

	err := store.Create(ctx, &RunRecord{RunID: "evt-1"})
	assert.True(t, errors.Is(err, ErrRunExists))

	got, err := store.Get(ctx, "evt-1")
	require.NoError(t, err)
	got.Results = append(got.Results, json.RawMessage(`true`))
	got.Input[2] = 'X'

	again, err := store.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, again.Results, "stored record must not alias caller copies")
	assert.JSONEq(t, `{"a":1}`, string(again.Input))

	again.Status = RunStatusCompleted
	require.NoError(t, store.Save(ctx, again))
	saved, err := store.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, saved.Status)

	assert.ErrorIs(t, store.Save(ctx, &RunRecord{RunID: "missing"}), ErrRunNotFound)
	require.NoError(t, store.Delete(ctx, "evt-1"))
	_, err = store.Get(ctx, "evt-1")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStatusTerminal(t *testing.T) {
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
}
