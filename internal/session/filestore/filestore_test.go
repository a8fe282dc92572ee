package filestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/planmodel"
	"github.com/fudanyi/agentflow/internal/session"
)

func TestSaveThenLoad_RoundTripsSnapshot(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	snap := session.Snapshot{
		SessionID:        "sess-1",
		ActivePlanID:     "plan_1",
		CurrentStepIndex: 2,
		Plans: map[string]*planmodel.Plan{
			"plan_1": {PlanID: "plan_1", Title: "Demo", Sections: []planmodel.Section{{Title: "Work", Steps: []string{"a", "b"}}}},
		},
		Memory: []model.Message{model.UserMessage("hello")},
		Agents: map[string]session.AgentSnapshot{
			"executor": {CurrentStep: 1, State: "running"},
		},
	}

	require.NoError(t, store.Save(ctx, snap))

	has, err := store.Has(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, has)

	got, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, snap.ActivePlanID, got.ActivePlanID)
	assert.Equal(t, snap.CurrentStepIndex, got.CurrentStepIndex)
	assert.Equal(t, "Demo", got.Plans["plan_1"].Title)
	assert.Equal(t, "hello", got.Memory[0].Text())
	assert.False(t, got.SavedAt.IsZero())
}

func TestLoad_MissingSessionReturnsErrNotFound(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	has, err := store.Has(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
