package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/store"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

type fakeOwners struct {
	owned map[string]bool
}

func (f fakeOwners) IsOwned(runID string) bool { return f.owned[runID] }

func TestPrepareForReattach_DemotesRunningStepsPreservingAttempts(t *testing.T) {
	r := &run.Run{
		Steps: []*run.StepRun{
			{StepID: "a", Status: run.StepStatusRunning, Attempts: 2},
			{StepID: "b", Status: run.StepStatusCompleted, Attempts: 1},
		},
	}
	n := PrepareForReattach(r)
	assert.Equal(t, 1, n)
	assert.Equal(t, run.StepStatusPending, r.Steps[0].Status)
	assert.Equal(t, 2, r.Steps[0].Attempts)
	assert.Equal(t, run.StepStatusCompleted, r.Steps[1].Status)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecover_ReattachesRunningRunWithNoLiveOwner(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, st.UpsertPipeline(ctx, f))

	r, err := st.CreateRun(ctx, f, "do it", nil, "")
	require.NoError(t, err)
	require.NoError(t, st.MarkRunning(ctx, r.ID))
	require.NoError(t, st.RecordStepAttempt(ctx, r.ID, &run.StepRun{StepID: "a", Status: run.StepStatusRunning, Attempts: 1}))

	var resumed []*run.Run
	deps := RecoveryDeps{
		Store:          st,
		Owners:         fakeOwners{owned: map[string]bool{}},
		ResolveFlow:    func(id string) (*flow.Flow, bool) { return f, id == f.ID },
		Resume:         func(f *flow.Flow, r *run.Run) { resumed = append(resumed, r) },
		BaseStorageDir: t.TempDir(),
	}

	err = Recover(ctx, deps, nil)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, run.StepStatusPending, resumed[0].Steps[0].Status)
	assert.Equal(t, 1, resumed[0].Steps[0].Attempts)
}

func TestRecover_SkipsRunsWithLiveOwner(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, st.UpsertPipeline(ctx, f))
	r, err := st.CreateRun(ctx, f, "do it", nil, "")
	require.NoError(t, err)
	require.NoError(t, st.MarkRunning(ctx, r.ID))

	var resumed []*run.Run
	deps := RecoveryDeps{
		Store:          st,
		Owners:         fakeOwners{owned: map[string]bool{r.ID: true}},
		ResolveFlow:    func(id string) (*flow.Flow, bool) { return f, true },
		Resume:         func(f *flow.Flow, r *run.Run) { resumed = append(resumed, r) },
		BaseStorageDir: t.TempDir(),
	}

	err = Recover(ctx, deps, nil)
	require.NoError(t, err)
	assert.Empty(t, resumed)
}

func TestRecover_PreservesPausedStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, st.UpsertPipeline(ctx, f))
	r, err := st.CreateRun(ctx, f, "do it", nil, "")
	require.NoError(t, err)
	require.NoError(t, st.MarkRunning(ctx, r.ID))
	require.NoError(t, st.MarkPaused(ctx, r.ID))

	var resumed []*run.Run
	deps := RecoveryDeps{
		Store:          st,
		Owners:         fakeOwners{owned: map[string]bool{}},
		ResolveFlow:    func(id string) (*flow.Flow, bool) { return f, true },
		Resume:         func(f *flow.Flow, r *run.Run) { resumed = append(resumed, r) },
		BaseStorageDir: t.TempDir(),
	}

	err = Recover(ctx, deps, nil)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, run.StatusPaused, resumed[0].Status)
}
