package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetPipeline(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))
	assert.NotEmpty(t, f.ID)

	got, err := s.GetPipeline(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.Len(t, got.Steps, 1)
}

func TestUpsertPipeline_UpdatesExistingRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))

	f.Name = "renamed"
	require.NoError(t, s.UpsertPipeline(ctx, f))

	pipelines, err := s.ListPipelines(ctx)
	require.NoError(t, err)
	require.Len(t, pipelines, 1)
	assert.Equal(t, "renamed", pipelines[0].Name)
}

func TestDeletePipeline_CascadesRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))
	r, err := s.CreateRun(ctx, f, "task", nil, "")
	require.NoError(t, err)

	require.NoError(t, s.DeletePipeline(ctx, f.ID))

	_, err = s.GetPipeline(ctx, f.ID)
	assert.Error(t, err)

	_, err = s.GetRun(ctx, r.ID)
	assert.Error(t, err)
}

func TestCreateRun_DefaultsToQueued(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))

	r, err := s.CreateRun(ctx, f, "do the thing", map[string]string{"k": "v"}, "happy_path")
	require.NoError(t, err)
	assert.Equal(t, run.StatusQueued, r.Status)
	assert.Equal(t, "happy_path", r.Scenario)

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "do the thing", got.Task)
	assert.Equal(t, "v", got.Inputs["k"])
}

func TestMarkRunningThenCompleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))
	r, err := s.CreateRun(ctx, f, "task", nil, "")
	require.NoError(t, err)

	require.NoError(t, s.MarkRunning(ctx, r.ID))
	require.NoError(t, s.MarkCompleted(ctx, r.ID))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)
}

func TestMarkCompleted_RejectsInvalidTransitionFromQueued(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))
	r, err := s.CreateRun(ctx, f, "task", nil, "")
	require.NoError(t, err)

	err = s.MarkCompleted(ctx, r.ID)
	assert.Error(t, err)
}

func TestAppendLog_AssignsSequentialIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))
	r, err := s.CreateRun(ctx, f, "task", nil, "")
	require.NoError(t, err)

	require.NoError(t, s.AppendLog(ctx, r.ID, run.LogLine{Level: "info", Message: "first"}))
	require.NoError(t, s.AppendLog(ctx, r.ID, run.LogLine{Level: "info", Message: "second"}))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Logs, 2)
	assert.Equal(t, 0, got.Logs[0].Index)
	assert.Equal(t, 1, got.Logs[1].Index)
}

func TestRecordStepAttempt_ReplacesExistingStepRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))
	r, err := s.CreateRun(ctx, f, "task", nil, "")
	require.NoError(t, err)

	require.NoError(t, s.RecordStepAttempt(ctx, r.ID, &run.StepRun{StepID: "a", Attempts: 1}))
	require.NoError(t, s.RecordStepAttempt(ctx, r.ID, &run.StepRun{StepID: "a", Attempts: 2}))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, 2, got.Steps[0].Attempts)
}

func TestResolveApproval_SetsDecisionAndNote(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))
	r, err := s.CreateRun(ctx, f, "task", nil, "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRun(ctx, r.ID, func(r *run.Run) error {
		r.Approvals = append(r.Approvals, &run.Approval{ID: "appr-1", Status: run.ApprovalStatusPending})
		return nil
	}))

	require.NoError(t, s.ResolveApproval(ctx, r.ID, "appr-1", run.ApprovalStatusApproved, "looks good"))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ApprovalStatusApproved, got.Approvals[0].Status)
	assert.Equal(t, "looks good", got.Approvals[0].Note)
	assert.NotNil(t, got.Approvals[0].ResolvedAt)
}

func TestListRuns_FiltersByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &flow.Flow{Name: "demo", Steps: []flow.Step{{ID: "a"}}}
	require.NoError(t, s.UpsertPipeline(ctx, f))

	r1, err := s.CreateRun(ctx, f, "task1", nil, "")
	require.NoError(t, err)
	r2, err := s.CreateRun(ctx, f, "task2", nil, "")
	require.NoError(t, err)
	require.NoError(t, s.MarkRunning(ctx, r2.ID))

	queued, err := s.ListRuns(ctx, []run.Status{run.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, r1.ID, queued[0].ID)

	running, err := s.ListRuns(ctx, []run.Status{run.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, r2.ID, running[0].ID)
}

func TestSnapshotRunState_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	r := &run.Run{ID: "r1", Status: run.StatusRunning, Steps: []*run.StepRun{{StepID: "a", Attempts: 2}}}

	require.NoError(t, SnapshotRunState(r, dir))

	got, found, err := ReadRunSnapshot(dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, 2, got.Steps[0].Attempts)
}

func TestReadRunSnapshot_MissingReturnsNotFound(t *testing.T) {
	_, found, err := ReadRunSnapshot(t.TempDir())
	require.NoError(t, err)
	assert.False(t, found)
}
