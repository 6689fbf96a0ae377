package engine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/gate"
	"github.com/fyreflow/engine/internal/policy"
	"github.com/fyreflow/engine/internal/provider"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

type fakeInvoker struct {
	output string
	err    error
	calls  int
}

func (f *fakeInvoker) Invoke(ctx context.Context, cfg provider.Config, req provider.Request, log *slog.Logger) (string, error) {
	f.calls++
	return f.output, f.err
}

func testProviders(cfg provider.Config, ok bool) ProviderResolver {
	return func(id string) (provider.Config, bool) { return cfg, ok }
}

func newTestExecutor(t *testing.T, invoker provider.Invoker, resolver ProviderResolver) *Executor {
	t.Helper()
	return NewExecutor(ExecutorDeps{
		Invoker:        invoker,
		Gates:          gate.New(),
		Policies:       policy.NewRegistry(),
		Providers:      resolver,
		BaseStorageDir: t.TempDir(),
	})
}

func TestExecuteAttempt_ProviderNotConfigured_FailsStep(t *testing.T) {
	exec := newTestExecutor(t, &fakeInvoker{}, testProviders(provider.Config{}, false))
	f := &flow.Flow{Steps: []flow.Step{{ID: "a", ProviderID: "missing"}}}
	r := &run.Run{ID: "r1"}

	sr, err := exec.ExecuteAttempt(context.Background(), f, r, f.Steps[0], run.ReasonEntryStep, "", nil)
	require.NoError(t, err)
	assert.Equal(t, run.StepStatusFailed, sr.Status)
	assert.Contains(t, sr.Error, "missing")
}

func TestExecuteAttempt_SuccessfulPassOutcome(t *testing.T) {
	invoker := &fakeInvoker{output: `{"workflow_status":"PASS"}`}
	exec := newTestExecutor(t, invoker, testProviders(provider.Config{Kind: provider.KindOpenAI}, true))
	f := &flow.Flow{Steps: []flow.Step{{ID: "a", ProviderID: "p1"}}}
	r := &run.Run{ID: "r1", Task: "do thing"}

	sr, err := exec.ExecuteAttempt(context.Background(), f, r, f.Steps[0], run.ReasonEntryStep, "", nil)
	require.NoError(t, err)
	assert.Equal(t, run.StepStatusCompleted, sr.Status)
	assert.Equal(t, run.WorkflowOutcomePass, sr.WorkflowOutcome)
	assert.Equal(t, 1, invoker.calls)
}

func TestExecuteAttempt_ProviderErrorFailsStepWithBlockingGate(t *testing.T) {
	invoker := &fakeInvoker{err: assert.AnError}
	exec := newTestExecutor(t, invoker, testProviders(provider.Config{Kind: provider.KindOpenAI}, true))
	f := &flow.Flow{Steps: []flow.Step{{ID: "a", ProviderID: "p1"}}}
	r := &run.Run{ID: "r1"}

	sr, err := exec.ExecuteAttempt(context.Background(), f, r, f.Steps[0], run.ReasonEntryStep, "", nil)
	require.NoError(t, err)
	assert.Equal(t, run.StepStatusFailed, sr.Status)
	assert.True(t, sr.BlockingFailure())
}

func TestExecuteAttempt_DeliveryCompletionInvariant_RejectsNonTerminalComplete(t *testing.T) {
	invoker := &fakeInvoker{output: `{"workflow_status":"COMPLETE"}`}
	exec := newTestExecutor(t, invoker, testProviders(provider.Config{Kind: provider.KindOpenAI}, true))
	f := &flow.Flow{
		Steps: []flow.Step{
			{ID: "a", ProviderID: "p1"},
			{ID: "delivery", Role: flow.RoleExecutor},
		},
		Links: []flow.Link{{SourceStepID: "a", TargetStepID: "delivery", Condition: flow.ConditionAlways}},
	}
	r := &run.Run{ID: "r1"}

	sr, err := exec.ExecuteAttempt(context.Background(), f, r, f.Steps[0], run.ReasonEntryStep, "", nil)
	require.NoError(t, err)
	assert.Equal(t, run.StepStatusFailed, sr.Status)
	found := false
	for _, g := range sr.QualityGateResults {
		if g.GateID == "delivery:completion_invariant" {
			found = true
		}
	}
	assert.True(t, found, "expected delivery completion invariant gate result")
}

func TestExecuteAttempt_SkipIfArtifactsMissing_RunsProvider(t *testing.T) {
	invoker := &fakeInvoker{output: `{"workflow_status":"PASS"}`}
	exec := newTestExecutor(t, invoker, testProviders(provider.Config{Kind: provider.KindOpenAI}, true))
	f := &flow.Flow{Steps: []flow.Step{{ID: "a", ProviderID: "p1", SkipIfArtifacts: []string{"{{shared_storage_path}}/out.txt"}}}}
	r := &run.Run{ID: "r1"}

	sr, err := exec.ExecuteAttempt(context.Background(), f, r, f.Steps[0], run.ReasonEntryStep, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, invoker.calls)
	assert.Equal(t, run.StepStatusCompleted, sr.Status)
}

func TestExecuteAttempt_ForceRebuildInputBypassesCacheEvenWithoutSkipMatch(t *testing.T) {
	invoker := &fakeInvoker{output: `{"workflow_status":"PASS"}`}
	exec := newTestExecutor(t, invoker, testProviders(provider.Config{Kind: provider.KindOpenAI}, true))
	f := &flow.Flow{Steps: []flow.Step{{ID: "a", ProviderID: "p1", SkipIfArtifacts: []string{"{{shared_storage_path}}/out.txt"}}}}
	r := &run.Run{ID: "r1", Inputs: map[string]string{"force_rebuild": "true"}}

	_, err := exec.ExecuteAttempt(context.Background(), f, r, f.Steps[0], run.ReasonEntryStep, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, invoker.calls)
}
