package gate_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/artifact"
	"github.com/fyreflow/engine/internal/contract"
	"github.com/fyreflow/engine/internal/gate"
	"github.com/fyreflow/engine/pkg/flow"
)

func TestStepContracts_JSONOutputFormatMissingFailsBlocking(t *testing.T) {
	e := gate.New()
	step := flow.Step{OutputFormat: flow.OutputFormatJSON}

	results := e.StepContracts(context.Background(), step, nil, artifact.StoragePaths{}, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "fail", string(results[0].Status))
	assert.True(t, results[0].Blocking)
}

func TestStepContracts_RequiredFieldResolvesViaJQ(t *testing.T) {
	e := gate.New()
	step := flow.Step{RequiredOutputFields: []string{"result.ok"}}
	c := contract.Parse(`{"status": "pass", "result": {"ok": true}}`)

	results := e.StepContracts(context.Background(), step, c, artifact.StoragePaths{}, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "pass", string(results[0].Status))
}

func TestStepContracts_RequiredFieldMissingFails(t *testing.T) {
	e := gate.New()
	step := flow.Step{RequiredOutputFields: []string{"result.missing"}}
	c := contract.Parse(`{"status": "pass", "result": {"ok": true}}`)

	results := e.StepContracts(context.Background(), step, c, artifact.StoragePaths{}, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "fail", string(results[0].Status))
}

func TestStepContracts_RequiredFileFoundPasses(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.json"), []byte(`{}`), 0o644))

	e := gate.New()
	step := flow.Step{RequiredOutputFiles: []string{"{{shared_storage_path}}/out.json"}}
	storage := artifact.StoragePaths{SharedPath: dir}

	results := e.StepContracts(context.Background(), step, nil, storage, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "pass", string(results[0].Status))
}

func TestPipelineGates_RegexMustMatch(t *testing.T) {
	e := gate.New()
	gates := []flow.QualityGate{
		{ID: "g1", Kind: flow.GateKindRegexMustMatch, Pattern: `\bdone\b`, Blocking: true, TargetStepID: "s1"},
	}
	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, nil, artifact.StoragePaths{}, nil, "the task is done")
	require.Len(t, results, 1)
	assert.Equal(t, "pass", string(results[0].Status))
}

func TestPipelineGates_RegexMustNotMatchFailsWhenPresent(t *testing.T) {
	e := gate.New()
	gates := []flow.QualityGate{
		{ID: "g1", Kind: flow.GateKindRegexMustNotMatch, Pattern: `TODO`, Blocking: true, TargetStepID: flow.AnyStepTarget},
	}
	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, nil, artifact.StoragePaths{}, nil, "still has a TODO left")
	require.Len(t, results, 1)
	assert.Equal(t, "fail", string(results[0].Status))
}

func TestPipelineGates_EmptyPatternFails(t *testing.T) {
	e := gate.New()
	gates := []flow.QualityGate{{ID: "g1", Kind: flow.GateKindRegexMustMatch, Pattern: "", TargetStepID: flow.AnyStepTarget}}
	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, nil, artifact.StoragePaths{}, nil, "anything")
	require.Len(t, results, 1)
	assert.Equal(t, "fail", string(results[0].Status))
}

func TestPipelineGates_JSONFieldExists(t *testing.T) {
	e := gate.New()
	c := contract.Parse(`{"status": "pass", "nested": {"field": 1}}`)
	gates := []flow.QualityGate{{ID: "g1", Kind: flow.GateKindJSONFieldExists, JSONPath: "nested.field", TargetStepID: flow.AnyStepTarget}}

	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, c, artifact.StoragePaths{}, nil, "")
	require.Len(t, results, 1)
	assert.Equal(t, "pass", string(results[0].Status))
}

func TestPipelineGates_JSONFieldExistsNonJSONOutputFails(t *testing.T) {
	e := gate.New()
	gates := []flow.QualityGate{{ID: "g1", Kind: flow.GateKindJSONFieldExists, JSONPath: "x", TargetStepID: flow.AnyStepTarget}}

	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, nil, artifact.StoragePaths{}, nil, "plain text")
	require.Len(t, results, 1)
	assert.Equal(t, "fail", string(results[0].Status))
}

func TestPipelineGates_ArtifactExistsStorageDisabled(t *testing.T) {
	e := gate.New()
	gates := []flow.QualityGate{{ID: "g1", Kind: flow.GateKindArtifactExists, ArtifactPath: "{{shared_storage_path}}/x.json", Blocking: true, TargetStepID: flow.AnyStepTarget}}
	storage := artifact.StoragePaths{SharedDisabled: true}

	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, nil, storage, nil, "")
	require.Len(t, results, 1)
	assert.Equal(t, "fail", string(results[0].Status))
	assert.Contains(t, results[0].Message, "disabled")
}

func TestPipelineGates_ManualApprovalNotEvaluatedHere(t *testing.T) {
	e := gate.New()
	gates := []flow.QualityGate{{ID: "g1", Kind: flow.GateKindManualApproval, TargetStepID: flow.AnyStepTarget}}
	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, nil, artifact.StoragePaths{}, nil, "")
	require.Len(t, results, 1)
	assert.Equal(t, "pass", string(results[0].Status))
}

func TestPipelineGates_TargetStepIDScoping(t *testing.T) {
	e := gate.New()
	gates := []flow.QualityGate{{ID: "g1", Kind: flow.GateKindRegexMustMatch, Pattern: "x", TargetStepID: "other-step"}}
	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, nil, artifact.StoragePaths{}, nil, "x")
	assert.Empty(t, results)
}

func TestBlockingFailure(t *testing.T) {
	e := gate.New()
	gates := []flow.QualityGate{{ID: "g1", Kind: flow.GateKindRegexMustMatch, Pattern: "nomatch", Blocking: true, TargetStepID: flow.AnyStepTarget}}
	results := e.PipelineGates(context.Background(), gates, flow.Step{ID: "s1"}, nil, artifact.StoragePaths{}, nil, "no match here")
	assert.True(t, gate.BlockingFailure(results))
}
