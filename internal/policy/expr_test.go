package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/policy"
	"github.com/fyreflow/engine/pkg/flow"
)

func TestExprEvaluator_EvaluateSkip(t *testing.T) {
	e := policy.NewExprEvaluator()
	step := flow.Step{ID: "extract"}
	snapshots := map[string]policy.ArtifactSnapshot{
		"report.json": {Template: "report.json", Exists: true, SizeBytes: 512},
	}

	t.Run("empty expression always holds", func(t *testing.T) {
		v, err := e.EvaluateSkip("", step, snapshots)
		require.NoError(t, err)
		assert.True(t, v.OK)
	})

	t.Run("true expression holds", func(t *testing.T) {
		v, err := e.EvaluateSkip(`Artifacts["report.json"].SizeBytes > 100`, step, snapshots)
		require.NoError(t, err)
		assert.True(t, v.OK)
	})

	t.Run("false expression reports a reason", func(t *testing.T) {
		v, err := e.EvaluateSkip(`Artifacts["report.json"].SizeBytes > 10000`, step, snapshots)
		require.NoError(t, err)
		assert.False(t, v.OK)
		assert.NotEmpty(t, v.Reason)
	})

	t.Run("missing artifact key is treated as zero value, not undefined", func(t *testing.T) {
		v, err := e.EvaluateSkip(`Artifacts["missing.json"].Exists == false`, step, snapshots)
		require.NoError(t, err)
		assert.True(t, v.OK)
	})

	t.Run("programs are cached across calls", func(t *testing.T) {
		expr := `StepID == "extract"`
		_, err := e.EvaluateSkip(expr, step, snapshots)
		require.NoError(t, err)
		v, err := e.EvaluateSkip(expr, step, snapshots)
		require.NoError(t, err)
		assert.True(t, v.OK)
	})
}

func TestExprEvaluator_EvaluateCacheBypassPrompt(t *testing.T) {
	e := policy.NewExprEvaluator()

	t.Run("empty expression never bypasses", func(t *testing.T) {
		matched, err := e.EvaluateCacheBypassPrompt("", "please regenerate everything")
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("Has helper matches substrings", func(t *testing.T) {
		matched, err := e.EvaluateCacheBypassPrompt(`Has(Prompt, "regenerate")`, "please regenerate everything")
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("no match", func(t *testing.T) {
		matched, err := e.EvaluateCacheBypassPrompt(`Has(Prompt, "regenerate")`, "continue as planned")
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("Length helper", func(t *testing.T) {
		matched, err := e.EvaluateCacheBypassPrompt(`Length(Prompt) > 5`, "a long prompt")
		require.NoError(t, err)
		assert.True(t, matched)
	})
}

func TestValidateSkipIfArtifacts_UsesStepExpr(t *testing.T) {
	step := flow.Step{ID: "extract", SkipIfExpr: `Artifacts["out.json"].Exists`}
	snapshots := map[string]policy.ArtifactSnapshot{"out.json": {Exists: true}}

	v := policy.ValidateSkipIfArtifacts(step, snapshots)
	assert.True(t, v.OK)
}

func TestValidateSkipIfArtifacts_InvalidExprFails(t *testing.T) {
	step := flow.Step{ID: "extract", SkipIfExpr: `this is not valid`}
	v := policy.ValidateSkipIfArtifacts(step, map[string]policy.ArtifactSnapshot{})
	assert.False(t, v.OK)
	assert.NotEmpty(t, v.Reason)
}
