package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/policy"
	"github.com/fyreflow/engine/pkg/flow"
)

func TestRegistry_ResolveByExplicitID(t *testing.T) {
	r := policy.NewEmptyRegistry()
	require.NoError(t, r.Register(policy.DesignDeckAssets))

	step := flow.Step{PolicyProfileIDs: []string{"design_deck_assets"}}
	profiles := r.Resolve(step)
	require.Len(t, profiles, 1)
	assert.Equal(t, "design_deck_assets", profiles[0].Name)
}

func TestRegistry_ResolveByInference(t *testing.T) {
	r := policy.NewEmptyRegistry()
	inferred := policy.Profile{
		Name:          "infer_me",
		InferFromStep: func(s flow.Step) bool { return s.Role == flow.RoleExecutor },
	}
	require.NoError(t, r.Register(inferred))

	profiles := r.Resolve(flow.Step{Role: flow.RoleExecutor})
	require.Len(t, profiles, 1)
	assert.Equal(t, "infer_me", profiles[0].Name)
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := policy.NewEmptyRegistry()
	require.NoError(t, r.Register(policy.DesignDeckAssets))
	err := r.Register(policy.DesignDeckAssets)
	assert.Error(t, err)
}

func TestNewRegistry_PreloadsDefaultProfiles(t *testing.T) {
	r := policy.NewRegistry()

	deck := r.Resolve(flow.Step{PolicyProfileIDs: []string{"design_deck_assets"}})
	require.Len(t, deck, 1)

	exprProfile := r.Resolve(flow.Step{PolicyProfileIDs: []string{"expr_validated"}})
	require.Len(t, exprProfile, 1)
	assert.Equal(t, "expr_validated", exprProfile[0].Name)
}

func TestMergeCacheBypass_DedupesAndLowercasesKeys(t *testing.T) {
	step := flow.Step{CacheBypassInputKeys: []string{"API_KEY", "api_key"}}
	keys, _ := policy.MergeCacheBypass(step, []policy.Profile{policy.DesignDeckAssets})

	assert.Contains(t, keys, "api_key")
	assert.Contains(t, keys, "design_brief")
	assert.Len(t, keys, 2)
}

func TestHelperScriptGuard_UndeclaredScriptBlocks(t *testing.T) {
	entries := []policy.FileEntry{{Path: "shared/cleanup.py"}}
	err := policy.HelperScriptGuard(entries, nil)
	assert.Error(t, err)
}

func TestHelperScriptGuard_DeclaredScriptPasses(t *testing.T) {
	entries := []policy.FileEntry{{Path: "shared/cleanup.py"}}
	err := policy.HelperScriptGuard(entries, []string{"{{shared_storage_path}}/cleanup.py"})
	assert.NoError(t, err)
}

func TestImmutableArtifactGuard_NonOwnerMutationBlocks(t *testing.T) {
	owners := []policy.ArtifactOwner{{Template: "report.json", OwnerStepID: "analysis"}}
	before := map[string]policy.FileEntry{"report.json": {Size: 100}}
	after := map[string]policy.FileEntry{"report.json": {Size: 200}}

	err := policy.ImmutableArtifactGuard("executor", owners, before, after)
	assert.Error(t, err)
}

func TestImmutableArtifactGuard_OwnerMayMutate(t *testing.T) {
	owners := []policy.ArtifactOwner{{Template: "report.json", OwnerStepID: "analysis"}}
	before := map[string]policy.FileEntry{"report.json": {Size: 100}}
	after := map[string]policy.FileEntry{"report.json": {Size: 200}}

	err := policy.ImmutableArtifactGuard("analysis", owners, before, after)
	assert.NoError(t, err)
}

func TestRequiredArtifactFreshness_AbsentAfterBlocks(t *testing.T) {
	result := policy.RequiredArtifactFreshness("x.json", policy.ArtifactSnapshot{}, policy.ArtifactSnapshot{Exists: false})
	assert.False(t, result.OK)
}

func TestRequiredArtifactFreshness_UnchangedPassesAsAlreadyUpToDate(t *testing.T) {
	snap := policy.ArtifactSnapshot{Exists: true, Path: "x.json", SizeBytes: 10}
	result := policy.RequiredArtifactFreshness("x.json", snap, snap)
	assert.True(t, result.OK)
	assert.True(t, result.AlreadyFresh)
}

func TestRequiredArtifactFreshness_NewlyCreatedPasses(t *testing.T) {
	before := policy.ArtifactSnapshot{Exists: false}
	after := policy.ArtifactSnapshot{Exists: true, Path: "x.json", SizeBytes: 10}
	result := policy.RequiredArtifactFreshness("x.json", before, after)
	assert.True(t, result.OK)
	assert.False(t, result.AlreadyFresh)
}
