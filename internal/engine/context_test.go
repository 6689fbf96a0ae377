package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyreflow/engine/internal/artifact"
	"github.com/fyreflow/engine/pkg/flow"
)

func TestComposeContext_SubstitutesTaskAndPreviousOutput(t *testing.T) {
	step := flow.Step{ContextTemplate: "Task: {{task}}\nPrevious: {{previous_output}}"}
	got := ComposeContext(step, "build the widget", "widget v1 done", nil, artifact.StoragePaths{})
	assert.Equal(t, "Task: build the widget\nPrevious: widget v1 done", got)
}

func TestComposeContext_SubstitutesInputs(t *testing.T) {
	step := flow.Step{ContextTemplate: "Target: {{input.target_env}}"}
	got := ComposeContext(step, "", "", map[string]string{"target_env": "staging"}, artifact.StoragePaths{})
	assert.Equal(t, "Target: staging", got)
}

func TestComposeContext_RedactsSecretShapedInputKeys(t *testing.T) {
	step := flow.Step{ContextTemplate: "Key: {{input.api_key}}"}
	got := ComposeContext(step, "", "", map[string]string{"api_key": "sk-live-123"}, artifact.StoragePaths{})
	assert.Equal(t, "Key: [secure]", got)
}

func TestComposeContext_RedactsAlreadySentineledValue(t *testing.T) {
	step := flow.Step{ContextTemplate: "Val: {{input.custom}}"}
	got := ComposeContext(step, "", "", map[string]string{"custom": "[secure]"}, artifact.StoragePaths{})
	assert.Equal(t, "Val: [secure]", got)
}

func TestComposeContext_StoragePaths(t *testing.T) {
	step := flow.Step{ContextTemplate: "{{shared_storage_path}} {{isolated_storage_path}} {{run_storage_path}}"}
	storage := artifact.StoragePaths{SharedPath: "/s", IsolatedPath: "/i", RunPath: "/r"}
	got := ComposeContext(step, "", "", nil, storage)
	assert.Equal(t, "/s /i /r", got)
}

func TestComposeContext_DisabledStorageRendersDisabled(t *testing.T) {
	step := flow.Step{ContextTemplate: "{{shared_storage_path}}"}
	storage := artifact.StoragePaths{SharedDisabled: true}
	got := ComposeContext(step, "", "", nil, storage)
	assert.Equal(t, "DISABLED", got)
}

func TestComposeContext_MissingInputKeyRendersEmpty(t *testing.T) {
	step := flow.Step{ContextTemplate: "Val: [{{input.missing}}]"}
	got := ComposeContext(step, "", "", nil, artifact.StoragePaths{})
	assert.Equal(t, "Val: []", got)
}
