package contract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/contract"
)

func TestParse_StrictJSON(t *testing.T) {
	c := contract.Parse(`{"workflow_status": "PASS", "summary": "Looks good."}`)
	require.NotNil(t, c)
	assert.Equal(t, contract.StatusPass, c.WorkflowStatus)
	assert.Equal(t, contract.ActionContinue, c.NextAction)
	assert.Equal(t, "json", c.Source)
	assert.Equal(t, "Looks good.", c.Summary)
}

func TestParse_FencedJSONBlock(t *testing.T) {
	text := "Here's my output:\n```json\n{\"workflow_status\": \"FAIL\", \"reasons\": [{\"code\": \"x\", \"message\": \"broke\"}]}\n```\nthanks"
	c := contract.Parse(text)
	require.NotNil(t, c)
	assert.Equal(t, contract.StatusFail, c.WorkflowStatus)
	assert.Equal(t, contract.ActionRetryStep, c.NextAction)
	require.Len(t, c.Reasons, 1)
	assert.Equal(t, "broke", c.Reasons[0].Message)
}

func TestParse_FirstBalancedObjectAmongNoise(t *testing.T) {
	text := `some preamble text {"status": "complete", "stage": "review"} trailing junk`
	c := contract.Parse(text)
	require.NotNil(t, c)
	assert.Equal(t, contract.StatusComplete, c.WorkflowStatus)
	assert.Equal(t, "review", c.Stage)
}

func TestParse_LegacyTextMarker(t *testing.T) {
	c := contract.Parse("Work is done.\n\n**WORKFLOW_STATUS: PASS**\n")
	require.NotNil(t, c)
	assert.Equal(t, contract.StatusPass, c.WorkflowStatus)
	assert.Equal(t, "legacy_text", c.Source)
}

func TestParse_LegacyTextMarkerFailInfersRetry(t *testing.T) {
	c := contract.Parse("WORKFLOW_STATUS: FAIL\nsomething broke")
	require.NotNil(t, c)
	assert.Equal(t, contract.ActionRetryStep, c.NextAction)
}

func TestParse_NoSignalReturnsNil(t *testing.T) {
	c := contract.Parse("just some prose with no status at all")
	assert.Nil(t, c)
}

func TestParse_UnrecognizedStatusRoundsToNeutral(t *testing.T) {
	c := contract.Parse(`{"status": "weird_value"}`)
	require.NotNil(t, c)
	assert.Equal(t, contract.StatusNeutral, c.WorkflowStatus)
}

func TestExtractStatusSignals_ReviewSubfields(t *testing.T) {
	c := contract.Parse(`{"workflow_status": "PASS", "html_review": "fail", "pdf_review": "pass"}`)
	require.NotNil(t, c)
	sig := contract.ExtractStatusSignals(c)
	assert.Equal(t, contract.StatusPass, sig.Workflow)
	assert.Equal(t, contract.StatusFail, sig.HTMLReview)
	assert.Equal(t, contract.StatusPass, sig.PDFReview)
}

func TestExtractInputRequestSignal_FromStatus(t *testing.T) {
	c := contract.Parse(`{"workflow_status": "NEEDS_INPUT"}`)
	require.NotNil(t, c)
	needs, reqs := contract.ExtractInputRequestSignal(c)
	assert.True(t, needs)
	assert.Empty(t, reqs)
}

func TestExtractInputRequestSignal_FromArray(t *testing.T) {
	c := contract.Parse(`{"status": "neutral", "input_requests": [{"key": "api_key", "prompt": "need it"}]}`)
	require.NotNil(t, c)
	needs, reqs := contract.ExtractInputRequestSignal(c)
	assert.True(t, needs)
	require.Len(t, reqs, 1)
	assert.Equal(t, "api_key", reqs[0].Key)
}

func TestBuildEnglishSummary_SynthesizedWhenNoSummaryField(t *testing.T) {
	c := contract.Parse(`{"workflow_status": "PASS"}`)
	require.NotNil(t, c)
	assert.Equal(t, "workflow=PASS | next=continue", c.Summary)
}
