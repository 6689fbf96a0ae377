package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/engine"
	"github.com/fyreflow/engine/internal/store"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	st, err := store.New(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return Deps{
		Store:    st,
		Registry: engine.NewRegistry(),
		Log:      slog.Default(),
	}
}

func sampleFlow() flow.Flow {
	return flow.Flow{
		Name: "sample",
		Steps: []flow.Step{
			{ID: "s1", Name: "step one", ProviderID: "p1"},
		},
		Runtime: flow.Runtime{MaxLoops: 0, MaxStepExecutions: 1},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpsertPipeline_RetargetsDeliveryGatesAndPersists(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	rec := doJSON(t, h, http.MethodPost, "/api/pipelines", sampleFlow())
	require.Equal(t, http.StatusOK, rec.Code)

	var saved flow.Flow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.NotEmpty(t, saved.ID)

	rec = doJSON(t, h, http.MethodGet, "/api/pipelines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []*flow.Flow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, saved.ID, listed[0].ID)
}

func TestUpsertPipeline_RejectsInvalidFlow(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	bad := flow.Flow{Name: "broken"} // no steps
	rec := doJSON(t, h, http.MethodPost, "/api/pipelines", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRun_ValidatesAndPersists(t *testing.T) {
	deps := newTestDeps(t)
	h := NewRouter(deps)

	rec := doJSON(t, h, http.MethodPost, "/api/pipelines", sampleFlow())
	require.Equal(t, http.StatusOK, rec.Code)
	var saved flow.Flow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))

	rec = doJSON(t, h, http.MethodPost, "/api/pipelines/"+saved.ID+"/runs", createRunRequest{
		Task:   "do the thing",
		Inputs: map[string]string{"  Some Key  ": "value"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created run.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "value", created.Inputs["some key"])
	assert.Equal(t, run.StatusQueued, created.Status)
}

func TestCreateRun_RejectsOversizedScenario(t *testing.T) {
	deps := newTestDeps(t)
	h := NewRouter(deps)

	rec := doJSON(t, h, http.MethodPost, "/api/pipelines", sampleFlow())
	require.Equal(t, http.StatusOK, rec.Code)
	var saved flow.Flow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))

	longScenario := make([]byte, maxScenarioLen+1)
	for i := range longScenario {
		longScenario[i] = 'a'
	}
	rec = doJSON(t, h, http.MethodPost, "/api/pipelines/"+saved.ID+"/runs", createRunRequest{
		Task:     "t",
		Scenario: string(longScenario),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopRun_NoLiveWorkerReturns404(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	rec := doJSON(t, h, http.MethodPost, "/api/runs/nonexistent/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopRun_WithLiveWorkerCancels(t *testing.T) {
	deps := newTestDeps(t)
	control := deps.Registry.Acquire("r1")
	h := NewRouter(deps)

	rec := doJSON(t, h, http.MethodPost, "/api/runs/r1/stop", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	cancelled, isPause := control.Cancelled()
	assert.True(t, cancelled)
	assert.False(t, isPause)
}

func TestAuthMiddleware_RejectsMissingOrWrongToken(t *testing.T) {
	deps := newTestDeps(t)
	deps.AuthToken = "secret-token"
	h := NewRouter(deps)

	rec := doJSON(t, h, http.MethodGet, "/api/pipelines", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/pipelines", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/pipelines", nil)
	req2.Header.Set("Authorization", "Bearer secret-token")
	rec3 := httptest.NewRecorder()
	h.ServeHTTP(rec3, req2)
	assert.Equal(t, http.StatusOK, rec3.Code)
}

func TestAuthMiddleware_HealthBypassesAuth(t *testing.T) {
	deps := newTestDeps(t)
	deps.AuthToken = "secret-token"
	h := NewRouter(deps)

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveApproval_RejectsUnknownDecision(t *testing.T) {
	deps := newTestDeps(t)
	h := NewRouter(deps)

	rec := doJSON(t, h, http.MethodPost, "/api/runs/r1/approvals/a1", resolveApprovalRequest{
		Decision: "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
