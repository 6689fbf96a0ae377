package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.deps.Store.ListPipelines(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, pipelines)
}

// upsertPipeline handles POST /api/pipelines — create or replace, keyed by
// the body's id (empty creates a new one).
func (h *handlers) upsertPipeline(w http.ResponseWriter, r *http.Request) {
	h.saveFlow(w, r, "")
}

// upsertPipelineByID handles PUT /api/pipelines/:id.
func (h *handlers) upsertPipelineByID(w http.ResponseWriter, r *http.Request) {
	h.saveFlow(w, r, chi.URLParam(r, "id"))
}

func (h *handlers) saveFlow(w http.ResponseWriter, r *http.Request, pathID string) {
	var f flow.Flow
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", nil)
		return
	}
	if pathID != "" {
		f.ID = pathID
	}

	if verrs := flow.Validate(&f); len(verrs) > 0 {
		writeError(w, http.StatusBadRequest, "flow validation failed", verrs)
		return
	}

	// mutation triggers delivery-gate retargeting (§4.8), run at save time
	// so every persisted flow carries already-correct gate targets.
	flow.RetargetDeliveryGates(&f)

	if err := h.deps.Store.UpsertPipeline(r.Context(), &f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, &f)
}

func (h *handlers) deletePipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Store.DeletePipeline(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createRunRequest struct {
	Task     string            `json:"task"`
	Inputs   map[string]string `json:"inputs"`
	Scenario string            `json:"scenario"`
}

func (h *handlers) createRun(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "id")

	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", nil)
		return
	}

	req.Inputs = normalizeInputKeys(req.Inputs)
	if verrs := validateRunStart(req); len(verrs) > 0 {
		writeError(w, http.StatusBadRequest, "run-start validation failed", verrs)
		return
	}

	pipeline, err := h.deps.Store.GetPipeline(r.Context(), pipelineID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}

	newRun, err := h.deps.Store.CreateRun(r.Context(), pipeline, req.Task, req.Inputs, req.Scenario)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	h.launchRun(pipeline, newRun)

	writeJSON(w, http.StatusCreated, newRun)
}

// launchRun acquires a control signal for newRun and drives it to
// completion in the background; the response to createRun does not wait
// for the run itself.
func (h *handlers) launchRun(pipeline *flow.Flow, r *run.Run) {
	if h.deps.Scheduler == nil || h.deps.Registry == nil {
		return
	}
	control := h.deps.Registry.Acquire(r.ID)
	r.Status = run.StatusRunning
	go func() {
		defer h.deps.Registry.Release(r.ID)
		_ = h.deps.Scheduler.Run(context.Background(), pipeline, r, control, h.deps.Log)
		_ = h.deps.Store.UpdateRun(context.Background(), r.ID, func(stored *run.Run) error {
			*stored = *r
			return nil
		})
	}()
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}
	runs, err := h.deps.Store.ListRuns(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	got, err := h.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *handlers) stopRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if control, ok := h.deps.Registry.Get(id); ok {
		control.Cancel()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
		return
	}
	writeError(w, http.StatusNotFound, "run has no live worker in this process", nil)
}

func (h *handlers) pauseRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if control, ok := h.deps.Registry.Get(id); ok {
		control.Pause()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pause_requested"})
		return
	}
	writeError(w, http.StatusNotFound, "run has no live worker in this process", nil)
}

func (h *handlers) resumeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if control, ok := h.deps.Registry.Get(id); ok {
		control.Resume()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
		return
	}
	writeError(w, http.StatusNotFound, "run has no live worker in this process", nil)
}

type resolveApprovalRequest struct {
	Decision run.ApprovalStatus `json:"decision"`
	Note     string             `json:"note"`
}

func (h *handlers) resolveApproval(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	approvalID := chi.URLParam(r, "approvalID")

	var req resolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", nil)
		return
	}
	if req.Decision != run.ApprovalStatusApproved && req.Decision != run.ApprovalStatusRejected {
		writeError(w, http.StatusBadRequest, "decision must be approved or rejected", nil)
		return
	}

	if err := h.deps.Store.ResolveApproval(r.Context(), runID, approvalID, req.Decision, req.Note); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
