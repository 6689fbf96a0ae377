package engine

import "sync"

// RunController is one run's cancel/pause signal, idempotent against
// repeated Cancel/Pause calls the way the teacher's cancelOnce guards a
// single close(stopped).
type RunController struct {
	mu        sync.Mutex
	cancelled bool
	paused    bool
}

// Cancelled implements ControlSignal.
func (c *RunController) Cancelled() (cancelled bool, isPause bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled, c.paused
}

// Cancel requests the run stop outright.
func (c *RunController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	c.paused = false
}

// Pause requests the run stop at its next safe point, to be resumed later.
func (c *RunController) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	c.paused = true
}

// Resume clears a pending cancel/pause request so the run can keep going.
func (c *RunController) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = false
	c.paused = false
}

// Registry is the process-wide active_run_controllers table: one
// RunController per in-flight run, keyed by run id. It is the liveness
// oracle C9's recovery scan checks before reattaching a run — a run with an
// entry here already has a worker in this process.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*RunController
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*RunController)}
}

// Acquire registers runID as owned by this process and returns its control
// signal. Calling it twice for the same id replaces the prior controller:
// callers should only acquire once per run per process lifetime.
func (r *Registry) Acquire(runID string) *RunController {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &RunController{}
	r.workers[runID] = c
	return c
}

// Release removes runID from the registry once its worker has exited.
func (r *Registry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, runID)
}

// IsOwned implements LiveOwners.
func (r *Registry) IsOwned(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[runID]
	return ok
}

// Get returns the control signal for a live run, for callers (e.g. the HTTP
// API's cancel/pause endpoints) that need to signal a run this process owns.
func (r *Registry) Get(runID string) (*RunController, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.workers[runID]
	return c, ok
}
