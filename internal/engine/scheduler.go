package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fyreflow/engine/internal/contract"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

// Store is the subset of the run store the scheduler needs mid-loop: a way
// to persist a snapshot before stopping for a pause or cancel.
type Store interface {
	SnapshotRunState(r *run.Run) error
}

// StepExecutor is the C6 contract the scheduler drives; *Executor
// satisfies it, and tests may substitute a fake.
type StepExecutor interface {
	ExecuteAttempt(ctx context.Context, f *flow.Flow, r *run.Run, step flow.Step, reason run.TriggeredByReason, triggeredBy string, log *slog.Logger) (*run.StepRun, error)
}

// ControlSignal reports whether a run has been asked to stop outright or
// merely pause.
type ControlSignal interface {
	Cancelled() (cancelled bool, isPause bool)
}

// SchedulerDeps wires the scheduler's dependencies.
type SchedulerDeps struct {
	Executor            StepExecutor
	Store               Store
	ControlPollInterval time.Duration
}

// Scheduler drives one run's FIFO queue to completion, per spec.md's
// cooperative single-run model: all step attempts for a run are serialized,
// parallelism only happens across runs.
type Scheduler struct {
	deps SchedulerDeps
}

// NewScheduler wires a Scheduler from deps, defaulting an unset poll
// interval to 500ms.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	if deps.ControlPollInterval <= 0 {
		deps.ControlPollInterval = 500 * time.Millisecond
	}
	return &Scheduler{deps: deps}
}

type queueEntry struct {
	stepID             string
	queuedByStepID     string
	queuedByReason     run.TriggeredByReason
}

type schedulerState struct {
	queue         []queueEntry
	queued        map[string]bool
	inFlight      map[string]bool
	attempts      map[string]int
	executedCount int
}

func newSchedulerState() *schedulerState {
	return &schedulerState{
		queued:   make(map[string]bool),
		inFlight: make(map[string]bool),
		attempts: make(map[string]int),
	}
}

func (s *schedulerState) enqueue(stepID, byStepID string, reason run.TriggeredByReason) {
	if s.queued[stepID] {
		return
	}
	s.queued[stepID] = true
	s.queue = append(s.queue, queueEntry{stepID: stepID, queuedByStepID: byStepID, queuedByReason: reason})
}

func (s *schedulerState) dequeue() (queueEntry, bool) {
	if len(s.queue) == 0 {
		return queueEntry{}, false
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	s.queued[e.stepID] = false
	return e, true
}

func (s *schedulerState) anyInFlight() bool {
	for _, v := range s.inFlight {
		if v {
			return true
		}
	}
	return false
}

// Run executes f against r until it reaches a terminal state, polling
// control whenever the run is paused or awaiting approval.
func (s *Scheduler) Run(ctx context.Context, f *flow.Flow, r *run.Run, control ControlSignal, log *slog.Logger) error {
	state := newSchedulerState()
	rehydrate(f, r, state)

	maxLoops := f.Runtime.MaxLoops
	maxStepExecutions := f.Runtime.MaxStepExecutions

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if r.Status == run.StatusPaused || r.Status == run.StatusAwaitingApproval {
			if r.Status == run.StatusAwaitingApproval && len(r.PendingApprovals()) == 0 {
				r.Status = run.StatusRunning
				appendLog(r, "info", "all approvals resolved; resuming run", "")
			} else {
				time.Sleep(s.deps.ControlPollInterval)
				continue
			}
		}

		if cancelled, isPause := control.Cancelled(); cancelled {
			if s.deps.Store != nil {
				_ = s.deps.Store.SnapshotRunState(r)
			}
			if isPause {
				r.Status = run.StatusPaused
			} else {
				r.Status = run.StatusCancelled
			}
			return nil
		}

		entry, ok := state.dequeue()
		if !ok {
			if next, ok := firstUnvisitedStep(f, r); ok {
				state.enqueue(next.ID, "", run.ReasonDisconnectedFallback)
				continue
			}
			r.Status = run.StatusCompleted
			return nil
		}

		if state.attempts[entry.stepID]+1 > maxLoops+1 || (maxStepExecutions > 0 && state.executedCount >= maxStepExecutions) {
			if log != nil {
				log.Info(fmt.Sprintf("Skipped %s: max loop count reached", entry.stepID))
			}
			continue
		}

		step, ok := f.StepByID(entry.stepID)
		if !ok {
			continue
		}

		state.inFlight[entry.stepID] = true
		state.attempts[entry.stepID]++
		state.executedCount++

		sr, err := s.deps.Executor.ExecuteAttempt(ctx, f, r, step, entry.queuedByReason, entry.queuedByStepID, log)
		state.inFlight[entry.stepID] = false

		if sr != nil {
			sr.Attempts = state.attempts[entry.stepID]
			upsertStepRun(r, sr)
		}

		if err != nil {
			r.Status = run.StatusFailed
			appendLog(r, "error", err.Error(), entry.stepID)
			return err
		}

		decision := Route(f, step, sr)

		if decision.NeedsInput {
			r.Status = run.StatusFailed
			appendLog(r, "error", decision.StopReason, entry.stepID)
			return nil
		}

		if sr.BlockingFailure() {
			appendLog(r, "warn", fmt.Sprintf("%s: blocking quality gate failure", entry.stepID), entry.stepID)
		}

		if isDeliveryComplete(f, step, sr) {
			r.Status = run.StatusCompleted
			return nil
		}

		for _, item := range decision.Enqueues {
			state.enqueue(item.StepID, item.TriggeredByStepID, item.Reason)
		}

		if len(state.queue) == 0 && !state.anyInFlight() {
			if next, ok := firstUnvisitedStep(f, r); ok {
				state.enqueue(next.ID, "", run.ReasonDisconnectedFallback)
			} else {
				r.Status = run.StatusCompleted
				return nil
			}
		}
	}
}

// rehydrate prepares state for Run's loop. A fresh run (no recorded
// StepRuns yet) seeds the entry step as usual. A reattached run (process
// restart mid-execution) instead rebuilds queue/attempts from the
// persisted Run: attempts seed from each StepRun's Attempts field, and any
// step still marked running at crash time is demoted to pending and
// re-enqueued with its attempts preserved, per spec.md's recovery
// contract. The queue and in-flight set are otherwise left empty, same as
// a fresh scheduler — steps with no queue entry either already completed
// or will be picked up by the loop's disconnected-fallback/routing logic.
func rehydrate(f *flow.Flow, r *run.Run, state *schedulerState) {
	if len(r.Steps) == 0 {
		seed(f, state)
		return
	}

	for _, sr := range r.Steps {
		state.attempts[sr.StepID] = sr.Attempts
		switch sr.Status {
		case run.StepStatusRunning:
			sr.Status = run.StepStatusPending
			sr.FinishedAt = nil
			state.enqueue(sr.StepID, sr.TriggeredByStepID, sr.TriggeredByReason)
		case run.StepStatusPending:
			// Already demoted by an earlier reattach pass (e.g.
			// engine.PrepareForReattach); still needs a queue entry since
			// the in-memory queue itself does not survive a restart.
			state.enqueue(sr.StepID, sr.TriggeredByStepID, sr.TriggeredByReason)
		}
	}
}

// seed enqueues the run's entry step(s): the first step with no incoming
// edges in flow order, or the first step overall when the flow is fully
// cyclic.
func seed(f *flow.Flow, state *schedulerState) {
	indeg := make(map[string]int, len(f.Steps))
	for _, s := range f.Steps {
		indeg[s.ID] = 0
	}
	for _, l := range f.Links {
		indeg[l.TargetStepID]++
	}

	for _, s := range f.Steps {
		if indeg[s.ID] == 0 {
			state.enqueue(s.ID, "", run.ReasonEntryStep)
			return
		}
	}
	if len(f.Steps) > 0 {
		state.enqueue(f.Steps[0].ID, "", run.ReasonCycleBootstrap)
	}
}

// firstUnvisitedStep returns the first step in flow order that has no
// recorded StepRun yet, the disconnected-fallback target.
func firstUnvisitedStep(f *flow.Flow, r *run.Run) (flow.Step, bool) {
	for _, s := range f.Steps {
		if _, ok := r.StepByID(s.ID); !ok {
			return s, true
		}
	}
	return flow.Step{}, false
}

// isDeliveryComplete reports whether sr is the terminal executor emitting
// COMPLETE with no blocking failures, the scheduler's stop condition.
func isDeliveryComplete(f *flow.Flow, step flow.Step, sr *run.StepRun) bool {
	if sr.BlockingFailure() {
		return false
	}
	c := contract.Parse(sr.Output)
	if c == nil || c.WorkflowStatus != contract.StatusComplete {
		return false
	}
	delivery, ok := flow.ResolveDeliveryStep(f)
	return ok && delivery.ID == step.ID
}

// upsertStepRun replaces r's existing StepRun record for sr.StepID, or
// appends sr as a new record if this is the step's first attempt.
func upsertStepRun(r *run.Run, sr *run.StepRun) {
	for i, existing := range r.Steps {
		if existing.StepID == sr.StepID {
			r.Steps[i] = sr
			return
		}
	}
	r.Steps = append(r.Steps, sr)
}

func appendLog(r *run.Run, level, message, stepID string) {
	r.Logs = append(r.Logs, run.LogLine{
		Index:     len(r.Logs),
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		StepID:    stepID,
	})
}
