package engine

import (
	"context"
	"log/slog"

	"github.com/fyreflow/engine/internal/store"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

// reattachableStatuses are the Run.Status values a crashed process may have
// left behind mid-flight.
var reattachableStatuses = []run.Status{
	run.StatusQueued, run.StatusRunning, run.StatusPaused, run.StatusAwaitingApproval,
}

// LiveOwners reports whether a run already has an in-process worker, the
// in-memory cancel-map check that keeps recovery from double-attaching a
// run the current process is already driving.
type LiveOwners interface {
	IsOwned(runID string) bool
}

// FlowResolver looks up the pipeline definition a run was started against.
type FlowResolver func(pipelineID string) (*flow.Flow, bool)

// RunResumer takes ownership of r and drives it to completion, typically by
// launching a goroutine that calls Scheduler.Run.
type RunResumer func(f *flow.Flow, r *run.Run)

// RecoveryDeps wires the process-start reattachment scan.
type RecoveryDeps struct {
	Store          *store.Store
	Owners         LiveOwners
	ResolveFlow    FlowResolver
	Resume         RunResumer
	BaseStorageDir string
}

// Recover implements the process-start reattachment scan: for every run in
// a reattachable status with no live in-process owner, it prefers the
// filesystem snapshot (the most recent state a crashed worker flushed) over
// the database row, demotes steps that were running at crash back to
// pending while preserving their attempt counts, and hands the run to
// Resume.
func Recover(ctx context.Context, deps RecoveryDeps, log *slog.Logger) error {
	runs, err := deps.Store.ListRuns(ctx, reattachableStatuses)
	if err != nil {
		return err
	}

	for _, r := range runs {
		if deps.Owners != nil && deps.Owners.IsOwned(r.ID) {
			continue
		}

		snapshot, found, err := store.ReadRunSnapshot(store.RunRootPath(deps.BaseStorageDir, r.ID))
		if err != nil {
			if log != nil {
				log.Warn("failed to read run snapshot, falling back to database row", "run_id", r.ID, "error", err)
			}
		} else if found {
			r = snapshot
		}

		f, ok := deps.ResolveFlow(r.PipelineID)
		if !ok {
			if log != nil {
				log.Warn("cannot reattach run: pipeline not found", "run_id", r.ID, "pipeline_id", r.PipelineID)
			}
			continue
		}

		demoted := PrepareForReattach(r)
		if log != nil {
			log.Info("reattaching run after restart", "run_id", r.ID, "status", r.Status, "steps_demoted", demoted)
		}

		if r.Status != run.StatusPaused && r.Status != run.StatusAwaitingApproval {
			r.Status = run.StatusRunning
		}

		deps.Resume(f, r)
	}
	return nil
}

// PrepareForReattach demotes every step left running at crash back to
// pending, preserving its attempt count, and returns how many steps it
// changed.
func PrepareForReattach(r *run.Run) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == run.StepStatusRunning {
			s.Status = run.StepStatusPending
			s.FinishedAt = nil
			n++
		}
	}
	return n
}
