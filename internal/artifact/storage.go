package artifact

import (
	"path/filepath"

	"github.com/fyreflow/engine/pkg/flow"
)

// Roots computes a step's StoragePaths given the run's storage root and the
// flow's pipeline id. Shared storage is keyed by pipeline id so it survives
// across runs of the same flow; isolated and run storage are keyed by run
// id so they never leak between runs.
//
// Layout: shared/<pipeline_id>/, runs/<run_id>/isolated/, runs/<run_id>/.
func Roots(baseDir, pipelineID, runID string, step flow.Step) StoragePaths {
	return StoragePaths{
		SharedPath:       filepath.Join(baseDir, "shared", pipelineID),
		IsolatedPath:     filepath.Join(baseDir, "runs", runID, "isolated"),
		RunPath:          filepath.Join(baseDir, "runs", runID),
		SharedDisabled:   !step.EnableSharedStorage,
		IsolatedDisabled: !step.EnableIsolatedStorage,
	}
}
