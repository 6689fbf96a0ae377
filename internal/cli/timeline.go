package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyreflow/engine/pkg/run"
)

// RenderTimeline renders a run's step history as a compact, colorized
// list: one line per step with its status, attempt count, and duration.
func RenderTimeline(r *run.Run) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s  run %s  %s\n", Header.Render(SymbolRun), r.ID, StepStatusStyle(string(r.Status)).Render(string(r.Status)))
	if r.Task != "" {
		fmt.Fprintf(&sb, "  %s %s\n", Muted.Render("task:"), truncate(r.Task, 80))
	}

	for _, step := range r.Steps {
		style := StepStatusStyle(string(step.Status))
		duration := ""
		if step.StartedAt != nil {
			end := time.Now()
			if step.FinishedAt != nil {
				end = *step.FinishedAt
			}
			duration = end.Sub(*step.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(&sb, "  %s %-24s attempts=%-3d %s\n",
			style.Render(stepIcon(step.Status)),
			step.StepID,
			step.Attempts,
			Muted.Render(duration),
		)
		if step.Error != "" {
			fmt.Fprintf(&sb, "      %s\n", StatusError.Render(step.Error))
		}
	}
	return sb.String()
}

func stepIcon(status run.StepStatus) string {
	switch status {
	case run.StepStatusCompleted:
		return SymbolOK
	case run.StepStatusFailed:
		return SymbolError
	case run.StepStatusRunning:
		return SymbolWarn
	default:
		return "·"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
