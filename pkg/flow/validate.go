package flow

import (
	"fmt"
	"strings"
)

// ValidationError is a single CRUD-time validation failure; the HTTP layer
// surfaces a slice of these as a 400-class response.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks the structural invariants of a flow: every link endpoint
// resolves to a known step, step ids are unique, at most one "always" edge
// is usable per (source, outcome) pair, and max_step_executions is large
// enough to cover max_loops+1 attempts of at least one step.
func Validate(f *Flow) []ValidationError {
	var errs []ValidationError

	seen := make(map[string]bool, len(f.Steps))
	for i, s := range f.Steps {
		if s.ID == "" {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("steps[%d].id", i),
				Message: "step id must not be empty",
			})
			continue
		}
		if seen[s.ID] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("steps[%d].id", i),
				Message: fmt.Sprintf("duplicate step id %q", s.ID),
			})
		}
		seen[s.ID] = true
	}

	for i, l := range f.Links {
		if !seen[l.SourceStepID] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("links[%d].source_step_id", i),
				Message: fmt.Sprintf("unknown step id %q", l.SourceStepID),
			})
		}
		if !seen[l.TargetStepID] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("links[%d].target_step_id", i),
				Message: fmt.Sprintf("unknown step id %q", l.TargetStepID),
			})
		}
	}

	// at most one "always" edge used in routing per (source, outcome)
	// pair -- since "always" matches every outcome, that reduces to: at
	// most one always edge per source step.
	alwaysBySource := make(map[string]int)
	for _, l := range f.Links {
		if l.Condition == ConditionAlways {
			alwaysBySource[l.SourceStepID]++
		}
	}
	for src, n := range alwaysBySource {
		if n > 1 {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("links[source_step_id=%q]", src),
				Message: fmt.Sprintf("%d \"always\" edges declared from this step, only one is usable in routing", n),
			})
		}
	}

	if f.Runtime.MaxStepExecutions < f.Runtime.MaxLoops+1 {
		errs = append(errs, ValidationError{
			Path:    "runtime.max_step_executions",
			Message: fmt.Sprintf("must be >= max_loops+1 (%d), got %d", f.Runtime.MaxLoops+1, f.Runtime.MaxStepExecutions),
		})
	}

	for i, g := range f.QualityGates {
		if !g.Kind.Valid() {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("quality_gates[%d].kind", i),
				Message: fmt.Sprintf("unrecognized gate kind %q", g.Kind),
			})
		}
		if g.TargetStepID != AnyStepTarget && !seen[g.TargetStepID] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("quality_gates[%d].target_step_id", i),
				Message: fmt.Sprintf("unknown step id %q", g.TargetStepID),
			})
		}
	}

	return errs
}

// Normalize applies defaults and is idempotent: Normalize(Normalize(f))
// equals Normalize(f). It coerces empty conditions to "always" (already
// handled by Condition's UnmarshalJSON for wire payloads, but Normalize
// covers flows constructed directly in Go) and retargets delivery-completion
// gates per RetargetDeliveryGates.
func Normalize(f *Flow) {
	for i := range f.Links {
		if f.Links[i].Condition == "" {
			f.Links[i].Condition = ConditionAlways
		}
	}
	RetargetDeliveryGates(f)
}

// inDegree computes the number of incoming edges for each step.
func inDegree(f *Flow) map[string]int {
	deg := make(map[string]int, len(f.Steps))
	for _, s := range f.Steps {
		deg[s.ID] = 0
	}
	for _, l := range f.Links {
		deg[l.TargetStepID]++
	}
	return deg
}

// hasOutgoing reports whether stepID has at least one outgoing link.
func hasOutgoing(f *Flow, stepID string) bool {
	for _, l := range f.Links {
		if l.SourceStepID == stepID {
			return true
		}
	}
	return false
}

// ResolveDeliveryStep resolves the terminal delivery step per §4.6's rule:
// a step with no outgoing edges that is role=executor; if none, the last
// terminal step in flow order; if still none, the last executor; else the
// final step declared.
func ResolveDeliveryStep(f *Flow) (Step, bool) {
	if len(f.Steps) == 0 {
		return Step{}, false
	}

	var lastTerminalExecutor, lastTerminal, lastExecutor Step
	haveTerminalExecutor, haveTerminal, haveExecutor := false, false, false

	for _, s := range f.Steps {
		terminal := !hasOutgoing(f, s.ID)
		if terminal {
			lastTerminal = s
			haveTerminal = true
			if s.Role == RoleExecutor {
				lastTerminalExecutor = s
				haveTerminalExecutor = true
			}
		}
		if s.Role == RoleExecutor {
			lastExecutor = s
			haveExecutor = true
		}
	}

	switch {
	case haveTerminalExecutor:
		return lastTerminalExecutor, true
	case haveTerminal:
		return lastTerminal, true
	case haveExecutor:
		return lastExecutor, true
	default:
		return f.Steps[len(f.Steps)-1], true
	}
}

// RetargetDeliveryGates rewrites, at flow-load time, any regex_must_match
// gate whose pattern mentions both "workflow_status" and "complete"
// (case-insensitive) so its target is the resolved delivery step, per
// §4.8. Idempotent: running it twice produces identical gates because the
// second pass retargets an already-correct target to itself.
func RetargetDeliveryGates(f *Flow) {
	delivery, ok := ResolveDeliveryStep(f)
	if !ok {
		return
	}

	for i := range f.QualityGates {
		g := &f.QualityGates[i]
		if g.Kind != GateKindRegexMustMatch {
			continue
		}
		if !mentionsCompletionPattern(g.Pattern) {
			continue
		}
		if g.TargetStepID == AnyStepTarget || !isTerminalTarget(f, g.TargetStepID) {
			g.TargetStepID = delivery.ID
		}
	}
}

func isTerminalTarget(f *Flow, stepID string) bool {
	if _, ok := f.StepByID(stepID); !ok {
		return false
	}
	return !hasOutgoing(f, stepID)
}

func mentionsCompletionPattern(pattern string) bool {
	lower := strings.ToLower(pattern)
	return strings.Contains(lower, "workflow_status") && strings.Contains(lower, "complete")
}
