package engine

import (
	"fmt"

	"github.com/fyreflow/engine/internal/contract"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

// QueueItem is one scheduler enqueue request produced by routing a step's
// result.
type QueueItem struct {
	StepID            string
	Reason            run.TriggeredByReason
	TriggeredByStepID string
}

// RouteDecision is everything C8 derives from one step result: what to
// enqueue next, and whether the run must stop for missing input.
type RouteDecision struct {
	Enqueues      []QueueItem
	NeedsInput    bool
	InputRequests []contract.InputRequest
	StopReason    string
	NoRouteMatched bool
}

// Route implements the C8 remediation router: it inspects a completed
// step's result against its outgoing links and decides what runs next.
func Route(f *flow.Flow, step flow.Step, sr *run.StepRun) RouteDecision {
	c := contract.Parse(sr.Output)
	_, needsInput, requests := deriveOutcome(c)

	if needsInput {
		return RouteDecision{
			NeedsInput:    true,
			InputRequests: requests,
			StopReason:    fmt.Sprintf("%s requires user input", step.Name),
		}
	}

	links := f.OutgoingLinks(step.ID)
	outcome := toFlowOutcome(sr.WorkflowOutcome)

	var enqueues []QueueItem
	matched := false
	for _, l := range links {
		if l.Condition.Matches(outcome) {
			matched = true
			enqueues = append(enqueues, QueueItem{StepID: l.TargetStepID, Reason: run.ReasonRoute, TriggeredByStepID: step.ID})
		}
	}

	noRouteMatched := len(links) > 0 && !matched

	if sr.BlockingFailure() && step.Role != flow.RoleOrchestrator && !hasOnFailEdge(links) && hasArtifactSignal(f, step) {
		enqueues = append(enqueues, QueueItem{StepID: step.ID, Reason: run.ReasonRoute, TriggeredByStepID: step.ID})
	}

	return RouteDecision{Enqueues: enqueues, NoRouteMatched: noRouteMatched}
}

func toFlowOutcome(o run.WorkflowOutcome) flow.Outcome {
	switch o {
	case run.WorkflowOutcomePass:
		return flow.OutcomePass
	case run.WorkflowOutcomeFail:
		return flow.OutcomeFail
	default:
		return flow.OutcomeNeutral
	}
}

func hasOnFailEdge(links []flow.Link) bool {
	for _, l := range links {
		if l.Condition == flow.ConditionOnFail {
			return true
		}
	}
	return false
}

// hasArtifactSignal reports whether step declares required_output_files or
// is the target of a blocking artifact_exists gate, the condition the
// implicit self-loop requires in addition to a blocking failure.
func hasArtifactSignal(f *flow.Flow, step flow.Step) bool {
	if len(step.RequiredOutputFiles) > 0 {
		return true
	}
	for _, g := range f.GatesForStep(step.ID) {
		if g.Kind == flow.GateKindArtifactExists && g.Blocking {
			return true
		}
	}
	return false
}
