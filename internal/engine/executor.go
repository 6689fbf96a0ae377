// Package engine executes one step attempt at a time (C6), routes its
// result to downstream steps (C8), and drives a run's FIFO scheduler loop
// (C7) to completion.
package engine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fyreflow/engine/internal/artifact"
	"github.com/fyreflow/engine/internal/contract"
	"github.com/fyreflow/engine/internal/gate"
	"github.com/fyreflow/engine/internal/policy"
	"github.com/fyreflow/engine/internal/provider"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

// ProviderResolver looks up the invocation config for a provider id
// declared on a step.
type ProviderResolver func(providerID string) (provider.Config, bool)

// ExecutorDeps wires the components a step attempt needs.
type ExecutorDeps struct {
	Invoker        provider.Invoker
	Gates          *gate.Evaluator
	Policies       *policy.Registry
	Providers      ProviderResolver
	BaseStorageDir string
}

// Executor runs one attempt of one step per the C6 algorithm.
type Executor struct {
	deps ExecutorDeps
}

// NewExecutor wires an Executor from deps.
func NewExecutor(deps ExecutorDeps) *Executor {
	return &Executor{deps: deps}
}

var forceRebuildPattern = regexp.MustCompile(`(?i)runs every time|no cache`)

// ExecuteAttempt performs one attempt of step against r and appends/updates
// its StepRun, per spec.md's ten-step C6 algorithm. It returns the updated
// StepRun; a non-nil error indicates a fatal (non-retryable-exhausted)
// provider failure the scheduler should treat as a run-ending fault.
func (e *Executor) ExecuteAttempt(ctx context.Context, f *flow.Flow, r *run.Run, step flow.Step, reason run.TriggeredByReason, triggeredBy string, log *slog.Logger) (*run.StepRun, error) {
	storage := artifact.Roots(e.deps.BaseStorageDir, r.PipelineID, r.ID, step)

	sr := &run.StepRun{
		StepID:            step.ID,
		TriggeredByStepID: triggeredBy,
		TriggeredByReason: reason,
		Status:            run.StepStatusRunning,
	}
	started := time.Now()
	sr.StartedAt = &started

	previousOutput := lastOutput(r)
	stepContext := ComposeContext(step, r.Task, previousOutput, r.Inputs, storage)
	sr.InputContext = stepContext

	// Step 3: skip-if evaluation, unless a bypass condition holds.
	if len(step.SkipIfArtifacts) > 0 && !e.cacheBypassed(step, r, previousOutput) {
		if result, skipped := e.evaluateSkipIf(step, storage, r.Inputs); skipped {
			sr.Status = run.StepStatusCompleted
			sr.WorkflowOutcome = run.WorkflowOutcomePass
			sr.QualityGateResults = result
			sr.Attempts++
			finished := time.Now()
			sr.FinishedAt = &finished
			if log != nil {
				log.Info("step satisfied by skip_if_artifacts", "step_id", step.ID)
			}
			return sr, nil
		}
	}

	profiles := e.deps.Policies.Resolve(step)

	owners := artifactOwners(f)
	monitoredTemplates := monitoredTemplates(step, owners)
	before := e.snapshotAll(monitoredTemplates, storage, r.Inputs)
	beforeEntries := e.listStorageEntries(storage)

	providerCfg, ok := e.deps.Providers(step.ProviderID)
	if !ok {
		sr.Status = run.StepStatusFailed
		sr.Error = fmt.Sprintf("provider %q is not configured", step.ProviderID)
		finished := time.Now()
		sr.FinishedAt = &finished
		sr.Attempts++
		return sr, nil
	}

	stageTimeout := f.Runtime.StageTimeoutMS
	req := provider.Request{
		Role:                string(step.Role),
		Model:               step.Model,
		ReasoningEffort:     step.ReasoningEffort,
		SystemPrompt:        step.Prompt,
		Context:             stepContext,
		ContextWindowTokens: step.ContextWindowTokens,
		Use1MContext:        step.Use1MContext,
		FastMode:            step.FastMode,
		OutputFormat:        string(step.OutputFormat),
		StageTimeoutMS:      stageTimeout,
		EnabledMCPServerIDs: step.EnabledMCPServerIDs,
	}

	rawOutput, invokeErr := e.deps.Invoker.Invoke(ctx, providerCfg, req, log)
	sr.Output = rawOutput
	sr.Attempts++

	after := e.snapshotAll(monitoredTemplates, storage, r.Inputs)
	afterEntries := e.listStorageEntries(storage)

	var results []run.GateResult
	c := contract.Parse(rawOutput)

	if invokeErr != nil {
		results = append(results, run.GateResult{
			GateID: "provider:invoke", GateName: "provider invocation",
			Kind: "provider_error", Status: run.GateStatusFail, Blocking: true,
			Message: invokeErr.Error(),
		})
	} else {
		results = append(results, e.deps.Gates.StepContracts(ctx, step, c, storage, r.Inputs)...)
		results = append(results, e.deps.Gates.PipelineGates(ctx, f.QualityGates, step, c, storage, r.Inputs, rawOutput)...)
		results = append(results, e.evaluateProfileContracts(step, profiles, after)...)
		results = append(results, e.evaluateGuards(step, owners, beforeEntries, afterEntries, before, after)...)
	}

	outcome, needsInput, inputRequests := deriveOutcome(c)
	sr.WorkflowOutcome = outcome

	if c != nil && c.WorkflowStatus == contract.StatusComplete {
		if delivery, ok := flow.ResolveDeliveryStep(f); !ok || delivery.ID != step.ID {
			results = append(results, run.GateResult{
				GateID: "delivery:completion_invariant", GateName: "delivery completion target invariant",
				Kind: "delivery_completion", Status: run.GateStatusFail, Blocking: true,
				Message: fmt.Sprintf("workflow_status=COMPLETE reported by non-terminal-delivery step %q", step.ID),
			})
		}
	}

	sr.QualityGateResults = results

	finished := time.Now()
	sr.FinishedAt = &finished

	switch {
	case invokeErr != nil:
		sr.Status = run.StepStatusFailed
		sr.Error = invokeErr.Error()
	case gate.BlockingFailure(results):
		sr.Status = run.StepStatusFailed
	default:
		sr.Status = run.StepStatusCompleted
	}

	if needsInput {
		sr.SubagentNotes = append(sr.SubagentNotes, inputRequestNotes(inputRequests)...)
	}

	return sr, nil
}

// deriveOutcome maps a parsed contract's workflow status onto the
// pass/fail/neutral outcome routing decisions are made on, and separately
// reports whether the step is asking the run for missing input.
func deriveOutcome(c *contract.GateContract) (run.WorkflowOutcome, bool, []contract.InputRequest) {
	needsInput, requests := contract.ExtractInputRequestSignal(c)
	if c == nil {
		return run.WorkflowOutcomeNeutral, needsInput, requests
	}
	switch c.WorkflowStatus {
	case contract.StatusPass, contract.StatusComplete:
		return run.WorkflowOutcomePass, needsInput, requests
	case contract.StatusFail:
		return run.WorkflowOutcomeFail, needsInput, requests
	default:
		return run.WorkflowOutcomeNeutral, needsInput, requests
	}
}

func inputRequestNotes(requests []contract.InputRequest) []string {
	notes := make([]string, 0, len(requests))
	for _, r := range requests {
		if r.Prompt != "" {
			notes = append(notes, fmt.Sprintf("needs input %q: %s", r.Key, r.Prompt))
		} else {
			notes = append(notes, fmt.Sprintf("needs input %q", r.Key))
		}
	}
	return notes
}

// lastOutput returns the output of the most recently finished step in r,
// the {{previous_output}} substitution's source.
func lastOutput(r *run.Run) string {
	var latest *run.StepRun
	for _, s := range r.Steps {
		if s.FinishedAt == nil {
			continue
		}
		if latest == nil || s.FinishedAt.After(*latest.FinishedAt) {
			latest = s
		}
	}
	if latest == nil {
		return ""
	}
	return latest.Output
}

// cacheBypassed reports whether any skip_if_artifacts bypass condition
// holds for this attempt.
func (e *Executor) cacheBypassed(step flow.Step, r *run.Run, previousOutput string) bool {
	profiles := e.deps.Policies.Resolve(step)
	keys, patterns := policy.MergeCacheBypass(step, profiles)

	keySet := make(map[string]bool, len(keys)+1)
	keySet["force_rebuild"] = true
	for _, k := range keys {
		keySet[strings.ToLower(k)] = true
	}
	for k, v := range r.Inputs {
		if keySet[strings.ToLower(strings.TrimSpace(k))] && truthy(v) {
			return true
		}
	}

	if forceRebuildPattern.MatchString(step.Prompt) {
		return true
	}

	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err == nil && re.MatchString(previousOutput) {
			return true
		}
	}

	if step.CacheBypassOrchestratorPromptExpr != "" {
		if matched, err := policy.DefaultExprEvaluator.EvaluateCacheBypassPrompt(step.CacheBypassOrchestratorPromptExpr, previousOutput); err == nil && matched {
			return true
		}
	}

	if truthy(r.Inputs["disable_cache_for_all_steps"]) {
		return true
	}
	return false
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// evaluateSkipIf resolves every skip_if_artifacts template and, if all
// exist and the step's resolved profiles' validate_skip_if_artifacts hooks
// (if any) all pass, reports success with the synthesized gate results that
// explain the decision.
func (e *Executor) evaluateSkipIf(step flow.Step, storage artifact.StoragePaths, inputs map[string]string) ([]run.GateResult, bool) {
	snapshots := make(map[string]policy.ArtifactSnapshot, len(step.SkipIfArtifacts))
	var results []run.GateResult

	for _, tmpl := range step.SkipIfArtifacts {
		res := artifact.Resolve(tmpl, storage, inputs)
		snapshots[tmpl] = policy.ArtifactSnapshot{Template: tmpl, Path: res.FoundPath, Exists: res.Exists, SizeBytes: res.SizeBytes}
		status := run.GateStatusPass
		msg := "found at " + res.FoundPath
		if !res.Exists {
			status = run.GateStatusFail
			msg = res.Explain()
		}
		results = append(results, run.GateResult{
			GateID: "skip_if:" + tmpl, GateName: "skip_if_artifacts", Kind: "skip_if_artifacts",
			Status: status, Blocking: false, Message: msg,
		})
		if !res.Exists {
			return results, false
		}
	}

	if step.SkipIfExpr != "" {
		v, err := policy.DefaultExprEvaluator.EvaluateSkip(step.SkipIfExpr, step, snapshots)
		if err != nil {
			v = policy.SkipValidation{OK: false, Reason: err.Error()}
		}
		results = append(results, run.GateResult{
			GateID: "skip_if:expr", GateName: "skip_if_expr", Kind: "policy_skip_validation",
			Status: boolStatus(v.OK), Blocking: false, Message: v.Reason,
		})
		if !v.OK {
			return results, false
		}
	}

	for _, p := range e.deps.Policies.Resolve(step) {
		if p.ValidateSkipIfArtifacts == nil {
			continue
		}
		v := p.ValidateSkipIfArtifacts(step, snapshots)
		results = append(results, run.GateResult{
			GateID: "skip_if:profile:" + p.Name, GateName: p.Name + " skip validation", Kind: "policy_skip_validation",
			Status: boolStatus(v.OK), Blocking: false, Message: v.Reason,
		})
		if !v.OK {
			return results, false
		}
	}

	return results, true
}

func boolStatus(ok bool) run.GateStatus {
	if ok {
		return run.GateStatusPass
	}
	return run.GateStatusFail
}

func (e *Executor) evaluateProfileContracts(step flow.Step, profiles []policy.Profile, after map[string]policy.ArtifactSnapshot) []run.GateResult {
	var results []run.GateResult
	for _, p := range profiles {
		if p.EvaluateArtifactContracts == nil {
			continue
		}
		for _, c := range p.EvaluateArtifactContracts(step, after) {
			results = append(results, run.GateResult{
				GateID: c.GateID, GateName: c.GateID, Kind: "policy_artifact_contract",
				Status: boolStatus(c.Pass), Blocking: c.Blocking, Message: c.Message,
			})
		}
	}
	return results
}

func (e *Executor) evaluateGuards(step flow.Step, owners []policy.ArtifactOwner, beforeEntries, afterEntries []policy.FileEntry, before, after map[string]policy.ArtifactSnapshot) []run.GateResult {
	var results []run.GateResult

	if err := policy.HelperScriptGuard(afterEntries, step.RequiredOutputFiles); err != nil {
		results = append(results, run.GateResult{GateID: "guard:helper_script", GateName: "helper script guard", Kind: "guard", Status: run.GateStatusFail, Blocking: true, Message: err.Error()})
	}

	beforeByPath := toFileEntryMap(beforeEntries)
	afterByPath := toFileEntryMap(afterEntries)
	beforeFiles := make(map[string]policy.FileEntry, len(before))
	afterFiles := make(map[string]policy.FileEntry, len(after))
	for tmpl, snap := range before {
		if entry, ok := beforeByPath[filepath.Clean(snap.Path)]; ok && snap.Exists {
			beforeFiles[tmpl] = entry
		}
	}
	for tmpl, snap := range after {
		if entry, ok := afterByPath[filepath.Clean(snap.Path)]; ok && snap.Exists {
			afterFiles[tmpl] = entry
		}
	}
	if err := policy.ImmutableArtifactGuard(step.ID, owners, beforeFiles, afterFiles); err != nil {
		results = append(results, run.GateResult{GateID: "guard:immutable_artifact", GateName: "immutable artifact guard", Kind: "guard", Status: run.GateStatusFail, Blocking: true, Message: err.Error()})
	}

	for _, tmpl := range step.RequiredOutputFiles {
		fr := policy.RequiredArtifactFreshness(tmpl, before[tmpl], after[tmpl])
		status := run.GateStatusPass
		if !fr.OK {
			status = run.GateStatusFail
		}
		results = append(results, run.GateResult{
			GateID: "guard:freshness:" + tmpl, GateName: "required artifact freshness", Kind: "guard",
			Status: status, Blocking: !fr.OK, Message: fr.Reason,
		})
	}
	return results
}

func toFileEntryMap(entries []policy.FileEntry) map[string]policy.FileEntry {
	out := make(map[string]policy.FileEntry, len(entries))
	for _, e := range entries {
		out[e.Path] = e
	}
	return out
}

// artifactOwners maps every step's required_output_files template to that
// step's id, used by the immutable-artifact guard to exempt the owner.
func artifactOwners(f *flow.Flow) []policy.ArtifactOwner {
	var owners []policy.ArtifactOwner
	for _, s := range f.Steps {
		for _, tmpl := range s.RequiredOutputFiles {
			owners = append(owners, policy.ArtifactOwner{Template: tmpl, OwnerStepID: s.ID})
		}
	}
	return owners
}

// monitoredTemplates is the union of templates a step attempt snapshots
// before and after execution: its own obligations, plus every other step's
// declared artifacts (so the immutable-artifact guard has before/after data).
func monitoredTemplates(step flow.Step, owners []policy.ArtifactOwner) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range step.RequiredOutputFiles {
		add(t)
	}
	for _, t := range step.SkipIfArtifacts {
		add(t)
	}
	for _, o := range owners {
		add(o.Template)
	}
	return out
}

func (e *Executor) snapshotAll(templates []string, storage artifact.StoragePaths, inputs map[string]string) map[string]policy.ArtifactSnapshot {
	out := make(map[string]policy.ArtifactSnapshot, len(templates))
	for _, tmpl := range templates {
		res := artifact.Resolve(tmpl, storage, inputs)
		out[tmpl] = policy.ArtifactSnapshot{Template: tmpl, Path: res.FoundPath, Exists: res.Exists, SizeBytes: res.SizeBytes}
	}
	return out
}

// listStorageEntries walks the step's enabled shared/isolated storage
// roots, used by the helper-script and immutable-artifact guards.
func (e *Executor) listStorageEntries(storage artifact.StoragePaths) []policy.FileEntry {
	var entries []policy.FileEntry
	walk := func(root string) {
		if root == "" {
			return
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			info, infoErr := d.Info()
			if infoErr != nil {
				return nil
			}
			entries = append(entries, policy.FileEntry{Path: path, ModTime: info.ModTime(), Size: info.Size()})
			return nil
		})
	}
	if !storage.SharedDisabled {
		walk(storage.SharedPath)
	}
	if !storage.IsolatedDisabled {
		walk(storage.IsolatedPath)
	}
	return entries
}
