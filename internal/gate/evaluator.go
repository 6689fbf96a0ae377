// Package gate evaluates the two passes every step attempt is subject to:
// step contracts (derived from the step definition itself) and pipeline
// gates (declared on the flow, scoped by target_step_id).
package gate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyreflow/engine/internal/artifact"
	"github.com/fyreflow/engine/internal/contract"
	"github.com/fyreflow/engine/internal/jq"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

// Evaluator runs step contracts and pipeline gates against one step
// attempt's output.
type Evaluator struct {
	jq *jq.Executor
}

// New returns an Evaluator with the package's default jq execution limits.
func New() *Evaluator {
	return &Evaluator{jq: jq.NewExecutor(jq.DefaultTimeout, jq.DefaultMaxInputSize)}
}

// StepContracts evaluates the output_format / required_output_fields /
// required_output_files obligations implied by step, independent of any
// pipeline gate declarations.
func (e *Evaluator) StepContracts(ctx context.Context, step flow.Step, c *contract.GateContract, storage artifact.StoragePaths, inputs map[string]string) []run.GateResult {
	var results []run.GateResult

	if step.OutputFormat == flow.OutputFormatJSON {
		if c == nil || c.RawJSON == nil {
			results = append(results, run.GateResult{
				GateID: "contract:output_format", GateName: "output must be JSON",
				Kind: "output_format", Status: run.GateStatusFail, Blocking: true,
				Message: "step output_format=json but output did not parse as a JSON object",
			})
		} else {
			results = append(results, run.GateResult{
				GateID: "contract:output_format", GateName: "output must be JSON",
				Kind: "output_format", Status: run.GateStatusPass, Blocking: true,
			})
		}
	}

	for _, field := range step.RequiredOutputFields {
		results = append(results, e.requiredField(ctx, field, c))
	}

	for _, template := range step.RequiredOutputFiles {
		results = append(results, e.requiredFile(template, storage, inputs))
	}

	return results
}

func (e *Evaluator) requiredField(ctx context.Context, dottedPath string, c *contract.GateContract) run.GateResult {
	base := run.GateResult{
		GateID: "contract:required_output_field:" + dottedPath,
		GateName: fmt.Sprintf("required field %q", dottedPath),
		Kind: "required_output_field", Blocking: true,
	}
	if c == nil || c.RawJSON == nil {
		base.Status = run.GateStatusFail
		base.Message = "output did not parse as JSON; cannot check required fields"
		return base
	}

	found, err := jqFieldExists(ctx, e.jq, dottedPath, c.RawJSON)
	if err != nil {
		base.Status = run.GateStatusFail
		base.Message = fmt.Sprintf("error resolving %q: %v", dottedPath, err)
		return base
	}
	if !found {
		base.Status = run.GateStatusFail
		base.Message = fmt.Sprintf("required field %q missing from output", dottedPath)
		return base
	}
	base.Status = run.GateStatusPass
	return base
}

func (e *Evaluator) requiredFile(template string, storage artifact.StoragePaths, inputs map[string]string) run.GateResult {
	res := artifact.Resolve(template, storage, inputs)
	base := run.GateResult{
		GateID: "contract:required_output_file:" + template,
		GateName: fmt.Sprintf("required file %q", template),
		Kind: "required_output_file", Blocking: true,
		Details: map[string]any{"candidate_paths": res.CandidatePaths, "disabled_storage": res.DisabledStorage},
	}
	if res.Exists {
		base.Status = run.GateStatusPass
		base.Message = "found at " + res.FoundPath
		return base
	}
	base.Status = run.GateStatusFail
	base.Message = res.Explain()
	return base
}

// PipelineGates evaluates every flow.QualityGate whose target_step_id
// matches step.ID or flow.AnyStepTarget.
func (e *Evaluator) PipelineGates(ctx context.Context, gates []flow.QualityGate, step flow.Step, c *contract.GateContract, storage artifact.StoragePaths, inputs map[string]string, rawOutput string) []run.GateResult {
	var results []run.GateResult
	for _, g := range gates {
		if g.TargetStepID != flow.AnyStepTarget && g.TargetStepID != step.ID {
			continue
		}
		results = append(results, e.evalGate(ctx, g, c, storage, inputs, rawOutput))
	}
	return results
}

func (e *Evaluator) evalGate(ctx context.Context, g flow.QualityGate, c *contract.GateContract, storage artifact.StoragePaths, inputs map[string]string, rawOutput string) run.GateResult {
	base := run.GateResult{GateID: g.ID, GateName: g.Name, Kind: string(g.Kind), Blocking: g.Blocking}

	switch g.Kind {
	case flow.GateKindRegexMustMatch, flow.GateKindRegexMustNotMatch:
		return e.evalRegex(g, rawOutput, base)
	case flow.GateKindJSONFieldExists:
		return e.evalJSONFieldExists(ctx, g, c, base)
	case flow.GateKindArtifactExists:
		return e.evalArtifactExists(g, storage, inputs, base)
	case flow.GateKindManualApproval:
		// Not evaluated here: reported as passing. Nothing in the engine
		// raises an Approval for this gate; the scheduler only waits on
		// approvals already recorded on the run.
		base.Status = run.GateStatusPass
		base.Message = "manual approval raised to scheduler"
		return base
	default:
		base.Status = run.GateStatusFail
		base.Message = fmt.Sprintf("unrecognized gate kind %q", g.Kind)
		return base
	}
}

func (e *Evaluator) evalRegex(g flow.QualityGate, rawOutput string, base run.GateResult) run.GateResult {
	if g.Pattern == "" {
		base.Status = run.GateStatusFail
		base.Message = "empty pattern"
		return base
	}
	re, err := compilePattern(g.Pattern, g.Flags)
	if err != nil {
		base.Status = run.GateStatusFail
		base.Message = fmt.Sprintf("invalid pattern: %v", err)
		return base
	}

	matched := re.MatchString(rawOutput)
	want := g.Kind == flow.GateKindRegexMustMatch
	if matched == want {
		base.Status = run.GateStatusPass
	} else {
		base.Status = run.GateStatusFail
		if want {
			base.Message = fmt.Sprintf("pattern %q did not match output", g.Pattern)
		} else {
			base.Message = fmt.Sprintf("pattern %q matched output but must not", g.Pattern)
		}
	}
	return base
}

// compilePattern translates the restricted {g,i,m,s,u,y} flag set onto Go's
// RE2 inline flags. g (global) and y (sticky) affect only match iteration
// semantics, which MatchString already provides; they need no RE2 flag.
func compilePattern(pattern, flags string) (*regexp.Regexp, error) {
	var inline string
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			inline += string(f)
		case 'g', 'u', 'y':
			// no RE2 equivalent needed
		}
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func (e *Evaluator) evalJSONFieldExists(ctx context.Context, g flow.QualityGate, c *contract.GateContract, base run.GateResult) run.GateResult {
	if c == nil || c.RawJSON == nil {
		base.Status = run.GateStatusFail
		base.Message = "output is not JSON"
		return base
	}
	found, err := jqFieldExists(ctx, e.jq, g.JSONPath, c.RawJSON)
	if err != nil {
		base.Status = run.GateStatusFail
		base.Message = fmt.Sprintf("error resolving %q: %v", g.JSONPath, err)
		return base
	}
	if !found {
		base.Status = run.GateStatusFail
		base.Message = fmt.Sprintf("json_path %q not found", g.JSONPath)
		return base
	}
	base.Status = run.GateStatusPass
	return base
}

func (e *Evaluator) evalArtifactExists(g flow.QualityGate, storage artifact.StoragePaths, inputs map[string]string, base run.GateResult) run.GateResult {
	res := artifact.Resolve(g.ArtifactPath, storage, inputs)
	base.Details = map[string]any{"candidate_paths": res.CandidatePaths}
	if res.DisabledStorage {
		base.Status = run.GateStatusFail
		base.Message = res.Explain()
		return base
	}
	if !res.Exists {
		base.Status = run.GateStatusFail
		base.Message = res.Explain()
		return base
	}
	base.Status = run.GateStatusPass
	base.Message = "found at " + res.FoundPath
	return base
}

// jqFieldExists compiles dottedPath as a jq field-access expression
// (a.b.c -> .a.b.c) and reports whether it resolves to a non-null value.
func jqFieldExists(ctx context.Context, executor *jq.Executor, dottedPath string, obj map[string]any) (bool, error) {
	expr := "." + strings.TrimPrefix(dottedPath, ".")
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := executor.Execute(ctx, expr, obj)
	if err != nil {
		return false, err
	}
	return result != nil, nil
}

// BlockingFailure reports whether any result in results is a blocking
// failure, matching run.StepRun.BlockingFailure's semantics.
func BlockingFailure(results []run.GateResult) bool {
	for _, r := range results {
		if r.Status == run.GateStatusFail && r.Blocking {
			return true
		}
	}
	return false
}
