// Package flow holds the static, immutable data model of a pipeline: its
// steps, links, runtime bounds, and quality gates.
package flow

// Step is one node of a flow: a prompt delegated to a provider, plus the
// toggles that shape context composition, caching, and contract enforcement.
type Step struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Role     Role   `json:"role" yaml:"role"`
	Prompt   string `json:"prompt" yaml:"prompt"`

	ProviderID      string `json:"provider_id" yaml:"provider_id"`
	Model           string `json:"model" yaml:"model"`
	ReasoningEffort string `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`

	ContextTemplate string       `json:"context_template" yaml:"context_template"`
	OutputFormat    OutputFormat `json:"output_format" yaml:"output_format"`

	RequiredOutputFields []string `json:"required_output_fields,omitempty" yaml:"required_output_fields,omitempty"`
	RequiredOutputFiles  []string `json:"required_output_files,omitempty" yaml:"required_output_files,omitempty"`
	SkipIfArtifacts      []string `json:"skip_if_artifacts,omitempty" yaml:"skip_if_artifacts,omitempty"`
	Scenarios            []string `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`

	PolicyProfileIDs                        []string `json:"policy_profile_ids,omitempty" yaml:"policy_profile_ids,omitempty"`
	CacheBypassInputKeys                     []string `json:"cache_bypass_input_keys,omitempty" yaml:"cache_bypass_input_keys,omitempty"`
	CacheBypassOrchestratorPromptPatterns    []string `json:"cache_bypass_orchestrator_prompt_patterns,omitempty" yaml:"cache_bypass_orchestrator_prompt_patterns,omitempty"`

	// SkipIfExpr is an optional expression (evaluated against the resolved
	// skip_if_artifacts snapshots) that must hold in addition to every
	// profile's validate_skip_if_artifacts hook before a step is skipped.
	SkipIfExpr string `json:"skip_if_expr,omitempty" yaml:"skip_if_expr,omitempty"`
	// CacheBypassOrchestratorPromptExpr is an optional expression alternative
	// to CacheBypassOrchestratorPromptPatterns' regexes, for bypass
	// conditions a single regex can't express cleanly.
	CacheBypassOrchestratorPromptExpr string `json:"cache_bypass_orchestrator_prompt_expr,omitempty" yaml:"cache_bypass_orchestrator_prompt_expr,omitempty"`

	FastMode             bool `json:"fast_mode,omitempty" yaml:"fast_mode,omitempty"`
	Use1MContext         bool `json:"use_1m_context,omitempty" yaml:"use_1m_context,omitempty"`
	ContextWindowTokens  int  `json:"context_window_tokens,omitempty" yaml:"context_window_tokens,omitempty"`
	EnableIsolatedStorage bool `json:"enable_isolated_storage,omitempty" yaml:"enable_isolated_storage,omitempty"`
	EnableSharedStorage   bool `json:"enable_shared_storage,omitempty" yaml:"enable_shared_storage,omitempty"`

	EnabledMCPServerIDs []string `json:"enabled_mcp_server_ids,omitempty" yaml:"enabled_mcp_server_ids,omitempty"`
	EnableDelegation    bool     `json:"enable_delegation,omitempty" yaml:"enable_delegation,omitempty"`
	DelegationCount     int      `json:"delegation_count,omitempty" yaml:"delegation_count,omitempty"`
}

// Link is a directed, conditional edge between two steps. Cycles are
// permitted and expected.
type Link struct {
	SourceStepID string    `json:"source_step_id" yaml:"source_step_id"`
	TargetStepID string    `json:"target_step_id" yaml:"target_step_id"`
	Condition    Condition `json:"condition" yaml:"condition"`
}

// Runtime bounds the scheduler's loop and global step budgets.
type Runtime struct {
	MaxLoops           int `json:"max_loops" yaml:"max_loops"`
	MaxStepExecutions  int `json:"max_step_executions" yaml:"max_step_executions"`
	StageTimeoutMS     int `json:"stage_timeout_ms" yaml:"stage_timeout_ms"`
}

// QualityGate is a pipeline-level check applied to one or every step.
type QualityGate struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	TargetStepID string   `json:"target_step_id" yaml:"target_step_id"` // step id, or flow.AnyStepTarget
	Kind         GateKind `json:"kind" yaml:"kind"`
	Blocking     bool     `json:"blocking" yaml:"blocking"`

	Pattern      string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Flags        string `json:"flags,omitempty" yaml:"flags,omitempty"`
	JSONPath     string `json:"json_path,omitempty" yaml:"json_path,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	Message      string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Flow is the complete, immutable-per-run pipeline definition.
type Flow struct {
	ID            string        `json:"id" yaml:"id"`
	Name          string        `json:"name" yaml:"name"`
	Steps         []Step        `json:"steps" yaml:"steps"`
	Links         []Link        `json:"links" yaml:"links"`
	Runtime       Runtime       `json:"runtime" yaml:"runtime"`
	QualityGates  []QualityGate `json:"quality_gates" yaml:"quality_gates"`

	// Extra preserves unknown top-level fields so the flow file format's
	// "unknown fields are preserved only on the outer object" rule holds
	// through a load/store round trip performed by a caller (internal/store).
	Extra map[string]any `json:"-" yaml:"-"`
}

// StepByID returns the step with the given id, or false if none matches.
func (f *Flow) StepByID(id string) (Step, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// OutgoingLinks returns every link whose source is stepID, in declaration order.
func (f *Flow) OutgoingLinks(stepID string) []Link {
	var out []Link
	for _, l := range f.Links {
		if l.SourceStepID == stepID {
			out = append(out, l)
		}
	}
	return out
}

// GatesForStep returns the quality gates that apply to stepID, i.e. those
// targeting it directly or targeting flow.AnyStepTarget.
func (f *Flow) GatesForStep(stepID string) []QualityGate {
	var out []QualityGate
	for _, g := range f.QualityGates {
		if g.TargetStepID == AnyStepTarget || g.TargetStepID == stepID {
			out = append(out, g)
		}
	}
	return out
}
