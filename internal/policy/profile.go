// Package policy implements named policy profiles: optional hooks a step
// can opt into (explicitly via policy_profile_ids, or implicitly via a
// profile's own inference heuristic) that shape caching, skip-if-artifacts
// validation, and post-execution artifact contracts.
package policy

import (
	"fmt"
	"strings"

	"github.com/fyreflow/engine/pkg/flow"
)

// ArtifactSnapshot is the resolved state of one artifact path at a point in
// time, as produced by the artifact resolver.
type ArtifactSnapshot struct {
	Template  string
	Path      string
	Exists    bool
	SizeBytes int64
}

// SkipValidation is the result of a profile's validate_skip_if_artifacts
// hook.
type SkipValidation struct {
	OK     bool
	Reason string
}

// ContractResult is one post-execution artifact-contract finding, shaped
// like a quality-gate result so C6 can fold it into a step's gate results.
type ContractResult struct {
	GateID   string
	Message  string
	Blocking bool
	Pass     bool
}

// Profile is a named bundle of policy hooks. Any hook may be nil; callers
// treat a nil hook as "not provided" and fall back to the step's own
// declared behavior.
type Profile struct {
	Name string

	InferFromStep func(step flow.Step) bool

	DefaultCacheBypassInputKeys                  []string
	DefaultCacheBypassOrchestratorPromptPatterns []string

	ValidateSkipIfArtifacts func(step flow.Step, snapshots map[string]ArtifactSnapshot) SkipValidation
	EvaluateArtifactContracts func(step flow.Step, after map[string]ArtifactSnapshot) []ContractResult
}

// Registry holds every profile known to the runtime, keyed by name.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry returns a profile registry preloaded with the profiles every
// runtime wires in by default: design_deck_assets and expr_validated. A
// caller that wants a blank registry (tests exercising Register/Resolve in
// isolation) should use NewEmptyRegistry instead.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	_ = r.Register(DesignDeckAssets)
	_ = r.Register(ExprValidated)
	return r
}

// NewEmptyRegistry returns a profile registry with no profiles registered.
func NewEmptyRegistry() *Registry {
	return &Registry{profiles: make(map[string]Profile)}
}

// Register adds profile to the registry. Returns an error if a profile with
// the same name is already registered.
func (r *Registry) Register(p Profile) error {
	if _, exists := r.profiles[p.Name]; exists {
		return fmt.Errorf("policy profile %q already registered", p.Name)
	}
	r.profiles[p.Name] = p
	return nil
}

// Get returns the profile registered under name, or false if none exists.
func (r *Registry) Get(name string) (Profile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// Resolve returns the profiles attached to step: those named in
// step.PolicyProfileIDs, plus any registered profile whose InferFromStep
// hook matches when the step declares no explicit ids.
func (r *Registry) Resolve(step flow.Step) []Profile {
	if len(step.PolicyProfileIDs) > 0 {
		var out []Profile
		for _, id := range step.PolicyProfileIDs {
			if p, ok := r.profiles[id]; ok {
				out = append(out, p)
			}
		}
		return out
	}

	var inferred []Profile
	for _, p := range r.profiles {
		if p.InferFromStep != nil && p.InferFromStep(step) {
			inferred = append(inferred, p)
		}
	}
	return inferred
}

// MergeCacheBypass combines the step's own cache-bypass declarations with
// every resolved profile's defaults, deduping and lowercasing keys per
// spec.md's merge rule.
func MergeCacheBypass(step flow.Step, profiles []Profile) (keys []string, patterns []string) {
	keySet := make(map[string]bool)
	patternSet := make(map[string]bool)

	addKeys := func(ks []string) {
		for _, k := range ks {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" && !keySet[k] {
				keySet[k] = true
				keys = append(keys, k)
			}
		}
	}
	addPatterns := func(ps []string) {
		for _, p := range ps {
			p = strings.TrimSpace(p)
			if p != "" && !patternSet[p] {
				patternSet[p] = true
				patterns = append(patterns, p)
			}
		}
	}

	addKeys(step.CacheBypassInputKeys)
	addPatterns(step.CacheBypassOrchestratorPromptPatterns)
	for _, p := range profiles {
		addKeys(p.DefaultCacheBypassInputKeys)
		addPatterns(p.DefaultCacheBypassOrchestratorPromptPatterns)
	}
	return keys, patterns
}
