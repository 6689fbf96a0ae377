package policy

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/fyreflow/engine/pkg/flow"
)

// ExprEvaluator compiles and caches the expressions a flow file can declare
// in place of (or alongside) a profile's compiled-in Go hooks: step.SkipIfExpr
// for validate_skip_if_artifacts and step.CacheBypassOrchestratorPromptExpr
// for cache-bypass-pattern matching. One evaluator is shared process-wide
// since expressions compile to programs with no per-run state.
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator returns an empty, ready-to-use evaluator.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// DefaultExprEvaluator is the evaluator ValidateSkipIfArtifacts and the
// executor's cache-bypass check use when a step declares an expression.
var DefaultExprEvaluator = NewExprEvaluator()

// skipEnv is the variable surface a skip_if_expr expression can see: one
// artifact entry per resolved snapshot, keyed by its template string.
type skipEnv struct {
	StepID    string
	Artifacts map[string]skipArtifact
}

type skipArtifact struct {
	Exists    bool
	SizeBytes int64
	Path      string
}

// promptEnv is the variable surface a cache_bypass_orchestrator_prompt_expr
// expression can see.
type promptEnv struct {
	Prompt string
	// has/includes/length mirror common expr-lang helper names: "contains"
	// is a reserved expr string operator, so substring checks need an
	// explicitly injected function instead.
	Has      func(s, substr string) bool
	Includes func(s, substr string) bool
	Length   func(s string) int
}

// EvaluateSkip reports whether expression holds for the given resolved
// skip_if_artifacts snapshots. An empty expression always holds, matching
// the convention that no declared condition imposes no constraint.
func (e *ExprEvaluator) EvaluateSkip(expression string, step flow.Step, snapshots map[string]ArtifactSnapshot) (SkipValidation, error) {
	if expression == "" {
		return SkipValidation{OK: true}, nil
	}

	program, err := e.compile("skip:"+expression, expression, skipEnv{})
	if err != nil {
		return SkipValidation{}, fmt.Errorf("policy: compiling skip_if_expr for step %q: %w", step.ID, err)
	}

	env := skipEnv{StepID: step.ID, Artifacts: make(map[string]skipArtifact, len(snapshots))}
	for template, snap := range snapshots {
		env.Artifacts[template] = skipArtifact{Exists: snap.Exists, SizeBytes: snap.SizeBytes, Path: snap.Path}
	}

	ok, err := e.run(program, env)
	if err != nil {
		return SkipValidation{}, fmt.Errorf("policy: evaluating skip_if_expr for step %q: %w", step.ID, err)
	}
	if !ok {
		return SkipValidation{OK: false, Reason: fmt.Sprintf("skip_if_expr %q evaluated false", expression)}, nil
	}
	return SkipValidation{OK: true}, nil
}

// EvaluateCacheBypassPrompt reports whether expression matches prompt, for
// the cache_bypass_orchestrator_prompt_expr alternative to the regex
// patterns in cache_bypass_orchestrator_prompt_patterns.
func (e *ExprEvaluator) EvaluateCacheBypassPrompt(expression, prompt string) (bool, error) {
	if expression == "" {
		return false, nil
	}

	program, err := e.compile("prompt:"+expression, expression, promptEnv{})
	if err != nil {
		return false, fmt.Errorf("policy: compiling cache_bypass_orchestrator_prompt_expr: %w", err)
	}

	env := promptEnv{
		Prompt:   prompt,
		Has:      substringMatch,
		Includes: substringMatch,
		Length:   func(s string) int { return len(s) },
	}
	return e.run(program, env)
}

func substringMatch(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return len(substr) == 0
}

func (e *ExprEvaluator) run(program *vm.Program, env any) (bool, error) {
	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("expression must evaluate to a boolean, got %T", result)
	}
	return ok, nil
}

func (e *ExprEvaluator) compile(cacheKey, expression string, env any) (*vm.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[cacheKey]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[cacheKey] = program
	e.mu.Unlock()
	return program, nil
}

// ValidateSkipIfArtifacts is a Profile hook that defers to step.SkipIfExpr,
// for registering as a profile's own validation alongside (or instead of) a
// compiled-in Go closure. Profiles that want expression support register it
// directly; it is not applied implicitly to every profile.
func ValidateSkipIfArtifacts(step flow.Step, snapshots map[string]ArtifactSnapshot) SkipValidation {
	v, err := DefaultExprEvaluator.EvaluateSkip(step.SkipIfExpr, step, snapshots)
	if err != nil {
		return SkipValidation{OK: false, Reason: err.Error()}
	}
	return v
}

// ExprValidated is the profile a step opts into (via policy_profile_ids)
// when its skip-if-artifacts precondition needs more than a bare file
// existence check but doesn't warrant a dedicated compiled-in profile like
// design_deck_assets. It defers entirely to the step's own skip_if_expr.
var ExprValidated = Profile{
	Name:                    "expr_validated",
	ValidateSkipIfArtifacts: ValidateSkipIfArtifacts,
}
