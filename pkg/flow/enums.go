package flow

import (
	"encoding/json"
)

// Role is the functional role a step plays in a run. Closed variant:
// unrecognized values round-trip to RoleUnknown rather than failing to parse.
type Role string

const (
	RoleAnalysis     Role = "analysis"
	RolePlanner      Role = "planner"
	RoleOrchestrator Role = "orchestrator"
	RoleExecutor     Role = "executor"
	RoleTester       Role = "tester"
	RoleReview       Role = "review"
	RoleUnknown      Role = "unknown"
)

var validRoles = map[Role]bool{
	RoleAnalysis: true, RolePlanner: true, RoleOrchestrator: true,
	RoleExecutor: true, RoleTester: true, RoleReview: true,
}

// UnmarshalJSON rejects nothing; unrecognized role strings become RoleUnknown.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := Role(s)
	if !validRoles[v] {
		v = RoleUnknown
	}
	*r = v
	return nil
}

// OutputFormat declares how a step's free-text output should be interpreted.
type OutputFormat string

const (
	OutputFormatMarkdown OutputFormat = "markdown"
	OutputFormatJSON     OutputFormat = "json"
)

// UnmarshalJSON defaults unrecognized/empty values to markdown, the least
// constrained interpretation.
func (f *OutputFormat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch OutputFormat(s) {
	case OutputFormatJSON:
		*f = OutputFormatJSON
	default:
		*f = OutputFormatMarkdown
	}
	return nil
}

// Condition gates whether a link is eligible to route a given step outcome.
type Condition string

const (
	ConditionAlways Condition = "always"
	ConditionOnPass Condition = "on_pass"
	ConditionOnFail Condition = "on_fail"
)

// UnmarshalJSON coerces an empty string to ConditionAlways per the flow file
// format's "empty strings coerce to defaults" rule, and any other
// unrecognized value to ConditionAlways as the safest default.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Condition(s) {
	case ConditionOnPass:
		*c = ConditionOnPass
	case ConditionOnFail:
		*c = ConditionOnFail
	default:
		*c = ConditionAlways
	}
	return nil
}

// Matches reports whether this condition routes for the given outcome.
func (c Condition) Matches(outcome Outcome) bool {
	switch c {
	case ConditionAlways:
		return true
	case ConditionOnPass:
		return outcome == OutcomePass
	case ConditionOnFail:
		return outcome == OutcomeFail
	default:
		return false
	}
}

// Outcome is the pass/fail/neutral verdict derived from a step's contract.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeNeutral Outcome = "neutral"
)

// GateKind selects which evaluator a quality gate uses.
type GateKind string

const (
	GateKindRegexMustMatch    GateKind = "regex_must_match"
	GateKindRegexMustNotMatch GateKind = "regex_must_not_match"
	GateKindJSONFieldExists   GateKind = "json_field_exists"
	GateKindArtifactExists    GateKind = "artifact_exists"
	GateKindManualApproval    GateKind = "manual_approval"
)

var validGateKinds = map[GateKind]bool{
	GateKindRegexMustMatch: true, GateKindRegexMustNotMatch: true,
	GateKindJSONFieldExists: true, GateKindArtifactExists: true,
	GateKindManualApproval: true,
}

// UnmarshalJSON leaves unrecognized kinds as the literal string so flow
// validation can surface a precise CRUD-time error instead of silently
// coercing to a sentinel (gate kind is structural, not best-effort parsing).
func (k *GateKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = GateKind(s)
	return nil
}

// Valid reports whether k is one of the recognized gate kinds.
func (k GateKind) Valid() bool {
	return validGateKinds[k]
}

// AnyStepTarget is the sentinel target_step_id meaning "applies to every step".
const AnyStepTarget = "any_step"
