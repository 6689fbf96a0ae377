// Package contract parses a step's raw text output into a structured
// GateContract, falling back from strict JSON through markdown-fenced JSON
// to a brace-balanced scan, and finally to legacy regex status markers.
package contract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// WorkflowStatus is the step's self-reported outcome signal.
type WorkflowStatus string

const (
	StatusPass      WorkflowStatus = "PASS"
	StatusFail      WorkflowStatus = "FAIL"
	StatusNeutral   WorkflowStatus = "NEUTRAL"
	StatusComplete  WorkflowStatus = "COMPLETE"
	StatusNeedsInput WorkflowStatus = "NEEDS_INPUT"
)

// NextAction is the routing hint derived from a contract's status.
type NextAction string

const (
	ActionContinue   NextAction = "continue"
	ActionRetryStep  NextAction = "retry_step"
	ActionRetryStage NextAction = "retry_stage"
	ActionEscalate   NextAction = "escalate"
	ActionStop       NextAction = "stop"
)

// Reason is one structured explanation attached to a contract.
type Reason struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

// GateContract is the parsed, normalized shape of a step's output, whatever
// form it originally arrived in.
type GateContract struct {
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	NextAction     NextAction     `json:"next_action"`
	Reasons        []Reason       `json:"reasons,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Stage          string         `json:"stage,omitempty"`
	StepRole       string         `json:"step_role,omitempty"`
	GateTarget     string         `json:"gate_target,omitempty"`

	// RawJSON is the decoded JSON object the contract was derived from, or
	// nil when Source is legacy_text. Quality-gate json_field_exists checks
	// probe this with jq.
	RawJSON map[string]any `json:"-"`
	Source  string         `json:"source"`
}

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*\\n(.+?)```")

var statusMarker = regexp.MustCompile(`(?i)WORKFLOW_STATUS:\s*\*{0,2}([A-Z_]+)\*{0,2}`)

var statusKeys = []string{"workflow_status", "workflowStatus", "status"}

// Parse attempts the full resolution order and returns nil if no contract
// could be recovered from text at all.
func Parse(text string) *GateContract {
	trimmed := strings.TrimSpace(text)

	if obj, ok := tryJSONObject(trimmed); ok {
		if c := fromJSONObject(obj, "json"); c != nil {
			return c
		}
	}

	for _, block := range fencedJSONBlocks(trimmed) {
		if obj, ok := tryJSONObject(block); ok {
			if c := fromJSONObject(obj, "json"); c != nil {
				return c
			}
		}
	}

	if block := firstBalancedObject(trimmed); block != "" {
		if obj, ok := tryJSONObject(block); ok {
			if c := fromJSONObject(obj, "json"); c != nil {
				return c
			}
		}
	}

	return fromLegacyMarkers(trimmed)
}

func tryJSONObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// fencedJSONBlocks returns every ```json fenced block in insertion order.
func fencedJSONBlocks(text string) []string {
	var out []string
	matches := fencedJSONBlock.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		if len(m) > 1 {
			out = append(out, strings.TrimSpace(m[1]))
		}
	}
	return out
}

// firstBalancedObject scans for the first quote/escape-aware balanced
// {...} span in text.
func firstBalancedObject(text string) string {
	var depth int
	var start int
	var inString, escape, found bool

	for i, ch := range text {
		if escape {
			escape = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escape = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
					found = true
				}
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 && found {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// fromJSONObject builds a GateContract from a decoded JSON object if it
// carries a recognizable status field, otherwise returns nil so the caller
// keeps trying the next candidate in the resolution order.
func fromJSONObject(obj map[string]any, source string) *GateContract {
	raw, ok := findStatusField(obj)
	if !ok {
		return nil
	}

	status := normalizeStatus(raw)
	c := &GateContract{
		WorkflowStatus: status,
		NextAction:     defaultNextAction(status),
		RawJSON:        obj,
		Source:         source,
	}

	if s, ok := obj["summary"].(string); ok {
		c.Summary = s
	}
	if s, ok := obj["stage"].(string); ok {
		c.Stage = s
	}
	if s, ok := obj["step_role"].(string); ok {
		c.StepRole = s
	}
	if s, ok := obj["gate_target"].(string); ok {
		c.GateTarget = s
	}
	if na, ok := obj["next_action"].(string); ok && na != "" {
		c.NextAction = NextAction(na)
	}
	c.Reasons = extractReasons(obj)

	if c.Summary == "" {
		c.Summary = buildEnglishSummary(obj, c)
	}
	return c
}

func findStatusField(obj map[string]any) (string, bool) {
	for _, key := range statusKeys {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	// case-insensitive fallback
	for k, v := range obj {
		for _, key := range statusKeys {
			if strings.EqualFold(k, key) {
				if s, ok := v.(string); ok && s != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

func normalizeStatus(raw string) WorkflowStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(StatusPass):
		return StatusPass
	case string(StatusFail):
		return StatusFail
	case string(StatusComplete):
		return StatusComplete
	case string(StatusNeedsInput):
		return StatusNeedsInput
	default:
		return StatusNeutral
	}
}

func defaultNextAction(status WorkflowStatus) NextAction {
	if status == StatusFail {
		return ActionRetryStep
	}
	return ActionContinue
}

func extractReasons(obj map[string]any) []Reason {
	raw, ok := obj["reasons"].([]any)
	if !ok {
		return nil
	}
	var out []Reason
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		reason := Reason{}
		if v, ok := m["code"].(string); ok {
			reason.Code = v
		}
		if v, ok := m["message"].(string); ok {
			reason.Message = v
		}
		if v, ok := m["severity"].(string); ok {
			reason.Severity = v
		}
		out = append(out, reason)
	}
	return out
}

// fromLegacyMarkers falls back to the plain-text WORKFLOW_STATUS: marker
// when no JSON in text carried a recognizable status field.
func fromLegacyMarkers(text string) *GateContract {
	m := statusMarker.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	status := normalizeStatus(m[1])
	c := &GateContract{
		WorkflowStatus: status,
		NextAction:     defaultNextAction(status),
		Source:         "legacy_text",
	}
	c.Summary = buildEnglishSummary(nil, c)
	return c
}

// buildEnglishSummary picks the first qualifying summary-like field, or
// synthesizes a terse "workflow=X | next=Y" line if none qualifies.
func buildEnglishSummary(obj map[string]any, c *GateContract) string {
	for _, key := range []string{"summary", "message", "notes"} {
		if obj == nil {
			break
		}
		if s, ok := obj[key].(string); ok {
			if sentence := firstSentence(s); sentence != "" {
				return sentence
			}
		}
	}
	return "workflow=" + string(c.WorkflowStatus) + " | next=" + string(c.NextAction)
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if idx := strings.IndexAny(s, ".!?"); idx >= 0 {
		return strings.TrimSpace(s[:idx+1])
	}
	return s
}
