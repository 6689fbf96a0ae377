package engine

import (
	"regexp"
	"strings"

	"github.com/fyreflow/engine/internal/artifact"
	"github.com/fyreflow/engine/pkg/flow"
)

// secretInputKey matches input keys that conventionally carry sensitive
// values, mirroring pkg/secrets' key-redaction rule for log fields.
var secretInputKey = regexp.MustCompile(`(?i)(token|secret|password|api[_-]?key|oauth)`)

const secureSentinel = "[secure]"

var contextToken = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// ComposeContext substitutes step.ContextTemplate's tokens against task,
// the previous step's output, the run's inputs, and storage, redacting any
// input whose key looks like a credential or whose value is already the
// literal sentinel.
func ComposeContext(step flow.Step, task, previousOutput string, inputs map[string]string, storage artifact.StoragePaths) string {
	redacted := redactInputs(inputs)

	return contextToken.ReplaceAllStringFunc(step.ContextTemplate, func(m string) string {
		sub := contextToken.FindStringSubmatch(m)
		if len(sub) != 2 {
			return m
		}
		token := sub[1]

		switch token {
		case "task":
			return task
		case "previous_output":
			return previousOutput
		case "shared_storage_path":
			if storage.SharedDisabled {
				return "DISABLED"
			}
			return storage.SharedPath
		case "isolated_storage_path":
			if storage.IsolatedDisabled {
				return "DISABLED"
			}
			return storage.IsolatedPath
		case "run_storage_path":
			return storage.RunPath
		}

		if key, ok := strings.CutPrefix(token, "input."); ok {
			if v, found := redacted[key]; found {
				return v
			}
			return ""
		}
		return m
	})
}

// redactInputs returns a copy of inputs with any credential-shaped key, or
// any value already equal to the secure sentinel, rendered as the sentinel
// rather than its real value.
func redactInputs(inputs map[string]string) map[string]string {
	out := make(map[string]string, len(inputs))
	for k, v := range inputs {
		if secretInputKey.MatchString(k) || v == secureSentinel {
			out[k] = secureSentinel
			continue
		}
		out[k] = v
	}
	return out
}
