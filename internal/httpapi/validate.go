package httpapi

import "strings"

const (
	maxTaskLen     = 16000
	maxInputKeys   = 120
	maxInputValLen = 4000
	maxScenarioLen = 80
)

type fieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// normalizeInputKeys lowercases and collapses whitespace in every input
// key, per spec.md §6's run-start request schema.
func normalizeInputKeys(inputs map[string]string) map[string]string {
	if inputs == nil {
		return nil
	}
	out := make(map[string]string, len(inputs))
	for k, v := range inputs {
		out[normalizeKey(k)] = v
	}
	return out
}

func normalizeKey(k string) string {
	return strings.Join(strings.Fields(strings.ToLower(k)), " ")
}

// validateRunStart enforces the run-start request schema's size limits.
func validateRunStart(req createRunRequest) []fieldError {
	var errs []fieldError

	if len(req.Task) > maxTaskLen {
		errs = append(errs, fieldError{Path: "task", Message: "exceeds maximum length of 16000 characters"})
	}
	if len(req.Inputs) > maxInputKeys {
		errs = append(errs, fieldError{Path: "inputs", Message: "exceeds maximum of 120 keys"})
	}
	for k, v := range req.Inputs {
		if len(v) > maxInputValLen {
			errs = append(errs, fieldError{Path: "inputs." + k, Message: "exceeds maximum length of 4000 characters"})
		}
	}
	if len(req.Scenario) > maxScenarioLen {
		errs = append(errs, fieldError{Path: "scenario", Message: "exceeds maximum length of 80 characters"})
	}
	return errs
}
