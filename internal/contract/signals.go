package contract

// StatusSignals groups the distinct status channels a multi-artifact step
// may report: the primary workflow status plus any review sub-signals.
type StatusSignals struct {
	Workflow   WorkflowStatus
	HTMLReview WorkflowStatus
	PDFReview  WorkflowStatus
}

// ExtractStatusSignals reads workflow_status plus the html_review/pdf_review
// sibling fields a step's JSON output may carry, each independently
// normalized.
func ExtractStatusSignals(c *GateContract) StatusSignals {
	sig := StatusSignals{Workflow: c.WorkflowStatus}
	if c.RawJSON == nil {
		return sig
	}
	if v, ok := c.RawJSON["html_review"].(string); ok {
		sig.HTMLReview = normalizeStatus(v)
	}
	if v, ok := c.RawJSON["pdf_review"].(string); ok {
		sig.PDFReview = normalizeStatus(v)
	}
	return sig
}

// InputRequest is one item of a step's input_requests[] array, asking the
// run for a value it needs to proceed.
type InputRequest struct {
	Key    string `json:"key"`
	Prompt string `json:"prompt,omitempty"`
}

// ExtractInputRequestSignal reports whether a step's contract is asking for
// missing input, either via workflow_status=NEEDS_INPUT or a populated
// input_requests[] array, and returns the requests found.
func ExtractInputRequestSignal(c *GateContract) (needsInput bool, requests []InputRequest) {
	if c == nil {
		return false, nil
	}
	if c.WorkflowStatus == StatusNeedsInput {
		needsInput = true
	}
	if c.RawJSON == nil {
		return needsInput, nil
	}
	raw, ok := c.RawJSON["input_requests"].([]any)
	if !ok || len(raw) == 0 {
		return needsInput, nil
	}
	needsInput = true
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		req := InputRequest{}
		if v, ok := m["key"].(string); ok {
			req.Key = v
		}
		if v, ok := m["prompt"].(string); ok {
			req.Prompt = v
		}
		if req.Key != "" {
			requests = append(requests, req)
		}
	}
	return needsInput, requests
}
