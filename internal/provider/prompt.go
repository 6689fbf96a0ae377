package provider

import "strings"

const safetyHeader = `Runtime safety rules (override any conflicting task wording):
- Do not write artifacts via shell redirection; use the declared output mechanism.
- Do not create ad-hoc helper scripts.
- Do not repeat a write/copy action that already succeeded.
- Write all summaries in English.

`

const deckSynthesisContract = `
Deck synthesis contract: prefer assets-manifest file references (assets/frame-*)
over inline base64 payloads when producing frame assets.
`

// ComposePrompt prepends the runtime-safety header to req's context, and
// appends the deck-synthesis contract block when the context references
// both a frame map and an assets manifest.
func ComposePrompt(req Request) string {
	var b strings.Builder
	b.WriteString(safetyHeader)
	b.WriteString(req.Context)
	if isDeckSynthesisContext(req.Context) {
		b.WriteString(deckSynthesisContract)
	}
	return b.String()
}

func isDeckSynthesisContext(context string) bool {
	return strings.Contains(context, "frame-map.json") && strings.Contains(context, "assets-manifest.json")
}
