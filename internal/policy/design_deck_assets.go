package policy

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fyreflow/engine/pkg/flow"
)

// DesignDeckAssets is the policy profile for steps that produce a
// frame-by-frame design deck: a frame-map.json index plus an
// assets-manifest.json referencing file-backed frame assets.
var DesignDeckAssets = Profile{
	Name: "design_deck_assets",

	DefaultCacheBypassInputKeys:                  []string{"design_brief"},
	DefaultCacheBypassOrchestratorPromptPatterns: []string{"regenerate frame"},

	ValidateSkipIfArtifacts:   validateDesignDeckSkip,
	EvaluateArtifactContracts: evaluateDesignDeckContracts,
}

const maxAssetsManifestBytes = 8 * 1024 * 1024

func validateDesignDeckSkip(step flow.Step, snapshots map[string]ArtifactSnapshot) SkipValidation {
	frameMap, ok := snapshots["frame-map.json"]
	if !ok || !frameMap.Exists {
		return SkipValidation{OK: false, Reason: "frame-map.json not present"}
	}
	if frameMap.SizeBytes < minFrameMapBytes {
		return SkipValidation{OK: false, Reason: "frame-map.json is smaller than the minimum viable size"}
	}

	var parsed struct {
		Frames []json.RawMessage `json:"frames"`
	}
	data, err := os.ReadFile(frameMap.Path)
	if err != nil || json.Unmarshal(data, &parsed) != nil || len(parsed.Frames) == 0 {
		return SkipValidation{OK: false, Reason: "frame-map.json does not contain a parseable, non-empty frame count"}
	}

	manifest, ok := snapshots["assets-manifest.json"]
	if !ok || !manifest.Exists {
		return SkipValidation{OK: false, Reason: "assets-manifest.json not present"}
	}
	if manifest.SizeBytes > maxAssetsManifestBytes {
		return SkipValidation{OK: false, Reason: "assets-manifest.json exceeds the maximum manifest size"}
	}

	manifestData, err := os.ReadFile(manifest.Path)
	if err != nil {
		return SkipValidation{OK: false, Reason: "assets-manifest.json could not be read"}
	}
	if strings.Contains(string(manifestData), "data:image/") {
		return SkipValidation{OK: false, Reason: "assets-manifest.json contains inline base64 payloads instead of file references"}
	}

	var assets struct {
		Assets []string `json:"assets"`
	}
	if json.Unmarshal(manifestData, &assets) != nil {
		return SkipValidation{OK: false, Reason: "assets-manifest.json is not valid JSON"}
	}
	for _, ref := range assets.Assets {
		matched, _ := doublestar.Match("assets/frame-*", ref)
		if !matched {
			return SkipValidation{OK: false, Reason: "assets-manifest.json references an asset outside assets/frame-*"}
		}
	}

	return SkipValidation{OK: true}
}

const minFrameMapBytes = 256

// evaluateDesignDeckContracts emits blocking contract failures for two of the
// invariants validateDesignDeckSkip checks (manifest size and inline
// payloads), as post-execution findings rather than a skip precondition; the
// frame-map and asset-path checks are not repeated here. It does not attempt in-place repair of
// inline base64 payloads; that rewrite belongs to a future profile
// extension once a concrete encoding/target format is settled.
func evaluateDesignDeckContracts(step flow.Step, after map[string]ArtifactSnapshot) []ContractResult {
	var out []ContractResult

	if manifest, ok := after["assets-manifest.json"]; ok && manifest.Exists {
		if manifest.SizeBytes > maxAssetsManifestBytes {
			out = append(out, ContractResult{
				GateID: "design_deck_assets:manifest_size", Blocking: true,
				Message: "assets-manifest.json exceeds the maximum manifest size",
			})
		}
		if data, err := os.ReadFile(manifest.Path); err == nil && strings.Contains(string(data), "data:image/") {
			out = append(out, ContractResult{
				GateID: "design_deck_assets:inline_payload", Blocking: true,
				Message: "assets-manifest.json contains inline base64 payloads",
			})
		}
	}

	return out
}
