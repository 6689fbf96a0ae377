package policy

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// FileEntry describes one file present in a storage listing, as seen by
// the helper-script and immutable-artifact guards.
type FileEntry struct {
	Path    string
	ModTime time.Time
	Size    int64
}

var helperScriptExtensions = map[string]bool{
	".py": true, ".sh": true, ".js": true, ".ts": true,
}

// HelperScriptGuard blocks a step if an unexpected helper script shows up
// in shared or isolated storage without being declared in
// required_output_files.
func HelperScriptGuard(entries []FileEntry, requiredOutputFiles []string) error {
	declared := make(map[string]bool, len(requiredOutputFiles))
	for _, f := range requiredOutputFiles {
		declared[filepath.Base(f)] = true
	}

	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Path))
		if !helperScriptExtensions[ext] {
			continue
		}
		if declared[filepath.Base(e.Path)] {
			continue
		}
		return fmt.Errorf("unexpected helper script %q is not declared in required_output_files", e.Path)
	}
	return nil
}

// ArtifactOwner maps an artifact template to the step id that declared it
// in required_output_files, used to enforce immutability against
// non-owner writers.
type ArtifactOwner struct {
	Template string
	OwnerStepID string
}

// ImmutableArtifactGuard blocks a non-owner step from mutating (changing
// mtime or size) an artifact owned by an upstream analysis/extractor step.
func ImmutableArtifactGuard(currentStepID string, owners []ArtifactOwner, before, after map[string]FileEntry) error {
	for _, owner := range owners {
		if owner.OwnerStepID == currentStepID {
			continue
		}
		b, hasBefore := before[owner.Template]
		a, hasAfter := after[owner.Template]
		if !hasBefore || !hasAfter {
			continue
		}
		if !a.ModTime.Equal(b.ModTime) || a.Size != b.Size {
			return fmt.Errorf("step %q mutated artifact %q owned by step %q", currentStepID, owner.Template, owner.OwnerStepID)
		}
	}
	return nil
}

// FreshnessResult is the outcome of comparing one required_output_files
// template's before/after snapshot.
type FreshnessResult struct {
	Template      string
	OK            bool
	AlreadyFresh  bool
	Reason        string
}

// RequiredArtifactFreshness compares a required_output_files template's
// before/after snapshot. Absent after execution is always a block.
// Present but byte-identical to before only passes if it existed before
// (an "already up-to-date" result, not a fresh miss).
func RequiredArtifactFreshness(template string, before, after ArtifactSnapshot) FreshnessResult {
	if !after.Exists {
		return FreshnessResult{Template: template, OK: false, Reason: "required artifact is absent after execution"}
	}
	if before.Exists && after.SizeBytes == before.SizeBytes && after.Path == before.Path {
		return FreshnessResult{Template: template, OK: true, AlreadyFresh: true, Reason: "already up-to-date"}
	}
	return FreshnessResult{Template: template, OK: true}
}
