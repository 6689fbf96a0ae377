// Package artifact resolves {{shared_storage_path}}-style templates against
// a run's on-disk storage roots and probes the result for existence, size,
// and mtime.
package artifact

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// StoragePaths carries the three storage roots a step may reference, along
// with which of them the step has disabled. A disabled root's path field is
// ignored; Resolve reports disabled_storage instead of probing.
type StoragePaths struct {
	SharedPath   string
	IsolatedPath string
	RunPath      string

	SharedDisabled   bool
	IsolatedDisabled bool
}

// Result is the outcome of resolving one template against one set of
// storage paths and inputs.
type Result struct {
	Template        string    `json:"template"`
	CandidatePaths  []string  `json:"candidate_paths"`
	FoundPath       string    `json:"found_path,omitempty"`
	Exists          bool      `json:"exists"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	ModTime         time.Time `json:"mtime,omitempty"`
	DisabledStorage bool      `json:"disabled_storage"`
}

var inputRef = regexp.MustCompile(`\{\{\s*input\.([a-zA-Z0-9_.-]+)\s*\}\}`)

const (
	sharedToken   = "{{shared_storage_path}}"
	isolatedToken = "{{isolated_storage_path}}"
	runToken      = "{{run_storage_path}}"
)

// Resolve expands template against storage and inputs, then probes the
// filesystem for the first existing candidate. Shared-storage candidates are
// probed before isolated ones, per the shared-first ordering the artifact
// contract requires. If template references a storage root the step has
// disabled, Resolve returns early with DisabledStorage=true and does not
// touch the filesystem.
func Resolve(template string, storage StoragePaths, inputs map[string]string) Result {
	res := Result{Template: template}

	if strings.Contains(template, sharedToken) && storage.SharedDisabled {
		res.DisabledStorage = true
		return res
	}
	if strings.Contains(template, isolatedToken) && storage.IsolatedDisabled {
		res.DisabledStorage = true
		return res
	}

	expanded := expand(template, inputs)

	var candidates []string
	if strings.Contains(template, sharedToken) {
		candidates = append(candidates, strings.Replace(expanded, sharedToken, storage.SharedPath, 1))
	}
	if strings.Contains(template, isolatedToken) {
		candidates = append(candidates, strings.Replace(expanded, isolatedToken, storage.IsolatedPath, 1))
	}
	if strings.Contains(template, runToken) {
		candidates = append(candidates, strings.Replace(expanded, runToken, storage.RunPath, 1))
	}
	if len(candidates) == 0 {
		candidates = append(candidates, expanded)
	}

	res.CandidatePaths = candidates

	for _, c := range candidates {
		found, info := probe(c)
		if found {
			res.Exists = true
			res.FoundPath = info.path
			res.SizeBytes = info.size
			res.ModTime = info.mtime
			return res
		}
	}
	return res
}

func expand(template string, inputs map[string]string) string {
	out := template
	out = inputRef.ReplaceAllStringFunc(out, func(m string) string {
		sub := inputRef.FindStringSubmatch(m)
		if len(sub) != 2 {
			return m
		}
		if v, ok := inputs[sub[1]]; ok {
			return v
		}
		return ""
	})
	return out
}

type probeInfo struct {
	path  string
	size  int64
	mtime time.Time
}

// probe resolves a single candidate path, which may itself be a glob, to a
// concrete existing file. Non-glob paths are stat'd directly; glob paths are
// expanded with doublestar and the first match wins.
func probe(path string) (bool, probeInfo) {
	if !strings.ContainsAny(path, "*?[") {
		info, err := os.Stat(path)
		if err != nil {
			return false, probeInfo{}
		}
		return true, probeInfo{path: path, size: info.Size(), mtime: info.ModTime()}
	}

	matches, err := doublestar.FilepathGlob(path)
	if err != nil || len(matches) == 0 {
		return false, probeInfo{}
	}
	info, err := os.Stat(matches[0])
	if err != nil {
		return false, probeInfo{}
	}
	return true, probeInfo{path: matches[0], size: info.Size(), mtime: info.ModTime()}
}

// Explain renders a human-readable reason for a non-existent result, used in
// gate-failure and step-contract detail messages.
func (r Result) Explain() string {
	if r.DisabledStorage {
		return fmt.Sprintf("template %q references a storage root the step has disabled", r.Template)
	}
	if r.Exists {
		return fmt.Sprintf("found at %s", r.FoundPath)
	}
	return fmt.Sprintf("no candidate path exists: %v", r.CandidatePaths)
}
