// Package flowstore keeps internal/store's pipeline table in sync with a
// directory of flow definition files on disk, so a flow can be edited in
// place and picked up without a restart or an explicit API call.
package flowstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/fyreflow/engine/pkg/flow"
)

// PipelineStore is the subset of internal/store.Store the watcher needs,
// kept narrow so tests can fake it without a real database.
type PipelineStore interface {
	UpsertPipeline(ctx context.Context, f *flow.Flow) error
	DeletePipeline(ctx context.Context, id string) error
}

// Watcher loads every *.yaml/*.yml file in a directory as a flow.Flow,
// upserts it into a PipelineStore, and keeps watching the directory for
// writes, creates, and removes.
type Watcher struct {
	dir     string
	store   PipelineStore
	log     *slog.Logger
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	fileIDs map[string]string // absolute path -> flow.Flow.ID, for delete bookkeeping
}

// New creates a watcher rooted at dir. Load must be called once before
// Start to perform the initial sync; Start only reacts to subsequent
// filesystem events.
func New(dir string, store PipelineStore, log *slog.Logger) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("flowstore: resolving directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("flowstore: creating watcher: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("flowstore: watching %s: %w", absDir, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dir:     absDir,
		store:   store,
		log:     log.With("component", "flowstore", "dir", absDir),
		fsw:     fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		fileIDs: make(map[string]string),
	}, nil
}

// Load walks the watched directory once, upserting every flow file found.
// It is safe to call again to force a full resync.
func (w *Watcher) Load(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("flowstore: reading %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isFlowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := w.loadFile(ctx, path); err != nil {
			w.log.Error("failed to load flow file", "path", path, "error", err)
		}
	}
	return nil
}

// Start begins reacting to filesystem events in the background. It returns
// immediately; call Stop to shut the watcher down.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
}

// Stop halts the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isFlowFile(event.Name) {
		return
	}

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if err := w.loadFile(ctx, event.Name); err != nil {
			w.log.Error("failed to reload flow file", "path", event.Name, "error", err)
		}
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.removeFile(ctx, event.Name)
	}
}

func (w *Watcher) loadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f flow.Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing flow yaml: %w", err)
	}
	if f.ID == "" {
		f.ID = flowIDFromPath(path)
	}
	flow.Normalize(&f)
	if problems := flow.Validate(&f); len(problems) > 0 {
		return fmt.Errorf("flow %q failed validation: %v", f.ID, problems)
	}

	if err := w.store.UpsertPipeline(ctx, &f); err != nil {
		return fmt.Errorf("upserting pipeline: %w", err)
	}
	w.fileIDs[path] = f.ID
	w.log.Info("reloaded flow file", "path", path, "pipeline_id", f.ID)
	return nil
}

func (w *Watcher) removeFile(ctx context.Context, path string) {
	id, ok := w.fileIDs[path]
	if !ok {
		return
	}
	delete(w.fileIDs, path)
	if err := w.store.DeletePipeline(ctx, id); err != nil {
		w.log.Error("failed to delete pipeline for removed flow file", "path", path, "pipeline_id", id, "error", err)
		return
	}
	w.log.Info("removed pipeline for deleted flow file", "path", path, "pipeline_id", id)
}

func isFlowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// flowIDFromPath derives a stable pipeline id from a flow file's name when
// the file itself declares none, so re-reading the same file always
// resolves to the same pipeline row instead of minting a new uuid per load.
func flowIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
