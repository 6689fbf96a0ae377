package flowstore_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/flowstore"
	"github.com/fyreflow/engine/pkg/flow"
)

type fakeStore struct {
	mu       sync.Mutex
	upserted map[string]*flow.Flow
	deleted  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserted: make(map[string]*flow.Flow), deleted: make(map[string]bool)}
}

func (s *fakeStore) UpsertPipeline(ctx context.Context, f *flow.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted[f.ID] = f
	delete(s.deleted, f.ID)
	return nil
}

func (s *fakeStore) DeletePipeline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.upserted, id)
	s.deleted[id] = true
	return nil
}

func (s *fakeStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.upserted[id]
	return ok
}

const sampleFlowYAML = `
id: demo
name: Demo Flow
steps:
  - id: step1
    name: Step One
    role: executor
    prompt: do the thing
    provider_id: p1
    context_template: base
    output_format: markdown
`

func TestWatcher_Load_UpsertsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(sampleFlowYAML), 0o644))

	store := newFakeStore()
	w, err := flowstore.New(dir, store, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Load(t.Context()))
	assert.True(t, store.has("demo"))
}

func TestWatcher_DetectsNewFile(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	w, err := flowstore.New(dir, store, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Load(t.Context()))
	w.Start(t.Context())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(sampleFlowYAML), 0o644))

	require.Eventually(t, func() bool {
		return store.has("demo")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_DerivesIDFromFilenameWhenUnset(t *testing.T) {
	dir := t.TempDir()
	unnamed := "id: \"\"\nname: Unnamed\nsteps:\n  - id: s\n    name: S\n    role: executor\n    prompt: go\n    provider_id: p\n    context_template: base\n    output_format: markdown\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "my-flow.yaml"), []byte(unnamed), 0o644))

	store := newFakeStore()
	w, err := flowstore.New(dir, store, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Load(t.Context()))
	assert.True(t, store.has("my-flow"))
}
