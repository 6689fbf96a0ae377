// Package store persists pipelines and runs (C9): CRUD for pipeline
// definitions, a mutable log/step/approval append surface for runs, a
// filesystem snapshot used for crash recovery, and the reattachment scan
// run once at process start.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

// Store is a SQLite-backed persistence layer for pipelines and runs.
type Store struct {
	db             *sql.DB
	baseStorageDir string
}

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path. ":memory:" opens an in-memory store.
	Path string
	// BaseStorageDir roots the per-run filesystem snapshot tree used by
	// SnapshotRunState/ReadRunSnapshot and by C1's artifact storage.
	BaseStorageDir string
}

// New opens db, configures pragmas, and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, baseStorageDir: cfg.BaseStorageDir}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// RunRootPath returns the filesystem root C1's artifact storage and C9's
// crash-recovery snapshot share for runID: <baseDir>/runs/<runID>.
func RunRootPath(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID)
}

// SnapshotRunState implements engine.Store: it flushes r to this store's
// configured BaseStorageDir, the location Recover reads back from on
// reattachment.
func (s *Store) SnapshotRunState(r *run.Run) error {
	return SnapshotRunState(r, RunRootPath(s.baseStorageDir, r.ID))
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			flow_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			status TEXT NOT NULL,
			run_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline_id ON runs(pipeline_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ListPipelines returns every stored pipeline definition, most recently
// updated first.
func (s *Store) ListPipelines(ctx context.Context) ([]*flow.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flow_json FROM pipelines ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*flow.Flow
	for rows.Next() {
		var flowJSON string
		if err := rows.Scan(&flowJSON); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline row: %w", err)
		}
		f, err := decodeFlow(flowJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetPipeline fetches one pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (*flow.Flow, error) {
	var flowJSON string
	err := s.db.QueryRowContext(ctx, `SELECT flow_json FROM pipelines WHERE id = ?`, id).Scan(&flowJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return decodeFlow(flowJSON)
}

// UpsertPipeline inserts f or replaces the existing row with the same id,
// assigning a new id via uuid when f.ID is empty.
func (s *Store) UpsertPipeline(ctx context.Context, f *flow.Flow) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	payload, err := encodeFlow(f)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, flow_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, flow_json = excluded.flow_json, updated_at = excluded.updated_at
	`, f.ID, f.Name, payload, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert pipeline: %w", err)
	}
	return nil
}

// DeletePipeline removes a pipeline and, via the foreign key cascade, its runs.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	return nil
}

// CreateRun seeds a new queued Run against pipelineSnapshot and persists it.
func (s *Store) CreateRun(ctx context.Context, pipelineSnapshot *flow.Flow, task string, inputs map[string]string, scenario string) (*run.Run, error) {
	r := &run.Run{
		ID:           uuid.NewString(),
		PipelineID:   pipelineSnapshot.ID,
		PipelineName: pipelineSnapshot.Name,
		Task:         task,
		Inputs:       inputs,
		Scenario:     scenario,
		Status:       run.StatusQueued,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.insertRun(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) insertRun(ctx context.Context, r *run.Run) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline_id, status, run_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.PipelineID, string(r.Status), string(payload), now, now)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun fetches the full run record by id.
func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	var runJSON string
	err := s.db.QueryRowContext(ctx, `SELECT run_json FROM runs WHERE id = ?`, id).Scan(&runJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	var r run.Run
	if err := json.Unmarshal([]byte(runJSON), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &r, nil
}

// ListRuns returns runs, optionally narrowed to statuses when non-empty.
func (s *Store) ListRuns(ctx context.Context, statuses []run.Status) ([]*run.Run, error) {
	query := `SELECT run_json FROM runs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := ""
		for i, st := range statuses {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + placeholders + `)`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*run.Run
	for rows.Next() {
		var runJSON string
		if err := rows.Scan(&runJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		var r run.Run
		if err := json.Unmarshal([]byte(runJSON), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpdateRun loads r by id, applies updater, and persists the result.
// updater mutates its argument in place; a returned error aborts the write.
func (s *Store) UpdateRun(ctx context.Context, id string, updater func(*run.Run) error) error {
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if err := updater(r); err != nil {
		return err
	}
	return s.persistRun(ctx, r)
}

func (s *Store) persistRun(ctx context.Context, r *run.Run) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, run_json = ?, updated_at = ? WHERE id = ?
	`, string(r.Status), string(payload), now, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// AppendLog appends one log line to run id.
func (s *Store) AppendLog(ctx context.Context, id string, line run.LogLine) error {
	return s.UpdateRun(ctx, id, func(r *run.Run) error {
		line.Index = len(r.Logs)
		r.Logs = append(r.Logs, line)
		return nil
	})
}

// MarkRunning transitions run id to running.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, run.StatusRunning)
}

// MarkPaused transitions run id to paused.
func (s *Store) MarkPaused(ctx context.Context, id string) error {
	return s.transition(ctx, id, run.StatusPaused)
}

// MarkRunningAgain resumes a paused or awaiting_approval run back to running.
func (s *Store) MarkRunningAgain(ctx context.Context, id string) error {
	return s.transition(ctx, id, run.StatusRunning)
}

// MarkCompleted transitions run id to completed.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.transition(ctx, id, run.StatusCompleted)
}

// MarkFailed transitions run id to failed.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.transition(ctx, id, run.StatusFailed)
}

// MarkCancelled transitions run id to cancelled.
func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	return s.transition(ctx, id, run.StatusCancelled)
}

func (s *Store) transition(ctx context.Context, id string, to run.Status) error {
	return s.UpdateRun(ctx, id, func(r *run.Run) error {
		return r.Transition(to, time.Now().UTC())
	})
}

// RecordStepAttempt replaces run id's StepRun record for sr.StepID, or
// appends sr as a new record.
func (s *Store) RecordStepAttempt(ctx context.Context, id string, sr *run.StepRun) error {
	return s.UpdateRun(ctx, id, func(r *run.Run) error {
		for i, existing := range r.Steps {
			if existing.StepID == sr.StepID {
				r.Steps[i] = sr
				return nil
			}
		}
		r.Steps = append(r.Steps, sr)
		return nil
	})
}

// ResolveApproval marks approvalID on run id with decision and an optional
// note.
func (s *Store) ResolveApproval(ctx context.Context, id, approvalID string, decision run.ApprovalStatus, note string) error {
	return s.UpdateRun(ctx, id, func(r *run.Run) error {
		for _, a := range r.Approvals {
			if a.ID == approvalID {
				a.Status = decision
				a.Note = note
				resolved := time.Now().UTC()
				a.ResolvedAt = &resolved
				return nil
			}
		}
		return fmt.Errorf("approval not found: %s", approvalID)
	})
}

// SnapshotRunState flushes r to a JSON blob at runRootPath/run_state.json,
// the recovery source read back by Recover. The write is atomic: it writes
// to a temp file in the same directory and renames over the target.
func SnapshotRunState(r *run.Run, runRootPath string) error {
	if err := os.MkdirAll(runRootPath, 0o755); err != nil {
		return fmt.Errorf("failed to create run root: %w", err)
	}
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run snapshot: %w", err)
	}
	target := filepath.Join(runRootPath, "run_state.json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write run snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to finalize run snapshot: %w", err)
	}
	return nil
}

// ReadRunSnapshot reads back a snapshot written by SnapshotRunState, or
// (nil, false) if none exists yet.
func ReadRunSnapshot(runRootPath string) (*run.Run, bool, error) {
	payload, err := os.ReadFile(filepath.Join(runRootPath, "run_state.json"))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read run snapshot: %w", err)
	}
	var r run.Run
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal run snapshot: %w", err)
	}
	return &r, true, nil
}

func encodeFlow(f *flow.Flow) (string, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to marshal flow: %w", err)
	}
	return string(payload), nil
}

func decodeFlow(raw string) (*flow.Flow, error) {
	var f flow.Flow
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return &f, nil
}
