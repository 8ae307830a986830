// Package storage persists generation runs and LLM calls in SQLite.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/c360studio/semtest/llm"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/workflow"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = errors.New("run not found")

// Store is the run history. It implements workflow.RunRecorder and
// llm.CallRecorder.
type Store struct {
	db *sql.DB
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID            string          `json:"id"`
	StoryTitle    string          `json:"story_title"`
	Source        scenario.Source `json:"source"`
	DryRun        bool            `json:"dry_run"`
	Attempts      int             `json:"attempts"`
	ScenarioCount int             `json:"scenario_count"`
	StartedAt     time.Time       `json:"started_at"`
	Elapsed       time.Duration   `json:"elapsed"`
}

// ListOptions filters ListRuns.
type ListOptions struct {
	// Limit caps the number of rows (0 = 50).
	Limit int
	// Source keeps only runs whose final set came from this generator.
	Source scenario.Source
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a completed run, replacing any run with the same ID.
func (s *Store) RecordRun(ctx context.Context, r *workflow.RunRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	count := 0
	if r.Set != nil {
		count = len(r.Set.Scenarios)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, story_title, source, dry_run, attempts, scenario_count, started_at, elapsed_ms, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StoryTitle, string(r.Source), r.DryRun, externalAttempts(r.Attempts), count,
		r.StartedAt.UTC().Format(timeLayout), r.Elapsed.Milliseconds(), string(data))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

func externalAttempts(attempts []workflow.GenerationAttempt) int {
	n := 0
	for _, a := range attempts {
		if a.Source == scenario.SourceExternal {
			n++
		}
	}
	return n
}

// GetRun returns the full record of one run.
func (s *Store) GetRun(ctx context.Context, id string) (*workflow.RunRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}

	var r workflow.RunRecord
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]RunSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, story_title, source, dry_run, attempts, scenario_count, started_at, elapsed_ms FROM runs`
	args := []any{}
	if opts.Source != "" {
		query += ` WHERE source = ?`
		args = append(args, string(opts.Source))
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum       RunSummary
			source    string
			startedAt string
			elapsedMs int64
		)
		if err := rows.Scan(&sum.ID, &sum.StoryTitle, &source, &sum.DryRun, &sum.Attempts,
			&sum.ScenarioCount, &startedAt, &elapsedMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.Source = scenario.Source(source)
		sum.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		if sum.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for %s: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RecordCall stores one LLM call.
func (s *Store) RecordCall(ctx context.Context, c *llm.CallRecord) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal call: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO llm_calls
			(request_id, run_id, attempt, provider, model, total_tokens, started_at, duration_ms, error, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RequestID, c.RunID, c.Attempt, c.Provider, c.Model, c.TotalTokens,
		c.StartedAt.UTC().Format(timeLayout), c.DurationMs, c.Error, string(data))
	if err != nil {
		return fmt.Errorf("insert call %s: %w", c.RequestID, err)
	}
	return nil
}

// CallsForRun returns the LLM calls made by a run, oldest first.
func (s *Store) CallsForRun(ctx context.Context, runID string) ([]*llm.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM llm_calls WHERE run_id = ? ORDER BY started_at, request_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []*llm.CallRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		var c llm.CallRecord
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("decode call: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	llm.SortByStartTime(out)
	return out, nil
}
