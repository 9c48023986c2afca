// Package history keeps a SQLite record of past runs so that scenarios
// which alternate between passing and failing can be spotted.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Dicklesworthstone/dappcheck/internal/report"
	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMP NOT NULL,
	driver      TEXT NOT NULL,
	base_url    TEXT NOT NULL DEFAULT '',
	total       INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	scenario     TEXT NOT NULL,
	status       TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL,
	PRIMARY KEY (run_id, scenario)
);
CREATE INDEX IF NOT EXISTS idx_results_scenario ON results(scenario);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Store wraps the history database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Migrate creates the schema.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrating history schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Run is one stored run.
type Run struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Driver    string        `json:"driver"`
	BaseURL   string        `json:"base_url,omitempty"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration_ns"`
}

// Outcome is one scenario's result within a run.
type Outcome struct {
	RunID       string               `json:"run_id"`
	StartedAt   time.Time            `json:"started_at"`
	Scenario    string               `json:"scenario"`
	Status      scenario.Status      `json:"status"`
	FailureKind scenario.FailureKind `json:"failure_kind,omitempty"`
	Error       string               `json:"error,omitempty"`
	Duration    time.Duration        `json:"duration_ns"`
}

// RecordRun stores a report. Recording the same run twice replaces it.
func (s *Store) RecordRun(ctx context.Context, r *report.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, r.RunID); err != nil {
		return fmt.Errorf("replacing run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, driver, base_url, total, passed, failed, skipped, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Timestamp.UTC(), r.Driver, r.BaseURL,
		r.Summary.Total, r.Summary.Passed, r.Summary.Failed, r.Summary.Skipped,
		int64(r.DurationSeconds*1000))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO results (run_id, scenario, status, failure_kind, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing result insert: %w", err)
	}
	defer stmt.Close()
	for _, res := range r.Results {
		if _, err := stmt.ExecContext(ctx, r.RunID, res.Name, string(res.Status),
			string(res.FailureKind), res.Error, res.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("inserting result %s: %w", res.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, driver, base_url, total, passed, failed, skipped, duration_ms
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var ms int64
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.Driver, &run.BaseURL,
			&run.Total, &run.Passed, &run.Failed, &run.Skipped, &ms); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns a single run.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	var run Run
	var ms int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, driver, base_url, total, passed, failed, skipped, duration_ms
		FROM runs WHERE id = ?`, id).Scan(&run.ID, &run.StartedAt, &run.Driver, &run.BaseURL,
		&run.Total, &run.Passed, &run.Failed, &run.Skipped, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying run %s: %w", id, err)
	}
	run.Duration = time.Duration(ms) * time.Millisecond
	return run, nil
}

// Outcomes returns a scenario's results across its most recent runs,
// newest first.
func (s *Store) Outcomes(ctx context.Context, name string, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, runs.started_at, r.scenario, r.status, r.failure_kind, r.error, r.duration_ms
		FROM results r JOIN runs ON runs.id = r.run_id
		WHERE r.scenario = ?
		ORDER BY runs.started_at DESC, r.run_id LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]Outcome, error) {
	var out []Outcome
	for rows.Next() {
		var o Outcome
		var status, kind string
		var ms int64
		if err := rows.Scan(&o.RunID, &o.StartedAt, &o.Scenario, &status, &kind, &o.Error, &ms); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Status = scenario.Status(status)
		o.FailureKind = scenario.FailureKind(kind)
		o.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

// Flake summarises a scenario that both passed and failed recently.
type Flake struct {
	Scenario string `json:"scenario"`
	Runs     int    `json:"runs"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	// Flips counts status changes between consecutive runs.
	Flips int `json:"flips"`
	// Kinds counts failures per failure kind.
	Kinds    map[scenario.FailureKind]int `json:"kinds,omitempty"`
	LastSeen time.Time                    `json:"last_seen"`
}

// FlipRate is Flips relative to the number of transitions observed.
func (f Flake) FlipRate() float64 {
	if f.Runs < 2 {
		return 0
	}
	return float64(f.Flips) / float64(f.Runs-1)
}

// Flaky looks at the last window runs and returns scenarios with at least
// one pass and one failure among them, most flips first. Skipped results
// are ignored.
func (s *Store) Flaky(ctx context.Context, window int) ([]Flake, error) {
	if window <= 0 {
		window = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, runs.started_at, r.scenario, r.status, r.failure_kind, r.error, r.duration_ms
		FROM results r
		JOIN (SELECT id, started_at FROM runs ORDER BY started_at DESC, id LIMIT ?) runs
		  ON runs.id = r.run_id
		WHERE r.status != ?
		ORDER BY r.scenario, runs.started_at ASC, r.run_id`, window, string(scenario.StatusSkipped))
	if err != nil {
		return nil, fmt.Errorf("querying flaky scenarios: %w", err)
	}
	defer rows.Close()
	outcomes, err := scanOutcomes(rows)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Flake)
	last := make(map[string]scenario.Status)
	var order []string
	for _, o := range outcomes {
		f, ok := byName[o.Scenario]
		if !ok {
			f = &Flake{Scenario: o.Scenario, Kinds: map[scenario.FailureKind]int{}}
			byName[o.Scenario] = f
			order = append(order, o.Scenario)
		}
		f.Runs++
		if o.Status == scenario.StatusPassed {
			f.Passed++
		} else {
			f.Failed++
			f.Kinds[o.FailureKind]++
		}
		if prev, seen := last[o.Scenario]; seen && prev != o.Status {
			f.Flips++
		}
		last[o.Scenario] = o.Status
		f.LastSeen = o.StartedAt
	}

	var flakes []Flake
	for _, name := range order {
		f := byName[name]
		if f.Passed > 0 && f.Failed > 0 {
			flakes = append(flakes, *f)
		}
	}
	sort.SliceStable(flakes, func(i, j int) bool {
		if flakes[i].Flips != flakes[j].Flips {
			return flakes[i].Flips > flakes[j].Flips
		}
		return flakes[i].Scenario < flakes[j].Scenario
	})
	return flakes, nil
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return res.RowsAffected()
}
