// Package runhistory persists per-run diagnostics — node count, outcome,
// duration, first error — across process restarts. Scene state stays
// entirely in-process; only run telemetry is recorded here. Schema setup
// uses embedded golang-migrate migrations over a modernc SQLite file.
package runhistory

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/raysim/engine/graph"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rlog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Record is one persisted run.
type Record struct {
	RunID            string
	NodeCount        int
	Outcome          Outcome
	ErrorText        string
	StartedUnixNanos int64
	DurationNanos    int64
}

// Store writes run records to a SQLite file. It implements
// graph.RunObserver so it can be attached directly to a graph.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	inflight map[string]inflightRun
}

type inflightRun struct {
	nodeCount int
	startedAt time.Time
}

var _ graph.RunObserver = (*Store)(nil)

// Open opens (creating if needed) the history database at path and runs
// any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rerr.Wrap(rerr.DeviceError, err, "opening run history at %s", path)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, inflight: make(map[string]inflightRun)}, nil
}

// migrateUp applies every pending migration. The migrate instance is not
// closed: with WithInstance the driver's Close would close the *sql.DB
// we manage ourselves.
func migrateUp(db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("run history migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("run history migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("run history migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("run history migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run history migration up failed: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Insert writes one record directly, for callers not going through the
// observer path (tape replay, backfill).
func (s *Store) Insert(r Record) error {
	_, err := s.db.Exec(`
		INSERT INTO graph_run_history (
			run_id, node_count, outcome, error_text,
			started_unix_nanos, duration_nanos
		) VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.NodeCount, string(r.Outcome), r.ErrorText,
		r.StartedUnixNanos, r.DurationNanos,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// ListRecent returns up to limit records, most recently started first.
func (s *Store) ListRecent(limit int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT run_id, node_count, outcome, error_text,
		       started_unix_nanos, duration_nanos
		FROM graph_run_history
		ORDER BY started_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var outcome string
		if err := rows.Scan(&r.RunID, &r.NodeCount, &outcome, &r.ErrorText,
			&r.StartedUnixNanos, &r.DurationNanos); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get fetches one run by id.
func (s *Store) Get(runID string) (*Record, error) {
	var r Record
	var outcome string
	err := s.db.QueryRow(`
		SELECT run_id, node_count, outcome, error_text,
		       started_unix_nanos, duration_nanos
		FROM graph_run_history WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.NodeCount, &outcome, &r.ErrorText,
			&r.StartedUnixNanos, &r.DurationNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rerr.New(rerr.InvalidArgument, "unknown run %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	r.Outcome = Outcome(outcome)
	return &r, nil
}

// RunStarted implements graph.RunObserver.
func (s *Store) RunStarted(runID string, nodeCount int) {
	s.mu.Lock()
	s.inflight[runID] = inflightRun{nodeCount: nodeCount, startedAt: time.Now()}
	s.mu.Unlock()
}

// NodeCompleted implements graph.RunObserver. Per-node events are not
// persisted; the table records run-level outcomes only.
func (s *Store) NodeCompleted(runID, nodeName string) {}

// RunFinished implements graph.RunObserver, flushing the run's record.
func (s *Store) RunFinished(runID string, err error) {
	s.mu.Lock()
	run, ok := s.inflight[runID]
	delete(s.inflight, runID)
	s.mu.Unlock()
	if !ok {
		return
	}

	r := Record{
		RunID:            runID,
		NodeCount:        run.nodeCount,
		Outcome:          OutcomeOK,
		StartedUnixNanos: run.startedAt.UnixNano(),
		DurationNanos:    time.Since(run.startedAt).Nanoseconds(),
	}
	if err != nil {
		r.Outcome = OutcomeFailed
		if rerr.Is(err, rerr.Cancelled) {
			r.Outcome = OutcomeCancelled
		}
		r.ErrorText = err.Error()
	}
	if insertErr := s.Insert(r); insertErr != nil {
		rlog.Opsf("runhistory: failed to record run %s: %v", runID, insertErr)
	}
}
