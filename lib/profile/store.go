// Package profile persists call-site cache statistics across runs in a
// SQLite database, so chain behaviour can be compared between engine
// configurations.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/shapes/vm"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound indicates the requested run doesn't exist
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	started           INTEGER NOT NULL,
	label             TEXT NOT NULL,
	shapes            INTEGER NOT NULL,
	transition_hits   INTEGER NOT NULL,
	transition_misses INTEGER NOT NULL,
	redefinitions     INTEGER NOT NULL,
	migrations        INTEGER NOT NULL,
	conflicts         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sites (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	label    TEXT NOT NULL,
	name     TEXT NOT NULL,
	kind     TEXT NOT NULL,
	state    TEXT NOT NULL,
	entries  INTEGER NOT NULL,
	hits     INTEGER NOT NULL,
	misses   INTEGER NOT NULL,
	removals INTEGER NOT NULL,
	PRIMARY KEY (run_id, label)
);`

// Run is one recorded engine run.
type Run struct {
	ID      string
	Started time.Time
	Label   string
	Stats   vm.EngineStats
}

// Site is the recorded state of one call site at the end of a run.
type Site struct {
	Label    string
	Name     string
	Kind     string
	State    string
	Entries  int
	Hits     uint64
	Misses   uint64
	Removals uint64
}

// SiteOf describes cs for recording under label.
func SiteOf(label string, cs *vm.CallSite) Site {
	return Site{
		Label:    label,
		Name:     cs.Name(),
		Kind:     cs.Kind().String(),
		State:    cs.State().String(),
		Entries:  cs.Len(),
		Hits:     cs.Hits,
		Misses:   cs.Misses,
		Removals: cs.Removals,
	}
}

// Store handles SQLite storage for profile runs
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the profile database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores a run and its call sites in one transaction and returns the
// new run's ID.
func (s *Store) Record(ctx context.Context, label string, stats vm.EngineStats, sites []Site) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started, label, shapes, transition_hits, transition_misses,
			redefinitions, migrations, conflicts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UnixNano(), label, stats.Shapes,
		int64(stats.TransitionHits), int64(stats.TransitionMisses),
		int64(stats.Redefinitions), int64(stats.Migrations), int64(stats.Conflicts),
	)
	if err != nil {
		return "", fmt.Errorf("saving run: %w", err)
	}

	for _, site := range sites {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sites (run_id, label, name, kind, state, entries, hits, misses, removals)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, site.Label, site.Name, site.Kind, site.State, site.Entries,
			int64(site.Hits), int64(site.Misses), int64(site.Removals),
		)
		if err != nil {
			return "", fmt.Errorf("saving site %s: %w", site.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return id, nil
}

// Runs returns every recorded run, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started, label, shapes, transition_hits, transition_misses,
			redefinitions, migrations, conflicts FROM runs ORDER BY started DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started int64
			h, m    int64
			rd, mg  int64
			c       int64
		)
		if err := rows.Scan(&r.ID, &started, &r.Label, &r.Stats.Shapes, &h, &m, &rd, &mg, &c); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Started = time.Unix(0, started)
		r.Stats.TransitionHits = uint64(h)
		r.Stats.TransitionMisses = uint64(m)
		r.Stats.Redefinitions = uint64(rd)
		r.Stats.Migrations = uint64(mg)
		r.Stats.Conflicts = uint64(c)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Sites returns the call sites recorded for a run, ordered by label.
func (s *Store) Sites(ctx context.Context, runID string) ([]Site, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", runID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT label, name, kind, state, entries, hits, misses, removals
			FROM sites WHERE run_id = ? ORDER BY label`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var (
			site      Site
			h, m, rem int64
		)
		if err := rows.Scan(&site.Label, &site.Name, &site.Kind, &site.State, &site.Entries, &h, &m, &rem); err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		site.Hits, site.Misses, site.Removals = uint64(h), uint64(m), uint64(rem)
		sites = append(sites, site)
	}
	return sites, rows.Err()
}
