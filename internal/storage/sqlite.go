package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"hostsmgr/internal/model"
	"hostsmgr/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements History backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RecordRun inserts a run summary and populates its ID.
func (s *SQLite) RecordRun(ctx context.Context, run *model.Run) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (profile, kind, rules_total, rules_ignored, sources_updated, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Profile, string(run.Kind), run.RulesTotal, run.RulesIgnored, run.SourcesUpdated,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// ListRuns returns the most recent runs for a profile, newest first.
func (s *SQLite) ListRuns(ctx context.Context, profile string, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile, kind, rules_total, rules_ignored, sources_updated, started_at, finished_at
		 FROM runs WHERE profile = ? ORDER BY id DESC LIMIT ?`, profile, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var kind, started, finished string
		if err := rows.Scan(&r.ID, &r.Profile, &kind, &r.RulesTotal, &r.RulesIgnored,
			&r.SourcesUpdated, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Kind = model.RunKind(kind)
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
