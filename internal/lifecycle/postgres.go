package lifecycle

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresLog stores lifecycle transitions in an append-only Postgres
// table, so the projection survives process restarts and can be refolded
// at startup.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a PostgresLog and applies the embedded schema
// migrations.
func NewPostgresLog(db *sql.DB) (*PostgresLog, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("NewPostgresLog: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("NewPostgresLog: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresLog: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("NewPostgresLog migrate: %w", err)
	}
	return &PostgresLog{db: db}, nil
}

// Append implements TransitionLog. Re-delivery of the same transition id
// is absorbed (ON CONFLICT DO NOTHING) to keep at-least-once producers
// idempotent at the log as well as in the projection.
func (l *PostgresLog) Append(ctx context.Context, t Transition) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO lifecycle_transitions (id, session_id, status, timestamp, details)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.SessionID, string(t.Status), t.Timestamp.UTC(), t.Details,
	)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// All implements TransitionLog.
func (l *PostgresLog) All(ctx context.Context) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, status, timestamp, details
		FROM lifecycle_transitions
		ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("All: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTransitions(rows)
}

// OlderThan implements TransitionLog.
func (l *PostgresLog) OlderThan(ctx context.Context, cutoff time.Time) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, status, timestamp, details
		FROM lifecycle_transitions
		WHERE timestamp < $1
		ORDER BY timestamp ASC, id ASC`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("OlderThan: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTransitions(rows)
}

// DeleteOlderThan implements TransitionLog.
func (l *PostgresLog) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx, `
		DELETE FROM lifecycle_transitions
		WHERE timestamp < $1
		RETURNING id, session_id, status, timestamp, details`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("DeleteOlderThan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	removed, err := scanTransitions(rows)
	if err != nil {
		return nil, err
	}
	sortTransitions(removed)
	return removed, nil
}

func scanTransitions(rows *sql.Rows) ([]Transition, error) {
	var out []Transition
	for rows.Next() {
		var t Transition
		var status string
		if err := rows.Scan(&t.ID, &t.SessionID, &status, &t.Timestamp, &t.Details); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Status = Status(status)
		out = append(out, t)
	}
	return out, rows.Err()
}
