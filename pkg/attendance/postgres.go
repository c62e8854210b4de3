package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/directory"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS attendance (
		id            BIGSERIAL PRIMARY KEY,
		day           DATE NOT NULL,
		recorded_at   TIMESTAMPTZ NOT NULL,
		official_name TEXT NOT NULL,
		unique_id     TEXT NOT NULL,
		organization  TEXT NOT NULL,
		UNIQUE (day, official_name)
	);
	CREATE INDEX IF NOT EXISTS attendance_day_idx ON attendance (day);
`

// PostgresLedger stores attendance in a PostgreSQL table. The unique
// (day, official_name) constraint makes Mark idempotent across processes.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to url and creates the schema if needed.
func NewPostgresLedger(ctx context.Context, url string) (*PostgresLedger, error) {
	if url == "" {
		return nil, errors.New("attendance database URL is required")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	l := &PostgresLedger{pool: pool}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logging.Component("attendance").Info("Connected to PostgreSQL attendance ledger")
	return l, nil
}

// Migrate creates the attendance table.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create attendance table: %w", err)
	}
	return nil
}

// Mark inserts r for when's day, leaving an existing row untouched.
func (l *PostgresLedger) Mark(ctx context.Context, r directory.Record, when time.Time) (Outcome, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO attendance (day, recorded_at, official_name, unique_id, organization)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day, official_name) DO NOTHING
	`, dayDate(when), when, r.OfficialName, r.UniqueID, r.Organization)
	if err != nil {
		return 0, fmt.Errorf("record attendance: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return AlreadyRecorded, nil
	}

	logging.Component("attendance").WithFields(logging.Fields{
		"name": r.OfficialName,
		"id":   r.UniqueID,
		"day":  DayKey(when),
	}).Info("Attendance recorded")
	return Recorded, nil
}

// Has reports whether officialName is recorded on day.
func (l *PostgresLedger) Has(ctx context.Context, officialName string, day time.Time) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM attendance WHERE day = $1 AND official_name = $2)`,
		dayDate(day), officialName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check attendance: %w", err)
	}
	return exists, nil
}

// Entries returns day's rows ordered by insertion.
func (l *PostgresLedger) Entries(ctx context.Context, day time.Time) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT recorded_at, official_name, unique_id, organization
		FROM attendance WHERE day = $1 ORDER BY id
	`, dayDate(day))
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Timestamp, &e.OfficialName, &e.UniqueID, &e.Organization); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		e.Timestamp = e.Timestamp.Local()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return entries, nil
}

// Close closes the connection pool.
func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

// dayDate returns the calendar day of t as a UTC midnight, the form pgx
// encodes into a DATE column without shifting.
func dayDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
