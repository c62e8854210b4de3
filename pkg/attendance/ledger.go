// Package attendance records who attended on which day.
//
// A ledger holds at most one entry per official name per calendar day. Mark is
// idempotent: marking an identity that is already on the day's ledger is a
// no-op reported as AlreadyRecorded.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/directory"
)

// Outcome is the result of a Mark call.
type Outcome int

const (
	Recorded Outcome = iota + 1
	AlreadyRecorded
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case AlreadyRecorded:
		return "already recorded"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Entry is one attendance row.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	OfficialName string    `json:"name"`
	UniqueID     string    `json:"id"`
	Organization string    `json:"organization"`
}

// Ledger is an append-only attendance record keyed by calendar day.
type Ledger interface {
	// Mark records r on the day of when unless it is already there.
	Mark(ctx context.Context, r directory.Record, when time.Time) (Outcome, error)
	// Has reports whether officialName is recorded on the day of day.
	Has(ctx context.Context, officialName string, day time.Time) (bool, error)
	// Entries returns the rows recorded on the day of day in insertion order.
	Entries(ctx context.Context, day time.Time) ([]Entry, error)
	Close() error
}

// DayLayout formats calendar days in file names and queries.
const DayLayout = "2006-01-02"

// TimeLayout formats the time of day column.
const TimeLayout = "15:04:05"

// ErrLedgerClosed is returned when a ledger is used after Close.
var ErrLedgerClosed = errors.New("attendance ledger closed")

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown attendance backend")

// Open creates the ledger selected by cfg.
func Open(ctx context.Context, cfg config.AttendanceConfig) (Ledger, error) {
	switch cfg.Backend {
	case "", "csv":
		return NewCSVLedger(cfg.Dir)
	case "postgres":
		return NewPostgresLedger(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// DayKey returns the calendar day of t in the local time zone.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}
