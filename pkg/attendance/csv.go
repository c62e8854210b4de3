package attendance

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/directory"
	"github.com/MrCodeEU/rollcall/pkg/logging"
)

var csvHeader = []string{"Timestamp", "Name", "ID", "Organization"}

// CSVLedger keeps one attendance_YYYY-MM-DD.csv file per day in a directory.
// The names already recorded for the current day are held in memory and
// rebuilt from the file whenever the day changes.
type CSVLedger struct {
	mu     sync.Mutex
	dir    string
	day    string
	index  map[string]struct{}
	closed bool
}

// NewCSVLedger opens a ledger rooted at dir, creating it if needed.
func NewCSVLedger(dir string) (*CSVLedger, error) {
	if dir == "" {
		return nil, fmt.Errorf("attendance directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attendance directory: %w", err)
	}
	return &CSVLedger{dir: dir}, nil
}

// Path returns the file holding the entries of day.
func (l *CSVLedger) Path(day time.Time) string {
	return l.pathFor(DayKey(day))
}

func (l *CSVLedger) pathFor(day string) string {
	return filepath.Join(l.dir, "attendance_"+day+".csv")
}

// Mark appends r to the file of when's day unless its official name is
// already there. The in-memory index only changes after a successful write.
func (l *CSVLedger) Mark(ctx context.Context, r directory.Record, when time.Time) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLedgerClosed
	}
	if err := l.openDay(DayKey(when)); err != nil {
		return 0, err
	}
	if _, ok := l.index[r.OfficialName]; ok {
		return AlreadyRecorded, nil
	}

	row := []string{when.Format(TimeLayout), r.OfficialName, r.UniqueID, r.Organization}
	if err := l.appendRow(l.pathFor(l.day), row); err != nil {
		return 0, err
	}
	l.index[r.OfficialName] = struct{}{}

	logging.Component("attendance").WithFields(logging.Fields{
		"name": r.OfficialName,
		"id":   r.UniqueID,
		"day":  l.day,
	}).Info("Attendance recorded")
	return Recorded, nil
}

// Has reports whether officialName is on day's ledger.
func (l *CSVLedger) Has(ctx context.Context, officialName string, day time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, ErrLedgerClosed
	}
	key := DayKey(day)
	if key == l.day {
		_, ok := l.index[officialName]
		return ok, nil
	}

	names, err := readNames(l.pathFor(key))
	if err != nil {
		return false, err
	}
	_, ok := names[officialName]
	return ok, nil
}

// Entries returns the rows of day's file. A day without a file has no entries.
func (l *CSVLedger) Entries(ctx context.Context, day time.Time) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLedgerClosed
	}
	key := DayKey(day)
	return readEntries(l.pathFor(key), key)
}

// Close releases the ledger. Further calls return ErrLedgerClosed.
func (l *CSVLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.index = nil
	return nil
}

// openDay switches the index to day, loading names already in its file.
func (l *CSVLedger) openDay(day string) error {
	if l.day == day && l.index != nil {
		return nil
	}

	index, err := readNames(l.pathFor(day))
	if err != nil {
		return err
	}
	l.day = day
	l.index = index

	logging.Component("attendance").Debugf("Opened ledger for %s with %d entries", day, len(index))
	return nil
}

func (l *CSVLedger) appendRow(path string, row []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat ledger file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return fmt.Errorf("failed to write ledger header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("failed to write ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write ledger row: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close ledger file: %w", err)
	}
	return nil
}

// readRows returns the data rows of a day file, without the header and
// rows too short to hold an entry. A missing file yields no rows.
func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger file %s: %w", path, err)
		}

		isHeader := first && len(row) > 0 && row[0] == csvHeader[0]
		first = false
		if isHeader || len(row) < len(csvHeader) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// readNames returns the names recorded in a day file. Rows count even when
// their timestamp does not parse.
func readNames(path string) (map[string]struct{}, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		names[row[1]] = struct{}{}
	}
	return names, nil
}

// readEntries parses a day file, skipping rows with a bad timestamp.
func readEntries(path, day string) ([]Entry, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		ts, err := time.ParseInLocation(DayLayout+" "+TimeLayout, day+" "+row[0], time.Local)
		if err != nil {
			logging.Component("attendance").Warnf("Skipping ledger row with bad timestamp %q in %s", row[0], path)
			continue
		}
		entries = append(entries, Entry{
			Timestamp:    ts,
			OfficialName: row[1],
			UniqueID:     row[2],
			Organization: row[3],
		})
	}
	return entries, nil
}
