// Package directory maps recognized identity labels to attendance metadata.
//
// Enrollment labels are free-form (folder or file names such as "john_smith"),
// so resolution falls back through progressively looser matches before giving
// up and returning a placeholder record.
package directory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/MrCodeEU/rollcall/pkg/logging"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NotAvailable is the id and organization of placeholder records.
const NotAvailable = "N/A"

// labelSeparator splits composite labels such as "firstname_lastname".
const labelSeparator = "_"

// Column positions in the directory file.
const (
	colName         = 1
	colID           = 2
	colOrganization = 3
	minColumns      = 4
)

// ErrDirectoryNotFound is returned when the directory file does not exist.
var ErrDirectoryNotFound = errors.New("identity directory not found")

// Record is the attendance metadata for one person.
type Record struct {
	DisplayName  string
	OfficialName string
	UniqueID     string
	Organization string
	Placeholder  bool // true when no directory entry matched
}

// Directory is a read-only lookup from normalized display names to records.
type Directory struct {
	records map[string]Record
	keys    []string // file order, used by the substring fallback
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{records: make(map[string]Record)}
}

// Add inserts a record under its normalized display name. A later record with
// the same key replaces the earlier one but keeps its position.
func (d *Directory) Add(r Record) {
	key := NormalizeKey(r.DisplayName)
	if key == "" {
		return
	}
	if _, exists := d.records[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.records[key] = r
}

// Len returns the number of distinct keys.
func (d *Directory) Len() int {
	return len(d.keys)
}

// Load reads a directory CSV file.
func Load(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, path)
		}
		return nil, fmt.Errorf("failed to open identity directory: %w", err)
	}
	defer f.Close()

	dir, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity directory %s: %w", path, err)
	}

	logging.Component("directory").Infof("Loaded %d identities from %s", dir.Len(), path)
	return dir, nil
}

// Parse reads directory rows from r. Column 2 holds the display name, column 3
// the unique id and column 4 the organization. Rows with fewer than four
// columns are skipped, as is a leading header row.
func Parse(r io.Reader) (*Directory, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	dir := New()
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		isFirst := first
		first = false

		if len(row) < minColumns {
			continue
		}
		name := strings.TrimSpace(row[colName])
		if isFirst && strings.EqualFold(name, "name") {
			continue
		}

		dir.Add(Record{
			DisplayName:  name,
			OfficialName: name,
			UniqueID:     strings.TrimSpace(row[colID]),
			Organization: strings.TrimSpace(row[colOrganization]),
		})
	}
	return dir, nil
}

// Resolve maps a recognizer label to a record. It tries, in order: an exact
// match, the trailing then leading segment of a composite label, the first
// directory key contained in the label, and finally a placeholder.
func (d *Directory) Resolve(label string) Record {
	key := NormalizeKey(label)

	if r, ok := d.records[key]; ok {
		return r
	}

	if strings.Contains(key, labelSeparator) {
		parts := strings.Split(key, labelSeparator)
		if r, ok := d.records[parts[len(parts)-1]]; ok {
			return r
		}
		if r, ok := d.records[parts[0]]; ok {
			return r
		}
	}

	for _, k := range d.keys {
		if strings.Contains(key, k) {
			return d.records[k]
		}
	}

	return Placeholder(label)
}

// Placeholder returns the record used for labels missing from the directory.
func Placeholder(label string) Record {
	return Record{
		DisplayName:  label,
		OfficialName: label,
		UniqueID:     NotAvailable,
		Organization: NotAvailable,
		Placeholder:  true,
	}
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeKey folds a display name or label for lookup: trimmed, lower case,
// without diacritics.
func NormalizeKey(name string) string {
	return strings.ToLower(RemoveDiacritics(strings.TrimSpace(name)))
}
