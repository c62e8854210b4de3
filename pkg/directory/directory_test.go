package directory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = `SlNo,Name,ID,Organization
1, Smith ,1RV22CS101, RV University
2,Ada Lovelace,1RV22CS007,RV University
3,Jiří,1RV22CS042,Charles University
4,short,row
5,Ann,1RV22CS055,PES University
`

func loadSample(t *testing.T) *Directory {
	t.Helper()
	dir, err := Parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return dir
}

func TestParse(t *testing.T) {
	dir := loadSample(t)

	if dir.Len() != 4 {
		t.Fatalf("expected 4 identities (header and short row skipped), got %d", dir.Len())
	}

	r := dir.Resolve("smith")
	if r.OfficialName != "Smith" || r.UniqueID != "1RV22CS101" || r.Organization != "RV University" {
		t.Errorf("fields not trimmed or mapped: %+v", r)
	}
	if r.Placeholder {
		t.Error("directory record should not be a placeholder")
	}

	if got := dir.Resolve("name"); !got.Placeholder {
		t.Errorf("header row should not be loaded, got %+v", got)
	}
}

func TestResolve(t *testing.T) {
	dir := loadSample(t)

	tests := []struct {
		name   string
		label  string
		wantID string
	}{
		{name: "exact case-insensitive", label: "ADA LOVELACE", wantID: "1RV22CS007"},
		{name: "trailing segment", label: "john_smith", wantID: "1RV22CS101"},
		{name: "leading segment", label: "smith_photos", wantID: "1RV22CS101"},
		{name: "diacritics folded", label: "jiri", wantID: "1RV22CS042"},
		{name: "substring fallback", label: "ada lovelace 2", wantID: "1RV22CS007"},
		{name: "substring in directory order", label: "annsmithx", wantID: "1RV22CS101"},
		{name: "unmatched", label: "zz_nope", wantID: NotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dir.Resolve(tt.label)
			if got.UniqueID != tt.wantID {
				t.Errorf("Resolve(%q).UniqueID = %q, want %q", tt.label, got.UniqueID, tt.wantID)
			}
		})
	}
}

func TestResolve_TrailingBeforeLeading(t *testing.T) {
	dir := New()
	dir.Add(Record{DisplayName: "john", OfficialName: "John", UniqueID: "J1"})
	dir.Add(Record{DisplayName: "smith", OfficialName: "Smith", UniqueID: "S1"})

	if got := dir.Resolve("john_smith"); got.UniqueID != "S1" {
		t.Errorf("expected trailing segment to win, got %+v", got)
	}
}

func TestResolve_Placeholder(t *testing.T) {
	dir := loadSample(t)

	got := dir.Resolve("zz_nope")
	if !got.Placeholder {
		t.Error("expected placeholder record")
	}
	if got.OfficialName != "zz_nope" {
		t.Errorf("placeholder should carry the raw label, got %q", got.OfficialName)
	}
	if got.UniqueID != "N/A" || got.Organization != "N/A" {
		t.Errorf("placeholder should use N/A sentinels, got %+v", got)
	}
}

func TestResolve_EmptyDirectory(t *testing.T) {
	got := New().Resolve("anyone")
	if !got.Placeholder {
		t.Errorf("expected placeholder from empty directory, got %+v", got)
	}
}

func TestAdd_DuplicateKeepsPosition(t *testing.T) {
	dir := New()
	dir.Add(Record{DisplayName: "Ann", UniqueID: "A1"})
	dir.Add(Record{DisplayName: "Bob", UniqueID: "B1"})
	dir.Add(Record{DisplayName: "ann", UniqueID: "A2"})

	if dir.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", dir.Len())
	}
	if got := dir.Resolve("ann"); got.UniqueID != "A2" {
		t.Errorf("later duplicate should replace the record, got %+v", got)
	}
	// "bobann" contains both keys; ann was inserted first.
	if got := dir.Resolve("bobann"); got.UniqueID != "A2" {
		t.Errorf("substring fallback should follow first insertion order, got %+v", got)
	}
}

func TestAdd_EmptyNameIgnored(t *testing.T) {
	dir := New()
	dir.Add(Record{DisplayName: "   ", UniqueID: "X"})

	if dir.Len() != 0 {
		t.Errorf("empty display names must not be indexed, got %d", dir.Len())
	}
	if got := dir.Resolve("someone"); !got.Placeholder {
		t.Errorf("empty key must not match every label, got %+v", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0644); err != nil {
		t.Fatalf("failed to write directory: %v", err)
	}

	dir, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if dir.Len() != 4 {
		t.Errorf("expected 4 identities, got %d", dir.Len())
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.Is(err, ErrDirectoryNotFound) {
		t.Errorf("expected ErrDirectoryNotFound, got %v", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  Jan Novák ", "jan novak"},
		{"JOHN_SMITH", "john_smith"},
		{"Žluťoučký", "zlutoucky"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeKey(tt.input); got != tt.expected {
				t.Errorf("NormalizeKey(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
