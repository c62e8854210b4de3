package recognition

import (
	"math"
	"testing"
)

// refSet is an in-memory ReferenceSet.
type refSet []ReferenceEntry

func (r refSet) Entries() []ReferenceEntry { return r }

func entry(label string, v ...float32) ReferenceEntry {
	return ReferenceEntry{Label: label, Embedding: Embedding(v)}
}

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Embedding
		expected float64
	}{
		{name: "identical", a: Embedding{1, 2, 3}, b: Embedding{1, 2, 3}, expected: 0},
		{name: "3-4-5", a: Embedding{0, 0}, b: Embedding{3, 4}, expected: 5},
		{name: "different", a: Embedding{1, 2, 3}, b: Embedding{4, 6, 8}, expected: math.Sqrt(50)},
		{name: "length mismatch", a: Embedding{1, 2}, b: Embedding{1, 2, 3}, expected: math.MaxFloat64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist := EuclideanDistance(tt.a, tt.b)
			if math.Abs(dist-tt.expected) > 0.0001 && dist != tt.expected {
				t.Errorf("expected %f, got %f", tt.expected, dist)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	observed := Embedding{0, 0}

	tests := []struct {
		name      string
		refs      ReferenceSet
		threshold float64
		minVotes  int
		wantLabel string
		wantVotes int
	}{
		{
			name: "nearest neighbour at threshold is unknown",
			refs: refSet{
				entry("alice", 0.5, 0),
				entry("alice", 0, 0.5),
			},
			threshold: 0.5,
			minVotes:  1,
			wantLabel: Unknown,
		},
		{
			name: "exactly min votes resolves",
			refs: refSet{
				entry("alice", 0.1, 0),
				entry("bob", 0.2, 0),
				entry("alice", 0, 0.1),
				entry("carol", 0.9, 0.9),
			},
			threshold: 0.5,
			minVotes:  2,
			wantLabel: "alice",
			wantVotes: 2,
		},
		{
			name: "single agreeing photo is not trusted",
			refs: refSet{
				entry("alice", 0.01, 0),
				entry("alice", 0.9, 0.9),
				entry("bob", 0.3, 0),
			},
			threshold: 0.5,
			minVotes:  2,
			wantLabel: Unknown,
			wantVotes: 1,
		},
		{
			name: "majority beats nearest",
			refs: refSet{
				entry("bob", 0.01, 0),
				entry("bob", 0, 0.01),
				entry("alice", 0.3, 0),
				entry("alice", 0, 0.3),
				entry("alice", 0.2, 0.2),
			},
			threshold: 0.5,
			minVotes:  2,
			wantLabel: "alice",
			wantVotes: 3,
		},
		{
			name: "tie goes to first encountered label",
			refs: refSet{
				entry("bob", 0.3, 0),
				entry("alice", 0.01, 0),
				entry("alice", 0, 0.01),
				entry("bob", 0, 0.3),
			},
			threshold: 0.5,
			minVotes:  2,
			wantLabel: "bob",
			wantVotes: 2,
		},
		{
			name:      "empty store is unknown",
			refs:      refSet{},
			threshold: 0.5,
			minVotes:  1,
			wantLabel: Unknown,
		},
		{
			name:      "nil store is unknown",
			refs:      nil,
			threshold: 0.5,
			minVotes:  1,
			wantLabel: Unknown,
		},
		{
			name: "dimension mismatch never matches",
			refs: refSet{
				entry("alice", 0, 0, 0),
				entry("alice", 0, 0, 0),
			},
			threshold: 0.5,
			minVotes:  1,
			wantLabel: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(observed, tt.refs, tt.threshold, tt.minVotes)
			if got.Label != tt.wantLabel {
				t.Errorf("label: got %q, want %q", got.Label, tt.wantLabel)
			}
			if got.Votes != tt.wantVotes {
				t.Errorf("votes: got %d, want %d", got.Votes, tt.wantVotes)
			}
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	refs := refSet{
		entry("bob", 0.2, 0),
		entry("alice", 0.1, 0),
		entry("alice", 0, 0.2),
		entry("bob", 0, 0.1),
		entry("carol", 0.1, 0.1),
	}
	observed := Embedding{0.05, 0.05}

	first := Resolve(observed, refs, 0.5, 2)
	for i := 0; i < 100; i++ {
		if got := Resolve(observed, refs, 0.5, 2); got != first {
			t.Fatalf("iteration %d: got %+v, want %+v", i, got, first)
		}
	}
}

func TestMatcher(t *testing.T) {
	refs := refSet{
		entry("alice", 0.1, 0),
		entry("alice", 0, 0.1),
	}

	m := NewMatcher(refs, 0.5, 2)

	got := m.Match(Embedding{0, 0})
	if got.IsUnknown() || got.Label != "alice" {
		t.Errorf("expected alice, got %+v", got)
	}

	got = m.Match(Embedding{5, 5})
	if !got.IsUnknown() {
		t.Errorf("expected unknown for a distant embedding, got %+v", got)
	}
}

func TestRectangleScale(t *testing.T) {
	r := Rectangle{Top: 10, Right: 30, Bottom: 40, Left: 5}

	scaled := r.Scale(0.25)
	want := Rectangle{Top: 40, Right: 120, Bottom: 160, Left: 20}
	if scaled != want {
		t.Errorf("Scale(0.25) = %+v, want %+v", scaled, want)
	}

	if r.Scale(1) != r {
		t.Error("Scale(1) should be the identity")
	}
	if r.Scale(0) != r {
		t.Error("Scale(0) should leave the rectangle untouched")
	}
}
