package recognition

// Unknown is the label reported for faces that do not match any enrolled identity.
const Unknown = "Unknown"

// ReferenceEntry is one enrolled photo: an identity label and its embedding.
type ReferenceEntry struct {
	Label     string
	Embedding Embedding
}

// ReferenceSet exposes enrolled entries in insertion order.
type ReferenceSet interface {
	Entries() []ReferenceEntry
}

// Match is the outcome of resolving one observed embedding.
type Match struct {
	Label string
	Votes int // votes of the leading label, also set when it fell short of the minimum
}

// IsUnknown reports whether the face was not identified.
func (m Match) IsUnknown() bool {
	return m.Label == Unknown
}

// Matcher resolves embeddings by distance threshold and majority vote.
type Matcher struct {
	refs      ReferenceSet
	threshold float64
	minVotes  int
}

// NewMatcher creates a Matcher over refs. Entries closer than threshold vote for
// their label; the winning label needs at least minVotes agreeing entries.
func NewMatcher(refs ReferenceSet, threshold float64, minVotes int) *Matcher {
	return &Matcher{refs: refs, threshold: threshold, minVotes: minVotes}
}

// Match resolves observed against the matcher's reference set.
func (m *Matcher) Match(observed Embedding) Match {
	return Resolve(observed, m.refs, m.threshold, m.minVotes)
}

// Resolve returns the label with the most reference entries closer than threshold,
// or Unknown when nothing is close or the winner has fewer than minVotes entries.
// Ties go to the label encountered first in reference order.
func Resolve(observed Embedding, refs ReferenceSet, threshold float64, minVotes int) Match {
	if refs == nil {
		return Match{Label: Unknown}
	}

	votes := make(map[string]int)
	var order []string
	for _, entry := range refs.Entries() {
		if EuclideanDistance(observed, entry.Embedding) >= threshold {
			continue
		}
		if _, seen := votes[entry.Label]; !seen {
			order = append(order, entry.Label)
		}
		votes[entry.Label]++
	}

	if len(order) == 0 {
		return Match{Label: Unknown}
	}

	best := order[0]
	for _, label := range order[1:] {
		if votes[label] > votes[best] {
			best = label
		}
	}

	if votes[best] < minVotes {
		return Match{Label: Unknown, Votes: votes[best]}
	}
	return Match{Label: best, Votes: votes[best]}
}
