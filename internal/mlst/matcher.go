package mlst

import (
	"fmt"
	"sort"

	"straintype/internal/typingdb"
)

// MatchStatus classifies the outcome of matching one sequence at one locus.
type MatchStatus string

const (
	// StatusMatched means exactly one allele has identical normalized content.
	StatusMatched MatchStatus = "matched"

	// StatusUnmatched means no known allele matches; possibly a novel allele.
	StatusUnmatched MatchStatus = "unmatched"

	// StatusAmbiguous means two or more allele numbers share identical
	// normalized content. Well-formed reference data never does this, so it is
	// surfaced as a data-integrity condition rather than silently resolved.
	StatusAmbiguous MatchStatus = "ambiguous"
)

// MatchResult is the per-locus outcome. Candidates is populated only for
// ambiguous matches, listing every allele number sharing the content.
type MatchResult struct {
	Locus      string      `json:"locus"`
	Status     MatchStatus `json:"status"`
	Allele     string      `json:"allele,omitempty"`
	Candidates []string    `json:"candidates,omitempty"`
}

type indexEntry struct {
	sequence string
	numbers  []string
}

// AlleleIndex is the precomputed digest→allele lookup for one locus. Built
// once per allele set and safe for concurrent readers.
type AlleleIndex struct {
	locus   string
	entries map[string][]indexEntry
	size    int
}

// BuildIndex indexes an allele set by normalized-content digest. Identical
// (number, sequence) duplicates collapse; the same content under different
// numbers is kept so matching can report ambiguity.
func BuildIndex(locus string, alleles []typingdb.Allele) *AlleleIndex {
	idx := &AlleleIndex{
		locus:   locus,
		entries: make(map[string][]indexEntry, len(alleles)),
		size:    len(alleles),
	}
	for _, allele := range alleles {
		normalized := Normalize(allele.Sequence)
		digest := Digest(normalized)
		bucket := idx.entries[digest]
		placed := false
		for i := range bucket {
			if bucket[i].sequence == normalized {
				if !contains(bucket[i].numbers, allele.Number) {
					bucket[i].numbers = append(bucket[i].numbers, allele.Number)
				}
				placed = true
				break
			}
		}
		if !placed {
			// A digest bucket with several entries means a true hash
			// collision between different sequences; content comparison below
			// keeps matching exact regardless.
			bucket = append(bucket, indexEntry{sequence: normalized, numbers: []string{allele.Number}})
		}
		idx.entries[digest] = bucket
	}
	return idx
}

// Locus returns the locus this index serves.
func (idx *AlleleIndex) Locus() string { return idx.locus }

// Size returns the number of indexed allele records.
func (idx *AlleleIndex) Size() int { return idx.size }

// Match classifies a raw sequence against the index. Comparison is exact on
// normalized content; an empty sequence is rejected before matching.
func (idx *AlleleIndex) Match(sequence string) (MatchResult, error) {
	normalized := Normalize(sequence)
	if normalized == "" {
		return MatchResult{}, fmt.Errorf("%w: empty sequence for locus %s", ErrInvalidInput, idx.locus)
	}
	result := MatchResult{Locus: idx.locus, Status: StatusUnmatched}
	for _, entry := range idx.entries[Digest(normalized)] {
		if entry.sequence != normalized {
			continue
		}
		switch len(entry.numbers) {
		case 1:
			result.Status = StatusMatched
			result.Allele = entry.numbers[0]
		default:
			result.Status = StatusAmbiguous
			result.Candidates = append([]string(nil), entry.numbers...)
			sort.Strings(result.Candidates)
		}
		return result, nil
	}
	return result, nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
