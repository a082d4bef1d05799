package mlst

import (
	"straintype/internal/typingdb"
)

// Classification is the per-sample typing outcome.
type Classification string

const (
	// ClassResolved means every locus matched and the profile maps to an ST.
	ClassResolved Classification = "resolved"

	// ClassNovelProfile means every locus matched a known allele but the
	// combination is not a registered ST. A legitimate outcome, not an error.
	ClassNovelProfile Classification = "novel_profile"

	// ClassIncomplete means at least one locus was unmatched, missing from
	// the sample, or failed to fetch.
	ClassIncomplete Classification = "incomplete"

	// ClassAmbiguous means at least one locus matched multiple allele
	// numbers. Takes precedence over incomplete: it signals broken reference
	// data, which matters more than a simple non-match.
	ClassAmbiguous Classification = "ambiguous"
)

// TypingResult aggregates a sample's per-locus calls. Profile is always in
// schema locus order and retained for diagnostics even when resolution fails.
type TypingResult struct {
	Classification Classification    `json:"classification"`
	SequenceType   string            `json:"sequence_type,omitempty"`
	ClonalComplex  string            `json:"clonal_complex,omitempty"`
	Profile        []MatchResult     `json:"profile"`
	LocusErrors    map[string]string `json:"locus_errors,omitempty"`
}

// Resolve assembles per-locus matches into the ordered profile tuple and looks
// it up in the profile table. Missing entries for schema loci count as
// unmatched. The table must be keyed in the schema's locus order.
func Resolve(schema typingdb.Schema, matches map[string]MatchResult, table *typingdb.ProfileTable) TypingResult {
	result := TypingResult{
		Profile: make([]MatchResult, 0, len(schema.Loci)),
	}

	ambiguous := false
	complete := true
	tuple := make([]string, 0, len(schema.Loci))
	for _, locus := range schema.Loci {
		match, ok := matches[locus]
		if !ok {
			match = MatchResult{Locus: locus, Status: StatusUnmatched}
		}
		result.Profile = append(result.Profile, match)
		switch match.Status {
		case StatusMatched:
			tuple = append(tuple, match.Allele)
		case StatusAmbiguous:
			ambiguous = true
		default:
			complete = false
		}
	}

	switch {
	case ambiguous:
		result.Classification = ClassAmbiguous
	case !complete:
		result.Classification = ClassIncomplete
	default:
		row, found, err := table.Lookup(tuple)
		if err != nil {
			// Arity mismatch between schema and table; treat as incomplete
			// with the profile retained rather than crashing the request.
			result.Classification = ClassIncomplete
			result.LocusErrors = map[string]string{"profile": err.Error()}
		} else if found {
			result.Classification = ClassResolved
			result.SequenceType = row.SequenceType
			result.ClonalComplex = row.ClonalComplex
		} else {
			result.Classification = ClassNovelProfile
		}
	}
	return result
}
