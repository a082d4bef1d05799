package typingdb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Database identifies one remote typing service. The set of databases is fixed
// at construction time; entries are never mutated afterwards.
type Database struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	Provider string `json:"provider"`
}

// SchemaRef identifies a typing scheme within a database without carrying its
// locus list. Identity is (database, seqdef database, scheme id); descriptions
// are display-only and two services may reuse the same description freely.
type SchemaRef struct {
	DatabaseID  string `json:"database_id"`
	SeqDefDB    string `json:"seqdef_db"`
	SchemeID    int    `json:"scheme_id"`
	Description string `json:"description"`
}

func (r SchemaRef) String() string {
	return fmt.Sprintf("%s/%s/%d", r.DatabaseID, r.SeqDefDB, r.SchemeID)
}

// Schema is a fully loaded typing scheme: the ref plus its ordered locus list.
// Profile tuples are only meaningful in this exact locus order.
type Schema struct {
	Ref  SchemaRef `json:"ref"`
	Loci []string  `json:"loci"`
}

// NewSchema validates locus names and fixes their order. Upstream scheme
// resources list loci in arbitrary order, so we sort for a stable profile
// tuple order, matching how profile tables are keyed.
func NewSchema(ref SchemaRef, loci []string) (Schema, error) {
	if len(loci) == 0 {
		return Schema{}, fmt.Errorf("schema %s: no loci", ref)
	}
	sorted := make([]string, len(loci))
	copy(sorted, loci)
	sort.Strings(sorted)
	for i, locus := range sorted {
		if locus == "" {
			return Schema{}, fmt.Errorf("schema %s: empty locus name", ref)
		}
		if i > 0 && sorted[i-1] == locus {
			return Schema{}, fmt.Errorf("schema %s: duplicate locus %q", ref, locus)
		}
	}
	return Schema{Ref: ref, Loci: sorted}, nil
}

// HasLocus reports whether the locus belongs to this schema.
func (s Schema) HasLocus(locus string) bool {
	i := sort.SearchStrings(s.Loci, locus)
	return i < len(s.Loci) && s.Loci[i] == locus
}

// Allele is one known sequence variant at a locus. Allele numbers are
// provider-assigned strings (BIGSdb ids are not always numeric) and unique
// within a locus; sequences are immutable once published upstream.
type Allele struct {
	Locus    string `json:"locus"`
	Number   string `json:"number"`
	Sequence string `json:"sequence"`
}

// ProfileRow is the designation a profile tuple maps to. The clonal complex is
// carried through from upstream profile tables when present but plays no part
// in resolution.
type ProfileRow struct {
	SequenceType  string `json:"sequence_type"`
	ClonalComplex string `json:"clonal_complex,omitempty"`
}

// ProfileTable maps ordered allele-number tuples to sequence types. Keys are
// tuples in the schema's locus order; lookups with the wrong arity fail rather
// than silently miss.
type ProfileTable struct {
	loci []string
	rows map[string]ProfileRow
}

const profileKeySep = "\x1f"

// NewProfileTable creates an empty table keyed by the given locus order.
func NewProfileTable(loci []string) *ProfileTable {
	return &ProfileTable{
		loci: append([]string(nil), loci...),
		rows: make(map[string]ProfileRow),
	}
}

// Loci returns the locus order the table is keyed by.
func (t *ProfileTable) Loci() []string {
	return append([]string(nil), t.loci...)
}

// Len returns the number of registered profiles.
func (t *ProfileTable) Len() int {
	return len(t.rows)
}

// Insert registers a profile tuple. Upstream tables occasionally repeat a
// tuple; the first row wins and later duplicates are rejected.
func (t *ProfileTable) Insert(alleles []string, row ProfileRow) error {
	key, err := t.key(alleles)
	if err != nil {
		return err
	}
	if existing, ok := t.rows[key]; ok {
		return fmt.Errorf("profile %v already mapped to ST %s", alleles, existing.SequenceType)
	}
	t.rows[key] = row
	return nil
}

// Lookup resolves an ordered allele tuple to its row. A miss with a
// well-formed tuple is a legitimate outcome (novel profile), not an error.
func (t *ProfileTable) Lookup(alleles []string) (ProfileRow, bool, error) {
	key, err := t.key(alleles)
	if err != nil {
		return ProfileRow{}, false, err
	}
	row, ok := t.rows[key]
	return row, ok, nil
}

func (t *ProfileTable) key(alleles []string) (string, error) {
	if len(alleles) != len(t.loci) {
		return "", fmt.Errorf("profile has %d alleles, schema has %d loci", len(alleles), len(t.loci))
	}
	for i, a := range alleles {
		if a == "" {
			return "", fmt.Errorf("empty allele number at locus %s", t.loci[i])
		}
	}
	return strings.Join(alleles, profileKeySep), nil
}

type profileTableJSON struct {
	Loci []string              `json:"loci"`
	Rows map[string]ProfileRow `json:"rows"`
}

// MarshalJSON keeps the table cacheable as an opaque payload.
func (t *ProfileTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(profileTableJSON{Loci: t.loci, Rows: t.rows})
}

func (t *ProfileTable) UnmarshalJSON(data []byte) error {
	var raw profileTableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.loci = raw.Loci
	t.rows = raw.Rows
	if t.rows == nil {
		t.rows = make(map[string]ProfileRow)
	}
	return nil
}
