package typingdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchema_SortsLoci(t *testing.T) {
	schema, err := NewSchema(SchemaRef{DatabaseID: "pubmlst", SeqDefDB: "sd", SchemeID: 1},
		[]string{"pgm", "abcZ", "gdh"})
	require.NoError(t, err)
	assert.Equal(t, []string{"abcZ", "gdh", "pgm"}, schema.Loci)

	assert.True(t, schema.HasLocus("gdh"))
	assert.False(t, schema.HasLocus("adk"))
}

func TestNewSchema_RejectsBadLoci(t *testing.T) {
	ref := SchemaRef{DatabaseID: "pubmlst", SeqDefDB: "sd", SchemeID: 1}

	_, err := NewSchema(ref, nil)
	assert.ErrorContains(t, err, "no loci")

	_, err = NewSchema(ref, []string{"abcZ", ""})
	assert.ErrorContains(t, err, "empty locus")

	_, err = NewSchema(ref, []string{"abcZ", "abcZ"})
	assert.ErrorContains(t, err, "duplicate locus")
}

func TestSchemaRef_String(t *testing.T) {
	ref := SchemaRef{DatabaseID: "pubmlst", SeqDefDB: "pubmlst_neisseria_seqdef", SchemeID: 1}
	assert.Equal(t, "pubmlst/pubmlst_neisseria_seqdef/1", ref.String())
}

func TestProfileTable_LookupArityMismatch(t *testing.T) {
	table := NewProfileTable([]string{"abcZ", "adk"})
	require.NoError(t, table.Insert([]string{"1", "2"}, ProfileRow{SequenceType: "1"}))

	_, _, err := table.Lookup([]string{"1"})
	assert.ErrorContains(t, err, "1 alleles, schema has 2 loci")

	_, _, err = table.Lookup([]string{"1", ""})
	assert.ErrorContains(t, err, "empty allele number")
}

func TestProfileTable_DuplicateTupleRejected(t *testing.T) {
	table := NewProfileTable([]string{"abcZ", "adk"})
	require.NoError(t, table.Insert([]string{"1", "2"}, ProfileRow{SequenceType: "1"}))

	err := table.Insert([]string{"1", "2"}, ProfileRow{SequenceType: "99"})
	assert.ErrorContains(t, err, "already mapped to ST 1")
}

func TestProfileTable_SurvivesCacheEncoding(t *testing.T) {
	table := NewProfileTable([]string{"abcZ", "adk"})
	require.NoError(t, table.Insert([]string{"1", "2"}, ProfileRow{SequenceType: "1", ClonalComplex: "ST-11 complex"}))

	payload, err := json.Marshal(table)
	require.NoError(t, err)

	restored := &ProfileTable{}
	require.NoError(t, json.Unmarshal(payload, restored))

	assert.Equal(t, table.Loci(), restored.Loci())
	row, ok, err := restored.Lookup([]string{"1", "2"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ST-11 complex", row.ClonalComplex)
}
