// Package mlst implements the typing engine: exact allele matching, profile
// resolution, and the per-sample orchestration across a schema's loci.
package mlst

import (
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// ErrInvalidInput flags a malformed submitted sequence. Caller error, never
// retried.
var ErrInvalidInput = errors.New("invalid input sequence")

// Normalize canonicalizes a nucleotide sequence for comparison: whitespace
// (including internal line breaks from FASTA wrapping) is stripped and letters
// are uppercased. Nothing else changes; IUPAC ambiguity codes such as N stay
// literal and only match themselves.
func Normalize(sequence string) string {
	var b strings.Builder
	b.Grow(len(sequence))
	for _, r := range sequence {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Digest returns the BLAKE2b-256 digest of a normalized sequence, hex encoded.
// The digest keys the per-locus allele index so matching stays O(1) per
// sequence on loci with thousands of known alleles.
func Digest(normalized string) string {
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
