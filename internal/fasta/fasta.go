// Package fasta parses FASTA formatted data. BIGSdb serves locus allele sets
// as FASTA where each record name is the allele number; callers also submit
// sample sequences this way with locus names as record headers.
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Record is one named sequence. Name is the first whitespace-separated token
// of the header line; the remainder of the header is discarded.
type Record struct {
	Name     string
	Sequence string
}

// Parse reads all records from r. Sequence lines are concatenated as-is; no
// normalization happens here so callers see the upstream bytes.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	// Allele set downloads can carry long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		records []Record
		current *Record
		seq     strings.Builder
		line    int
	)
	flush := func() {
		if current != nil {
			current.Sequence = seq.String()
			records = append(records, *current)
			seq.Reset()
		}
	}
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(text, ">"):
			flush()
			name := strings.Fields(text[1:])
			if len(name) == 0 {
				return nil, fmt.Errorf("line %d: record with empty name", line)
			}
			current = &Record{Name: name[0]}
		case strings.TrimSpace(text) == "":
			// blank lines between records are tolerated
		case current == nil:
			return nil, fmt.Errorf("line %d: sequence data before first header", line)
		default:
			seq.WriteString(strings.TrimSpace(text))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fasta: %w", err)
	}
	flush()
	return records, nil
}

// ParseString is a convenience wrapper for in-memory payloads.
func ParseString(s string) ([]Record, error) {
	return Parse(strings.NewReader(s))
}
