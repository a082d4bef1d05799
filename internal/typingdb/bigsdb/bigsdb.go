// Package bigsdb adapts the BIGSdb REST API (PubMLST, Institut Pasteur) to
// the typingdb data model. A BIGSdb deployment hosts sequence-definition
// databases (named *_seqdef), each carrying one or more typing schemes; a
// scheme exposes its loci, per-locus allele sets as FASTA, and its profile
// table as tab-separated text.
package bigsdb

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"straintype/internal/fasta"
	"straintype/internal/typingdb"
)

const defaultTimeout = 10 * time.Second

// Provider implements typingdb.Provider against BIGSdb deployments.
type Provider struct {
	httpClient *http.Client
}

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New constructs a BIGSdb adapter.
func New(opts ...Option) *Provider {
	p := &Provider{
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "bigsdb" }

type dbGroup struct {
	Databases []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"databases"`
}

type schemeList struct {
	Schemes []struct {
		Scheme      string `json:"scheme"`
		Description string `json:"description"`
	} `json:"schemes"`
}

type schemeDetail struct {
	Description string   `json:"description"`
	Loci        []string `json:"loci"`
}

// ListSchemas walks the deployment's sequence-definition databases and
// collects every scheme they define.
func (p *Provider) ListSchemas(ctx context.Context, db typingdb.Database) ([]typingdb.SchemaRef, error) {
	payload, err := p.get(ctx, db, db.BaseURL+"/db", "databases")
	if err != nil {
		return nil, err
	}
	var groups []dbGroup
	if err := json.Unmarshal(payload, &groups); err != nil {
		return nil, typingdb.NewFetchError(typingdb.CategoryBadData, db.ID, "databases", err)
	}

	var refs []typingdb.SchemaRef
	for _, group := range groups {
		for _, entry := range group.Databases {
			if !strings.HasSuffix(entry.Name, "seqdef") {
				continue
			}
			schemes, err := p.listSeqDefSchemes(ctx, db, entry.Name)
			if err != nil {
				// A single misbehaving seqdef database should not hide the
				// rest of the deployment; only transport-level failures abort.
				if typingdb.IsRetryable(err) {
					return nil, err
				}
				continue
			}
			refs = append(refs, schemes...)
		}
	}
	return refs, nil
}

func (p *Provider) listSeqDefSchemes(ctx context.Context, db typingdb.Database, seqdefDB string) ([]typingdb.SchemaRef, error) {
	resource := fmt.Sprintf("db/%s/schemes", seqdefDB)
	payload, err := p.get(ctx, db, fmt.Sprintf("%s/db/%s/schemes", db.BaseURL, seqdefDB), resource)
	if err != nil {
		return nil, err
	}
	var list schemeList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, typingdb.NewFetchError(typingdb.CategoryBadData, db.ID, resource, err)
	}
	refs := make([]typingdb.SchemaRef, 0, len(list.Schemes))
	for _, scheme := range list.Schemes {
		// Scheme references arrive as URIs; the id is the last path segment.
		id, err := strconv.Atoi(path.Base(scheme.Scheme))
		if err != nil {
			return nil, typingdb.NewFetchError(typingdb.CategoryBadData, db.ID, resource,
				fmt.Errorf("scheme ref %q: %w", scheme.Scheme, err))
		}
		refs = append(refs, typingdb.SchemaRef{
			DatabaseID:  db.ID,
			SeqDefDB:    seqdefDB,
			SchemeID:    id,
			Description: scheme.Description,
		})
	}
	return refs, nil
}

// FetchSchema loads the scheme detail and extracts locus names from their
// resource URIs.
func (p *Provider) FetchSchema(ctx context.Context, db typingdb.Database, ref typingdb.SchemaRef) (typingdb.Schema, error) {
	resource := fmt.Sprintf("db/%s/schemes/%d", ref.SeqDefDB, ref.SchemeID)
	payload, err := p.get(ctx, db, fmt.Sprintf("%s/%s", db.BaseURL, resource), resource)
	if err != nil {
		return typingdb.Schema{}, err
	}
	var detail schemeDetail
	if err := json.Unmarshal(payload, &detail); err != nil {
		return typingdb.Schema{}, typingdb.NewFetchError(typingdb.CategoryBadData, db.ID, resource, err)
	}
	loci := make([]string, 0, len(detail.Loci))
	for _, locusURI := range detail.Loci {
		loci = append(loci, path.Base(locusURI))
	}
	if ref.Description == "" {
		ref.Description = detail.Description
	}
	schema, err := typingdb.NewSchema(ref, loci)
	if err != nil {
		return typingdb.Schema{}, typingdb.NewFetchError(typingdb.CategoryBadData, db.ID, resource, err)
	}
	return schema, nil
}

// FetchLocusAlleles downloads and parses the locus allele set. Record names in
// the FASTA are "locus_number"; BIGSdb also serves bare numbers depending on
// configuration, so both forms are accepted.
func (p *Provider) FetchLocusAlleles(ctx context.Context, db typingdb.Database, ref typingdb.SchemaRef, locus string) ([]typingdb.Allele, error) {
	resource := fmt.Sprintf("db/%s/loci/%s/alleles_fasta", ref.SeqDefDB, locus)
	payload, err := p.get(ctx, db, fmt.Sprintf("%s/%s", db.BaseURL, resource), resource)
	if err != nil {
		return nil, err
	}
	records, err := fasta.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, typingdb.NewFetchError(typingdb.CategoryBadData, db.ID, resource, err)
	}
	alleles := make([]typingdb.Allele, 0, len(records))
	for _, record := range records {
		number := strings.TrimPrefix(record.Name, locus+"_")
		if number == "" || record.Sequence == "" {
			return nil, typingdb.NewFetchError(typingdb.CategoryBadData, db.ID, resource,
				fmt.Errorf("allele record %q is incomplete", record.Name))
		}
		alleles = append(alleles, typingdb.Allele{
			Locus:    locus,
			Number:   number,
			Sequence: record.Sequence,
		})
	}
	return alleles, nil
}

// FetchProfileTable downloads the scheme's profiles_csv (tab-separated) and
// keys it in the schema's locus order.
func (p *Provider) FetchProfileTable(ctx context.Context, db typingdb.Database, schema typingdb.Schema) (*typingdb.ProfileTable, error) {
	ref := schema.Ref
	resource := fmt.Sprintf("db/%s/schemes/%d/profiles_csv", ref.SeqDefDB, ref.SchemeID)
	payload, err := p.get(ctx, db, fmt.Sprintf("%s/%s", db.BaseURL, resource), resource)
	if err != nil {
		return nil, err
	}
	table, err := parseProfiles(payload, schema.Loci)
	if err != nil {
		return nil, typingdb.NewFetchError(typingdb.CategoryBadData, db.ID, resource, err)
	}
	return table, nil
}

func parseProfiles(payload []byte, loci []string) (*typingdb.ProfileTable, error) {
	reader := csv.NewReader(bytes.NewReader(payload))
	reader.Comma = '\t'
	// Profile tables append extra columns (clonal_complex, species, ...)
	// inconsistently across schemes.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("profile table header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	stCol, ok := columns["ST"]
	if !ok {
		return nil, fmt.Errorf("profile table has no ST column")
	}
	lociCols := make([]int, len(loci))
	for i, locus := range loci {
		col, ok := columns[locus]
		if !ok {
			return nil, fmt.Errorf("profile table has no column for locus %s", locus)
		}
		lociCols[i] = col
	}
	ccCol, hasCC := columns["clonal_complex"]

	table := typingdb.NewProfileTable(loci)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("profile table line %d: %w", line, err)
		}
		tuple := make([]string, len(loci))
		for i, col := range lociCols {
			if col >= len(row) {
				return nil, fmt.Errorf("profile table line %d: missing locus column", line)
			}
			tuple[i] = strings.TrimSpace(row[col])
		}
		profile := typingdb.ProfileRow{SequenceType: strings.TrimSpace(row[stCol])}
		if hasCC && ccCol < len(row) {
			profile.ClonalComplex = strings.TrimSpace(row[ccCol])
		}
		if err := table.Insert(tuple, profile); err != nil {
			return nil, fmt.Errorf("profile table line %d: %w", line, err)
		}
	}
	return table, nil
}

// get issues one GET and maps transport and status failures onto the error
// taxonomy. Retrying is the Client's job.
func (p *Provider) get(ctx context.Context, db typingdb.Database, url, resource string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, typingdb.NewFetchError(typingdb.CategoryInternal, db.ID, resource, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		category := typingdb.CategoryUnavailable
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			category = typingdb.CategoryTimeout
		}
		return nil, typingdb.NewFetchError(category, db.ID, resource, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, typingdb.NewFetchError(typingdb.CategoryNotFound, db.ID, resource,
			fmt.Errorf("%s", resp.Status))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, typingdb.NewFetchError(typingdb.CategoryInvalidRequest, db.ID, resource,
			fmt.Errorf("%s", resp.Status))
	default:
		return nil, typingdb.NewFetchError(typingdb.CategoryUnavailable, db.ID, resource,
			fmt.Errorf("%s", resp.Status))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, typingdb.NewFetchError(typingdb.CategoryUnavailable, db.ID, resource, err)
	}
	return payload, nil
}
