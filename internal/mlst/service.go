package mlst

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"straintype/internal/audit"
	"straintype/internal/typingdb"
)

var (
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "straintype_resolutions_total",
		Help: "Sample resolutions by classification",
	}, []string{"classification"})

	resolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "straintype_resolution_duration_seconds",
		Help:    "End-to-end latency of single-sample resolutions",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})
)

// TypingDatabase is what the service needs from the typing-database client.
type TypingDatabase interface {
	ListDatabases() []typingdb.Database
	ListSchemas(ctx context.Context, databaseID string) ([]typingdb.SchemaRef, error)
	Schema(ctx context.Context, databaseID, seqdefDB string, schemeID int) (typingdb.Schema, error)
	LocusAlleles(ctx context.Context, schema typingdb.Schema, locus string) ([]typingdb.Allele, error)
	ProfileTable(ctx context.Context, schema typingdb.Schema) (*typingdb.ProfileTable, error)
	Invalidate(ctx context.Context, schema typingdb.Schema) error
	InvalidateSchemas(ctx context.Context, databaseID string) error
}

// Sample is one submitted isolate: raw sequences keyed by target locus. Loci
// the schema requires but the sample omits simply go unmatched.
type Sample struct {
	ID        string            `json:"id"`
	Sequences map[string]string `json:"sequences"`
}

// BatchItem pairs a sample id with its outcome in a batch run.
type BatchItem struct {
	SampleID string        `json:"sample_id"`
	Result   *TypingResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Service is the consumer-facing typing API. The presentation layer calls it
// and renders; it holds no matching or resolution logic of its own beyond
// dispatch.
type Service struct {
	db      TypingDatabase
	log     *slog.Logger
	auditor *audit.Publisher

	// indexes caches built allele indexes per (schema, locus). Entries are
	// immutable like the underlying allele sets; Refresh drops them.
	indexes sync.Map
}

// NewService wires the typing service. The auditor may be nil.
func NewService(db TypingDatabase, log *slog.Logger, auditor *audit.Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, log: log, auditor: auditor}
}

// ListDatabases exposes the registry.
func (s *Service) ListDatabases() []typingdb.Database {
	return s.db.ListDatabases()
}

// ListSchemas exposes a database's typing schemes.
func (s *Service) ListSchemas(ctx context.Context, databaseID string) ([]typingdb.SchemaRef, error) {
	return s.db.ListSchemas(ctx, databaseID)
}

// Schema exposes one scheme's detail.
func (s *Service) Schema(ctx context.Context, databaseID, seqdefDB string, schemeID int) (typingdb.Schema, error) {
	return s.db.Schema(ctx, databaseID, seqdefDB, schemeID)
}

// ResolveSample types one sample against a schema: one concurrent fetch+match
// task per schema locus plus the profile table, joined before resolution.
// Locus-scoped fetch failures downgrade that locus to unmatched; a failed
// profile table fetch fails the whole resolution since nothing can be
// resolved without it.
func (s *Service) ResolveSample(ctx context.Context, schema typingdb.Schema, sample Sample) (TypingResult, error) {
	start := time.Now()

	// Reject malformed input before any network work.
	for locus, sequence := range sample.Sequences {
		if Normalize(sequence) == "" {
			return TypingResult{}, fmt.Errorf("%w: empty sequence for locus %s", ErrInvalidInput, locus)
		}
	}

	type locusOutcome struct {
		match MatchResult
		err   error
	}
	outcomes := make([]locusOutcome, len(schema.Loci))

	g, gctx := errgroup.WithContext(ctx)

	var table *typingdb.ProfileTable
	g.Go(func() error {
		fetched, err := s.db.ProfileTable(gctx, schema)
		if err != nil {
			return fmt.Errorf("profile table for %s: %w", schema.Ref, err)
		}
		table = fetched
		return nil
	})

	for i, locus := range schema.Loci {
		i, locus := i, locus
		g.Go(func() error {
			sequence, ok := sample.Sequences[locus]
			if !ok {
				outcomes[i] = locusOutcome{match: MatchResult{Locus: locus, Status: StatusUnmatched}}
				return nil
			}
			index, err := s.locusIndex(gctx, schema, locus)
			if err != nil {
				// Downgrade to unmatched for this locus only; siblings keep going.
				outcomes[i] = locusOutcome{match: MatchResult{Locus: locus, Status: StatusUnmatched}, err: err}
				return nil
			}
			match, err := index.Match(sequence)
			if err != nil {
				return err
			}
			outcomes[i] = locusOutcome{match: match}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return TypingResult{}, err
	}

	matches := make(map[string]MatchResult, len(schema.Loci))
	var locusErrors map[string]string
	for i, locus := range schema.Loci {
		matches[locus] = outcomes[i].match
		if outcomes[i].err != nil {
			if locusErrors == nil {
				locusErrors = make(map[string]string)
			}
			locusErrors[locus] = outcomes[i].err.Error()
			s.log.Warn("locus fetch failed, treating as unmatched",
				"schema", schema.Ref.String(), "locus", locus, "error", outcomes[i].err)
		}
	}

	result := Resolve(schema, matches, table)
	if len(locusErrors) > 0 {
		if result.LocusErrors == nil {
			result.LocusErrors = locusErrors
		} else {
			for locus, msg := range locusErrors {
				result.LocusErrors[locus] = msg
			}
		}
	}

	elapsed := time.Since(start)
	resolutionsTotal.WithLabelValues(string(result.Classification)).Inc()
	resolutionDuration.Observe(elapsed.Seconds())
	s.emitAudit(ctx, schema, sample, result, elapsed)
	return result, nil
}

// ResolveBatch types samples in submission order, continuing past per-sample
// failures. Allele sets are cached after the first sample, so later samples
// are matched without further network traffic.
func (s *Service) ResolveBatch(ctx context.Context, schema typingdb.Schema, samples []Sample) ([]BatchItem, error) {
	items := make([]BatchItem, 0, len(samples))
	for _, sample := range samples {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		result, err := s.ResolveSample(ctx, schema, sample)
		item := BatchItem{SampleID: sample.ID}
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Result = &result
		}
		items = append(items, item)
	}
	return items, nil
}

// Refresh invalidates everything cached for a schema, forcing the next
// resolution to refetch. The only way to pick up newly published alleles or
// profiles before cache TTLs expire.
func (s *Service) Refresh(ctx context.Context, schema typingdb.Schema) error {
	prefix := schema.Ref.String() + ":"
	s.indexes.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			s.indexes.Delete(key)
		}
		return true
	})
	return s.db.Invalidate(ctx, schema)
}

// RefreshSchemas invalidates a database's cached scheme listing.
func (s *Service) RefreshSchemas(ctx context.Context, databaseID string) error {
	return s.db.InvalidateSchemas(ctx, databaseID)
}

func (s *Service) locusIndex(ctx context.Context, schema typingdb.Schema, locus string) (*AlleleIndex, error) {
	key := schema.Ref.String() + ":" + locus
	if cached, ok := s.indexes.Load(key); ok {
		return cached.(*AlleleIndex), nil
	}
	alleles, err := s.db.LocusAlleles(ctx, schema, locus)
	if err != nil {
		return nil, err
	}
	index := BuildIndex(locus, alleles)
	actual, _ := s.indexes.LoadOrStore(key, index)
	return actual.(*AlleleIndex), nil
}

func (s *Service) emitAudit(ctx context.Context, schema typingdb.Schema, sample Sample, result TypingResult, elapsed time.Duration) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		Database:       schema.Ref.DatabaseID,
		SeqDefDB:       schema.Ref.SeqDefDB,
		SchemeID:       schema.Ref.SchemeID,
		SampleID:       sample.ID,
		Classification: string(result.Classification),
		SequenceType:   result.SequenceType,
		Duration:       elapsed.Seconds(),
	})
	if err != nil {
		s.log.Warn("audit emit failed", "sample_id", sample.ID, "error", err)
	}
}
