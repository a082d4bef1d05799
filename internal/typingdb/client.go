package typingdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"straintype/internal/typingdb/cache"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "straintype_typingdb_fetches_total",
		Help: "Upstream fetch operations by resource kind and outcome",
	}, []string{"kind", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "straintype_typingdb_fetch_duration_seconds",
		Help:    "Latency of upstream fetch operations including retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "straintype_typingdb_cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	flightShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "straintype_typingdb_singleflight_shared_total",
		Help: "Fetches answered by joining another caller's in-flight request",
	})
)

const (
	defaultFetchConcurrency = 8
	defaultMaxAttempts      = 3
)

// ClientConfig wires a Client. Zero values pick the documented defaults.
type ClientConfig struct {
	Databases []Database
	Providers *ProviderRegistry
	Cache     cache.Store

	// FetchConcurrency bounds simultaneous upstream requests across all
	// databases and callers.
	FetchConcurrency int64

	// MaxAttempts is the per-call retry budget for transient failures.
	MaxAttempts uint64

	Logger *slog.Logger
}

// Client is the typing-database access layer: it owns the database registry,
// dispatches to provider adapters, and runs every fetch through the cache,
// single-flight, concurrency, and retry policies. Cached entries never mutate;
// only explicit invalidation removes them.
type Client struct {
	databases []Database
	byID      map[string]Database
	providers *ProviderRegistry
	cache     cache.Store
	sem       *semaphore.Weighted
	flight    singleflight.Group
	attempts  uint64
	log       *slog.Logger
	tracer    trace.Tracer
}

// NewClient validates the registry and builds the client. A registry entry
// naming an unregistered provider is a wiring error and fails construction.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := validateRegistry(cfg.Databases); err != nil {
		return nil, fmt.Errorf("database registry: %w", err)
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	byID := make(map[string]Database, len(cfg.Databases))
	for _, db := range cfg.Databases {
		if _, ok := cfg.Providers.Get(db.Provider); !ok {
			return nil, fmt.Errorf("database %s: unknown provider %q", db.ID, db.Provider)
		}
		byID[db.ID] = db
	}
	store := cfg.Cache
	if store == nil {
		store = cache.NewMemoryStore(0)
	}
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = defaultMaxAttempts
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		databases: append([]Database(nil), cfg.Databases...),
		byID:      byID,
		providers: cfg.Providers,
		cache:     store,
		sem:       semaphore.NewWeighted(concurrency),
		attempts:  attempts,
		log:       log,
		tracer:    otel.Tracer("straintype/typingdb"),
	}, nil
}

// ListDatabases returns the registry. Purely local, never fails.
func (c *Client) ListDatabases() []Database {
	return append([]Database(nil), c.databases...)
}

// DatabaseByID resolves a registry entry.
func (c *Client) DatabaseByID(id string) (Database, error) {
	db, ok := c.byID[id]
	if !ok {
		return Database{}, NewFetchError(CategoryNotFound, id, "database", fmt.Errorf("unknown database %q", id))
	}
	return db, nil
}

// ListSchemas enumerates the typing schemes of one database, cached.
func (c *Client) ListSchemas(ctx context.Context, databaseID string) ([]SchemaRef, error) {
	db, err := c.DatabaseByID(databaseID)
	if err != nil {
		return nil, err
	}
	provider, _ := c.providers.Get(db.Provider)
	var refs []SchemaRef
	err = c.cached(ctx, cache.SchemasKey(db.ID), "schemas", &refs, func(ctx context.Context) (any, error) {
		return provider.ListSchemas(ctx, db)
	})
	return refs, err
}

// Schema loads one scheme with its ordered locus list, cached.
func (c *Client) Schema(ctx context.Context, databaseID, seqdefDB string, schemeID int) (Schema, error) {
	db, err := c.DatabaseByID(databaseID)
	if err != nil {
		return Schema{}, err
	}
	provider, _ := c.providers.Get(db.Provider)
	ref := SchemaRef{DatabaseID: db.ID, SeqDefDB: seqdefDB, SchemeID: schemeID}
	var schema Schema
	err = c.cached(ctx, cache.SchemaKey(db.ID, seqdefDB, schemeID), "schema", &schema, func(ctx context.Context) (any, error) {
		return provider.FetchSchema(ctx, db, ref)
	})
	return schema, err
}

// LocusAlleles returns the full allele set for one locus of a schema, cached
// per (database, schema, locus) with single-flight collapse for concurrent
// callers of the same key.
func (c *Client) LocusAlleles(ctx context.Context, schema Schema, locus string) ([]Allele, error) {
	db, err := c.DatabaseByID(schema.Ref.DatabaseID)
	if err != nil {
		return nil, err
	}
	if !schema.HasLocus(locus) {
		return nil, NewFetchError(CategoryNotFound, db.ID, "locus",
			fmt.Errorf("locus %q is not part of schema %s", locus, schema.Ref))
	}
	provider, _ := c.providers.Get(db.Provider)
	key := cache.AllelesKey(db.ID, schema.Ref.SeqDefDB, schema.Ref.SchemeID, locus)
	var alleles []Allele
	err = c.cached(ctx, key, "alleles", &alleles, func(ctx context.Context) (any, error) {
		fetched, err := provider.FetchLocusAlleles(ctx, db, schema.Ref, locus)
		if err != nil {
			return nil, err
		}
		if len(fetched) == 0 {
			// A scheme locus with no published alleles is unusual but not
			// impossible; every sample is unmatched there until upstream
			// publishes data.
			c.log.Warn("locus has no known alleles", "schema", schema.Ref.String(), "locus", locus)
		}
		return fetched, nil
	})
	return alleles, err
}

// ProfileTable returns the schema's profile table, cached per schema.
func (c *Client) ProfileTable(ctx context.Context, schema Schema) (*ProfileTable, error) {
	db, err := c.DatabaseByID(schema.Ref.DatabaseID)
	if err != nil {
		return nil, err
	}
	provider, _ := c.providers.Get(db.Provider)
	key := cache.ProfilesKey(db.ID, schema.Ref.SeqDefDB, schema.Ref.SchemeID)
	table := &ProfileTable{}
	err = c.cached(ctx, key, "profiles", table, func(ctx context.Context) (any, error) {
		return provider.FetchProfileTable(ctx, db, schema)
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// Invalidate drops every cache entry belonging to a schema so the next access
// refetches. This is the only way a newly published allele or profile becomes
// visible before the TTL of the slower tiers expires.
func (c *Client) Invalidate(ctx context.Context, schema Schema) error {
	ref := schema.Ref
	keys := []string{
		cache.SchemaKey(ref.DatabaseID, ref.SeqDefDB, ref.SchemeID),
		cache.ProfilesKey(ref.DatabaseID, ref.SeqDefDB, ref.SchemeID),
	}
	for _, locus := range schema.Loci {
		keys = append(keys, cache.AllelesKey(ref.DatabaseID, ref.SeqDefDB, ref.SchemeID, locus))
	}
	return c.cache.Delete(ctx, keys...)
}

// InvalidateSchemas drops the cached scheme listing for one database.
func (c *Client) InvalidateSchemas(ctx context.Context, databaseID string) error {
	return c.cache.Delete(ctx, cache.SchemasKey(databaseID))
}

// cached serves a value through the cache, collapsing concurrent fetches per
// key. The network work runs on a context detached from the initiating caller
// so that one caller's cancellation cannot abort a flight other callers are
// waiting on; each waiter still honours its own ctx while waiting.
func (c *Client) cached(ctx context.Context, key, kind string, out any, fetch func(ctx context.Context) (any, error)) error {
	payload, err := c.cache.Get(ctx, key)
	if err == nil {
		cacheLookups.WithLabelValues("hit").Inc()
		return json.Unmarshal(payload, out)
	}
	if !errors.Is(err, cache.ErrNotFound) {
		// A broken cache tier degrades to a plain fetch.
		c.log.Warn("cache read failed", "key", key, "error", err)
	}
	cacheLookups.WithLabelValues("miss").Inc()

	ch := c.flight.DoChan(key, func() (any, error) {
		return c.fetchAndStore(context.WithoutCancel(ctx), key, kind, fetch)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return result.Err
		}
		if result.Shared {
			flightShared.Inc()
		}
		return json.Unmarshal(result.Val.([]byte), out)
	}
}

func (c *Client) fetchAndStore(ctx context.Context, key, kind string, fetch func(ctx context.Context) (any, error)) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "typingdb.fetch",
		trace.WithAttributes(attribute.String("kind", kind), attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	value, err := c.fetchWithRetry(ctx, fetch)
	fetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		fetchesTotal.WithLabelValues(kind, string(CategoryOf(err))).Inc()
		return nil, err
	}
	fetchesTotal.WithLabelValues(kind, "ok").Inc()

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := c.cache.Set(ctx, key, payload); err != nil {
		// Cache write failures are not fetch failures.
		c.log.Warn("cache write failed", "key", key, "error", err)
	}
	return payload, nil
}

// fetchWithRetry applies the concurrency bound per attempt and retries
// transient failures with exponential backoff. Permanent failures (4xx,
// malformed payloads) surface immediately.
func (c *Client) fetchWithRetry(ctx context.Context, fetch func(ctx context.Context) (any, error)) (any, error) {
	var value any
	operation := func() error {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		defer c.sem.Release(1)

		fetched, err := fetch(ctx)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		value = fetched
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.attempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return value, nil
}
