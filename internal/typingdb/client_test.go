package typingdb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straintype/internal/typingdb/cache"
)

// fakeProvider counts upstream calls and can be scripted to fail or block, so
// tests can observe the client's caching, retry, and flight-collapse policies.
type fakeProvider struct {
	mu          sync.Mutex
	alleleCalls int
	alleleErrs  []error

	// When set, FetchLocusAlleles signals started and waits for release.
	started chan struct{}
	release chan struct{}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ListSchemas(context.Context, Database) ([]SchemaRef, error) {
	return []SchemaRef{{DatabaseID: "testdb", SeqDefDB: "sd", SchemeID: 1, Description: "MLST"}}, nil
}

func (f *fakeProvider) FetchSchema(_ context.Context, _ Database, ref SchemaRef) (Schema, error) {
	return NewSchema(ref, []string{"abcZ", "adk"})
}

func (f *fakeProvider) FetchLocusAlleles(_ context.Context, _ Database, _ SchemaRef, locus string) ([]Allele, error) {
	f.mu.Lock()
	f.alleleCalls++
	var err error
	if len(f.alleleErrs) > 0 {
		err = f.alleleErrs[0]
		f.alleleErrs = f.alleleErrs[1:]
	}
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	if err != nil {
		return nil, err
	}
	return []Allele{{Locus: locus, Number: "1", Sequence: "ACGT"}}, nil
}

func (f *fakeProvider) FetchProfileTable(_ context.Context, _ Database, schema Schema) (*ProfileTable, error) {
	table := NewProfileTable(schema.Loci)
	if err := table.Insert([]string{"1", "1"}, ProfileRow{SequenceType: "ST1"}); err != nil {
		return nil, err
	}
	return table, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alleleCalls
}

func newTestClient(t *testing.T, provider *fakeProvider) *Client {
	t.Helper()
	providers := NewProviderRegistry()
	require.NoError(t, providers.Register(provider))

	client, err := NewClient(ClientConfig{
		Databases: []Database{{ID: "testdb", Name: "Test", BaseURL: "http://example.invalid", Provider: "fake"}},
		Providers: providers,
		Cache:     cache.NewMemoryStore(0),
	})
	require.NoError(t, err)
	return client
}

func testSchema(t *testing.T) Schema {
	t.Helper()
	schema, err := NewSchema(SchemaRef{DatabaseID: "testdb", SeqDefDB: "sd", SchemeID: 1}, []string{"abcZ", "adk"})
	require.NoError(t, err)
	return schema
}

func TestNewClient_RejectsUnknownProvider(t *testing.T) {
	providers := NewProviderRegistry()
	require.NoError(t, providers.Register(&fakeProvider{}))

	_, err := NewClient(ClientConfig{
		Databases: []Database{{ID: "x", Name: "X", BaseURL: "http://example.invalid", Provider: "nope"}},
		Providers: providers,
	})
	assert.ErrorContains(t, err, "unknown provider")
}

func TestLocusAlleles_WarmCacheSkipsProvider(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(t, provider)
	schema := testSchema(t)
	ctx := context.Background()

	first, err := client.LocusAlleles(ctx, schema, "abcZ")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, provider.calls())

	second, err := client.LocusAlleles(ctx, schema, "abcZ")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.calls(), "warm cache must not touch the provider")
}

func TestLocusAlleles_UnknownLocusFailsWithoutFetch(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(t, provider)

	_, err := client.LocusAlleles(context.Background(), testSchema(t), "gdh")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, provider.calls())
}

func TestLocusAlleles_ConcurrentCallersCollapseToOneFetch(t *testing.T) {
	provider := &fakeProvider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	client := newTestClient(t, provider)
	schema := testSchema(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = client.LocusAlleles(context.Background(), schema, "abcZ")
		}()
	}

	// Hold the single upstream fetch open until every caller has had time to
	// join the flight, then let it finish.
	<-provider.started
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, 1, provider.calls(), "concurrent identical requests must share one fetch")
}

func TestLocusAlleles_RetriesTransientFailures(t *testing.T) {
	provider := &fakeProvider{
		alleleErrs: []error{
			NewFetchError(CategoryUnavailable, "testdb", "alleles", fmt.Errorf("upstream 503")),
		},
	}
	client := newTestClient(t, provider)

	alleles, err := client.LocusAlleles(context.Background(), testSchema(t), "abcZ")
	require.NoError(t, err)
	assert.Len(t, alleles, 1)
	assert.Equal(t, 2, provider.calls(), "one failed attempt plus the successful retry")
}

func TestLocusAlleles_NoRetryOnPermanentFailure(t *testing.T) {
	provider := &fakeProvider{
		alleleErrs: []error{
			NewFetchError(CategoryNotFound, "testdb", "alleles", fmt.Errorf("no such locus")),
		},
	}
	client := newTestClient(t, provider)

	_, err := client.LocusAlleles(context.Background(), testSchema(t), "abcZ")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, provider.calls(), "not-found is permanent, never retried")
}

func TestLocusAlleles_CallerCancellationLeavesFlightRunning(t *testing.T) {
	provider := &fakeProvider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	client := newTestClient(t, provider)
	schema := testSchema(t)

	ctx1, cancel := context.WithCancel(context.Background())
	err1 := make(chan error, 1)
	go func() {
		_, err := client.LocusAlleles(ctx1, schema, "abcZ")
		err1 <- err
	}()
	<-provider.started

	result2 := make(chan error, 1)
	go func() {
		_, err := client.LocusAlleles(context.Background(), schema, "abcZ")
		result2 <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// The initiating caller bails out; the shared fetch must survive it.
	cancel()
	assert.ErrorIs(t, <-err1, context.Canceled)

	close(provider.release)
	assert.NoError(t, <-result2, "second caller still gets the result after the first cancelled")
	assert.Equal(t, 1, provider.calls())
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(t, provider)
	schema := testSchema(t)
	ctx := context.Background()

	_, err := client.LocusAlleles(ctx, schema, "abcZ")
	require.NoError(t, err)
	_, err = client.ProfileTable(ctx, schema)
	require.NoError(t, err)

	require.NoError(t, client.Invalidate(ctx, schema))

	_, err = client.LocusAlleles(ctx, schema, "abcZ")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls(), "invalidation must drop the cached allele set")
}

func TestProfileTable_RoundTripsThroughCache(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(t, provider)
	schema := testSchema(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		table, err := client.ProfileTable(ctx, schema)
		require.NoError(t, err)
		row, ok, err := table.Lookup([]string{"1", "1"})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "ST1", row.SequenceType)
	}
}

func TestListSchemas_Cached(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(t, provider)
	ctx := context.Background()

	refs, err := client.ListSchemas(ctx, "testdb")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "MLST", refs[0].Description)

	_, err = client.ListSchemas(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
