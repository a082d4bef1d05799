package typingdb

import (
	"context"
	"fmt"
)

// Provider adapts one upstream API family to the shared data model. Adapters
// return categorized FetchErrors and never retry themselves; retry and
// caching policy belong to the Client.
type Provider interface {
	// Name matches Database.Provider entries in the registry.
	Name() string

	// ListSchemas enumerates the typing schemes a database offers.
	ListSchemas(ctx context.Context, db Database) ([]SchemaRef, error)

	// FetchSchema loads the scheme detail, including its locus list.
	FetchSchema(ctx context.Context, db Database, ref SchemaRef) (Schema, error)

	// FetchLocusAlleles downloads the full allele set for one locus.
	FetchLocusAlleles(ctx context.Context, db Database, ref SchemaRef, locus string) ([]Allele, error)

	// FetchProfileTable downloads the scheme's profile table, keyed in the
	// schema's locus order.
	FetchProfileTable(ctx context.Context, db Database, schema Schema) (*ProfileTable, error)
}

// ProviderRegistry maps provider names to adapters.
type ProviderRegistry struct {
	providers map[string]Provider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

// Register adds an adapter. Duplicate names are a wiring bug.
func (r *ProviderRegistry) Register(p Provider) error {
	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get retrieves an adapter by name.
func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
