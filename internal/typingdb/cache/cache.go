// Package cache provides the byte-level store tiers backing the typing
// database client. Entries are reference data: once written for a key they are
// never rewritten with different content (upstream allele numbering is
// append-only), so tiers only need Get/Set/Delete, no compare-and-swap.
package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key is absent from a store tier.
var ErrNotFound = errors.New("cache entry not found")

// Store is one cache tier. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Key builders. Keys embed the full schema identity so two providers exposing
// equally named schemes can never collide.

func SchemasKey(databaseID string) string {
	return fmt.Sprintf("mlst:schemas:%s", databaseID)
}

func SchemaKey(databaseID, seqdefDB string, schemeID int) string {
	return fmt.Sprintf("mlst:schema:%s:%s:%d", databaseID, seqdefDB, schemeID)
}

func AllelesKey(databaseID, seqdefDB string, schemeID int, locus string) string {
	return fmt.Sprintf("mlst:alleles:%s:%s:%d:%s", databaseID, seqdefDB, schemeID, locus)
}

func ProfilesKey(databaseID, seqdefDB string, schemeID int) string {
	return fmt.Sprintf("mlst:profiles:%s:%s:%d", databaseID, seqdefDB, schemeID)
}

// Tiered layers stores fastest-first. Gets fall through tiers and backfill the
// faster ones on a hit; Sets and Deletes apply to every tier.
type Tiered struct {
	tiers []Store
}

// NewTiered builds a layered store. Nil tiers are skipped so callers can pass
// optional backends directly.
func NewTiered(tiers ...Store) *Tiered {
	t := &Tiered{}
	for _, tier := range tiers {
		if tier != nil {
			t.tiers = append(t.tiers, tier)
		}
	}
	return t
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	for i, tier := range t.tiers {
		payload, err := tier.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// Backfill faster tiers so the next read stops earlier.
		for j := 0; j < i; j++ {
			_ = t.tiers[j].Set(ctx, key, payload)
		}
		return payload, nil
	}
	return nil, ErrNotFound
}

func (t *Tiered) Set(ctx context.Context, key string, payload []byte) error {
	for _, tier := range t.tiers {
		if err := tier.Set(ctx, key, payload); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tiered) Delete(ctx context.Context, keys ...string) error {
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Delete(ctx, keys...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Tiered) Close() error {
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
