package catalog

import (
	"context"
	"errors"

	"github.com/watt29/smart-service-system-backend/internal/models"
)

var (
	// ErrNotFound means the code does not exist. It is a normal outcome,
	// not a failure.
	ErrNotFound = errors.New("catalog entry not found")

	// ErrUnavailable means the backing store could not answer at all.
	// Callers must fail closed rather than serve a partial result.
	ErrUnavailable = errors.New("catalog unavailable")
)

// Query is the coarse candidate request sent to the backing store. Term
// matching is deliberately loose; precise ranking happens in the scoring
// layer.
type Query struct {
	Terms    []string
	Category string
	MinPrice *float64
	MaxPrice *float64
	Sort     models.SortKey
	Offset   int
	Limit    int
}

// Store is the catalog collaborator. Implementations are expected to be safe
// for concurrent use.
type Store interface {
	// FindCandidates returns up to Limit entries matching the query plus
	// the total match count. An empty term list matches everything.
	FindCandidates(ctx context.Context, q Query) ([]models.CatalogEntry, int, error)

	// GetByCode fetches one entry. Returns ErrNotFound for unknown codes.
	GetByCode(ctx context.Context, code string) (*models.CatalogEntry, error)

	// CategoryAggregates returns per-category rollups for every known
	// category.
	CategoryAggregates(ctx context.Context) ([]models.CategoryAggregate, error)

	// PriceRange returns the lowest and highest price in the catalog.
	PriceRange(ctx context.Context) (min, max float64, err error)
}

// Hydrator enriches coarse search hits with full document fields from the
// system of record. Hydration failure is non-fatal; callers keep the
// unhydrated entries.
type Hydrator interface {
	Hydrate(ctx context.Context, entries []models.CatalogEntry) ([]models.CatalogEntry, error)
}
