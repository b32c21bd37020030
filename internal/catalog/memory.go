package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/watt29/smart-service-system-backend/internal/models"
)

// MemoryStore is an in-process Store used by tests and single-node
// deployments that have no search cluster. Matching is substring containment
// over name, code, category, description, and tags.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.CatalogEntry
	byCode  map[string]int
}

func NewMemoryStore(entries []models.CatalogEntry) *MemoryStore {
	s := &MemoryStore{byCode: make(map[string]int, len(entries))}
	for _, e := range entries {
		s.put(e)
	}
	return s
}

// Put inserts or replaces one entry.
func (s *MemoryStore) Put(entry models.CatalogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(entry)
}

func (s *MemoryStore) put(entry models.CatalogEntry) {
	if i, ok := s.byCode[entry.Code]; ok {
		s.entries[i] = entry
		return
	}
	s.byCode[entry.Code] = len(s.entries)
	s.entries = append(s.entries, entry)
}

func (s *MemoryStore) FindCandidates(_ context.Context, q Query) ([]models.CatalogEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.CatalogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !matchesFilters(&e, q) {
			continue
		}
		if len(q.Terms) > 0 && !matchesAnyTerm(&e, q.Terms) {
			continue
		}
		matched = append(matched, e)
	}

	sortEntries(matched, q.Sort)

	total := len(matched)
	offset := q.Offset
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	return matched, total, nil
}

func (s *MemoryStore) GetByCode(_ context.Context, code string) (*models.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	entry := s.entries[i]
	return &entry, nil
}

func (s *MemoryStore) CategoryAggregates(_ context.Context) ([]models.CategoryAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type rollup struct {
		count     int
		sold      int64
		priceSum  float64
		ratingSum float64
	}
	byCategory := map[string]*rollup{}
	for _, e := range s.entries {
		if e.Category == "" {
			continue
		}
		r, ok := byCategory[e.Category]
		if !ok {
			r = &rollup{}
			byCategory[e.Category] = r
		}
		r.count++
		r.sold += e.SoldCount
		r.priceSum += e.Price
		r.ratingSum += e.Rating
	}

	out := make([]models.CategoryAggregate, 0, len(byCategory))
	for cat, r := range byCategory {
		out = append(out, models.CategoryAggregate{
			Category:     cat,
			ProductCount: r.count,
			TotalSold:    r.sold,
			AvgPrice:     r.priceSum / float64(r.count),
			AvgRating:    r.ratingSum / float64(r.count),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (s *MemoryStore) PriceRange(_ context.Context) (float64, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return 0, 0, nil
	}
	min, max := s.entries[0].Price, s.entries[0].Price
	for _, e := range s.entries[1:] {
		if e.Price < min {
			min = e.Price
		}
		if e.Price > max {
			max = e.Price
		}
	}
	return min, max, nil
}

func matchesFilters(e *models.CatalogEntry, q Query) bool {
	if q.Category != "" && !strings.EqualFold(e.Category, q.Category) {
		return false
	}
	if q.MinPrice != nil && e.Price < *q.MinPrice {
		return false
	}
	if q.MaxPrice != nil && e.Price > *q.MaxPrice {
		return false
	}
	return true
}

func matchesAnyTerm(e *models.CatalogEntry, terms []string) bool {
	searchable := strings.ToLower(e.Name + " " + e.Code + " " + e.Category + " " + e.Description + " " + strings.Join(e.Tags, " "))
	for _, term := range terms {
		if term != "" && strings.Contains(searchable, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// sortEntries orders entries by the structured sort key. Relevance keeps the
// store's insertion order; the caller re-ranks those itself.
func sortEntries(entries []models.CatalogEntry, key models.SortKey) {
	switch key {
	case models.SortNewest:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	case models.SortPriceAsc:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Price < entries[j].Price })
	case models.SortPriceDesc:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Price > entries[j].Price })
	case models.SortPopularity:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].SoldCount > entries[j].SoldCount })
	case models.SortRating:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Rating > entries[j].Rating })
	case models.SortCategory:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Category < entries[j].Category })
	case models.SortName:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	}
}
