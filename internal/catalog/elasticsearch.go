package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
	"github.com/watt29/smart-service-system-backend/internal/resilience"
)

// ESStore serves coarse candidate retrieval from Elasticsearch. Every call
// goes through the circuit breaker and bounded retry; a tripped breaker or
// exhausted retry surfaces as ErrUnavailable so callers fail closed. Hits are
// optionally hydrated with full documents from the system of record.
type ESStore struct {
	es       *elasticsearch.Client
	cb       *gobreaker.CircuitBreaker
	cfg      config.ElasticsearchConfig
	retryCfg config.RetryConfig
	hydrator Hydrator
	logger   *zap.Logger
}

func NewESStore(cfg config.ElasticsearchConfig, engineCfg config.EngineConfig, hydrator Hydrator, logger *zap.Logger) (*ESStore, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := es.Ping()
	if err != nil {
		return nil, fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch ping returned status: %s", res.Status())
	}

	logger.Info("catalog store connected", zap.Strings("addresses", cfg.Addresses), zap.String("index", cfg.Index))

	return &ESStore{
		es:       es,
		cb:       resilience.NewCircuitBreaker("catalog-es", engineCfg.CircuitBreaker, logger),
		cfg:      cfg,
		retryCfg: engineCfg.Retry,
		hydrator: hydrator,
		logger:   logger,
	}, nil
}

func (s *ESStore) FindCandidates(ctx context.Context, q Query) ([]models.CatalogEntry, int, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.find_candidates",
		attribute.Int("terms", len(q.Terms)),
		attribute.String("sort", q.Sort.String()),
	)
	defer span.End()

	body := buildCandidateQuery(q)

	var resp *esSearchResponse
	err := s.execute(ctx, "find_candidates", func() error {
		var execErr error
		resp, execErr = s.search(ctx, body)
		return execErr
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: find candidates: %v", ErrUnavailable, err)
	}

	entries := make([]models.CatalogEntry, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		entries = append(entries, decodeEntry(h.ID, h.Source))
	}

	if s.hydrator != nil && len(entries) > 0 {
		hydrated, err := s.hydrator.Hydrate(ctx, entries)
		if err != nil {
			s.logger.Warn("hydration failed, serving unhydrated candidates", zap.Error(err))
		} else {
			entries = hydrated
		}
	}

	return entries, int(resp.Hits.Total.Value), nil
}

func (s *ESStore) GetByCode(ctx context.Context, code string) (*models.CatalogEntry, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.get_by_code",
		attribute.String("code", code),
	)
	defer span.End()

	var entry *models.CatalogEntry
	err := s.execute(ctx, "get_by_code", func() error {
		res, err := s.es.Get(s.cfg.Index, code, s.es.Get.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("executing es get: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode == 404 {
			entry = nil
			return nil
		}
		if res.IsError() {
			b, _ := io.ReadAll(res.Body)
			return fmt.Errorf("es get error status=%s body=%s", res.Status(), string(b))
		}

		var doc struct {
			ID     string         `json:"_id"`
			Source map[string]any `json:"_source"`
		}
		if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
			return fmt.Errorf("decoding es get response: %w", err)
		}
		e := decodeEntry(doc.ID, doc.Source)
		entry = &e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get by code: %v", ErrUnavailable, err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}

	if s.hydrator != nil {
		hydrated, err := s.hydrator.Hydrate(ctx, []models.CatalogEntry{*entry})
		if err == nil && len(hydrated) == 1 {
			entry = &hydrated[0]
		}
	}

	return entry, nil
}

func (s *ESStore) CategoryAggregates(ctx context.Context) ([]models.CategoryAggregate, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.category_aggregates")
	defer span.End()

	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"categories": map[string]any{
				"terms": map[string]any{"field": "category.keyword", "size": 100},
				"aggs": map[string]any{
					"total_sold": map[string]any{"sum": map[string]any{"field": "sold_count"}},
					"avg_price":  map[string]any{"avg": map[string]any{"field": "price"}},
					"avg_rating": map[string]any{"avg": map[string]any{"field": "rating"}},
				},
			},
		},
	}

	var resp *esSearchResponse
	err := s.execute(ctx, "category_aggregates", func() error {
		var execErr error
		resp, execErr = s.search(ctx, body)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: category aggregates: %v", ErrUnavailable, err)
	}

	buckets := resp.Aggregations.Categories.Buckets
	out := make([]models.CategoryAggregate, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.CategoryAggregate{
			Category:     b.Key,
			ProductCount: b.DocCount,
			TotalSold:    int64(b.TotalSold.Value),
			AvgPrice:     b.AvgPrice.Value,
			AvgRating:    b.AvgRating.Value,
		})
	}
	return out, nil
}

func (s *ESStore) PriceRange(ctx context.Context) (float64, float64, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.price_range")
	defer span.End()

	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"price_stats": map[string]any{"stats": map[string]any{"field": "price"}},
		},
	}

	var resp *esSearchResponse
	err := s.execute(ctx, "price_range", func() error {
		var execErr error
		resp, execErr = s.search(ctx, body)
		return execErr
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: price range: %v", ErrUnavailable, err)
	}

	stats := resp.Aggregations.PriceStats
	return stats.Min, stats.Max, nil
}

// IndexEntry writes one entry document, keyed by code. Used by the catalog
// sync worker, not by the request path.
func (s *ESStore) IndexEntry(ctx context.Context, entry models.CatalogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry %s: %w", entry.Code, err)
	}

	res, err := s.es.Index(
		s.cfg.Index,
		bytes.NewReader(body),
		s.es.Index.WithDocumentID(entry.Code),
		s.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("indexing entry %s: %w", entry.Code, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("es index error status=%s body=%s", res.Status(), string(b))
	}
	return nil
}

// DeleteEntry removes one entry document. A missing document is not an error;
// the sync worker may replay deletions.
func (s *ESStore) DeleteEntry(ctx context.Context, code string) error {
	res, err := s.es.Delete(s.cfg.Index, code, s.es.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", code, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil
	}
	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("es delete error status=%s body=%s", res.Status(), string(b))
	}
	return nil
}

func (s *ESStore) HealthCheck(ctx context.Context) error {
	res, err := s.es.Cluster.Health(s.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("es health check: %w", err)
	}
	defer res.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if health.Status == "red" {
		return fmt.Errorf("es cluster status red")
	}
	return nil
}

func (s *ESStore) Close() error {
	return nil
}

// execute runs op through the circuit breaker and bounded retry, recording
// the per-operation latency metric.
func (s *ESStore) execute(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	_, err := s.cb.Execute(func() (any, error) {
		return nil, resilience.Retry(ctx, s.retryCfg, fn)
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.CatalogQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func (s *ESStore) search(ctx context.Context, query map[string]any) (*esSearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshaling es query: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.cfg.Index),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithTimeout(s.cfg.RequestTimeout),
		s.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("executing es search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("es search error status=%s body=%s", res.Status(), string(b))
	}

	var resp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding es response: %w", err)
	}
	return &resp, nil
}

// buildCandidateQuery maps a coarse Query onto an ES bool query. Term
// matching is broad on purpose; the scoring layer does the precise ranking.
func buildCandidateQuery(q Query) map[string]any {
	boolQuery := map[string]any{}

	if len(q.Terms) > 0 {
		should := make([]map[string]any, 0, len(q.Terms))
		for _, term := range q.Terms {
			if term == "" {
				continue
			}
			should = append(should, map[string]any{
				"multi_match": map[string]any{
					"query":  term,
					"fields": []string{"name^3", "code^3", "category^2", "tags^2", "description"},
				},
			})
		}
		boolQuery["should"] = should
		boolQuery["minimum_should_match"] = 1
	} else {
		boolQuery["must"] = []map[string]any{{"match_all": map[string]any{}}}
	}

	var filters []map[string]any
	if q.Category != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"category.keyword": q.Category},
		})
	}
	if q.MinPrice != nil || q.MaxPrice != nil {
		priceRange := map[string]any{}
		if q.MinPrice != nil {
			priceRange["gte"] = *q.MinPrice
		}
		if q.MaxPrice != nil {
			priceRange["lte"] = *q.MaxPrice
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"price": priceRange},
		})
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	body := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"from":  q.Offset,
		"size":  q.Limit,
	}

	if sortClause := nativeSort(q.Sort); sortClause != nil {
		body["sort"] = sortClause
	}

	return body
}

func nativeSort(key models.SortKey) []map[string]any {
	switch key {
	case models.SortNewest:
		return []map[string]any{{"created_at": map[string]any{"order": "desc"}}}
	case models.SortPriceAsc:
		return []map[string]any{{"price": map[string]any{"order": "asc"}}}
	case models.SortPriceDesc:
		return []map[string]any{{"price": map[string]any{"order": "desc"}}}
	case models.SortPopularity:
		return []map[string]any{{"sold_count": map[string]any{"order": "desc"}}}
	case models.SortRating:
		return []map[string]any{{"rating": map[string]any{"order": "desc"}}}
	case models.SortCategory:
		return []map[string]any{{"category.keyword": map[string]any{"order": "asc"}}}
	case models.SortName:
		return []map[string]any{{"name.keyword": map[string]any{"order": "asc"}}}
	default:
		return nil
	}
}

func decodeEntry(id string, source map[string]any) models.CatalogEntry {
	e := models.CatalogEntry{Code: id}
	if source == nil {
		return e
	}
	if v, ok := source["code"].(string); ok && v != "" {
		e.Code = v
	}
	if v, ok := source["name"].(string); ok {
		e.Name = v
	}
	if v, ok := source["category"].(string); ok {
		e.Category = v
	}
	if v, ok := source["price"].(float64); ok {
		e.Price = v
	}
	if v, ok := source["sold_count"].(float64); ok {
		e.SoldCount = int64(v)
	}
	if v, ok := source["rating"].(float64); ok {
		e.Rating = v
	}
	if v, ok := source["review_count"].(float64); ok {
		e.ReviewCount = int64(v)
	}
	if v, ok := source["description"].(string); ok {
		e.Description = v
	}
	if v, ok := source["affiliate_url"].(string); ok {
		e.AffiliateURL = v
	}
	if tags, ok := source["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				e.Tags = append(e.Tags, s)
			}
		}
	}
	if v, ok := source["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			e.CreatedAt = ts
		}
	}
	return e
}

// ES response types

type esSearchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []esHit `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		Categories struct {
			Buckets []categoryBucket `json:"buckets"`
		} `json:"categories"`
		PriceStats struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"price_stats"`
	} `json:"aggregations"`
}

type esHit struct {
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

type categoryBucket struct {
	Key       string `json:"key"`
	DocCount  int    `json:"doc_count"`
	TotalSold struct {
		Value float64 `json:"value"`
	} `json:"total_sold"`
	AvgPrice struct {
		Value float64 `json:"value"`
	} `json:"avg_price"`
	AvgRating struct {
		Value float64 `json:"value"`
	} `json:"avg_rating"`
}
