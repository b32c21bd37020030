package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/catalog"
	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
	"github.com/watt29/smart-service-system-backend/internal/query"
	"github.com/watt29/smart-service-system-backend/internal/scoring"
)

// ErrUnavailable is returned when the catalog collaborator cannot answer and
// no stale copy exists. The engine never serves a partial result.
var ErrUnavailable = errors.New("retrieval unavailable")

// Cache is the page cache in front of the engine.
type Cache interface {
	GetSearchPage(ctx context.Context, req *models.SearchRequest) (*models.RetrievalPage, error)
	SetSearchPage(ctx context.Context, req *models.SearchRequest, page *models.RetrievalPage) error
	GetStaleSearchPage(ctx context.Context, req *models.SearchRequest) (*models.RetrievalPage, error)
}

// InterestRecorder receives every interaction so profiles stay current.
type InterestRecorder interface {
	Record(userID, rawText string, shown []models.CatalogEntry)
}

// SearchLogWriter persists completed searches for offline analysis.
type SearchLogWriter interface {
	WriteSearchLog(ctx context.Context, event *models.SearchLogEvent) error
}

// InteractionPublisher fans interactions out to other replicas.
type InteractionPublisher interface {
	PublishInteraction(ctx context.Context, event *models.InteractionEvent) error
}

// Engine orchestrates one search: preprocess the query, pull a coarse
// candidate set from the catalog, rank with the scorer, filter, paginate.
// Structured sorts skip scoring and delegate ordering to the catalog's
// native sort.
type Engine struct {
	store     catalog.Store
	pre       *query.Preprocessor
	scorer    *scoring.Scorer
	cache     Cache
	interests InterestRecorder
	searchLog SearchLogWriter
	publisher InteractionPublisher
	slow      *observability.SlowQueryDetector
	cfg       config.EngineConfig
	logger    *zap.Logger
}

// Options carries the optional collaborators. Any nil field disables that
// concern without changing ranking behavior.
type Options struct {
	Cache     Cache
	Interests InterestRecorder
	SearchLog SearchLogWriter
	Publisher InteractionPublisher
	SlowQuery *observability.SlowQueryDetector
}

func NewEngine(store catalog.Store, pre *query.Preprocessor, scorer *scoring.Scorer, cfg config.EngineConfig, logger *zap.Logger, opts Options) *Engine {
	return &Engine{
		store:     store,
		pre:       pre,
		scorer:    scorer,
		cache:     opts.Cache,
		interests: opts.Interests,
		searchLog: opts.SearchLog,
		publisher: opts.Publisher,
		slow:      opts.SlowQuery,
		cfg:       cfg,
		logger:    logger,
	}
}

// Search runs one search request end to end.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.RetrievalPage, error) {
	start := time.Now()
	e.clampPaging(req)
	sortKey := models.ParseSortKey(req.Sort)

	ctx, span := observability.StartSpan(ctx, "retrieval.search",
		attribute.String("sort", sortKey.String()),
		attribute.Int("limit", req.Limit),
	)
	defer span.End()

	if e.cache != nil && !req.ForceFresh {
		if page, err := e.cache.GetSearchPage(ctx, req); err != nil {
			e.logger.Warn("cache read failed", zap.Error(err))
		} else if page != nil {
			page.Meta.CacheHit = true
			page.Meta.RequestID = req.RequestID
			e.afterSearch(ctx, req, page, time.Since(start), sortKey)
			return page, nil
		}
	}

	descriptor := e.pre.Preprocess(req.Query)

	var (
		page *models.RetrievalPage
		err  error
	)
	if sortKey == models.SortRelevance && descriptor.Normalized != "" {
		page, err = e.searchByRelevance(ctx, req, descriptor)
	} else {
		page, err = e.searchNative(ctx, req, descriptor, sortKey)
	}

	duration := time.Since(start)
	if err != nil {
		observability.SearchRequestsTotal.WithLabelValues(sortKey.String(), "error").Inc()
		observability.SearchRequestDuration.WithLabelValues(sortKey.String(), "error").Observe(duration.Seconds())

		if e.cache != nil {
			if stale, staleErr := e.cache.GetStaleSearchPage(ctx, req); staleErr == nil && stale != nil {
				e.logger.Warn("serving stale search results",
					zap.String("request_id", req.RequestID),
					zap.Error(err),
				)
				stale.Meta.Stale = true
				stale.Meta.CacheHit = true
				stale.Meta.RequestID = req.RequestID
				return stale, nil
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	page.TookMs = duration.Milliseconds()
	page.Meta.RequestID = req.RequestID
	page.Meta.Sort = sortKey.String()

	observability.SearchRequestsTotal.WithLabelValues(sortKey.String(), "success").Inc()
	observability.SearchRequestDuration.WithLabelValues(sortKey.String(), "success").Observe(duration.Seconds())

	if e.cache != nil {
		if err := e.cache.SetSearchPage(ctx, req, page); err != nil {
			e.logger.Warn("cache write failed", zap.Error(err))
		}
	}

	if e.slow != nil {
		e.slow.Intercept(ctx, req.Query, sortKey.String(), duration, int64(page.Total))
	}

	e.afterSearch(ctx, req, page, duration, sortKey)
	return page, nil
}

// searchByRelevance runs the scored path: coarse candidates, pre-filter,
// score, drop zeros, stable sort, paginate in process.
func (e *Engine) searchByRelevance(ctx context.Context, req *models.SearchRequest, d *models.QueryDescriptor) (*models.RetrievalPage, error) {
	candidates, _, err := e.store.FindCandidates(ctx, catalog.Query{
		Terms:    d.ExpandedTerms,
		Category: req.Category,
		MinPrice: req.MinPrice,
		MaxPrice: req.MaxPrice,
		Sort:     models.SortRelevance,
		Limit:    e.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}

	scored := make([]models.ScoredEntry, 0, len(candidates))
	for i := range candidates {
		entry := candidates[i]
		if !passesFilters(&entry, req, d.PriceHint) {
			continue
		}
		score, reason := e.scorer.Score(d, &entry)
		if score <= 0 {
			continue
		}
		scored = append(scored, models.ScoredEntry{Entry: entry, Score: score, Reason: reason})
	}

	// Stable sort keeps the collaborator's original order on equal scores,
	// which keeps pagination consistent across calls.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	return paginate(scored, req.Offset, req.Limit), nil
}

// searchNative delegates ordering and pagination to the catalog's own sort.
func (e *Engine) searchNative(ctx context.Context, req *models.SearchRequest, d *models.QueryDescriptor, sortKey models.SortKey) (*models.RetrievalPage, error) {
	// Browsing without a query defaults to popularity so the first page is
	// not arbitrary.
	if sortKey == models.SortRelevance {
		sortKey = models.SortPopularity
	}

	var terms []string
	if d.Normalized != "" {
		terms = d.ExpandedTerms
	}

	entries, total, err := e.store.FindCandidates(ctx, catalog.Query{
		Terms:    terms,
		Category: req.Category,
		MinPrice: req.MinPrice,
		MaxPrice: req.MaxPrice,
		Sort:     sortKey,
		Offset:   req.Offset,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, err
	}

	scored := make([]models.ScoredEntry, len(entries))
	for i := range entries {
		scored[i] = models.ScoredEntry{Entry: entries[i]}
	}

	offset := req.Offset
	if offset > total {
		offset = total
	}

	return &models.RetrievalPage{
		Entries: scored,
		Total:   total,
		Offset:  offset,
		Limit:   req.Limit,
		HasMore: offset+req.Limit < total,
	}, nil
}

// LookupByCode fetches one entry. ErrNotFound passes through untouched; it
// is an answer, not a failure.
func (e *Engine) LookupByCode(ctx context.Context, code, userID string) (*models.CatalogEntry, error) {
	ctx, span := observability.StartSpan(ctx, "retrieval.lookup",
		attribute.String("code", code),
	)
	defer span.End()

	entry, err := e.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if e.interests != nil && userID != "" {
		e.interests.Record(userID, entry.Name, []models.CatalogEntry{*entry})
	}
	e.publish(ctx, "lookup", userID, code, []string{entry.Code})

	return entry, nil
}

// afterSearch handles the side effects of a finished search: interest
// tracking, the analytics log, and the event bus. All off the request path.
func (e *Engine) afterSearch(ctx context.Context, req *models.SearchRequest, page *models.RetrievalPage, duration time.Duration, sortKey models.SortKey) {
	shown := make([]models.CatalogEntry, len(page.Entries))
	codes := make([]string, len(page.Entries))
	for i := range page.Entries {
		shown[i] = page.Entries[i].Entry
		codes[i] = page.Entries[i].Entry.Code
	}

	if e.interests != nil && req.UserID != "" {
		e.interests.Record(req.UserID, req.Query, shown)
	}

	if e.searchLog != nil {
		event := &models.SearchLogEvent{
			Query:      req.Query,
			Found:      page.Total > 0,
			Total:      int64(page.Total),
			DurationMs: float64(duration.Milliseconds()),
			UserID:     req.UserID,
			TraceID:    observability.TraceIDFromContext(ctx),
			Source:     sortKey.String(),
			Timestamp:  time.Now().UTC(),
		}
		if len(codes) > 0 {
			event.ResultCode = codes[0]
		}
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := e.searchLog.WriteSearchLog(writeCtx, event); err != nil {
				e.logger.Warn("search log write failed", zap.Error(err))
			}
		}()
	}

	e.publish(ctx, "search", req.UserID, req.Query, codes)
}

func (e *Engine) publish(ctx context.Context, eventType, userID, text string, codes []string) {
	if e.publisher == nil || userID == "" {
		return
	}
	event := &models.InteractionEvent{
		Type:       eventType,
		UserID:     userID,
		Text:       text,
		ShownCodes: codes,
		Timestamp:  time.Now().UTC(),
		Source:     "api",
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.publisher.PublishInteraction(pubCtx, event); err != nil {
			e.logger.Warn("interaction publish failed", zap.Error(err))
		}
	}()
}

func (e *Engine) clampPaging(req *models.SearchRequest) {
	if req.Limit <= 0 {
		req.Limit = e.cfg.DefaultPageSize
	}
	if req.Limit > e.cfg.MaxPageSize {
		req.Limit = e.cfg.MaxPageSize
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
}

// passesFilters applies the explicit category/price filters plus the price
// hint extracted from the query text. Entries outside the hinted band are
// excluded, not merely down-weighted.
func passesFilters(entry *models.CatalogEntry, req *models.SearchRequest, hint *models.PriceHint) bool {
	if req.Category != "" && !strings.EqualFold(entry.Category, req.Category) {
		return false
	}
	if req.MinPrice != nil && entry.Price < *req.MinPrice {
		return false
	}
	if req.MaxPrice != nil && entry.Price > *req.MaxPrice {
		return false
	}
	if hint != nil && !hint.Satisfies(entry.Price) {
		return false
	}
	return true
}

func paginate(scored []models.ScoredEntry, offset, limit int) *models.RetrievalPage {
	total := len(scored)
	if offset > total {
		offset = total
	}

	end := offset + limit
	if end > total {
		end = total
	}

	pageEntries := make([]models.ScoredEntry, end-offset)
	copy(pageEntries, scored[offset:end])

	return &models.RetrievalPage{
		Entries: pageEntries,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+limit < total,
	}
}
