package recommend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/catalog"
	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
)

const (
	reasonTrending = "สินค้าที่กำลังมาแรง"
	reasonSimilar  = "สินค้าที่คล้ายกัน"

	topInterestCount = 3

	// Similar items stay within ±30% of the source price.
	similarBandRatio = 0.3

	trendingSoldWeight   = 0.7
	trendingRatingWeight = 0.3
	trendingRatingScale  = 100
	trendingReviewWeight = 0.1
)

// InterestSource is the user profile store: it exposes a user's strongest
// categories and absorbs fresh context signals. Satisfied by
// interest.Tracker.
type InterestSource interface {
	TopInterests(userID string, n int) []models.InterestWeight
	Record(userID, rawText string, shown []models.CatalogEntry)
}

// CategoryDetector seeds the personal bucket from free text when the caller
// passes context along with the request. Satisfied by query.Preprocessor.
type CategoryDetector interface {
	DetectCategories(text string) []string
}

// Cache fronts whole recommendation results per user.
type Cache interface {
	GetRecommendations(ctx context.Context, userID string) (*models.RecommendationResult, error)
	SetRecommendations(ctx context.Context, userID string, result *models.RecommendationResult) error
}

// Engine blends three buckets: personal picks from the user's interest
// profile, globally trending entries, and representatives of the most
// popular categories not already covered. Users with no profile get an
// empty personal bucket and lean on trending.
type Engine struct {
	store     catalog.Store
	interests InterestSource
	detector  CategoryDetector
	cache     Cache
	cfg       config.EngineConfig
	logger    *zap.Logger
}

func NewEngine(store catalog.Store, interests InterestSource, detector CategoryDetector, cache Cache, cfg config.EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		interests: interests,
		detector:  detector,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
	}
}

// Recommend builds the blended result for one user. contextText, when
// present, is recorded into the user's interest profile first so the
// personal bucket reflects the freshest signal, and bypasses the per-user
// cache.
func (e *Engine) Recommend(ctx context.Context, userID, contextText string, limit int) (*models.RecommendationResult, error) {
	start := time.Now()
	if limit <= 0 {
		limit = e.cfg.RecommendLimit
	}

	ctx, span := observability.StartSpan(ctx, "recommend.blend",
		attribute.Int("limit", limit),
		attribute.Bool("has_context", contextText != ""),
	)
	defer span.End()

	if contextText != "" && userID != "" && e.interests != nil {
		e.interests.Record(userID, contextText, nil)
	}

	cacheable := e.cache != nil && userID != "" && contextText == ""
	if cacheable {
		if cached, err := e.cache.GetRecommendations(ctx, userID); err == nil && cached != nil {
			observability.RecommendationDuration.WithLabelValues("cache_hit").Observe(time.Since(start).Seconds())
			return cached, nil
		}
	}

	result := &models.RecommendationResult{}

	personal, err := e.personalBucket(ctx, userID, contextText, limit)
	if err != nil {
		observability.RecommendationDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	result.Personal = personal

	trending, err := e.trendingBucket(ctx, limit)
	if err != nil {
		observability.RecommendationDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	result.Trending = trending

	covered := make(map[string]bool)
	for _, rec := range personal {
		covered[rec.Entry.Category] = true
	}
	categories, err := e.categoryBucket(ctx, covered)
	if err != nil {
		observability.RecommendationDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	result.Categories = categories

	result.TotalDistinct = countDistinct(result)

	if cacheable {
		if err := e.cache.SetRecommendations(ctx, userID, result); err != nil {
			e.logger.Warn("caching recommendations", zap.Error(err), zap.String("user_id", userID))
		}
	}

	observability.RecommendationDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	return result, nil
}

// personalBucket queries the user's strongest categories, splitting the
// budget evenly and ordering each slice by rating.
func (e *Engine) personalBucket(ctx context.Context, userID, contextText string, limit int) ([]models.Recommendation, error) {
	weights := e.interestWeights(userID, contextText)
	if len(weights) == 0 {
		return nil, nil
	}

	perCategory := limit / len(weights)
	if perCategory < 1 {
		perCategory = 1
	}

	var out []models.Recommendation
	for _, iw := range weights {
		entries, _, err := e.store.FindCandidates(ctx, catalog.Query{
			Category: iw.Category,
			Sort:     models.SortRating,
			Limit:    perCategory,
		})
		if err != nil {
			return nil, fmt.Errorf("personal bucket for %q: %w", iw.Category, err)
		}
		for _, entry := range entries {
			out = append(out, models.Recommendation{
				Entry:  entry,
				Score:  iw.Weight,
				Reason: "ตามความสนใจใน" + iw.Category,
			})
		}
		if len(out) >= limit {
			break
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// interestWeights merges profile interests with categories detected in the
// caller-supplied context text. Context categories carry unit weight and
// never override a stronger profile signal.
func (e *Engine) interestWeights(userID, contextText string) []models.InterestWeight {
	var weights []models.InterestWeight
	if e.interests != nil && userID != "" {
		weights = e.interests.TopInterests(userID, topInterestCount)
	}

	if contextText != "" && e.detector != nil {
		have := make(map[string]bool, len(weights))
		for _, iw := range weights {
			have[iw.Category] = true
		}
		for _, cat := range e.detector.DetectCategories(contextText) {
			if !have[cat] && len(weights) < topInterestCount {
				weights = append(weights, models.InterestWeight{Category: cat, Weight: 1.0})
				have[cat] = true
			}
		}
	}
	return weights
}

// trendingBucket pulls the top sellers, re-scores them with the blended
// trending formula, and keeps the best.
func (e *Engine) trendingBucket(ctx context.Context, limit int) ([]models.Recommendation, error) {
	entries, _, err := e.store.FindCandidates(ctx, catalog.Query{
		Sort:  models.SortPopularity,
		Limit: e.cfg.TrendingPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("trending pool: %w", err)
	}

	recs := make([]models.Recommendation, 0, len(entries))
	for _, entry := range entries {
		recs = append(recs, models.Recommendation{
			Entry:  entry,
			Score:  TrendingScore(entry),
			Reason: reasonTrending,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })

	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// categoryBucket picks up to two of the most popular categories not already
// represented in the personal bucket, with one high-rated item each.
func (e *Engine) categoryBucket(ctx context.Context, covered map[string]bool) ([]models.Recommendation, error) {
	ranked, err := e.RankCategories(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.Recommendation
	for _, cp := range ranked {
		if covered[cp.Category] {
			continue
		}
		entries, _, err := e.store.FindCandidates(ctx, catalog.Query{
			Category: cp.Category,
			Sort:     models.SortRating,
			Limit:    1,
		})
		if err != nil {
			return nil, fmt.Errorf("category representative for %q: %w", cp.Category, err)
		}
		if len(entries) == 0 {
			continue
		}
		out = append(out, models.Recommendation{
			Entry:  entries[0],
			Score:  cp.Popularity,
			Reason: "แนะนำใน" + cp.Category,
		})
		if len(out) == 2 {
			break
		}
	}
	return out, nil
}

// SimilarProducts returns entries in the same category priced within ±30%
// of the source entry, best rated first, excluding the source itself.
func (e *Engine) SimilarProducts(ctx context.Context, code string, limit int) ([]models.Recommendation, error) {
	if limit <= 0 {
		limit = 3
	}

	ctx, span := observability.StartSpan(ctx, "recommend.similar",
		attribute.String("code", code),
	)
	defer span.End()

	source, err := e.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	minPrice := source.Price * (1 - similarBandRatio)
	maxPrice := source.Price * (1 + similarBandRatio)
	entries, _, err := e.store.FindCandidates(ctx, catalog.Query{
		Category: source.Category,
		MinPrice: &minPrice,
		MaxPrice: &maxPrice,
		Sort:     models.SortRating,
		Limit:    limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("similar products for %q: %w", code, err)
	}

	out := make([]models.Recommendation, 0, limit)
	for _, entry := range entries {
		if entry.Code == code {
			continue
		}
		out = append(out, models.Recommendation{
			Entry:  entry,
			Score:  entry.Rating,
			Reason: reasonSimilar,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// CategoryPopularity pairs a category rollup with its popularity score.
type CategoryPopularity struct {
	models.CategoryAggregate
	Popularity float64 `json:"popularity"`
}

// RankCategories scores every category rollup and orders them by
// popularity descending.
func (e *Engine) RankCategories(ctx context.Context) ([]CategoryPopularity, error) {
	aggs, err := e.store.CategoryAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("category aggregates: %w", err)
	}

	out := make([]CategoryPopularity, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, CategoryPopularity{
			CategoryAggregate: agg,
			Popularity:        CategoryScore(agg),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Popularity > out[j].Popularity })
	return out, nil
}

// TrendingScore blends sales volume, rating, and review count. Sales
// dominate so a moderately rated best seller still trends; reviews nudge
// well-reviewed entries ahead of otherwise equal ones.
func TrendingScore(entry models.CatalogEntry) float64 {
	return float64(entry.SoldCount)*trendingSoldWeight +
		entry.Rating*trendingRatingScale*trendingRatingWeight +
		float64(entry.ReviewCount)*trendingReviewWeight
}

// CategoryScore is the category popularity blend: breadth of assortment,
// capped sales volume, and average rating.
func CategoryScore(agg models.CategoryAggregate) float64 {
	soldComponent := float64(agg.TotalSold) / 100
	if soldComponent > 100 {
		soldComponent = 100
	}
	return 0.4*float64(agg.ProductCount) + 0.4*soldComponent + 0.2*(agg.AvgRating*20)
}

func countDistinct(result *models.RecommendationResult) int {
	seen := make(map[string]bool)
	for _, bucket := range [][]models.Recommendation{result.Personal, result.Trending, result.Categories} {
		for _, rec := range bucket {
			seen[rec.Entry.Code] = true
		}
	}
	return len(seen)
}
