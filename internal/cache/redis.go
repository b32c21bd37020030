package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
)

// RedisCache fronts the retrieval and recommendation engines. Every fresh
// write also refreshes a longer-lived stale key, so when the catalog
// collaborator is down a recent-but-expired result can still be served,
// flagged as stale.
type RedisCache struct {
	client redis.UniversalClient
	ttl    config.CacheTTLConfig
	logger *zap.Logger
}

func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.Strings("addresses", cfg.Addresses))

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (rc *RedisCache) GetSearchPage(ctx context.Context, req *models.SearchRequest) (*models.RetrievalPage, error) {
	return rc.getPage(ctx, searchKey(req))
}

func (rc *RedisCache) SetSearchPage(ctx context.Context, req *models.SearchRequest, page *models.RetrievalPage) error {
	if err := rc.setJSON(ctx, searchKey(req), page, rc.ttl.SearchResults); err != nil {
		return err
	}
	return rc.setJSON(ctx, staleSearchKey(req), page, rc.ttl.StaleFallback)
}

// GetStaleSearchPage reads the long-TTL fallback copy. Used only when the
// catalog collaborator is unavailable.
func (rc *RedisCache) GetStaleSearchPage(ctx context.Context, req *models.SearchRequest) (*models.RetrievalPage, error) {
	page, err := rc.getPage(ctx, staleSearchKey(req))
	if err == nil && page != nil {
		observability.StaleFallbacks.Inc()
	}
	return page, err
}

func (rc *RedisCache) GetRecommendations(ctx context.Context, userID string) (*models.RecommendationResult, error) {
	val, err := rc.client.Get(ctx, recommendKey(userID)).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get recommendations: %w", err)
	}
	observability.CacheHits.Inc()

	var result models.RecommendationResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, fmt.Errorf("cache unmarshal recommendations: %w", err)
	}
	return &result, nil
}

func (rc *RedisCache) SetRecommendations(ctx context.Context, userID string, result *models.RecommendationResult) error {
	return rc.setJSON(ctx, recommendKey(userID), result, rc.ttl.Recommendations)
}

// InvalidateRecommendations drops a user's cached buckets, typically after an
// interaction shifted their interest profile.
func (rc *RedisCache) InvalidateRecommendations(ctx context.Context, userID string) error {
	return rc.client.Del(ctx, recommendKey(userID)).Err()
}

func (rc *RedisCache) GetCategoryAggregates(ctx context.Context) ([]models.CategoryAggregate, error) {
	val, err := rc.client.Get(ctx, "cat:aggregates").Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get category aggregates: %w", err)
	}
	observability.CacheHits.Inc()

	var aggs []models.CategoryAggregate
	if err := json.Unmarshal([]byte(val), &aggs); err != nil {
		return nil, fmt.Errorf("cache unmarshal category aggregates: %w", err)
	}
	return aggs, nil
}

func (rc *RedisCache) SetCategoryAggregates(ctx context.Context, aggs []models.CategoryAggregate) error {
	return rc.setJSON(ctx, "cat:aggregates", aggs, rc.ttl.CategoryStats)
}

func (rc *RedisCache) InvalidatePattern(ctx context.Context, patterns []string) error {
	for _, pattern := range patterns {
		iter := rc.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			rc.logger.Warn("cache scan error", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				rc.logger.Warn("cache delete error", zap.Strings("keys", keys), zap.Error(err))
			}
		}
	}
	return nil
}

// InvalidateSearchPages drops fresh search pages and the category rollup
// after a catalog change. Stale copies are kept; they are the fallback when
// the catalog is down right after a sync.
func (rc *RedisCache) InvalidateSearchPages(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, "sr:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, stalePrefix) {
			continue
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan search pages: %w", err)
	}

	keys = append(keys, "cat:aggregates")
	if err := rc.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete search pages: %w", err)
	}
	return nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) getPage(ctx context.Context, key string) (*models.RetrievalPage, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	observability.CacheHits.Inc()
	var page models.RetrievalPage
	if err := json.Unmarshal([]byte(val), &page); err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	return &page, nil
}

func (rc *RedisCache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return rc.client.Set(ctx, key, data, ttl).Err()
}

// searchKey canonicalizes a request so equivalent searches share a cache
// slot. User id and request id are deliberately excluded; ranking does not
// depend on them.
func searchKey(req *models.SearchRequest) string {
	return "sr:" + hashString(canonicalSearchKey(req))
}

const stalePrefix = "sr:stale:"

func staleSearchKey(req *models.SearchRequest) string {
	return stalePrefix + hashString(canonicalSearchKey(req))
}

func canonicalSearchKey(req *models.SearchRequest) string {
	min, max := "", ""
	if req.MinPrice != nil {
		min = fmt.Sprintf("%.2f", *req.MinPrice)
	}
	if req.MaxPrice != nil {
		max = fmt.Sprintf("%.2f", *req.MaxPrice)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d", req.Query, req.Category, min, max, req.Sort, req.Offset, req.Limit)
}

func recommendKey(userID string) string {
	return "rec:" + hashString(userID)
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
