package indexing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/catalog"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
)

// Indexer is the write side of the search index. Satisfied by
// catalog.ESStore.
type Indexer interface {
	IndexEntry(ctx context.Context, entry models.CatalogEntry) error
	DeleteEntry(ctx context.Context, code string) error
}

// CacheInvalidator drops cached pages that may contain stale catalog data.
// Satisfied by cache.RedisCache.
type CacheInvalidator interface {
	InvalidateSearchPages(ctx context.Context) error
}

// SyncWorker keeps the search index in step with the catalog's system of
// record. It consumes the document change stream, applies each change to the
// index, and invalidates cached pages that could now be stale.
type SyncWorker struct {
	indexer Indexer
	cache   CacheInvalidator
	logger  *zap.Logger
}

func NewSyncWorker(indexer Indexer, cache CacheInvalidator, logger *zap.Logger) *SyncWorker {
	return &SyncWorker{
		indexer: indexer,
		cache:   cache,
		logger:  logger,
	}
}

// HandleChange applies one change event. Index write failures are returned so
// the watch loop can log and keep going; cache invalidation is best-effort.
func (w *SyncWorker) HandleChange(ctx context.Context, event catalog.ChangeEvent) error {
	var (
		op  string
		err error
	)
	switch event.Type {
	case "CREATE", "UPDATE":
		op = "index"
		err = w.indexer.IndexEntry(ctx, catalog.EntryFromDocument(event.Code, event.Document))
	case "DELETE":
		op = "delete"
		err = w.indexer.DeleteEntry(ctx, event.Code)
	default:
		observability.CatalogSyncEventsTotal.WithLabelValues("unknown", "error").Inc()
		return fmt.Errorf("unknown change type %q for %s", event.Type, event.Code)
	}

	if err != nil {
		observability.CatalogSyncEventsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("applying %s for %s: %w", op, event.Code, err)
	}
	observability.CatalogSyncEventsTotal.WithLabelValues(op, "success").Inc()

	if w.cache != nil {
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := w.cache.InvalidateSearchPages(cacheCtx); err != nil {
				w.logger.Warn("cache invalidation after sync failed",
					zap.String("code", event.Code),
					zap.Error(err),
				)
			}
		}()
	}

	return nil
}
