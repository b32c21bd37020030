package catalog

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
)

// FirestoreCatalog is the system of record for catalog documents. The search
// index only carries the searchable subset, so hits are hydrated here before
// they reach the caller. It also exposes a change stream that keeps the
// search index in sync.
type FirestoreCatalog struct {
	client *firestore.Client
	cfg    config.FirestoreConfig
	logger *zap.Logger
}

func NewFirestoreCatalog(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*FirestoreCatalog, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	logger.Info("firestore catalog connected", zap.String("project", cfg.ProjectID), zap.String("collection", cfg.Collection))

	return &FirestoreCatalog{client: client, cfg: cfg, logger: logger}, nil
}

// Hydrate fills each entry with the full document fields for its code.
// Entries whose document is missing are passed through unchanged.
func (f *FirestoreCatalog) Hydrate(ctx context.Context, entries []models.CatalogEntry) ([]models.CatalogEntry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	ctx, span := observability.StartSpan(ctx, "firestore.hydrate",
		attribute.Int("count", len(entries)),
	)
	defer span.End()

	batchSize := f.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	docs := make(map[string]map[string]any, len(entries))
	for i := 0; i < len(entries); i += batchSize {
		end := i + batchSize
		if end > len(entries) {
			end = len(entries)
		}

		refs := make([]*firestore.DocumentRef, 0, end-i)
		for _, e := range entries[i:end] {
			refs = append(refs, f.collection().Doc(e.Code))
		}

		// Each batch gets its own timeout so sequential batches don't starve.
		batchCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
		snaps, err := f.client.GetAll(batchCtx, refs)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("firestore hydrate batch %d: %w", i/batchSize, err)
		}

		for _, snap := range snaps {
			if snap.Exists() {
				docs[snap.Ref.ID] = snap.Data()
			}
		}
	}

	out := make([]models.CatalogEntry, len(entries))
	for i, e := range entries {
		if doc, ok := docs[e.Code]; ok {
			out[i] = mergeDocument(e, doc)
		} else {
			out[i] = e
		}
	}
	return out, nil
}

// GetEntry fetches one full document. Returns ErrNotFound for unknown codes.
func (f *FirestoreCatalog) GetEntry(ctx context.Context, code string) (*models.CatalogEntry, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.get_entry",
		attribute.String("code", code),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	snap, err := f.collection().Doc(code).Get(ctx)
	if err != nil {
		if snap != nil && !snap.Exists() {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore get %s: %w", code, err)
	}

	entry := mergeDocument(models.CatalogEntry{Code: code}, snap.Data())
	return &entry, nil
}

// ChangeEvent is one catalog document mutation from the change stream.
type ChangeEvent struct {
	Type      string // CREATE, UPDATE, DELETE
	Code      string
	Document  map[string]any
	Timestamp time.Time
}

// Watch streams document changes to handler until ctx is cancelled. Handler
// errors are logged and the stream continues; a broken snapshot iterator is
// retried after a short pause.
func (f *FirestoreCatalog) Watch(ctx context.Context, handler func(context.Context, ChangeEvent) error) error {
	snapIter := f.collection().Snapshots(ctx)
	defer snapIter.Stop()

	for {
		snap, err := snapIter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error("catalog snapshot iterator error", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, change := range snap.Changes {
			var eventType string
			switch change.Kind {
			case firestore.DocumentAdded:
				eventType = "CREATE"
			case firestore.DocumentModified:
				eventType = "UPDATE"
			case firestore.DocumentRemoved:
				eventType = "DELETE"
			}

			event := ChangeEvent{
				Type:      eventType,
				Code:      change.Doc.Ref.ID,
				Document:  change.Doc.Data(),
				Timestamp: time.Now().UTC(),
			}

			if err := handler(ctx, event); err != nil {
				f.logger.Error("catalog change handler error",
					zap.String("code", event.Code),
					zap.String("type", eventType),
					zap.Error(err),
				)
			}
		}
	}
}

func (f *FirestoreCatalog) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	iter := f.collection().Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	// iterator.Done means the collection is empty but reachable.
	if err != nil && err != iterator.Done {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func (f *FirestoreCatalog) Close() error {
	return f.client.Close()
}

func (f *FirestoreCatalog) collection() *firestore.CollectionRef {
	return f.client.Collection(f.cfg.Collection)
}

// EntryFromDocument decodes a raw catalog document into an entry. Used by the
// sync worker, which sees documents straight off the change stream.
func EntryFromDocument(code string, doc map[string]any) models.CatalogEntry {
	return mergeDocument(models.CatalogEntry{Code: code}, doc)
}

func mergeDocument(base models.CatalogEntry, doc map[string]any) models.CatalogEntry {
	if v, ok := doc["name"].(string); ok && v != "" {
		base.Name = v
	}
	if v, ok := doc["category"].(string); ok && v != "" {
		base.Category = v
	}
	if v, ok := doc["price"].(float64); ok {
		base.Price = v
	}
	if v, ok := doc["sold_count"].(int64); ok {
		base.SoldCount = v
	}
	if v, ok := doc["rating"].(float64); ok {
		base.Rating = v
	}
	if v, ok := doc["review_count"].(int64); ok {
		base.ReviewCount = v
	}
	if v, ok := doc["description"].(string); ok && v != "" {
		base.Description = v
	}
	if v, ok := doc["affiliate_url"].(string); ok && v != "" {
		base.AffiliateURL = v
	}
	if tags, ok := doc["tags"].([]any); ok {
		base.Tags = base.Tags[:0]
		for _, t := range tags {
			if s, ok := t.(string); ok {
				base.Tags = append(base.Tags, s)
			}
		}
	}
	if v, ok := doc["created_at"].(time.Time); ok {
		base.CreatedAt = v
	}
	return base
}
