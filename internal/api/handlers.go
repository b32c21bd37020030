package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/catalog"
	"github.com/watt29/smart-service-system-backend/internal/interest"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/recommend"
	"github.com/watt29/smart-service-system-backend/internal/retrieval"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// maxShownResolve bounds catalog lookups per recorded interaction.
const maxShownResolve = 5

// Searcher is the retrieval surface the handlers need. Satisfied by
// retrieval.Engine.
type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.RetrievalPage, error)
	LookupByCode(ctx context.Context, code, userID string) (*models.CatalogEntry, error)
}

// Recommender is the recommendation surface. Satisfied by recommend.Engine.
type Recommender interface {
	Recommend(ctx context.Context, userID, contextText string, limit int) (*models.RecommendationResult, error)
	SimilarProducts(ctx context.Context, code string, limit int) ([]models.Recommendation, error)
	RankCategories(ctx context.Context) ([]recommend.CategoryPopularity, error)
}

// ProfileStore is the interest surface. Satisfied by interest.Tracker.
type ProfileStore interface {
	Record(userID, rawText string, shown []models.CatalogEntry)
	Summary(userID string, n int) (interest.ProfileSummary, bool)
}

// PopularSource serves the popular-queries rollup. Satisfied by
// analytics.Store; may be nil when analytics is not wired.
type PopularSource interface {
	PopularQueries(ctx context.Context, since time.Time, limit int) ([]models.PopularQuery, error)
}

// InteractionSink forwards raw interactions to the event bus. May be nil.
type InteractionSink interface {
	PublishInteraction(ctx context.Context, event *models.InteractionEvent) error
}

// EntryResolver turns shown codes back into catalog entries so recorded
// interactions carry their half-weight category signal. Satisfied by
// catalog.ESStore; may be nil.
type EntryResolver interface {
	GetByCode(ctx context.Context, code string) (*models.CatalogEntry, error)
}

type Handler struct {
	search    Searcher
	recommend Recommender
	profiles  ProfileStore
	popular   PopularSource
	sink      InteractionSink
	entries   EntryResolver
	logger    *zap.Logger
}

func NewHandler(search Searcher, rec Recommender, profiles ProfileStore, popular PopularSource, sink InteractionSink, entries EntryResolver, logger *zap.Logger) *Handler {
	return &Handler{
		search:    search,
		recommend: rec,
		profiles:  profiles,
		popular:   popular,
		sink:      sink,
		entries:   entries,
		logger:    logger,
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	req, err := h.parseSearchRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.RequestID = requestID

	page, err := h.search.Search(ctx, req)
	if err != nil {
		h.logger.Error("search failed",
			zap.String("request_id", requestID),
			zap.String("query", req.Query),
			zap.Error(err),
		)
		if errors.Is(err, retrieval.ErrUnavailable) {
			h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "Catalog temporarily unavailable, please retry")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "search_error", "Search failed")
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing_code", "Product code is required")
		return
	}

	entry, err := h.search.LookupByCode(ctx, code, r.URL.Query().Get("user_id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "No product with code "+code)
			return
		}
		h.logger.Error("product lookup failed", zap.String("code", code), zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "Catalog temporarily unavailable, please retry")
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) SimilarProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")
	limit := intParam(r, "limit", 3)

	recs, err := h.recommend.SimilarProducts(ctx, code, limit)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "No product with code "+code)
			return
		}
		h.logger.Error("similar products failed", zap.String("code", code), zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "Catalog temporarily unavailable, please retry")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"code":    code,
		"similar": recs,
	})
}

func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	contextText := r.URL.Query().Get("context")
	limit := intParam(r, "limit", 0)

	result, err := h.recommend.Recommend(ctx, userID, contextText, limit)
	if err != nil {
		h.logger.Error("recommendations failed", zap.String("user_id", userID), zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "Catalog temporarily unavailable, please retry")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type interactionRequest struct {
	UserID     string   `json:"user_id"`
	Text       string   `json:"text"`
	ShownCodes []string `json:"shown_codes,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// Interaction records one user interaction. Shown codes are resolved against
// the catalog (bounded) so the local profile picks up their half-weight
// categories immediately; the full event goes to the bus for replay on other
// replicas.
func (h *Handler) Interaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req interactionRequest
	limited := io.LimitReader(r.Body, maxRequestBodySize)
	if err := json.NewDecoder(limited).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "missing_user", "user_id is required")
		return
	}

	var shown []models.CatalogEntry
	if h.entries != nil {
		for _, code := range req.ShownCodes {
			if len(shown) >= maxShownResolve {
				break
			}
			entry, err := h.entries.GetByCode(ctx, code)
			if err != nil {
				continue
			}
			shown = append(shown, *entry)
		}
	}

	if h.profiles != nil {
		h.profiles.Record(req.UserID, req.Text, shown)
	}

	if h.sink != nil {
		event := &models.InteractionEvent{
			Type:       "interaction",
			UserID:     req.UserID,
			Text:       req.Text,
			ShownCodes: req.ShownCodes,
			Timestamp:  time.Now().UTC(),
			Source:     req.Source,
		}
		if err := h.sink.PublishInteraction(ctx, event); err != nil {
			h.logger.Warn("publishing interaction", zap.Error(err), zap.String("user_id", req.UserID))
		}
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.recommend.RankCategories(r.Context())
	if err != nil {
		h.logger.Error("listing categories failed", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "Catalog temporarily unavailable, please retry")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"categories": ranked})
}

func (h *Handler) PopularSearches(w http.ResponseWriter, r *http.Request) {
	if h.popular == nil {
		h.writeError(w, http.StatusServiceUnavailable, "analytics_unavailable", "Search analytics not available")
		return
	}

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			window = d
		}
	}
	limit := intParam(r, "limit", 10)

	queries, err := h.popular.PopularQueries(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		h.logger.Error("popular queries failed", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "analytics_unavailable", "Search analytics temporarily unavailable")
		return
	}
	if queries == nil {
		queries = []models.PopularQuery{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"window":  window.String(),
		"queries": queries,
	})
}

func (h *Handler) UserProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if h.profiles == nil {
		h.writeError(w, http.StatusServiceUnavailable, "profiles_unavailable", "Interest profiles not available")
		return
	}

	summary, ok := h.profiles.Summary(userID, intParam(r, "limit", 10))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "No profile for user "+userID)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) parseSearchRequest(r *http.Request) (*models.SearchRequest, error) {
	if r.Method == http.MethodPost {
		var req models.SearchRequest
		limited := io.LimitReader(r.Body, maxRequestBodySize)
		if err := json.NewDecoder(limited).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	q := r.URL.Query()
	req := &models.SearchRequest{
		Query:    q.Get("q"),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
		UserID:   q.Get("user_id"),
		Offset:   intParam(r, "offset", 0),
		Limit:    intParam(r, "limit", 0),
	}
	if req.Query == "" {
		req.Query = q.Get("query")
	}

	if v := q.Get("min_price"); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err == nil && price >= 0 {
			req.MinPrice = &price
		}
	}
	if v := q.Get("max_price"); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err == nil && price >= 0 {
			req.MaxPrice = &price
		}
	}
	if q.Get("force_fresh") == "true" {
		req.ForceFresh = true
	}

	return req, nil
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
