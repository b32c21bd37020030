package models

import "time"

// SortKey selects how a result set is ordered. Relevance is the default for
// free-text search; every other key maps to a native catalog sort.
type SortKey int

const (
	SortRelevance SortKey = iota
	SortNewest
	SortPriceAsc
	SortPriceDesc
	SortPopularity
	SortRating
	SortCategory
	SortName
)

func (s SortKey) String() string {
	switch s {
	case SortRelevance:
		return "relevance"
	case SortNewest:
		return "newest"
	case SortPriceAsc:
		return "price_asc"
	case SortPriceDesc:
		return "price_desc"
	case SortPopularity:
		return "popularity"
	case SortRating:
		return "rating"
	case SortCategory:
		return "category"
	case SortName:
		return "name"
	default:
		return "unknown"
	}
}

// ParseSortKey maps a wire value to a SortKey. Unknown values fall back to
// relevance so a bad query parameter never fails a request.
func ParseSortKey(s string) SortKey {
	switch s {
	case "newest":
		return SortNewest
	case "price_asc":
		return SortPriceAsc
	case "price_desc":
		return SortPriceDesc
	case "popularity":
		return SortPopularity
	case "rating":
		return SortRating
	case "category":
		return SortCategory
	case "name":
		return SortName
	default:
		return SortRelevance
	}
}

// CatalogEntry is one sellable/lookup-able item owned by the catalog
// collaborator. The engine treats it as read-only input.
type CatalogEntry struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Category     string    `json:"category,omitempty"`
	Price        float64   `json:"price"`
	SoldCount    int64     `json:"sold_count"`
	Rating       float64   `json:"rating"`
	ReviewCount  int64     `json:"review_count"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	AffiliateURL string    `json:"affiliate_url,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// PriceHintKind tags which textual price pattern matched a query.
type PriceHintKind int

const (
	PriceHintNone PriceHintKind = iota
	PriceHintRange
	PriceHintMaxOnly
	PriceHintMinOnly
	PriceHintAround
)

func (k PriceHintKind) String() string {
	switch k {
	case PriceHintRange:
		return "range"
	case PriceHintMaxOnly:
		return "max_only"
	case PriceHintMinOnly:
		return "min_only"
	case PriceHintAround:
		return "around"
	default:
		return "none"
	}
}

// PriceHint is an extracted price band. Min or Max may be zero depending on
// Kind; an Around hint carries both bounds of the ±20% band.
type PriceHint struct {
	Kind PriceHintKind
	Min  float64
	Max  float64
}

// Satisfies reports whether a price falls inside the hinted band.
func (ph *PriceHint) Satisfies(price float64) bool {
	if ph == nil {
		return false
	}
	switch ph.Kind {
	case PriceHintRange, PriceHintAround:
		return price >= ph.Min && price <= ph.Max
	case PriceHintMaxOnly:
		return price <= ph.Max
	case PriceHintMinOnly:
		return price >= ph.Min
	default:
		return false
	}
}

// QueryDescriptor is the normalized, enriched representation of one query.
// Created per request and discarded after use. ExpandedTerms always contains
// Normalized.
type QueryDescriptor struct {
	Normalized    string
	ExpandedTerms []string
	CategoryHints []string
	BrandHints    []string
	PriceHint     *PriceHint
	HasNumber     bool
	Words         []string
}

// ScoredEntry pairs a catalog entry with its relevance score and the signal
// that dominated it.
type ScoredEntry struct {
	Entry  CatalogEntry `json:"entry"`
	Score  float64      `json:"score"`
	Reason string       `json:"reason,omitempty"`
}

// SearchRequest is the caller-facing search envelope.
type SearchRequest struct {
	Query      string   `json:"query"`
	Category   string   `json:"category,omitempty"`
	MinPrice   *float64 `json:"min_price,omitempty"`
	MaxPrice   *float64 `json:"max_price,omitempty"`
	Sort       string   `json:"sort,omitempty"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
	UserID     string   `json:"user_id,omitempty"`
	ForceFresh bool     `json:"force_fresh,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
}

// RetrievalPage is the result envelope for a search.
// Invariants: Offset+len(Entries) <= Total and HasMore == Offset+Limit < Total.
type RetrievalPage struct {
	Entries []ScoredEntry    `json:"entries"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
	HasMore bool             `json:"has_more"`
	TookMs  int64            `json:"took_ms"`
	Meta    RetrievalMeta    `json:"meta"`
}

type RetrievalMeta struct {
	RequestID string `json:"request_id,omitempty"`
	Sort      string `json:"sort"`
	CacheHit  bool   `json:"cache_hit"`
	Stale     bool   `json:"stale"`
}

// Recommendation is one recommended entry with the signal that produced it.
type Recommendation struct {
	Entry  CatalogEntry `json:"entry"`
	Score  float64      `json:"score"`
	Reason string       `json:"reason"`
}

// RecommendationResult holds the three blended buckets. TotalDistinct counts
// distinct codes across all buckets and is a coverage signal only.
type RecommendationResult struct {
	Personal      []Recommendation `json:"personal"`
	Trending      []Recommendation `json:"trending"`
	Categories    []Recommendation `json:"categories"`
	TotalDistinct int              `json:"total_distinct"`
}

// CategoryAggregate is the collaborator-provided per-category rollup.
type CategoryAggregate struct {
	Category     string  `json:"category"`
	ProductCount int     `json:"product_count"`
	TotalSold    int64   `json:"total_sold"`
	AvgPrice     float64 `json:"avg_price"`
	AvgRating    float64 `json:"avg_rating"`
}

// InterestWeight is one (category, weight) pair from a user profile,
// ordered by weight descending.
type InterestWeight struct {
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
}

// InteractionEvent is published to the event bus for every recorded
// interaction so profiles can be replayed by other replicas. Source labels
// where the interaction came from; InstanceID identifies the publishing
// replica so consumers can recognize their own events.
type InteractionEvent struct {
	Type       string    `json:"type"` // search, lookup, recommend
	UserID     string    `json:"user_id"`
	Text       string    `json:"text,omitempty"`
	ShownCodes []string  `json:"shown_codes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
}

// SearchLogEvent is written to the analytics store for every search.
type SearchLogEvent struct {
	Query      string    `json:"query"`
	Found      bool      `json:"found"`
	ResultCode string    `json:"result_code,omitempty"`
	Total      int64     `json:"total"`
	DurationMs float64   `json:"duration_ms"`
	UserID     string    `json:"user_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}
