package models

import "time"

// QueryPerformanceEvent records one slow query for offline analysis.
type QueryPerformanceEvent struct {
	EventType  string    `json:"event_type"`
	QueryHash  string    `json:"query_hash"`
	QueryType  string    `json:"query_type"`
	DurationMs float64   `json:"duration_ms"`
	TotalHits  int64     `json:"total_hits"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id"`
}

// PopularQuery is one row of the popular-queries rollup.
type PopularQuery struct {
	Query     string  `json:"query"`
	Searches  uint64  `json:"searches"`
	HitRate   float64 `json:"hit_rate"`
	AvgTookMs float64 `json:"avg_took_ms"`
}
