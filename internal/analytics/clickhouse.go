package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
)

// Store writes search activity to ClickHouse and serves the popular-queries
// rollup. Writes are off the request path; a failed write is logged and
// dropped rather than failing the search that produced it.
type Store struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewStore(cfg config.ClickHouseConfig, logger *zap.Logger) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("analytics store connected", zap.Strings("addresses", cfg.Addresses))

	return &Store{conn: conn, logger: logger}, nil
}

// WriteSearchLog records one completed search.
func (s *Store) WriteSearchLog(ctx context.Context, event *models.SearchLogEvent) error {
	start := time.Now()
	query := `
		INSERT INTO search_logs (
			query, found, result_code, total, duration_ms,
			user_id, trace_id, source, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.conn.Exec(ctx, query,
		event.Query,
		event.Found,
		event.ResultCode,
		event.Total,
		event.DurationMs,
		event.UserID,
		event.TraceID,
		event.Source,
		event.Timestamp,
	)

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.CHQueryDuration.WithLabelValues("search_log_write", status).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("ch search log insert: %w", err)
	}
	return nil
}

// WriteQueryPerformance records one slow query, fed by the slow-query
// detector.
func (s *Store) WriteQueryPerformance(ctx context.Context, event *models.QueryPerformanceEvent) error {
	query := `
		INSERT INTO query_performance (
			event_type, query_hash, query_type, duration_ms,
			total_hits, timestamp, trace_id
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return s.conn.Exec(ctx, query,
		event.EventType,
		event.QueryHash,
		event.QueryType,
		event.DurationMs,
		event.TotalHits,
		event.Timestamp,
		event.TraceID,
	)
}

// PopularQueries returns the most-searched query strings in the window,
// with their hit rate and average latency.
func (s *Store) PopularQueries(ctx context.Context, since time.Time, limit int) ([]models.PopularQuery, error) {
	ctx, span := observability.StartSpan(ctx, "ch.popular_queries",
		attribute.Int("limit", limit),
	)
	defer span.End()

	start := time.Now()
	query := `
		SELECT
			query,
			count() AS searches,
			avg(toFloat64(found)) AS hit_rate,
			avg(duration_ms) AS avg_took_ms
		FROM search_logs
		WHERE timestamp >= ? AND query != ''
		GROUP BY query
		ORDER BY searches DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, since, limit)
	if err != nil {
		observability.CHQueryDuration.WithLabelValues("popular_queries", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("ch popular queries: %w", err)
	}
	defer rows.Close()

	var out []models.PopularQuery
	for rows.Next() {
		var pq models.PopularQuery
		if err := rows.Scan(&pq.Query, &pq.Searches, &pq.HitRate, &pq.AvgTookMs); err != nil {
			return nil, fmt.Errorf("scanning popular query row: %w", err)
		}
		out = append(out, pq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating popular query rows: %w", err)
	}

	observability.CHQueryDuration.WithLabelValues("popular_queries", "success").Observe(time.Since(start).Seconds())
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) EnsureTables(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS search_logs (
			query String,
			found Bool,
			result_code String,
			total Int64,
			duration_ms Float64,
			user_id String,
			trace_id String,
			source String,
			timestamp DateTime
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, query)`,

		`CREATE TABLE IF NOT EXISTS query_performance (
			event_type String,
			query_hash String,
			query_type String,
			duration_ms Float64,
			total_hits Int64,
			timestamp DateTime,
			trace_id String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, query_hash)`,
	}

	for _, ddl := range tables {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	s.logger.Info("analytics tables ensured")
	return nil
}
