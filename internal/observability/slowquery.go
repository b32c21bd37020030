package observability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/models"
)

type SlowQueryDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	analyticsWriter   AnalyticsWriter
}

type AnalyticsWriter interface {
	WriteQueryPerformance(ctx context.Context, event *models.QueryPerformanceEvent) error
}

func NewSlowQueryDetector(warning, critical time.Duration, logger *zap.Logger, aw AnalyticsWriter) *SlowQueryDetector {
	return &SlowQueryDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		analyticsWriter:   aw,
	}
}

// Intercept inspects one finished query. Queries under the warning threshold
// return immediately; slow ones are logged, counted, and written to the
// analytics store off the request path. Raw query text never leaves the
// process, only its hash.
func (sqd *SlowQueryDetector) Intercept(ctx context.Context, query, queryType string, duration time.Duration, totalHits int64) {
	if duration <= sqd.warningThreshold {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := sqd.classifySeverity(duration)

	SlowQueryCounter.WithLabelValues(severity, queryType).Inc()

	sqd.logger.Warn("slow query detected",
		zap.String("trace_id", traceID),
		zap.String("query_hash", hashQueryForLog(query)),
		zap.String("query_type", queryType),
		zap.Float64("duration_ms", float64(duration.Milliseconds())),
		zap.Int64("total_hits", totalHits),
		zap.String("severity", severity),
	)

	if sqd.analyticsWriter != nil {
		event := &models.QueryPerformanceEvent{
			EventType:  "query_performance",
			QueryHash:  hashQueryForLog(query),
			QueryType:  queryType,
			DurationMs: float64(duration.Milliseconds()),
			TotalHits:  totalHits,
			Timestamp:  time.Now().UTC(),
			TraceID:    traceID,
		}
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := sqd.analyticsWriter.WriteQueryPerformance(writeCtx, event); err != nil {
				sqd.logger.Error("failed to write query analytics",
					zap.String("trace_id", traceID),
					zap.Error(err),
				)
			}
		}()
	}
}

func (sqd *SlowQueryDetector) classifySeverity(d time.Duration) string {
	if d > sqd.criticalThreshold {
		return "critical"
	}
	if d > sqd.warningThreshold {
		return "warning"
	}
	return "normal"
}

func hashQueryForLog(q string) string {
	return fmt.Sprintf("%016x", hashUint64(q))
}

func hashUint64(s string) uint64 {
	h := uint64(0)
	for _, c := range s {
		h = h*31 + uint64(c)
	}
	return h
}
