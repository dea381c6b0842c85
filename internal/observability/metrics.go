package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds custom metrics for query planning and execution
type QueryMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	resultsCount    metric.Int64Histogram
	joinCount       metric.Int64Histogram
	twoPhaseCounter metric.Int64Counter
}

// InitQueryMetrics initializes query-specific metrics
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("crudsql")

	requestDuration, err := meter.Float64Histogram(
		"query.request.duration",
		metric.WithDescription("Duration of query requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"query.requests.total",
		metric.WithDescription("Total number of query requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"query.errors.total",
		metric.WithDescription("Total number of query errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"query.requests.active",
		metric.WithDescription("Number of query requests in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	resultsCount, err := meter.Int64Histogram(
		"query.results.count",
		metric.WithDescription("Number of records returned per query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}

	joinCount, err := meter.Int64Histogram(
		"query.joins.count",
		metric.WithDescription("Number of joins registered per query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create join count histogram: %w", err)
	}

	twoPhaseCounter, err := meter.Int64Counter(
		"query.two_phase.total",
		metric.WithDescription("Queries executed with the two-phase pagination strategy"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create two-phase counter: %w", err)
	}

	return &QueryMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		resultsCount:    resultsCount,
		joinCount:       joinCount,
		twoPhaseCounter: twoPhaseCounter,
	}, nil
}

// RecordRequest records a query request with its duration and outcome
func (m *QueryMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, entity string, operation string) {
	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.Bool("has_errors", hasErrors),
	}

	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", operation),
		))
	}
}

// RecordResultsCount records the number of records returned
func (m *QueryMetrics) RecordResultsCount(ctx context.Context, count int64, entity string) {
	m.resultsCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// RecordJoinCount records how many joins a compiled query carried
func (m *QueryMetrics) RecordJoinCount(ctx context.Context, count int64, entity string) {
	m.joinCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// RecordTwoPhase counts a query that fell back to guarded two-phase pagination
func (m *QueryMetrics) RecordTwoPhase(ctx context.Context, entity string) {
	m.twoPhaseCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// IncrementActiveRequests increments the active requests counter
func (m *QueryMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *QueryMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the QueryMetrics instance
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := InitQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}

	logger.Info("custom query metrics initialized")
	return metrics, nil
}

type queryMetricsContextKey struct{}

// ContextWithQueryMetrics stores query metrics in the provided context.
func ContextWithQueryMetrics(ctx context.Context, metrics *QueryMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, queryMetricsContextKey{}, metrics)
}

// QueryMetricsFromContext retrieves query metrics from the context.
func QueryMetricsFromContext(ctx context.Context) *QueryMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(queryMetricsContextKey{}).(*QueryMetrics)
	return metrics
}
