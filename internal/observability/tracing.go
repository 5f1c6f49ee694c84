package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{
		attribute.String("service.component", service),
		attribute.String("service.operation", operation),
	}
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(base, attrs...)...),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// DatabaseMetrics holds database-related metrics
type DatabaseMetrics struct {
	queryDuration metric.Float64Histogram
	queryCount    metric.Int64Counter
	errorCount    metric.Int64Counter
}

// NewDatabaseMetrics creates database metrics instruments
func NewDatabaseMetrics() (*DatabaseMetrics, error) {
	meter := otel.Meter(instrumentationName)

	queryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queryCount, err := meter.Int64Counter(
		"db.query.count",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"db.error.count",
		metric.WithDescription("Total number of database errors"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		queryDuration: queryDuration,
		queryCount:    queryCount,
		errorCount:    errorCount,
	}, nil
}

// RecordQuery records a database query metrics
func (m *DatabaseMetrics) RecordQuery(ctx context.Context, system, kind string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("db.system", system),
		attribute.String("db.operation", kind),
	)

	m.queryCount.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		m.errorCount.Add(ctx, 1, attrs)
	}
}

// TraceDB wraps sql.DB with tracing. It is used for autocommit access;
// transactions are traced as one span by the service that opens them.
type TraceDB struct {
	db      *sql.DB
	system  string
	metrics *DatabaseMetrics
}

// NewTraceDB creates a traced database wrapper. system is the db.system
// attribute, e.g. "postgresql" or "sqlite".
func NewTraceDB(db *sql.DB, system string) (*TraceDB, error) {
	metrics, err := NewDatabaseMetrics()
	if err != nil {
		return nil, err
	}

	return &TraceDB{
		db:      db,
		system:  system,
		metrics: metrics,
	}, nil
}

func (t *TraceDB) start(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
}

// QueryContext executes a query with tracing
func (t *TraceDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, span := t.start(ctx, "DB Query", query)
	defer span.End()

	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	duration := time.Since(start)
	t.metrics.RecordQuery(ctx, t.system, "query", duration, err)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))

	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := t.start(ctx, "DB Exec", query)
	defer span.End()

	start := time.Now()
	result, err := t.db.ExecContext(ctx, query, args...)
	duration := time.Since(start)
	t.metrics.RecordQuery(ctx, t.system, "exec", duration, err)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
		}
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))

	return result, err
}

// QueryRowContext executes a query that returns a single row with tracing.
// The span covers the round trip only; scanning happens after it ends.
func (t *TraceDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	ctx, span := t.start(ctx, "DB QueryRow", query)
	defer span.End()

	start := time.Now()
	row := t.db.QueryRowContext(ctx, query, args...)
	t.metrics.RecordQuery(ctx, t.system, "query_row", time.Since(start), row.Err())
	return row
}

// DB returns the underlying database connection
func (t *TraceDB) DB() *sql.DB {
	return t.db
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// GalleryMetrics holds the ordering engine and upload metrics
type GalleryMetrics struct {
	orderingOps      metric.Int64Counter
	orderingDuration metric.Float64Histogram
	conflictRetries  metric.Int64Counter
	photoUploads     metric.Int64Counter
	uploadBytes      metric.Int64Counter
	authAttempts     metric.Int64Counter
}

// NewGalleryMetrics creates gallery metrics instruments
func NewGalleryMetrics() (*GalleryMetrics, error) {
	meter := otel.Meter(instrumentationName)

	orderingOps, err := meter.Int64Counter(
		"gallery.ordering.operations",
		metric.WithDescription("Ordering engine operations by kind and outcome"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	orderingDuration, err := meter.Float64Histogram(
		"gallery.ordering.duration",
		metric.WithDescription("Ordering engine operation duration including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	conflictRetries, err := meter.Int64Counter(
		"gallery.ordering.conflict_retries",
		metric.WithDescription("Transactions retried after a serialization conflict"),
		metric.WithUnit("{retries}"),
	)
	if err != nil {
		return nil, err
	}

	photoUploads, err := meter.Int64Counter(
		"gallery.photo.uploads",
		metric.WithDescription("Total number of photo uploads"),
		metric.WithUnit("{uploads}"),
	)
	if err != nil {
		return nil, err
	}

	uploadBytes, err := meter.Int64Counter(
		"gallery.photo.upload_bytes",
		metric.WithDescription("Bytes stored by successful uploads"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	authAttempts, err := meter.Int64Counter(
		"gallery.auth.attempts",
		metric.WithDescription("Total number of authentication attempts"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	return &GalleryMetrics{
		orderingOps:      orderingOps,
		orderingDuration: orderingDuration,
		conflictRetries:  conflictRetries,
		photoUploads:     photoUploads,
		uploadBytes:      uploadBytes,
		authAttempts:     authAttempts,
	}, nil
}

// RecordOrdering records one engine operation. outcome is the error code or "ok".
func (m *GalleryMetrics) RecordOrdering(ctx context.Context, op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	m.orderingOps.Add(ctx, 1, attrs)
	m.orderingDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordConflictRetry records a retried transaction
func (m *GalleryMetrics) RecordConflictRetry(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.conflictRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// RecordPhotoUpload records a photo upload
func (m *GalleryMetrics) RecordPhotoUpload(ctx context.Context, fileSize int64, success bool) {
	if m == nil {
		return
	}
	m.photoUploads.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
	if success {
		m.uploadBytes.Add(ctx, fileSize)
	}
}

// RecordAuthAttempt records an authentication attempt
func (m *GalleryMetrics) RecordAuthAttempt(ctx context.Context, method string, success bool) {
	if m == nil {
		return
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth_method", method),
		attribute.Bool("success", success),
	))
}
