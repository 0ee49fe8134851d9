package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled          bool
	LogFullSQL       bool          // include bind variables in spans, dev only
	SlowQueryThresh  time.Duration // default 200ms
	DBSystem         string        // default "postgresql"
	WithoutVariables bool          // strip bind variables from the SQL statement
}

// DefaultDBTracingConfig returns the secure defaults: tracing off,
// variables stripped.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:          false,
		LogFullSQL:       false,
		SlowQueryThresh:  200 * time.Millisecond,
		DBSystem:         "postgresql",
		WithoutVariables: true,
	}
}

// DBTracingPlugin registers otelgorm on a GORM instance together with
// callbacks that annotate query spans with row counts, table names,
// errors and slow-query events.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{
		config: cfg,
		logger: logger,
	}
}

// RegisterOtelGorm installs the otelgorm plugin plus the timing and
// slow-query callbacks. A no-op when tracing is disabled.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(p.config.DBSystem),
	}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}

	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	after := func(db *gorm.DB) {
		if ctx := db.Statement.Context; ctx != nil {
			annotateQuerySpan(db, ctx, p.config.SlowQueryThresh)
		}
	}

	if err := errors.Join(
		db.Callback().Create().Before("gorm:create").Register("otel_timing:before_create", stampQueryStart),
		db.Callback().Query().Before("gorm:query").Register("otel_timing:before_query", stampQueryStart),
		db.Callback().Update().Before("gorm:update").Register("otel_timing:before_update", stampQueryStart),
		db.Callback().Delete().Before("gorm:delete").Register("otel_timing:before_delete", stampQueryStart),
		db.Callback().Row().Before("gorm:row").Register("otel_timing:before_row", stampQueryStart),
		db.Callback().Raw().Before("gorm:raw").Register("otel_timing:before_raw", stampQueryStart),
	); err != nil {
		return err
	}

	if err := errors.Join(
		db.Callback().Create().After("gorm:create").Register("otel_slow_query:create", after),
		db.Callback().Query().After("gorm:query").Register("otel_slow_query:query", after),
		db.Callback().Update().After("gorm:update").Register("otel_slow_query:update", after),
		db.Callback().Delete().After("gorm:delete").Register("otel_slow_query:delete", after),
		db.Callback().Row().After("gorm:row").Register("otel_slow_query:row", after),
		db.Callback().Raw().After("gorm:raw").Register("otel_slow_query:raw", after),
	); err != nil {
		return err
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)

	return nil
}

// stampQueryStart records the start time on the statement context so
// the after callbacks can compute elapsed time.
func stampQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
	}
}

// annotateQuerySpan decorates the active span with query metadata and
// flags queries that exceed the slow threshold. ErrRecordNotFound is
// an expected outcome, not a span error.
func annotateQuerySpan(db *gorm.DB, ctx context.Context, slowThresh time.Duration) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}

	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if startTime, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		elapsed := time.Since(startTime)
		if elapsed > slowThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
			span.AddEvent("slow_query_warning", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", slowThresh.Milliseconds()),
			))
		}
	}
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"

// WithQueryStartTime marks ctx with the current time as the query
// start, for callers that drive annotateQuerySpan outside GORM's
// before callbacks.
func WithQueryStartTime(ctx context.Context) context.Context {
	return context.WithValue(ctx, queryStartTimeKey, time.Now())
}

// DBTracingCallback is the standalone form of the timing callbacks for
// GORM instances that do not use the otelgorm plugin.
type DBTracingCallback struct {
	slowQueryThresh time.Duration
}

func NewDBTracingCallback(slowQueryThresh time.Duration) *DBTracingCallback {
	return &DBTracingCallback{
		slowQueryThresh: slowQueryThresh,
	}
}

// BeforeCallback sets the query start time in context.
func (c *DBTracingCallback) BeforeCallback(db *gorm.DB) {
	stampQueryStart(db)
}

// AfterCallback annotates the active span for the finished query.
func (c *DBTracingCallback) AfterCallback(db *gorm.DB) {
	if db.Statement.Context == nil {
		return
	}
	annotateQuerySpan(db, db.Statement.Context, c.slowQueryThresh)
}

// RegisterCallbacks installs the before/after pair on every GORM
// operation type. Registering twice under the same names replaces the
// earlier registration.
func (c *DBTracingCallback) RegisterCallbacks(db *gorm.DB) error {
	if err := errors.Join(
		db.Callback().Create().Before("gorm:create").Register("otel_timing:before_create", c.BeforeCallback),
		db.Callback().Query().Before("gorm:query").Register("otel_timing:before_query", c.BeforeCallback),
		db.Callback().Update().Before("gorm:update").Register("otel_timing:before_update", c.BeforeCallback),
		db.Callback().Delete().Before("gorm:delete").Register("otel_timing:before_delete", c.BeforeCallback),
		db.Callback().Row().Before("gorm:row").Register("otel_timing:before_row", c.BeforeCallback),
		db.Callback().Raw().Before("gorm:raw").Register("otel_timing:before_raw", c.BeforeCallback),
	); err != nil {
		return err
	}

	return errors.Join(
		db.Callback().Create().After("gorm:create").Register("otel_timing:after_create", c.AfterCallback),
		db.Callback().Query().After("gorm:query").Register("otel_timing:after_query", c.AfterCallback),
		db.Callback().Update().After("gorm:update").Register("otel_timing:after_update", c.AfterCallback),
		db.Callback().Delete().After("gorm:delete").Register("otel_timing:after_delete", c.AfterCallback),
		db.Callback().Row().After("gorm:row").Register("otel_timing:after_row", c.AfterCallback),
		db.Callback().Raw().After("gorm:raw").Register("otel_timing:after_raw", c.AfterCallback),
	)
}
