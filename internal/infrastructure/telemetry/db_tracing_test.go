package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type syncRecordRow struct {
	ID         uint   `gorm:"primaryKey"`
	OrgID      string `gorm:"size:36"`
	ExternalID string `gorm:"size:128"`
	CreatedAt  time.Time
}

func setupTracingDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&syncRecordRow{}))
	return db
}

func setupSpanRecorder(t *testing.T) (*trace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)

	// bind variables stay out of spans unless explicitly opted in
	assert.False(t, cfg.LogFullSQL)
	assert.True(t, cfg.WithoutVariables)
}

func TestDBTracingPluginRegisterOtelGorm(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		plugin := NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop())
		assert.NoError(t, plugin.RegisterOtelGorm(setupTracingDB(t)))
	})

	t.Run("enabled registers plugin and callbacks", func(t *testing.T) {
		cfg := DefaultDBTracingConfig()
		cfg.Enabled = true
		cfg.DBSystem = "sqlite"

		plugin := NewDBTracingPlugin(cfg, zap.NewNop())
		assert.NoError(t, plugin.RegisterOtelGorm(setupTracingDB(t)))
	})

	t.Run("full SQL mode registers", func(t *testing.T) {
		cfg := DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      true,
			SlowQueryThresh: 200 * time.Millisecond,
			DBSystem:        "sqlite",
		}

		plugin := NewDBTracingPlugin(cfg, zap.NewNop())
		assert.NoError(t, plugin.RegisterOtelGorm(setupTracingDB(t)))
	})

	t.Run("double registration fails on duplicate plugin", func(t *testing.T) {
		cfg := DefaultDBTracingConfig()
		cfg.Enabled = true
		cfg.DBSystem = "sqlite"

		db := setupTracingDB(t)
		plugin := NewDBTracingPlugin(cfg, zap.NewNop())

		require.NoError(t, plugin.RegisterOtelGorm(db))
		assert.Error(t, plugin.RegisterOtelGorm(db))
	})
}

func TestAnnotateQuerySpanRowsAffected(t *testing.T) {
	db := setupTracingDB(t)
	tp, recorder := setupSpanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "record-batch-insert")

	rows := []syncRecordRow{
		{OrgID: "org-1", ExternalID: "JIRA-100"},
		{OrgID: "org-1", ExternalID: "JIRA-101"},
		{OrgID: "org-1", ExternalID: "JIRA-102"},
	}
	result := db.WithContext(ctx).Create(&rows)
	require.NoError(t, result.Error)

	NewDBTracingCallback(200 * time.Millisecond).AfterCallback(result.Statement.DB)
	span.End()

	spans := recorder.Ended()
	require.NotEmpty(t, spans)

	found := false
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "db.rows_affected" {
			found = true
			assert.Equal(t, int64(3), attr.Value.AsInt64())
		}
	}
	assert.True(t, found, "db.rows_affected attribute should be present")
}

func TestAnnotateQuerySpanTableName(t *testing.T) {
	db := setupTracingDB(t)
	tp, recorder := setupSpanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "record-insert")

	result := db.WithContext(ctx).Create(&syncRecordRow{OrgID: "org-1", ExternalID: "JIRA-1"})
	require.NoError(t, result.Error)

	NewDBTracingCallback(200 * time.Millisecond).AfterCallback(result.Statement.DB)
	span.End()

	spans := recorder.Ended()
	require.NotEmpty(t, spans)

	for _, attr := range spans[0].Attributes() {
		if attr.Key == "db.sql.table" {
			assert.Equal(t, "sync_record_rows", attr.Value.AsString())
		}
	}
}

func TestAnnotateQuerySpanRecordNotFoundIsNotAnError(t *testing.T) {
	db := setupTracingDB(t)
	tp, recorder := setupSpanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "record-lookup")

	var row syncRecordRow
	tx := db.WithContext(ctx).First(&row, 99999)
	require.Error(t, tx.Error)

	NewDBTracingCallback(200 * time.Millisecond).AfterCallback(tx)
	span.End()

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestAnnotateQuerySpanSlowQueryEvent(t *testing.T) {
	db := setupTracingDB(t)
	tp, recorder := setupSpanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "slow-lookup")

	ctx = WithQueryStartTime(ctx)
	time.Sleep(time.Millisecond)

	db = db.WithContext(ctx)
	var row syncRecordRow
	db.First(&row)

	// 1ns threshold so any real query counts as slow
	NewDBTracingCallback(time.Nanosecond).AfterCallback(db.Statement.DB)
	span.End()

	spans := recorder.Ended()
	require.NotEmpty(t, spans)

	foundEvent := false
	for _, event := range spans[0].Events() {
		if event.Name == "slow_query_warning" {
			foundEvent = true
			for _, attr := range event.Attributes {
				if attr.Key == "duration_ms" {
					assert.GreaterOrEqual(t, attr.Value.AsInt64(), int64(0))
				}
			}
		}
	}
	assert.True(t, foundEvent, "slow_query_warning event should be present")
}

func TestAnnotateQuerySpanWithoutRecordingSpan(t *testing.T) {
	db := setupTracingDB(t).WithContext(context.Background())

	// no span on the context, must not panic
	NewDBTracingCallback(200 * time.Millisecond).AfterCallback(db)
}

func TestWithQueryStartTime(t *testing.T) {
	ctx := WithQueryStartTime(context.Background())

	startTime, ok := ctx.Value(queryStartTimeKey).(time.Time)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), startTime, time.Second)
}

func TestDBTracingCallbackRegisterCallbacks(t *testing.T) {
	db := setupTracingDB(t)

	require.NoError(t, NewDBTracingCallback(200*time.Millisecond).RegisterCallbacks(db))

	// re-registering under the same names replaces the earlier hooks
	_ = NewDBTracingCallback(100 * time.Millisecond).RegisterCallbacks(db)
}

func TestDBTracingEndToEnd(t *testing.T) {
	db := setupTracingDB(t)
	tp, recorder := setupSpanRecorder(t)

	cfg := DBTracingConfig{
		Enabled:         true,
		LogFullSQL:      true,
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "sqlite",
	}
	require.NoError(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))

	ctx, span := tp.Tracer("test").Start(context.Background(), "link-record")

	db = db.WithContext(ctx)
	require.NoError(t, db.Create(&syncRecordRow{OrgID: "org-1", ExternalID: "JIRA-7"}).Error)

	var found syncRecordRow
	require.NoError(t, db.First(&found, "external_id = ?", "JIRA-7").Error)
	assert.Equal(t, "org-1", found.OrgID)

	span.End()
	assert.NotEmpty(t, recorder.Ended())
}

func BenchmarkAfterCallback(b *testing.B) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		b.Fatal(err)
	}
	if err := db.AutoMigrate(&syncRecordRow{}); err != nil {
		b.Fatal(err)
	}

	callback := NewDBTracingCallback(200 * time.Millisecond)
	db = db.WithContext(context.Background())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		callback.AfterCallback(db)
	}
}
