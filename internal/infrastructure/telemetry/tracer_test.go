package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/projectlink/backend/internal/infrastructure/telemetry"
)

func disabledTracerConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "sync-backend-test",
	}
}

func TestNewTracerProviderDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := disabledTracerConfig()

	tp, err := telemetry.NewTracerProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, tp)

	assert.False(t, tp.IsEnabled())

	gotCfg := tp.GetConfig()
	assert.Equal(t, cfg.ServiceName, gotCfg.ServiceName)
	assert.False(t, gotCfg.Enabled)

	assert.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProviderEnabled(t *testing.T) {
	// Needs a collector listening on the endpoint; run with
	// `make otel-up` locally.
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "sync-backend-test",
	}

	tp, err := telemetry.NewTracerProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, tp)

	assert.True(t, tp.IsEnabled())

	tracer := tp.Tracer("sync-test")
	_, span := tracer.Start(ctx, "reconcile-batch")
	span.End()

	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProviderSamplingRatios(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	// Sampling ratio is accepted across its whole range; with the
	// exporter disabled the provider stays no-op regardless.
	for _, ratio := range []float64{0.0, 0.5, 1.0} {
		cfg := disabledTracerConfig()
		cfg.SamplingRatio = ratio

		tp, err := telemetry.NewTracerProvider(ctx, cfg, logger)
		require.NoError(t, err)
		assert.False(t, tp.IsEnabled())
		assert.NoError(t, tp.Shutdown(ctx))
	}
}

func TestTracerProviderDisabledFallbacks(t *testing.T) {
	ctx := context.Background()

	tp, err := telemetry.NewTracerProvider(ctx, disabledTracerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	// Tracer still works when disabled, spans are no-ops.
	tracer := tp.Tracer("sync-test")
	require.NotNil(t, tracer)
	_, span := tracer.Start(ctx, "link-record")
	span.End()

	assert.NoError(t, tp.ForceFlush(ctx))

	// A cancelled context does not break shutdown of a no-op provider.
	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, tp.Shutdown(cancelledCtx))
}

func TestConfigZeroValue(t *testing.T) {
	cfg := telemetry.Config{}

	assert.False(t, cfg.Enabled)
	assert.Empty(t, cfg.CollectorEndpoint)
	assert.Zero(t, cfg.SamplingRatio)
	assert.Empty(t, cfg.ServiceName)
}

func TestNewTracerProviderInvalidEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.ErrorLevel))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	cfg := telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: "invalid-host:99999",
		SamplingRatio:     1.0,
		ServiceName:       "sync-backend-test",
	}

	// The gRPC exporter connects lazily, so creation may succeed and
	// export failures surface later.
	tp, err := telemetry.NewTracerProvider(ctx, cfg, logger)
	if err != nil {
		t.Logf("Expected connection error: %v", err)
		return
	}
	_ = tp.Shutdown(context.Background())
}

func TestEnableSpanProfilesWhileDisabled(t *testing.T) {
	ctx := context.Background()

	tp, err := telemetry.NewTracerProvider(ctx, disabledTracerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	// Off by default, and enabling is a silent no-op without a real
	// tracer provider to wrap.
	assert.False(t, tp.IsSpanProfilesEnabled())
	assert.NoError(t, tp.EnableSpanProfiles())
	assert.False(t, tp.IsSpanProfilesEnabled())

	assert.NoError(t, tp.Shutdown(ctx))
}

func TestEnableSpanProfilesIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "sync-backend-span-profiles",
	}

	tp, err := telemetry.NewTracerProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() {
		_ = tp.Shutdown(ctx)
	}()

	assert.False(t, tp.IsSpanProfilesEnabled())

	require.NoError(t, tp.EnableSpanProfiles())
	assert.True(t, tp.IsSpanProfilesEnabled())

	require.NoError(t, tp.EnableSpanProfiles())
	assert.True(t, tp.IsSpanProfilesEnabled())
}

func TestSpanProfilesWithTracer(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "sync-backend-span-profiles-tracer",
	}

	tp, err := telemetry.NewTracerProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() {
		_ = tp.Shutdown(ctx)
	}()

	require.NoError(t, tp.EnableSpanProfiles())

	// With span profiles on, spans carry span_id as a pprof label.
	tracer := tp.Tracer("sync-span-profiles")
	_, span := tracer.Start(ctx, "merge-records")

	// Long enough for the CPU profiler to sample the span.
	time.Sleep(15 * time.Millisecond)
	span.End()

	assert.NoError(t, tp.ForceFlush(ctx))
}

func TestSpanProfilesConcurrentAccess(t *testing.T) {
	ctx := context.Background()

	tp, err := telemetry.NewTracerProvider(ctx, disabledTracerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() {
		_ = tp.Shutdown(ctx)
	}()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = tp.EnableSpanProfiles()
			_ = tp.IsSpanProfilesEnabled()
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	// Disabled telemetry means span profiles stay off.
	assert.False(t, tp.IsSpanProfilesEnabled())
}
