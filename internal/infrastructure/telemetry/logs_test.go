package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProviderDisabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "projectlink-backend",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, provider.IsEnabled())
	assert.Nil(t, provider.GetLoggerProvider())
	assert.NoError(t, provider.ForceFlush(ctx))

	// repeated shutdowns are safe on a no-op provider
	assert.NoError(t, provider.Shutdown(ctx))
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestLoggerProviderGetConfig(t *testing.T) {
	cfg := LogsConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "projectlink-backend",
		Insecure:          true,
	}

	provider, err := NewLoggerProvider(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, cfg, provider.GetConfig())
}

// The exporter buffers until a collector becomes reachable, so
// construction succeeds against a dead endpoint.
func TestNewLoggerProviderEnabledWithoutCollector(t *testing.T) {
	ctx := context.Background()

	provider, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:19999",
		ServiceName:       "projectlink-backend",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, provider.IsEnabled())
	assert.NotNil(t, provider.GetLoggerProvider())
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestNewZapOTELCoreNopFallbacks(t *testing.T) {
	t.Run("nil provider", func(t *testing.T) {
		core := NewZapOTELCore(ZapBridgeConfig{
			ServiceName: "projectlink-backend",
			Level:       zapcore.InfoLevel,
		})
		assert.False(t, core.Enabled(zapcore.InfoLevel))
	})

	t.Run("disabled provider", func(t *testing.T) {
		provider, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
		require.NoError(t, err)

		core := NewZapOTELCore(ZapBridgeConfig{
			ServiceName:    "projectlink-backend",
			LoggerProvider: provider,
			Level:          zapcore.InfoLevel,
		})
		assert.False(t, core.Enabled(zapcore.InfoLevel))
	})
}

func TestNewZapOTELCoreLevelHandling(t *testing.T) {
	ctx := context.Background()

	provider, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:19999",
		ServiceName:       "projectlink-backend",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	defer provider.Shutdown(ctx)

	t.Run("debug level passes everything", func(t *testing.T) {
		core := NewZapOTELCore(ZapBridgeConfig{
			ServiceName:    "projectlink-backend",
			LoggerProvider: provider,
			Level:          zapcore.DebugLevel,
		})

		assert.True(t, core.Enabled(zapcore.DebugLevel))
		assert.True(t, core.Enabled(zapcore.ErrorLevel))
	})

	t.Run("warn level wraps with filter", func(t *testing.T) {
		core := NewZapOTELCore(ZapBridgeConfig{
			ServiceName:    "projectlink-backend",
			LoggerProvider: provider,
			Level:          zapcore.WarnLevel,
		})

		_, isFiltered := core.(*levelFilterCore)
		assert.True(t, isFiltered)

		assert.False(t, core.Enabled(zapcore.DebugLevel))
		assert.False(t, core.Enabled(zapcore.InfoLevel))
		assert.True(t, core.Enabled(zapcore.WarnLevel))
		assert.True(t, core.Enabled(zapcore.ErrorLevel))
	})
}

func TestNewBridgedLogger(t *testing.T) {
	observedCore, observedLogs := observer.New(zapcore.InfoLevel)

	logger := NewBridgedLogger(observedCore, zapcore.NewNopCore(), zap.AddCaller())

	logger.Info("sync run started", zap.String("run_id", "run-1"))
	logger.Debug("cursor advanced") // below InfoLevel, dropped
	logger.Warn("provider rate limited")

	logs := observedLogs.All()
	require.Len(t, logs, 2)

	assert.Equal(t, "sync run started", logs[0].Message)
	assert.Contains(t, logs[0].Context, zap.String("run_id", "run-1"))
	assert.Equal(t, zapcore.WarnLevel, logs[1].Level)
}

func TestLevelFilterCore(t *testing.T) {
	observedCore, observedLogs := observer.New(zapcore.DebugLevel)

	filtered := &levelFilterCore{
		Core:     observedCore,
		minLevel: zapcore.WarnLevel,
	}

	logger := zap.New(filtered)
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	logs := observedLogs.All()
	require.Len(t, logs, 2)
	assert.Equal(t, "warn", logs[0].Message)
	assert.Equal(t, "error", logs[1].Message)
}

func TestLevelFilterCoreWith(t *testing.T) {
	observedCore, observedLogs := observer.New(zapcore.DebugLevel)

	filtered := &levelFilterCore{
		Core:     observedCore,
		minLevel: zapcore.WarnLevel,
	}

	child := filtered.With([]zapcore.Field{zap.String("component", "outbox")})

	// the filter must survive With
	childFiltered, ok := child.(*levelFilterCore)
	require.True(t, ok)
	assert.Equal(t, zapcore.WarnLevel, childFiltered.minLevel)

	zap.New(child).Warn("delivery failed")

	logs := observedLogs.All()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Context, zap.String("component", "outbox"))
}

func TestCreateBridgedLoggerFromConfig(t *testing.T) {
	provider, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	logger, err := CreateBridgedLoggerFromConfig(&BaseLoggerConfig{
		Level:      "debug",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, provider, "projectlink-backend")
	require.NoError(t, err)
	require.NotNil(t, logger)

	// OTEL core is a nop here, entries only reach stdout
	logger.Info("merge completed",
		zap.String("request_id", "req-123"),
		zap.String("org_id", "org-456"),
	)
	_ = logger.Sync()
}

func TestDefaultBaseLoggerConfig(t *testing.T) {
	cfg := DefaultBaseLoggerConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.NotEmpty(t, cfg.TimeFormat)
}

func TestParseLogLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"unknown", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseLogLevel(tc.input))
		})
	}
}

func TestCreateLogEncoder(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		encoder := createLogEncoder(&BaseLoggerConfig{
			Format:     "json",
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		})

		buf, err := encoder.EncodeEntry(zapcore.Entry{
			Level:   zapcore.InfoLevel,
			Message: "record linked",
		}, nil)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), `"level":"info"`)
		assert.Contains(t, buf.String(), `"msg":"record linked"`)
	})

	t.Run("console", func(t *testing.T) {
		encoder := createLogEncoder(&BaseLoggerConfig{
			Format:     "console",
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		})

		buf, err := encoder.EncodeEntry(zapcore.Entry{
			Level:   zapcore.InfoLevel,
			Message: "record linked",
		}, nil)
		require.NoError(t, err)
		assert.NotContains(t, buf.String(), `"level"`)
	})
}

func TestCreateLogWriter(t *testing.T) {
	assert.NotNil(t, createLogWriter("stdout"))
	assert.NotNil(t, createLogWriter("stderr"))
	// unrecognized outputs fall back to stdout
	assert.NotNil(t, createLogWriter("/var/log/plink.log"))
}

func TestCreateBaseCore(t *testing.T) {
	core := createBaseCore(&BaseLoggerConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	assert.True(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.WarnLevel))
	assert.False(t, core.Enabled(zapcore.DebugLevel))
}

func TestBridgedFieldEncoding(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&buf),
		zapcore.DebugLevel,
	)

	zap.New(core).Info("page fetched",
		zap.String("provider", "jira"),
		zap.Int("page_size", 100),
		zap.Bool("has_more", true),
		zap.Strings("entity_types", []string{"issue", "user"}),
	)

	output := buf.String()
	assert.Contains(t, output, `"provider":"jira"`)
	assert.Contains(t, output, `"page_size":100`)
	assert.Contains(t, output, `"has_more":true`)
	assert.Contains(t, output, `"entity_types":["issue","user"]`)
}
