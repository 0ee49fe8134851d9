package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars and restore after tests
	originalEnv := map[string]string{
		"PLINK_APP_NAME":                  os.Getenv("PLINK_APP_NAME"),
		"PLINK_APP_ENV":                   os.Getenv("PLINK_APP_ENV"),
		"PLINK_APP_PORT":                  os.Getenv("PLINK_APP_PORT"),
		"PLINK_DATABASE_HOST":             os.Getenv("PLINK_DATABASE_HOST"),
		"PLINK_DATABASE_PORT":             os.Getenv("PLINK_DATABASE_PORT"),
		"PLINK_DATABASE_USER":             os.Getenv("PLINK_DATABASE_USER"),
		"PLINK_DATABASE_PASSWORD":         os.Getenv("PLINK_DATABASE_PASSWORD"),
		"PLINK_DATABASE_DBNAME":           os.Getenv("PLINK_DATABASE_DBNAME"),
		"PLINK_DATABASE_SSLMODE":          os.Getenv("PLINK_DATABASE_SSLMODE"),
		"PLINK_DATABASE_MAX_OPEN_CONNS":   os.Getenv("PLINK_DATABASE_MAX_OPEN_CONNS"),
		"PLINK_DATABASE_MAX_IDLE_CONNS":   os.Getenv("PLINK_DATABASE_MAX_IDLE_CONNS"),
		"PLINK_SYNC_PAGE_SIZE":            os.Getenv("PLINK_SYNC_PAGE_SIZE"),
		"PLINK_SYNC_MERGE_CONCURRENCY":    os.Getenv("PLINK_SYNC_MERGE_CONCURRENCY"),
		"PLINK_SYNC_RETRY_MAX_ATTEMPTS":   os.Getenv("PLINK_SYNC_RETRY_MAX_ATTEMPTS"),
		"PLINK_SYNC_QUEUE_WORKERS":        os.Getenv("PLINK_SYNC_QUEUE_WORKERS"),
		"PLINK_SYNC_QUEUE_LEASE_DURATION": os.Getenv("PLINK_SYNC_QUEUE_LEASE_DURATION"),
		"PLINK_PROVIDERS_JIRA_BASE_URL":   os.Getenv("PLINK_PROVIDERS_JIRA_BASE_URL"),
		"PLINK_PROVIDERS_JIRA_API_TOKEN":  os.Getenv("PLINK_PROVIDERS_JIRA_API_TOKEN"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "projectlink-backend", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "postgres", cfg.Database.User)
		assert.Equal(t, "", cfg.Database.Password)
		assert.Equal(t, "projectlink", cfg.Database.DBName)
		assert.Equal(t, "disable", cfg.Database.SSLMode)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	})

	t.Run("applies sync engine defaults", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 50, cfg.Sync.PageSize)
		assert.Equal(t, 4, cfg.Sync.MergeConcurrency)
		assert.Equal(t, 5*time.Minute, cfg.Sync.CacheTTL)
		assert.Equal(t, 5, cfg.Sync.Retry.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Sync.Retry.BaseDelay)
		assert.Equal(t, 60*time.Second, cfg.Sync.Retry.MaxDelay)
		assert.InDelta(t, 0.2, cfg.Sync.Retry.JitterFraction, 0.0001)
		assert.Equal(t, 5, cfg.Sync.Queue.Workers)
		assert.Equal(t, 10*time.Minute, cfg.Sync.Queue.LeaseDuration)
		assert.Equal(t, 8*time.Minute, cfg.Sync.Queue.TaskTimeout)
		assert.Equal(t, "https://graph.microsoft.com", cfg.Providers.Entra.BaseURL)
	})

	t.Run("loads values from environment variables with PLINK prefix", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_APP_NAME", "test-app")
		os.Setenv("PLINK_APP_ENV", "testing")
		os.Setenv("PLINK_APP_PORT", "9000")
		os.Setenv("PLINK_DATABASE_HOST", "testdb.local")
		os.Setenv("PLINK_DATABASE_PORT", "5433")
		os.Setenv("PLINK_DATABASE_USER", "testuser")
		os.Setenv("PLINK_DATABASE_PASSWORD", "testpass")
		os.Setenv("PLINK_DATABASE_DBNAME", "testdb")
		os.Setenv("PLINK_DATABASE_SSLMODE", "require")
		os.Setenv("PLINK_SYNC_PAGE_SIZE", "25")
		os.Setenv("PLINK_SYNC_MERGE_CONCURRENCY", "8")
		os.Setenv("PLINK_PROVIDERS_JIRA_BASE_URL", "https://acme.atlassian.net")
		os.Setenv("PLINK_PROVIDERS_JIRA_API_TOKEN", "token-123")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "testing", cfg.App.Env)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, "testuser", cfg.Database.User)
		assert.Equal(t, "testpass", cfg.Database.Password)
		assert.Equal(t, "testdb", cfg.Database.DBName)
		assert.Equal(t, "require", cfg.Database.SSLMode)
		assert.Equal(t, 25, cfg.Sync.PageSize)
		assert.Equal(t, 8, cfg.Sync.MergeConcurrency)
		assert.Equal(t, "https://acme.atlassian.net", cfg.Providers.Jira.BaseURL)
		assert.Equal(t, "token-123", cfg.Providers.Jira.APIToken)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_DATABASE_MAX_OPEN_CONNS", "10")
		os.Setenv("PLINK_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle_conns")
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("zero MaxOpenConns uses default", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_DATABASE_MAX_OPEN_CONNS", "0")

		cfg, err := Load()
		require.NoError(t, err)
		// 0 is treated as "not set", so default (25) is used
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	})

	t.Run("validates MaxIdleConns cannot be negative", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_DATABASE_MAX_IDLE_CONNS", "-1")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle_conns cannot be negative")
	})

	t.Run("rejects page size outside 1-100", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_SYNC_PAGE_SIZE", "250")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.page_size")
	})

	t.Run("rejects lease duration under a minute", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_SYNC_QUEUE_LEASE_DURATION", "10s")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.queue.lease_duration")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	originalEnv := map[string]string{
		"PLINK_APP_ENV":           os.Getenv("PLINK_APP_ENV"),
		"PLINK_DATABASE_PASSWORD": os.Getenv("PLINK_DATABASE_PASSWORD"),
		"PLINK_DATABASE_SSLMODE":  os.Getenv("PLINK_DATABASE_SSLMODE"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("requires database.password in production", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_APP_ENV", "production")
		os.Setenv("PLINK_DATABASE_SSLMODE", "require")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.password is required in production")
	})

	t.Run("requires SSL enabled in production", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_APP_ENV", "production")
		os.Setenv("PLINK_DATABASE_PASSWORD", "secure-password")
		os.Setenv("PLINK_DATABASE_SSLMODE", "disable")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.sslmode cannot be 'disable' in production")
	})

	t.Run("passes validation with valid production config", func(t *testing.T) {
		clearEnv()
		os.Setenv("PLINK_APP_ENV", "production")
		os.Setenv("PLINK_DATABASE_PASSWORD", "secure-password")
		os.Setenv("PLINK_DATABASE_SSLMODE", "require")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})
}

func TestConfig_StreamValidation(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("accepts a valid organization stream", func(t *testing.T) {
		cfg := base()
		cfg.Sync.Streams = []StreamConfig{
			{OrgID: "9f1c7a1e-0000-0000-0000-000000000001", Provider: "entra", EntityType: "user", ScopeKind: "organization"},
		}
		require.NoError(t, cfg.validate())
	})

	t.Run("accepts a valid project stream", func(t *testing.T) {
		cfg := base()
		cfg.Sync.Streams = []StreamConfig{
			{OrgID: "9f1c7a1e-0000-0000-0000-000000000001", Provider: "jira", EntityType: "user", ScopeKind: "project", ScopeKey: "PLAT"},
		}
		require.NoError(t, cfg.validate())
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		cfg := base()
		cfg.Sync.Streams = []StreamConfig{
			{OrgID: "9f1c7a1e-0000-0000-0000-000000000001", Provider: "github", EntityType: "user"},
		}
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider")
	})

	t.Run("rejects unknown entity type", func(t *testing.T) {
		cfg := base()
		cfg.Sync.Streams = []StreamConfig{
			{OrgID: "9f1c7a1e-0000-0000-0000-000000000001", Provider: "jira", EntityType: "ticket"},
		}
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown entity type")
	})

	t.Run("rejects missing org id", func(t *testing.T) {
		cfg := base()
		cfg.Sync.Streams = []StreamConfig{
			{Provider: "jira", EntityType: "project"},
		}
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "org_id is required")
	})

	t.Run("rejects project scope without key", func(t *testing.T) {
		cfg := base()
		cfg.Sync.Streams = []StreamConfig{
			{OrgID: "9f1c7a1e-0000-0000-0000-000000000001", Provider: "jira", EntityType: "user", ScopeKind: "project"},
		}
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project scope requires scope_key")
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost")
		assert.Contains(t, dsn, "5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		// URL-encoded password should be in the DSN
		assert.Contains(t, dsn, "pass%40word%23123")
	})

	t.Run("handles empty password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "",
			DBName:   "db",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.NotEmpty(t, dsn)
	})
}
