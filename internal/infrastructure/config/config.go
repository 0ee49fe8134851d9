package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Event     EventConfig
	HTTP      HTTPConfig
	Providers ProvidersConfig
	Sync      SyncConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
	Profiling ProfilingConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// EventConfig holds outbox processing configuration
type EventConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	CleanupEnabled   bool
	CleanupRetention time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	CORSAllowOrigins  []string
	CORSAllowMethods  []string
	CORSAllowHeaders  []string
	TrustedProxies    []string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// ProvidersConfig holds credentials and endpoints for the external systems
type ProvidersConfig struct {
	Jira  JiraConfig
	Entra EntraConfig
}

// JiraConfig holds Jira Cloud connection settings
type JiraConfig struct {
	BaseURL  string // e.g. https://yourorg.atlassian.net
	Email    string // account email for basic auth
	APIToken string // API token paired with the email
}

// EntraConfig holds Microsoft Entra ID (Graph) connection settings
type EntraConfig struct {
	BaseURL      string // Graph endpoint, default https://graph.microsoft.com
	TenantID     string
	ClientID     string
	ClientSecret string
}

// SyncConfig holds synchronization engine settings
type SyncConfig struct {
	PageSize          int           // entities per provider page (1-100)
	MergeConcurrency  int           // concurrent merges within one page
	CacheTTL          time.Duration // staleness cache TTL for entity lookups
	SchedulerEnabled  bool          // periodic stream enqueueing
	SchedulerInterval time.Duration // how often streams are walked
	Retry             RetryConfig
	Queue             QueueConfig
	Streams           []StreamConfig
}

// RetryConfig holds provider retry/backoff settings
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

// QueueConfig holds task queue and dispatcher settings
type QueueConfig struct {
	Workers       int           // dispatcher worker pool size
	LeaseDuration time.Duration // task visibility timeout
	PollInterval  time.Duration // how often workers poll for tasks
	TaskTimeout   time.Duration // per-task execution deadline
}

// StreamConfig declares one scheduled sync stream
// (organization x provider x entity type x scope)
type StreamConfig struct {
	OrgID      string `mapstructure:"org_id"`
	Provider   string `mapstructure:"provider"`
	EntityType string `mapstructure:"entity_type"`
	ScopeKind  string `mapstructure:"scope_kind"`
	ScopeKey   string `mapstructure:"scope_key"`
}

// StorageConfig holds object storage settings for run archives
type StorageConfig struct {
	Enabled         bool
	Endpoint        string // custom endpoint for MinIO/localstack, empty for AWS
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PresignTTL      time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only, disable in prod for security)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	// Log export
	LogsEnabled bool // Ship logs to the OTEL collector alongside stdout
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled         bool
	ServerAddress   string // Pyroscope server, e.g. "http://pyroscope:4040"
	ApplicationName string // defaults to app.name
	SpanProfiles    bool   // associate CPU profiles with trace spans (needs telemetry)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with PLINK_ prefix (e.g., PLINK_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("PLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Event: EventConfig{
			ProcessorEnabled: v.GetBool("event.processor_enabled"),
			BatchSize:        v.GetInt("event.batch_size"),
			PollInterval:     v.GetDuration("event.poll_interval"),
			MaxRetries:       v.GetInt("event.max_retries"),
			CleanupEnabled:   v.GetBool("event.cleanup_enabled"),
			CleanupRetention: v.GetDuration("event.cleanup_retention"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:  v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:  v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
		},
		Providers: ProvidersConfig{
			Jira: JiraConfig{
				BaseURL:  v.GetString("providers.jira.base_url"),
				Email:    v.GetString("providers.jira.email"),
				APIToken: v.GetString("providers.jira.api_token"),
			},
			Entra: EntraConfig{
				BaseURL:      v.GetString("providers.entra.base_url"),
				TenantID:     v.GetString("providers.entra.tenant_id"),
				ClientID:     v.GetString("providers.entra.client_id"),
				ClientSecret: v.GetString("providers.entra.client_secret"),
			},
		},
		Sync: SyncConfig{
			PageSize:          v.GetInt("sync.page_size"),
			MergeConcurrency:  v.GetInt("sync.merge_concurrency"),
			CacheTTL:          v.GetDuration("sync.cache_ttl"),
			SchedulerEnabled:  v.GetBool("sync.scheduler_enabled"),
			SchedulerInterval: v.GetDuration("sync.scheduler_interval"),
			Retry: RetryConfig{
				MaxAttempts:    v.GetInt("sync.retry.max_attempts"),
				BaseDelay:      v.GetDuration("sync.retry.base_delay"),
				MaxDelay:       v.GetDuration("sync.retry.max_delay"),
				JitterFraction: v.GetFloat64("sync.retry.jitter_fraction"),
			},
			Queue: QueueConfig{
				Workers:       v.GetInt("sync.queue.workers"),
				LeaseDuration: v.GetDuration("sync.queue.lease_duration"),
				PollInterval:  v.GetDuration("sync.queue.poll_interval"),
				TaskTimeout:   v.GetDuration("sync.queue.task_timeout"),
			},
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			PresignTTL:      v.GetDuration("storage.presign_ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
		Profiling: ProfilingConfig{
			Enabled:         v.GetBool("profiling.enabled"),
			ServerAddress:   v.GetString("profiling.server_address"),
			ApplicationName: v.GetString("profiling.application_name"),
			SpanProfiles:    v.GetBool("profiling.span_profiles"),
		},
	}

	// Stream declarations are a table array; decode them as a slice
	if err := v.UnmarshalKey("sync.streams", &cfg.Sync.Streams); err != nil {
		return nil, fmt.Errorf("error decoding sync.streams: %w", err)
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "projectlink-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "projectlink"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Event.BatchSize == 0 {
		cfg.Event.BatchSize = 100
	}
	if cfg.Event.PollInterval == 0 {
		cfg.Event.PollInterval = 5 * time.Second
	}
	if cfg.Event.MaxRetries == 0 {
		cfg.Event.MaxRetries = 5
	}
	if cfg.Event.CleanupRetention == 0 {
		cfg.Event.CleanupRetention = 168 * time.Hour
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	// NOTE: CORS origins are intentionally not given a default fallback to "*".
	// An empty list means no cross-origin requests are allowed until explicitly configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "X-Org-ID"}
	}
	if cfg.Providers.Entra.BaseURL == "" {
		cfg.Providers.Entra.BaseURL = "https://graph.microsoft.com"
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 50
	}
	if cfg.Sync.MergeConcurrency == 0 {
		cfg.Sync.MergeConcurrency = 4
	}
	if cfg.Sync.CacheTTL == 0 {
		cfg.Sync.CacheTTL = 5 * time.Minute
	}
	if cfg.Sync.SchedulerInterval == 0 {
		cfg.Sync.SchedulerInterval = 15 * time.Minute
	}
	if cfg.Sync.Retry.MaxAttempts == 0 {
		cfg.Sync.Retry.MaxAttempts = 5
	}
	if cfg.Sync.Retry.BaseDelay == 0 {
		cfg.Sync.Retry.BaseDelay = time.Second
	}
	if cfg.Sync.Retry.MaxDelay == 0 {
		cfg.Sync.Retry.MaxDelay = 60 * time.Second
	}
	if cfg.Sync.Retry.JitterFraction == 0 {
		cfg.Sync.Retry.JitterFraction = 0.2
	}
	if cfg.Sync.Queue.Workers == 0 {
		cfg.Sync.Queue.Workers = 5
	}
	if cfg.Sync.Queue.LeaseDuration == 0 {
		cfg.Sync.Queue.LeaseDuration = 10 * time.Minute
	}
	if cfg.Sync.Queue.PollInterval == 0 {
		cfg.Sync.Queue.PollInterval = 5 * time.Second
	}
	if cfg.Sync.Queue.TaskTimeout == 0 {
		cfg.Sync.Queue.TaskTimeout = 8 * time.Minute
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "plink-sync-archives"
	}
	if cfg.Storage.PresignTTL == 0 {
		cfg.Storage.PresignTTL = 15 * time.Minute
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "projectlink-backend"
	}
	// Note: Insecure defaults to false for safety (TLS enabled by default)
	// DBTraceEnabled defaults to false (needs explicit enable)
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	// Note: DBLogFullSQL defaults to false for security (disable in production)

	// Profiling defaults
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = cfg.App.Name
	}
}

// validProviders and friends keep stream validation free of domain imports
var (
	validProviders  = map[string]bool{"jira": true, "entra": true}
	validEntities   = map[string]bool{"user": true, "group": true, "project": true}
	validScopeKinds = map[string]bool{"organization": true, "project": true}
)

// validate performs validation on the configuration
func (c *Config) validate() error {
	// Validate connection pool settings
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	// Validate sync engine settings
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 100 {
		return fmt.Errorf("sync.page_size must be between 1 and 100, got %d", c.Sync.PageSize)
	}
	if c.Sync.MergeConcurrency < 1 {
		return fmt.Errorf("sync.merge_concurrency must be at least 1, got %d", c.Sync.MergeConcurrency)
	}
	if c.Sync.Retry.MaxAttempts < 1 {
		return fmt.Errorf("sync.retry.max_attempts must be at least 1, got %d", c.Sync.Retry.MaxAttempts)
	}
	if c.Sync.Retry.JitterFraction < 0 || c.Sync.Retry.JitterFraction > 1 {
		return fmt.Errorf("sync.retry.jitter_fraction must be between 0.0 and 1.0, got %f", c.Sync.Retry.JitterFraction)
	}
	if c.Sync.Queue.Workers < 1 {
		return fmt.Errorf("sync.queue.workers must be at least 1, got %d", c.Sync.Queue.Workers)
	}
	if c.Sync.Queue.LeaseDuration < time.Minute {
		return fmt.Errorf("sync.queue.lease_duration must be at least 1 minute, got %s", c.Sync.Queue.LeaseDuration)
	}
	if c.Sync.Queue.TaskTimeout >= c.Sync.Queue.LeaseDuration {
		return fmt.Errorf("sync.queue.task_timeout (%s) must be below sync.queue.lease_duration (%s) so a slow pass is cancelled before its task becomes visible again", c.Sync.Queue.TaskTimeout, c.Sync.Queue.LeaseDuration)
	}

	// Validate stream declarations
	for i, s := range c.Sync.Streams {
		if s.OrgID == "" {
			return fmt.Errorf("sync.streams[%d]: org_id is required", i)
		}
		if !validProviders[s.Provider] {
			return fmt.Errorf("sync.streams[%d]: unknown provider %q", i, s.Provider)
		}
		if !validEntities[s.EntityType] {
			return fmt.Errorf("sync.streams[%d]: unknown entity type %q", i, s.EntityType)
		}
		if s.ScopeKind != "" && !validScopeKinds[s.ScopeKind] {
			return fmt.Errorf("sync.streams[%d]: unknown scope kind %q", i, s.ScopeKind)
		}
		if s.ScopeKind == "project" && s.ScopeKey == "" {
			return fmt.Errorf("sync.streams[%d]: project scope requires scope_key", i)
		}
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		// CORS must not use wildcard with credentials
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		// A configured stream without credentials for its provider can
		// only produce permanently failing runs
		for _, s := range c.Sync.Streams {
			if s.Provider == "jira" && (c.Providers.Jira.BaseURL == "" || c.Providers.Jira.APIToken == "") {
				return fmt.Errorf("providers.jira.base_url and api_token are required when a jira stream is configured")
			}
			if s.Provider == "entra" && (c.Providers.Entra.TenantID == "" || c.Providers.Entra.ClientSecret == "") {
				return fmt.Errorf("providers.entra.tenant_id and client_secret are required when an entra stream is configured")
			}
		}
		if c.Storage.Enabled && c.Storage.AccessKeyID == "" && c.Storage.Endpoint != "" {
			return fmt.Errorf("storage.access_key_id is required when a custom storage endpoint is configured")
		}
		// Database tracing: full SQL logging is a security risk in production
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	// Validate telemetry configuration (all environments)
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling.server_address is required when profiling is enabled")
	}
	if c.Profiling.SpanProfiles && !c.Telemetry.Enabled {
		return fmt.Errorf("profiling.span_profiles requires telemetry.enabled")
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
