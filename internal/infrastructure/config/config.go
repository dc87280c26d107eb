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
	HTTP      HTTPConfig
	Storage   StorageConfig
	Import    ImportConfig
	Swagger   SwaggerConfig
	Telemetry TelemetryConfig
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

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	AllowOrigins   []string // CORS whitelist; empty rejects cross-origin requests
}

// StorageConfig selects where uploaded import files are kept
type StorageConfig struct {
	Backend      string // local or s3
	LocalDir     string
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	KeyPrefix    string
}

// ImportConfig tunes the import engine and its worker pool
type ImportConfig struct {
	MaxFileSize         int64
	Workers             int
	QueueBackend        string // memory or redis
	QueueSize           int
	PollInterval        time.Duration
	LeaseDuration       time.Duration
	DefaultStrategy     string
	ParallelWindow      int
	ParallelWorkers     int
	DefaultMaxRetries   int
	PersistenceAttempts int
	PersistenceBackoff  time.Duration
	FieldDelimiter      string
	ValueDelimiter      string
	AttributeStrictness string // strict or lenient
	ErrorThreshold      int
}

// SwaggerConfig holds Swagger documentation endpoint configuration
type SwaggerConfig struct {
	Enabled    bool
	AllowedIPs []string // IPs or CIDR ranges; empty allows everyone
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry tracing
	MetricsEnabled    bool    // Whether to export import metrics over OTLP
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool // Enable database query tracing (otelgorm)
	DBSlowQueryThresh time.Duration
	MetricsInterval   time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with MKT_ prefix (e.g., MKT_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("MKT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			AllowOrigins:   v.GetStringSlice("http.allow_origins"),
		},
		Storage: StorageConfig{
			Backend:      v.GetString("storage.backend"),
			LocalDir:     v.GetString("storage.local_dir"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			KeyPrefix:    v.GetString("storage.key_prefix"),
		},
		Import: ImportConfig{
			MaxFileSize:         v.GetInt64("import.max_file_size"),
			Workers:             v.GetInt("import.workers"),
			QueueBackend:        v.GetString("import.queue_backend"),
			QueueSize:           v.GetInt("import.queue_size"),
			PollInterval:        v.GetDuration("import.poll_interval"),
			LeaseDuration:       v.GetDuration("import.lease_duration"),
			DefaultStrategy:     v.GetString("import.default_strategy"),
			ParallelWindow:      v.GetInt("import.parallel_window"),
			ParallelWorkers:     v.GetInt("import.parallel_workers"),
			DefaultMaxRetries:   v.GetInt("import.default_max_retries"),
			PersistenceAttempts: v.GetInt("import.persistence_attempts"),
			PersistenceBackoff:  v.GetDuration("import.persistence_backoff"),
			FieldDelimiter:      v.GetString("import.field_delimiter"),
			ValueDelimiter:      v.GetString("import.value_delimiter"),
			AttributeStrictness: v.GetString("import.attribute_strictness"),
			ErrorThreshold:      v.GetInt("import.error_threshold"),
		},
		Swagger: SwaggerConfig{
			Enabled:    v.GetBool("swagger.enabled"),
			AllowedIPs: v.GetStringSlice("swagger.allowed_ips"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "marketplace-backend"
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
		cfg.Database.DBName = "marketplace"
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
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "./data/uploads"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}

	if cfg.Import.MaxFileSize == 0 {
		cfg.Import.MaxFileSize = 50 << 20 // 50MB
	}
	if cfg.Import.Workers == 0 {
		cfg.Import.Workers = 4
	}
	if cfg.Import.QueueBackend == "" {
		cfg.Import.QueueBackend = "memory"
	}
	if cfg.Import.QueueSize == 0 {
		cfg.Import.QueueSize = 256
	}
	if cfg.Import.PollInterval == 0 {
		cfg.Import.PollInterval = 30 * time.Second
	}
	if cfg.Import.LeaseDuration == 0 {
		cfg.Import.LeaseDuration = 2 * time.Minute
	}
	if cfg.Import.DefaultStrategy == "" {
		cfg.Import.DefaultStrategy = "sequential"
	}
	if cfg.Import.ParallelWindow == 0 {
		cfg.Import.ParallelWindow = 64
	}
	if cfg.Import.ParallelWorkers == 0 {
		cfg.Import.ParallelWorkers = 8
	}
	if cfg.Import.DefaultMaxRetries == 0 {
		cfg.Import.DefaultMaxRetries = 3
	}
	if cfg.Import.PersistenceAttempts == 0 {
		cfg.Import.PersistenceAttempts = 3
	}
	if cfg.Import.PersistenceBackoff == 0 {
		cfg.Import.PersistenceBackoff = 100 * time.Millisecond
	}
	if cfg.Import.FieldDelimiter == "" {
		cfg.Import.FieldDelimiter = ","
	}
	if cfg.Import.ValueDelimiter == "" {
		cfg.Import.ValueDelimiter = ","
	}
	if cfg.Import.AttributeStrictness == "" {
		cfg.Import.AttributeStrictness = "strict"
	}

	if cfg.HTTP.MaxBodySize == 0 {
		// multipart overhead on top of the largest accepted file
		cfg.HTTP.MaxBodySize = cfg.Import.MaxFileSize + 1<<20
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "marketplace-backend"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
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

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or s3, got %q", c.Storage.Backend)
	}

	if c.Import.QueueBackend != "memory" && c.Import.QueueBackend != "redis" {
		return fmt.Errorf("import.queue_backend must be memory or redis, got %q", c.Import.QueueBackend)
	}
	if c.Import.DefaultStrategy != "sequential" && c.Import.DefaultStrategy != "parallel" {
		return fmt.Errorf("import.default_strategy must be sequential or parallel, got %q", c.Import.DefaultStrategy)
	}
	if c.Import.AttributeStrictness != "strict" && c.Import.AttributeStrictness != "lenient" {
		return fmt.Errorf("import.attribute_strictness must be strict or lenient, got %q", c.Import.AttributeStrictness)
	}
	if c.Import.Workers < 0 || c.Import.ParallelWindow < 0 || c.Import.ParallelWorkers < 0 {
		return fmt.Errorf("import worker and window sizes cannot be negative")
	}
	if c.Import.DefaultMaxRetries < 0 {
		return fmt.Errorf("import.default_max_retries cannot be negative")
	}
	if c.Import.ErrorThreshold < 0 {
		return fmt.Errorf("import.error_threshold cannot be negative")
	}
	if len([]rune(c.Import.FieldDelimiter)) != 1 {
		return fmt.Errorf("import.field_delimiter must be a single character, got %q", c.Import.FieldDelimiter)
	}
	if c.Import.FieldDelimiter == c.Import.ValueDelimiter {
		return fmt.Errorf("import.value_delimiter must differ from import.field_delimiter")
	}
	if c.HTTP.MaxBodySize < c.Import.MaxFileSize {
		return fmt.Errorf("http.max_body_size (%d) cannot be smaller than import.max_file_size (%d)",
			c.HTTP.MaxBodySize, c.Import.MaxFileSize)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Swagger.Enabled {
			return fmt.Errorf("swagger must be disabled in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
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

// URL returns the connection URL golang-migrate expects
func (d *DatabaseConfig) URL() string {
	return d.DSN()
}

// Addr returns the host:port address of the Redis server
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
