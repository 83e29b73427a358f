package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the application's configuration values.
// Tags like `envconfig:"APP_PORT"` name the environment variable and
// `default:""` applies when it is unset.
type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"development"` // development, staging, production
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`      // debug, info, warn, error
	ServiceName string `envconfig:"SERVICE_NAME" default:"classifieds-catalog"`
	HttpServer  ServerConfig
	GrpcServer  GrpcServerConfig
	Postgres    PostgresConfig
	Search      SearchConfig
	Redis       RedisConfig
	Outbox      OutboxConfig
	Listings    ListingsConfig
	Metrics     MetricsConfig
	Tracing     TracingConfig
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port           string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead    time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite   time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"15s"`
	TimeoutIdle    time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
	RequestTimeout time.Duration `envconfig:"HTTP_SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// GrpcServerConfig holds the port of the gRPC health endpoint.
type GrpcServerConfig struct {
	Port string `envconfig:"GRPC_SERVER_PORT" default:"9090"`
}

// PostgresConfig holds PostgreSQL database connection details.
type PostgresConfig struct {
	Host            string        `envconfig:"POSTGRES_HOST" required:"true"`
	Port            string        `envconfig:"POSTGRES_PORT" default:"5432"`
	User            string        `envconfig:"POSTGRES_USER" required:"true"`
	Password        string        `envconfig:"POSTGRES_PASSWORD" required:"true"`
	DBName          string        `envconfig:"POSTGRES_DBNAME" required:"true"`
	SSLMode         string        `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"25"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"5m"`
	Migrate         bool          `envconfig:"POSTGRES_MIGRATE" default:"true"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

const (
	SearchBackendElastic = "elastic"
	SearchBackendMemory  = "memory"
)

// SearchConfig selects and configures the search index.
type SearchConfig struct {
	Backend   string        `envconfig:"SEARCH_BACKEND" default:"elastic"`
	Addresses []string      `envconfig:"ELASTICSEARCH_ADDRESSES" default:"http://localhost:9200"`
	Username  string        `envconfig:"ELASTICSEARCH_USERNAME"`
	Password  string        `envconfig:"ELASTICSEARCH_PASSWORD"`
	Index     string        `envconfig:"ELASTICSEARCH_INDEX" default:"listings"`
	Timeout   time.Duration `envconfig:"SEARCH_TIMEOUT" default:"5s"`
}

// RedisConfig configures the read-path cache.
type RedisConfig struct {
	Enabled           bool          `envconfig:"CACHE_ENABLED" default:"true"`
	Addr              string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password          string        `envconfig:"REDIS_PASSWORD"`
	DB                int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix         string        `envconfig:"CACHE_KEY_PREFIX" default:"catalog:"`
	Timeout           time.Duration `envconfig:"CACHE_TIMEOUT" default:"200ms"`
	ActiveListingsTTL time.Duration `envconfig:"CACHE_ACTIVE_LISTINGS_TTL" default:"300s"`
}

// OutboxConfig tunes the search outbox relay.
type OutboxConfig struct {
	PollInterval  time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	BatchSize     int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	RetryBase     time.Duration `envconfig:"OUTBOX_RETRY_BASE" default:"200ms"`
	MaxRetries    uint64        `envconfig:"OUTBOX_MAX_RETRIES" default:"3"`
	MaxRetryDelay time.Duration `envconfig:"OUTBOX_MAX_RETRY_DELAY" default:"5m"`
	Retention     time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
}

// ListingsConfig holds listing lifecycle settings.
type ListingsConfig struct {
	DefaultLifetime time.Duration `envconfig:"LISTING_DEFAULT_LIFETIME" default:"720h"`
	CleanupSchedule string        `envconfig:"CLEANUP_SCHEDULE" default:"@daily"`
}

type MetricsConfig struct {
	Port      string `envconfig:"METRICS_PORT" default:"9100"`
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"classifieds_catalog"`
}

// TracingConfig enables OTLP export when Endpoint is set.
type TracingConfig struct {
	Endpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file and then the environment. It reports
// whether a .env file was loaded so the caller can log it.
func Load() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, dotenv, fmt.Errorf("failed to process configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, dotenv, err
	}
	return &cfg, dotenv, nil
}

func (c *Config) validate() error {
	switch c.Search.Backend {
	case SearchBackendElastic, SearchBackendMemory:
	default:
		return fmt.Errorf("invalid SEARCH_BACKEND %q: want %s or %s", c.Search.Backend, SearchBackendElastic, SearchBackendMemory)
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("invalid OUTBOX_BATCH_SIZE %d: must be positive", c.Outbox.BatchSize)
	}
	if c.Listings.DefaultLifetime < 0 {
		return fmt.Errorf("invalid LISTING_DEFAULT_LIFETIME %s: must not be negative", c.Listings.DefaultLifetime)
	}
	return nil
}
