package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"fern"`
	Port               int    `env:"PORT" env-default:"3000"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"movies_database"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10m"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Elasticsearch URLs (comma-separated)
	ElasticURLs string `env:"ELASTIC_URLS" env-default:"http://localhost:9200"`
	// Elasticsearch index receiving film documents
	ElasticIndex string `env:"ELASTIC_INDEX" env-default:"movies"`
	// Enable client-side node sniffing
	ElasticSniff bool `env:"ELASTIC_SNIFF" env-default:"false"`

	// Sync settings
	// Ids per extraction/cascade/enrich query
	SyncChunkSize int `env:"SYNC_CHUNK_SIZE" env-default:"1000"`
	// Documents per bulk request
	SearchChunkSize int `env:"SEARCH_CHUNK_SIZE" env-default:"1000"`
	// Daemon sleep between cycles
	SyncInterval time.Duration `env:"SYNC_INTERVAL" env-default:"60s"`
	// Deadline per kind sync (0 disables)
	SyncQueryTimeout time.Duration `env:"SYNC_QUERY_TIMEOUT" env-default:"0s"`
	// Retry a failed kind sync with backoff
	SyncRetryEnabled bool `env:"SYNC_RETRY_ENABLED" env-default:"false"`

	// Watermark backend: file, redis or postgres
	WatermarkBackend string `env:"WATERMARK_BACKEND" env-default:"file"`
	// Directory holding <kind>.state files for the file backend
	WatermarkDir string `env:"WATERMARK_DIR" env-default:"state"`
	// Key prefix for the redis backend
	WatermarkKeyPrefix string `env:"WATERMARK_KEY_PREFIX" env-default:"fern:watermark:"`

	// Redis
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	// Hold a per-kind lock while syncing
	SyncLockEnabled bool          `env:"SYNC_LOCK_ENABLED" env-default:"false"`
	SyncLockTTL     time.Duration `env:"SYNC_LOCK_TTL" env-default:"10m"`

	// Kafka sync notifications
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Topic receiving one event per completed kind sync
	KafkaSyncTopic string `env:"KAFKA_SYNC_TOPIC" env-default:"fern.sync"`

	// Tracing settings
	OTLPEnabled  bool   `env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `env:"OTLP_INSECURE" env-default:"true"`
}

var ErrMissingConfig = errors.New("missing configuration")

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// a missing .env file is fine; the environment may be set directly
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// ValidateDatabase reports a missing relational store configuration.
func (c *Config) ValidateDatabase() error {
	if c.DatabaseHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingConfig)
	}
	if c.DatabaseUserName == "" {
		return fmt.Errorf("%w: DB_USER_NAME", ErrMissingConfig)
	}
	return nil
}

// ValidateSync reports missing settings required by the incremental pipeline.
func (c *Config) ValidateSync() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.ElasticURLs == "" {
		return fmt.Errorf("%w: ELASTIC_URLS", ErrMissingConfig)
	}
	switch c.WatermarkBackend {
	case "file":
		if c.WatermarkDir == "" {
			return fmt.Errorf("%w: WATERMARK_DIR", ErrMissingConfig)
		}
	case "redis":
		if !c.RedisEnabled {
			return fmt.Errorf("%w: REDIS_ENABLED must be true for the redis watermark backend", ErrMissingConfig)
		}
	case "postgres":
	default:
		return fmt.Errorf("unknown WATERMARK_BACKEND %q", c.WatermarkBackend)
	}
	if c.SyncLockEnabled && !c.RedisEnabled {
		return fmt.Errorf("%w: REDIS_ENABLED must be true when SYNC_LOCK_ENABLED is set", ErrMissingConfig)
	}
	if c.SyncChunkSize <= 0 || c.SearchChunkSize <= 0 {
		return errors.New("chunk sizes must be positive")
	}
	return nil
}

// DatabaseDSN returns the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}
