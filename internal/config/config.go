package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Backend drivers understood by the composition root.
const (
	DriverMongo     = "mongo"
	DriverReindexer = "reindexer"
	DriverSQL       = "sql"
	DriverDatastore = "datastore"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Reindexer   ReindexerConfig   `mapstructure:"reindexer"`
	SQL         SQLConfig         `mapstructure:"sql"`
	Datastore   DatastoreConfig   `mapstructure:"datastore"`
	Events      EventsConfig      `mapstructure:"events"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig controls pkg/logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// BackendConfig selects the persistence driver behind every collection.
type BackendConfig struct {
	Driver     string `mapstructure:"driver"`
	Timestamps bool   `mapstructure:"timestamps"`
}

// MongoConfig contains MongoDB connection settings
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ReindexerConfig contains Reindexer database configuration
type ReindexerConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// SQLConfig points the gorm backend at a SQLite database.
type SQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DatastoreConfig configures the key-value backend. An empty path keeps
// everything in memory; otherwise badger stores it on disk.
type DatastoreConfig struct {
	Path string `mapstructure:"path"`
}

// EventsConfig configures the event hub.
type EventsConfig struct {
	Async          bool `mapstructure:"async"`
	Workers        int  `mapstructure:"workers"`
	QueueSize      int  `mapstructure:"queue_size"`
	LegacyOrdering bool `mapstructure:"legacy_ordering"`
}

// AuditConfig configures the event log subscriber.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// CacheConfig contains cache configuration
type CacheConfig struct {
	Shards int `mapstructure:"shards"`
	TTL    int `mapstructure:"ttl"` // TTL in seconds
}

// ConcurrencyConfig contains concurrency settings
type ConcurrencyConfig struct {
	HTTPMaxWorkers   int `mapstructure:"http_max_workers"`
	MaxConcurrentOps int `mapstructure:"max_concurrent_ops"`
}

// Get returns the loaded configuration, or nil before Load succeeded.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Load reads configuration from file and environment variables and
// installs it as the current instance.
func Load(configPath string) error {
	cfg, err := Read(configPath)
	if err != nil {
		return err
	}

	mu.Lock()
	instance = cfg
	mu.Unlock()
	return nil
}

// Read builds a Config from defaults, an optional YAML file and APP_*
// environment variables without installing it.
func Read(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default configuration values. Every key needs a default
// so that AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.encoding", "")

	v.SetDefault("backend.driver", DriverDatastore)
	v.SetDefault("backend.timestamps", true)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "recordhub")
	v.SetDefault("mongo.connect_timeout", 10*time.Second)

	v.SetDefault("reindexer.dsn", "cproto://localhost:6534/recordhub")
	v.SetDefault("reindexer.max_connections", 10)

	v.SetDefault("sql.dsn", "recordhub.db")

	v.SetDefault("datastore.path", "")

	v.SetDefault("events.async", true)
	v.SetDefault("events.workers", 4)
	v.SetDefault("events.queue_size", 256)
	v.SetDefault("events.legacy_ordering", false)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.dsn", "recordhub-audit.db")

	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.ttl", 900)

	v.SetDefault("concurrency.http_max_workers", 100)
	v.SetDefault("concurrency.max_concurrent_ops", 32)
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}

	switch cfg.Backend.Driver {
	case DriverMongo:
		if cfg.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required")
		}
		if cfg.Mongo.Database == "" {
			return fmt.Errorf("mongo.database is required")
		}
	case DriverReindexer:
		if cfg.Reindexer.DSN == "" {
			return fmt.Errorf("reindexer.dsn is required")
		}
		if cfg.Reindexer.MaxConnections < 1 {
			return fmt.Errorf("reindexer.max_connections must be at least 1")
		}
	case DriverSQL:
		if cfg.SQL.DSN == "" {
			return fmt.Errorf("sql.dsn is required")
		}
	case DriverDatastore:
	default:
		return fmt.Errorf("backend.driver %q is not supported", cfg.Backend.Driver)
	}

	if cfg.Events.Async {
		if cfg.Events.Workers < 1 {
			return fmt.Errorf("events.workers must be at least 1")
		}
		if cfg.Events.QueueSize < 1 {
			return fmt.Errorf("events.queue_size must be at least 1")
		}
	}

	if cfg.Audit.Enabled && cfg.Audit.DSN == "" {
		return fmt.Errorf("audit.dsn is required when audit is enabled")
	}

	if cfg.Cache.Shards < 1 {
		return fmt.Errorf("cache.shards must be at least 1")
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be non-negative")
	}

	if cfg.Concurrency.HTTPMaxWorkers < 1 {
		return fmt.Errorf("concurrency.http_max_workers must be at least 1")
	}
	if cfg.Concurrency.MaxConcurrentOps < 1 {
		return fmt.Errorf("concurrency.max_concurrent_ops must be at least 1")
	}

	return nil
}

// Reload re-reads the configuration and swaps the current instance only
// when the new one is valid.
func Reload(configPath string) error {
	return Load(configPath)
}
