package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	// Pipeline tuning
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Link resolution
	Resolver ResolverConfig `mapstructure:"resolver"`

	// Product metadata API
	Metadata MetadataConfig `mapstructure:"metadata"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Port           int    `mapstructure:"port"`
	Retention      string `mapstructure:"retention"`
	ScrapeInterval string `mapstructure:"scrape_interval"`
	Target         string `mapstructure:"target"`
}

// PipelineConfig tunes the mention counting pipeline. Zero values are
// replaced by defaults in ApplyDefaults.
type PipelineConfig struct {
	// BatchCapacity is the mention ingestor batch size.
	BatchCapacity int `mapstructure:"batch_capacity"`
	// ProductMinCount gates durable promotion of product counters.
	ProductMinCount int64 `mapstructure:"product_min_count"`
	// PosterMinCount gates durable promotion of poster counters.
	PosterMinCount int64 `mapstructure:"poster_min_count"`
	// TopCount is how many ranking entries are materialized per run.
	TopCount int `mapstructure:"top_count"`
	// MaxEnrichRetries bounds metadata enrichment attempts per snapshot.
	MaxEnrichRetries int `mapstructure:"max_enrich_retries"`
	// SpamCountLimit is the poster mention count that triggers a ban.
	SpamCountLimit int64 `mapstructure:"spam_count_limit"`
	// SweepPageSize bounds rows deleted per sweeper invocation.
	SweepPageSize int `mapstructure:"sweep_page_size"`
	// FlushInterval is how often dirty counters are flushed to Postgres.
	FlushInterval string `mapstructure:"flush_interval"`
}

type ResolverConfig struct {
	// FetchDeadline is the per-URL deadline of the HEAD fetch.
	FetchDeadline string `mapstructure:"fetch_deadline"`
	// StoreRoots overrides the default set of recognized store roots.
	StoreRoots []string `mapstructure:"store_roots"`
}

type MetadataConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	// MinInterval is the self-imposed spacing between lookup calls.
	MinInterval string `mapstructure:"min_interval"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Pipeline.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset pipeline knobs with production defaults.
func (c *PipelineConfig) ApplyDefaults() {
	if c.BatchCapacity <= 0 {
		c.BatchCapacity = 20
	}
	if c.ProductMinCount <= 0 {
		c.ProductMinCount = 5
	}
	if c.PosterMinCount <= 0 {
		c.PosterMinCount = 15
	}
	if c.TopCount <= 0 {
		c.TopCount = 100
	}
	if c.MaxEnrichRetries <= 0 {
		c.MaxEnrichRetries = 5
	}
	if c.SpamCountLimit <= 0 {
		c.SpamCountLimit = 30
	}
	if c.SweepPageSize <= 0 {
		c.SweepPageSize = 200
	}
	if c.FlushInterval == "" {
		c.FlushInterval = "5m"
	}
}

// FlushEvery parses FlushInterval, falling back to five minutes.
func (c PipelineConfig) FlushEvery() time.Duration {
	d, err := time.ParseDuration(c.FlushInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// Deadline parses FetchDeadline, falling back to five seconds.
func (c ResolverConfig) Deadline() time.Duration {
	d, err := time.ParseDuration(c.FetchDeadline)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Spacing parses MinInterval, falling back to one second.
func (c MetadataConfig) Spacing() time.Duration {
	d, err := time.ParseDuration(c.MinInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

func bindEnvVars(v *viper.Viper) {
	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
	v.BindEnv("prometheus.retention", "PROM_RETENTION")
	v.BindEnv("prometheus.scrape_interval", "PROM_SCRAPE_INTERVAL")
	v.BindEnv("prometheus.target", "PROM_TARGET")

	// External services
	v.BindEnv("metadata.endpoint", "METADATA_ENDPOINT")
}
