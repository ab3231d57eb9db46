package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Neo4j          Neo4jConfig          `mapstructure:"neo4j"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Vectorizer     VectorizerConfig     `mapstructure:"vectorizer"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Breaker        BreakerConfig        `mapstructure:"circuit_breaker"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig splits Redis by access pattern: hot for rate limiting, warm for
// job progress, cold for cached catalog vectors.
type RedisConfig struct {
	Hot  RedisInstanceConfig `mapstructure:"hot"`
	Warm RedisInstanceConfig `mapstructure:"warm"`
	Cold RedisInstanceConfig `mapstructure:"cold"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	GroupID    string   `mapstructure:"group_id"`
	MaxRetries int      `mapstructure:"max_retries"`
	Topics     struct {
		MetadataUpdated string `mapstructure:"metadata_updated"`
		DeadLetter      string `mapstructure:"dead_letter"`
	} `mapstructure:"topics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RecommendationConfig struct {
	DefaultLimit         int           `mapstructure:"default_limit"`
	MaxLimit             int           `mapstructure:"max_limit"`
	MaxSelected          int           `mapstructure:"max_selected"`
	DefaultHybridAlpha   float64       `mapstructure:"default_hybrid_alpha"`
	DefaultMinSimilarity float64       `mapstructure:"default_min_similarity"`
	MaxWeightSum         float64       `mapstructure:"max_weight_sum"`
	CandidatePoolCap     int           `mapstructure:"candidate_pool_cap"`
	CandidateMultiplier  int           `mapstructure:"candidate_multiplier"`
	CFLookupLimit        int           `mapstructure:"cf_lookup_limit"`
	ParallelThreshold    int           `mapstructure:"parallel_threshold"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	CacheSweepInterval   time.Duration `mapstructure:"cache_sweep_interval"`
	VectorCacheTTL       time.Duration `mapstructure:"vector_cache_ttl"`
}

type VectorizerConfig struct {
	BatchSize int  `mapstructure:"batch_size"`
	DryRun    bool `mapstructure:"dry_run"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// flagBindings maps config keys to the command-line flags that override them.
var flagBindings = map[string]string{
	"vectorizer.batch_size": "batch-size",
	"vectorizer.dry_run":    "dry-run",
	"logging.level":         "log-level",
}

func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags reads configuration from defaults, an optional config file,
// an optional .env file, environment variables and finally any of the known
// flags present in flags. A "config" flag, when set, names the config file.
func LoadWithFlags(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("app")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional unless named explicitly
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.url", "postgres://localhost:5432/movies?sslmode=disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.hot.url", "localhost:6379")
	v.SetDefault("redis.hot.max_retries", 3)
	v.SetDefault("redis.hot.pool_size", 10)
	v.SetDefault("redis.hot.timeout", "5s")
	v.SetDefault("redis.warm.url", "localhost:6379")
	v.SetDefault("redis.warm.max_retries", 3)
	v.SetDefault("redis.warm.pool_size", 5)
	v.SetDefault("redis.warm.timeout", "10s")
	v.SetDefault("redis.cold.url", "localhost:6379")
	v.SetDefault("redis.cold.max_retries", 3)
	v.SetDefault("redis.cold.pool_size", 5)
	v.SetDefault("redis.cold.timeout", "15s")

	// Neo4j defaults
	v.SetDefault("neo4j.url", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")

	// Kafka defaults
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "simrec-vectorizer")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.topics.metadata_updated", "movie-metadata-updated")
	v.SetDefault("kafka.topics.dead_letter", "movie-metadata-updated-dlq")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Recommendation defaults
	v.SetDefault("recommendation.default_limit", 30)
	v.SetDefault("recommendation.max_limit", 100)
	v.SetDefault("recommendation.max_selected", 10)
	v.SetDefault("recommendation.default_hybrid_alpha", 0.7)
	v.SetDefault("recommendation.default_min_similarity", 0.1)
	v.SetDefault("recommendation.max_weight_sum", 10.0)
	v.SetDefault("recommendation.candidate_pool_cap", 5000)
	v.SetDefault("recommendation.candidate_multiplier", 50)
	v.SetDefault("recommendation.cf_lookup_limit", 1000)
	v.SetDefault("recommendation.parallel_threshold", 512)
	v.SetDefault("recommendation.request_timeout", "5s")
	v.SetDefault("recommendation.cache_ttl", "5m")
	v.SetDefault("recommendation.cache_sweep_interval", "1m")
	v.SetDefault("recommendation.vector_cache_ttl", "1h")

	// Vectorizer defaults
	v.SetDefault("vectorizer.batch_size", 500)
	v.SetDefault("vectorizer.dry_run", false)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", "30s")
	v.SetDefault("circuit_breaker.timeout", "10s")
	v.SetDefault("circuit_breaker.failure_threshold", 5)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})
}
