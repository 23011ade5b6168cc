// Package config loads service settings. Order of precedence, lowest first:
// built-in defaults, the YAML file named by COACH_CONFIG, then environment
// variables (a .env file in the working directory is loaded first).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"call-coach-go/internal/chunker"
)

// PromptReserve is the context kept free for instructions, rubric and reply.
const PromptReserve = 4000

type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`

	Transcript TranscriptConfig `yaml:"transcript"`
	LLM        LLMConfig        `yaml:"llm"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Pools      PoolConfig       `yaml:"pools"`
	Cache      CacheConfig      `yaml:"cache"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Cassandra  CassandraConfig  `yaml:"cassandra"`
	Kafka      KafkaConfig      `yaml:"kafka"`

	RubricPath string `yaml:"rubric_path"`
}

type TranscriptConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	Mock    bool          `yaml:"mock"`
}

type LLMConfig struct {
	GatewayURL  string        `yaml:"gateway_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Mock        bool          `yaml:"mock"`
}

type ChunkingConfig struct {
	// ContextWindow of the reasoning model in tokens; zero uses the built-in table.
	ContextWindow   int     `yaml:"context_window"`
	OverlapFraction float64 `yaml:"overlap_fraction"`
	TokenizerPath   string  `yaml:"tokenizer_path"`
}

type PoolConfig struct {
	Analyzer      int           `yaml:"analyzer"`
	Dispatch      int           `yaml:"dispatch"`
	FanoutTimeout time.Duration `yaml:"fanout_timeout"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

type CacheConfig struct {
	// Backend is "redis" or "memory".
	Backend  string        `yaml:"backend"`
	TTL      time.Duration `yaml:"ttl"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

type LedgerConfig struct {
	// Backend is "redis", "postgres", "cassandra" or "memory".
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type CassandraConfig struct {
	Hosts    []string `yaml:"hosts"`
	Keyspace string   `yaml:"keyspace"`
}

type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Principal string   `yaml:"principal"`
}

func Defaults() Config {
	return Config{
		Port:        "8080",
		Environment: "local",
		Transcript:  TranscriptConfig{Timeout: 12 * time.Second},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
		},
		Chunking: ChunkingConfig{OverlapFraction: chunker.DefaultOverlapFraction},
		Pools: PoolConfig{
			Analyzer:      16,
			Dispatch:      8,
			FanoutTimeout: 5 * time.Minute,
			CallTimeout:   10 * time.Minute,
		},
		Cache:      CacheConfig{Backend: "memory", TTL: 30 * 24 * time.Hour, LeaseTTL: 2 * time.Minute},
		Ledger:     LedgerConfig{Backend: "memory"},
		Redis:      RedisConfig{Addr: "localhost:6379"},
		Cassandra:  CassandraConfig{Keyspace: "call_coach"},
		Kafka:      KafkaConfig{Topic: "call-analysis", Principal: "call-coach-go"},
		RubricPath: "rubrics.yaml",
	}
}

// Load builds the Config. A missing .env file is not an error; a missing
// COACH_CONFIG file is.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("COACH_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(c *Config) {
	c.Port = envOr("PORT", c.Port)
	c.Environment = envOr("ENVIRONMENT", c.Environment)

	c.Transcript.BaseURL = envOr("TRANSCRIPT_API_URL", c.Transcript.BaseURL)
	c.Transcript.APIKey = envOr("TRANSCRIPT_API_KEY", c.Transcript.APIKey)
	c.Transcript.Mock = envBool("USE_MOCK_TRANSCRIPT", c.Transcript.Mock)

	c.LLM.GatewayURL = envOr("LLM_GATEWAY_URL", c.LLM.GatewayURL)
	c.LLM.APIKey = envOr("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = envOr("LLM_MODEL", c.LLM.Model)
	c.LLM.Timeout = envDuration("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.Mock = envBool("USE_MOCK_LLM", c.LLM.Mock)

	c.Chunking.TokenizerPath = envOr("TOKENIZER_PATH", c.Chunking.TokenizerPath)

	c.Pools.Analyzer = envInt("ANALYZER_POOL_SIZE", c.Pools.Analyzer)
	c.Pools.Dispatch = envInt("DISPATCH_POOL_SIZE", c.Pools.Dispatch)
	c.Pools.FanoutTimeout = envDuration("FANOUT_TIMEOUT", c.Pools.FanoutTimeout)

	c.Cache.Backend = envOr("CACHE_BACKEND", c.Cache.Backend)
	c.Ledger.Backend = envOr("LEDGER_BACKEND", c.Ledger.Backend)

	c.Redis.Addr = envOr("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOr("REDIS_PASSWORD", c.Redis.Password)
	c.Postgres.DSN = envOr("POSTGRES_DSN", c.Postgres.DSN)
	if v := os.Getenv("CASSANDRA_HOSTS"); v != "" {
		c.Cassandra.Hosts = splitList(v)
	}

	c.Kafka.Enabled = envBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	c.Kafka.Topic = envOr("KAFKA_TOPIC", c.Kafka.Topic)

	c.RubricPath = envOr("RUBRIC_PATH", c.RubricPath)
}

func (c Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Ledger.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres ledger needs POSTGRES_DSN")
		}
	case "cassandra":
		if len(c.Cassandra.Hosts) == 0 {
			return fmt.Errorf("cassandra ledger needs CASSANDRA_HOSTS")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Pools.Analyzer <= 0 || c.Pools.Dispatch <= 0 {
		return fmt.Errorf("pool sizes must be positive")
	}
	if c.Chunking.OverlapFraction < 0 || c.Chunking.OverlapFraction >= 1 {
		return fmt.Errorf("overlap_fraction must be in [0, 1)")
	}
	if c.Chunking.ContextWindow != 0 && c.Chunking.ContextWindow <= PromptReserve {
		return fmt.Errorf("context_window must exceed the %d token prompt reserve, got %d", PromptReserve, c.Chunking.ContextWindow)
	}
	if !c.LLM.Mock && c.LLM.GatewayURL == "" {
		return fmt.Errorf("LLM_GATEWAY_URL is required unless USE_MOCK_LLM=true")
	}
	if !c.Transcript.Mock && c.Transcript.BaseURL == "" {
		return fmt.Errorf("TRANSCRIPT_API_URL is required unless USE_MOCK_TRANSCRIPT=true")
	}
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
