package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "LECTURE_NOTES_CONFIG"
	logLevelEnv        = "LOG_LEVEL"
	databaseDSNEnv     = "DATABASE_DSN"
	redisAddrEnv       = "REDIS_ADDR"
	redisPasswordEnv   = "REDIS_PASSWORD"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	openAIBaseURLEnv   = "OPENAI_BASE_URL"
	mlEndpointEnv      = "ML_ENDPOINT"
	mlAPIKeyEnv        = "ML_API_KEY"
	tracingEndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"
	chunkSummariesEnv  = "PIPELINE_SUMMARIZE_ON_CHUNK"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Registry RegistryConfig `yaml:"registry"`
	Backends BackendsConfig `yaml:"backends"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// RegistryConfig selects where job records live.
type RegistryConfig struct {
	Driver   string         `yaml:"driver" validate:"oneof=memory postgres redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig describes Postgres connection details.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table" validate:"required"`
}

// RedisConfig describes the Redis job store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix" validate:"required"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// BackendsConfig selects the STT/captioning/summarization provider.
type BackendsConfig struct {
	Provider string       `yaml:"provider" validate:"oneof=openai ml"`
	OpenAI   OpenAIConfig `yaml:"openai"`
	ML       MLConfig     `yaml:"ml"`
}

// OpenAIConfig defines how to contact OpenAI-compatible APIs.
type OpenAIConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	APIKey         string `yaml:"apiKey"`
	STTModel       string `yaml:"sttModel" validate:"required"`
	VisionModel    string `yaml:"visionModel" validate:"required"`
	SummaryModel   string `yaml:"summaryModel" validate:"required"`
	Language       string `yaml:"language"`
	NoteLanguage   string `yaml:"noteLanguage"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes" validate:"gt=0"`
}

// MLConfig describes a self-hosted inference service.
type MLConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	Bands              BandsConfig     `yaml:"bands"`
	Preamble           string          `yaml:"preamble" validate:"oneof=first drop sentinel"`
	BackendTimeout     time.Duration   `yaml:"backendTimeout" validate:"gt=0"`
	Retry              RetryConfig     `yaml:"retry"`
	Breaker            BreakerConfig   `yaml:"breaker"`
	Segmenter          SegmenterConfig `yaml:"segmenter"`
	CaptionConcurrency int             `yaml:"captionConcurrency" validate:"gte=1"`
	SummaryConcurrency int             `yaml:"summaryConcurrency" validate:"gte=1"`
	SummarizeOnChunk   bool            `yaml:"summarizeOnChunk"`
	SessionIdleTimeout time.Duration   `yaml:"sessionIdleTimeout" validate:"gte=0"`
	ReaperInterval     time.Duration   `yaml:"reaperInterval" validate:"gt=0"`
}

// BandsConfig holds the progress value at which each batch stage starts.
type BandsConfig struct {
	Extract   int `yaml:"extract" validate:"gte=0,lte=100"`
	Caption   int `yaml:"caption" validate:"gte=0,lte=100"`
	Map       int `yaml:"map" validate:"gte=0,lte=100"`
	Summarize int `yaml:"summarize" validate:"gte=0,lte=100"`
	Done      int `yaml:"done" validate:"gte=0,lte=100"`
}

// RetryConfig bounds exponential backoff for backend calls.
type RetryConfig struct {
	MaxAttempts     uint          `yaml:"maxAttempts" validate:"gte=1"`
	InitialInterval time.Duration `yaml:"initialInterval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"maxInterval" validate:"gt=0"`
}

// BreakerConfig configures the per-backend circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"maxRequests"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	MinRequests  uint32        `yaml:"minRequests"`
	FailureRatio float64       `yaml:"failureRatio" validate:"gt=0,lte=1"`
}

// SegmenterConfig sizes batch transcript segments.
type SegmenterConfig struct {
	MinChars int     `yaml:"minChars" validate:"gte=0"`
	MaxChars int     `yaml:"maxChars" validate:"gt=0"`
	PauseGap float64 `yaml:"pauseGap" validate:"gte=0"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"serviceName" validate:"required"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
}

// Load reads YAML configuration from $LECTURE_NOTES_CONFIG (if set),
// applies environment overrides and validates the result.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(configPathEnv))
}

// LoadFrom is Load with an explicit config file path; an empty path means
// defaults plus environment.
func LoadFrom(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			fileCfg := defaultConfig()
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = fileCfg
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates it.
func Parse(raw []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: field %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	b := c.Pipeline.Bands
	if !(b.Extract <= b.Caption && b.Caption <= b.Map && b.Map <= b.Summarize && b.Summarize <= b.Done) {
		return fmt.Errorf("config: progress bands must be non-decreasing, got %d/%d/%d/%d/%d",
			b.Extract, b.Caption, b.Map, b.Summarize, b.Done)
	}
	if c.Pipeline.Segmenter.MinChars > c.Pipeline.Segmenter.MaxChars {
		return fmt.Errorf("config: segmenter minChars %d exceeds maxChars %d",
			c.Pipeline.Segmenter.MinChars, c.Pipeline.Segmenter.MaxChars)
	}

	switch c.Registry.Driver {
	case "postgres":
		if c.Registry.Postgres.DSN == "" {
			return fmt.Errorf("config: registry.postgres.dsn is required for the postgres driver")
		}
	case "redis":
		if c.Registry.Redis.Addr == "" {
			return fmt.Errorf("config: registry.redis.addr is required for the redis driver")
		}
	}

	if c.Backends.Provider == "ml" && c.Backends.ML.Endpoint == "" {
		return fmt.Errorf("config: backends.ml.endpoint is required for the ml provider")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Registry.Postgres.DSN = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Registry.Redis.Addr = v
	}

	if v := os.Getenv(redisPasswordEnv); v != "" {
		c.Registry.Redis.Password = v
	}

	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.Backends.OpenAI.APIKey = v
	}

	if v := os.Getenv(openAIBaseURLEnv); v != "" {
		c.Backends.OpenAI.BaseURL = v
	}

	if v := os.Getenv(mlEndpointEnv); v != "" {
		c.Backends.ML.Endpoint = v
	}

	if v := os.Getenv(mlAPIKeyEnv); v != "" {
		c.Backends.ML.APIKey = v
	}

	if v := os.Getenv(tracingEndpointEnv); v != "" {
		c.Tracing.Endpoint = v
	}

	if v := os.Getenv(chunkSummariesEnv); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.SummarizeOnChunk = b
		}
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Registry: RegistryConfig{
			Driver:   "memory",
			Postgres: PostgresConfig{Table: "lecture_jobs"},
			Redis:    RedisConfig{Prefix: "lecturenotes:job:", TTL: 72 * time.Hour},
		},
		Backends: BackendsConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				STTModel:       "whisper-1",
				VisionModel:    "gpt-4o",
				SummaryModel:   "gpt-4o",
				NoteLanguage:   "English",
				MaxUploadBytes: 24 << 20,
			},
		},
		Pipeline: PipelineConfig{
			Bands:          BandsConfig{Extract: 0, Caption: 30, Map: 60, Summarize: 70, Done: 100},
			Preamble:       "first",
			BackendTimeout: 2 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			Breaker: BreakerConfig{
				MaxRequests:  1,
				Interval:     time.Minute,
				Timeout:      30 * time.Second,
				MinRequests:  5,
				FailureRatio: 0.6,
			},
			Segmenter:          SegmenterConfig{MinChars: 200, MaxChars: 2000, PauseGap: 1.5},
			CaptionConcurrency: 4,
			SummaryConcurrency: 4,
			SessionIdleTimeout: 30 * time.Minute,
			ReaperInterval:     time.Minute,
		},
		Tracing: TracingConfig{ServiceName: "lecturenotes", SamplingRate: 1},
	}
}
