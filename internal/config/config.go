package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Snippets  SnippetConfig   `yaml:"snippets" mapstructure:"snippets"`
	Guides    GuideConfig     `yaml:"guides" mapstructure:"guides"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Temporal  TemporalConfig  `yaml:"temporal" mapstructure:"temporal"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CacheConfig selects the extraction cache backend: memory, redis, store or none.
type CacheConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
}

// RedisConfig configures the Redis extraction cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	// TTLHours of 0 keeps entries until evicted by Redis itself.
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// AnthropicConfig holds Anthropic API settings for the extraction oracle.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	// BreakerFailures is the consecutive failure count that opens the circuit.
	BreakerFailures int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldown int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// SnippetConfig configures audit snippet rendering and storage.
type SnippetConfig struct {
	Enabled      bool        `yaml:"enabled" mapstructure:"enabled"`
	PdfToPPMPath string      `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	DPI          int         `yaml:"dpi" mapstructure:"dpi"`
	Storage      string      `yaml:"storage" mapstructure:"storage"`
	Dir          string      `yaml:"dir" mapstructure:"dir"`
	Minio        MinioConfig `yaml:"minio" mapstructure:"minio"`
}

// MinioConfig configures S3-compatible snippet storage.
type MinioConfig struct {
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey  string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey  string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket     string `yaml:"bucket" mapstructure:"bucket"`
	Region     string `yaml:"region" mapstructure:"region"`
	UseSSL     bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	ExpireDays int    `yaml:"expire_days" mapstructure:"expire_days"`
}

// GuideConfig configures where company guides are loaded from.
type GuideConfig struct {
	Source      string `yaml:"source" mapstructure:"source"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	NotionToken string `yaml:"notion_token" mapstructure:"notion_token"`
	NotionDB    string `yaml:"notion_db" mapstructure:"notion_db"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	MaxConcurrentExtractions int     `yaml:"max_concurrent_extractions" mapstructure:"max_concurrent_extractions"`
	Tolerance                float64 `yaml:"tolerance" mapstructure:"tolerance"`
}

// FetchConfig configures remote file downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBytes    int64   `yaml:"max_bytes" mapstructure:"max_bytes"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// TemporalConfig configures the durable worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RequestTimeout int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FINRECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "finrecon.db")
	v.SetDefault("cache.backend", "store")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "finrecon:extraction:")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.rate_limit", 2.0)
	v.SetDefault("anthropic.max_attempts", 3)
	v.SetDefault("anthropic.breaker_failures", 5)
	v.SetDefault("anthropic.breaker_cooldown_secs", 30)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_ocr_model", "mistral-ocr-latest")
	v.SetDefault("snippets.enabled", true)
	v.SetDefault("snippets.pdftoppm_path", "pdftoppm")
	v.SetDefault("snippets.dpi", 110)
	v.SetDefault("snippets.storage", "file")
	v.SetDefault("snippets.dir", "snippets")
	v.SetDefault("snippets.minio.bucket", "finrecon-snippets")
	v.SetDefault("snippets.minio.region", "us-east-1")
	v.SetDefault("snippets.minio.expire_days", 7)
	v.SetDefault("guides.source", "file")
	v.SetDefault("guides.dir", "guides")
	v.SetDefault("ingest.max_concurrent_extractions", 4)
	v.SetDefault("ingest.tolerance", 1e-6)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_bytes", 100<<20)
	v.SetDefault("fetch.rate_limit", 5.0)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "finrecon-ingest")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 600)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "ingest", "serve", "worker":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
		if c.Ingest.MaxConcurrentExtractions < 1 || c.Ingest.MaxConcurrentExtractions > 64 {
			return eris.New("config: ingest.max_concurrent_extractions must be between 1 and 64")
		}
		if c.Ingest.Tolerance < 0 {
			return eris.New("config: ingest.tolerance must be >= 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			return eris.New("config: server.port must be > 0")
		}
		if mode == "worker" && c.Temporal.TaskQueue == "" {
			missing = append(missing, "temporal.task_queue")
		}
		if c.Cache.Backend == "redis" && c.Redis.Addr == "" {
			missing = append(missing, "redis.addr")
		}
		if c.Snippets.Enabled && c.Snippets.Storage == "minio" {
			if c.Snippets.Minio.Endpoint == "" {
				missing = append(missing, "snippets.minio.endpoint")
			}
			if c.Snippets.Minio.Bucket == "" {
				missing = append(missing, "snippets.minio.bucket")
			}
		}
		if c.Guides.Source == "notion" && (c.Guides.NotionToken == "" || c.Guides.NotionDB == "") {
			missing = append(missing, "guides.notion_token", "guides.notion_db")
		}
	case "migrate", "facts":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
