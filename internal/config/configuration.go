package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int    `mapstructure:"WEBSERVER_PORT"`
	LogFormat     string `mapstructure:"LOG_FORMAT" validate:"oneof=json text"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Storage Configuration
	SpoolDir string `mapstructure:"SPOOL_DIR"`

	// Worker pool
	WorkerConcurrency   int           `mapstructure:"WORKER_CONCURRENCY" validate:"min=1"`
	JobRetention        time.Duration `mapstructure:"JOB_RETENTION"`
	JobHeartbeatTimeout time.Duration `mapstructure:"JOB_HEARTBEAT_TIMEOUT"`

	// Rate limiting
	RateLimitEnabled  bool          `mapstructure:"RATE_LIMIT_ENABLED"`
	RateLimitRequests int           `mapstructure:"RATE_LIMIT_REQUESTS" validate:"min=1"`
	RateLimitPeriod   time.Duration `mapstructure:"RATE_LIMIT_PERIOD"`

	// Result cache TTLs. Zero disables caching for that kind.
	CacheMaxEntries     int           `mapstructure:"CACHE_MAX_ENTRIES"`
	CacheTTLDownload    time.Duration `mapstructure:"CACHE_TTL_DOWNLOAD"`
	CacheTTLProcess     time.Duration `mapstructure:"CACHE_TTL_PROCESS"`
	CacheTTLVectorIndex time.Duration `mapstructure:"CACHE_TTL_VECTOR_INDEX"`
	CacheTTLSearch      time.Duration `mapstructure:"CACHE_TTL_SEARCH"`

	// Webhooks
	WebhookEnabled     bool          `mapstructure:"WEBHOOK_ENABLED"`
	WebhookTimeout     time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookMaxAttempts int           `mapstructure:"WEBHOOK_MAX_ATTEMPTS" validate:"min=1"`
	WebhookBackoffBase time.Duration `mapstructure:"WEBHOOK_BACKOFF_BASE"`

	// Cleanup
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	// Vector search backend
	OpenAIAPIKey   string `mapstructure:"OPENAI_API_KEY"`
	EmbeddingModel string `mapstructure:"EMBEDDING_MODEL"`

	// Media tooling
	YtdlpPath     string `mapstructure:"YTDLP_PATH"`
	FFmpegPath    string `mapstructure:"FFMPEG_PATH"`
	FFmpegThreads int    `mapstructure:"FFMPEG_THREADS"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("WEBSERVER_PORT", 9000)
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("SPOOL_DIR", "/spool")
	viper.SetDefault("WORKER_CONCURRENCY", 4)
	viper.SetDefault("JOB_RETENTION", "168h")
	viper.SetDefault("JOB_HEARTBEAT_TIMEOUT", "2m")
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_REQUESTS", 60)
	viper.SetDefault("RATE_LIMIT_PERIOD", "60s")
	viper.SetDefault("CACHE_MAX_ENTRIES", 1000)
	viper.SetDefault("CACHE_TTL_DOWNLOAD", "0s")
	viper.SetDefault("CACHE_TTL_PROCESS", "1h")
	viper.SetDefault("CACHE_TTL_VECTOR_INDEX", "1h")
	viper.SetDefault("CACHE_TTL_SEARCH", "15m")
	viper.SetDefault("WEBHOOK_ENABLED", true)
	viper.SetDefault("WEBHOOK_TIMEOUT", "10s")
	viper.SetDefault("WEBHOOK_MAX_ATTEMPTS", 3)
	viper.SetDefault("WEBHOOK_BACKOFF_BASE", "2s")
	viper.SetDefault("CLEANUP_INTERVAL", "1h")
	viper.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	viper.SetDefault("YTDLP_PATH", "yt-dlp")
	viper.SetDefault("FFMPEG_PATH", "ffmpeg")
	viper.SetDefault("FFMPEG_THREADS", 4)

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	slog.Info("Loaded configuration", "port", cfg.WebServerPort, "workers", cfg.WorkerConcurrency)

	return &cfg, nil
}
