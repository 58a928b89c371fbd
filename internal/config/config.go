package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	API        APIConfig
	Queue      QueueConfig
	Worker     WorkerConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	RateLimit  RateLimitConfig
	Tracing    TracingConfig
	Conversion ConversionConfig
	Filter     FilterConfig
	Providers  ProvidersConfig
	Commerce   CommerceConfig
	Tracking   TrackingConfig
	Catalog    CatalogConfig
	Sessions   SessionConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	PresignTTL     time.Duration
	ArtifactDir    string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int
	MetricsAddr string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLTTL    time.Duration
}

type DatabaseConfig struct {
	DSN string
}

type RateLimitConfig struct {
	Enabled      bool
	// Backend is "redis" (shared across replicas) or "local".
	Backend      string
	Capacity     int
	Window       time.Duration
	UserIDHeader string
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// ConversionConfig drives the orchestrator: which mode runs by default, the
// per-session attempt budget for local modes and the attempt deadline.
type ConversionConfig struct {
	Mode           string
	Attempts       int
	AttemptTimeout time.Duration
	PollInterval   time.Duration
	MaxPolls       int
	Seed           int64
}

type FilterConfig struct {
	TargetSize       int
	Levels           int
	Contrast         float64
	OutlineThreshold int
	PreviewScale     int
}

type ProvidersConfig struct {
	HTTPTimeout time.Duration
	PreferIPv4  bool
	PromptsFile string
	OpenAI      OpenAIConfig
	Gemini      GeminiConfig
	Replicate   ReplicateConfig
	Leonardo    LeonardoConfig
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Size       string
	TargetSize int
}

type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
}

type ReplicateConfig struct {
	APIKey  string
	BaseURL string
	Version string
}

type LeonardoConfig struct {
	APIKey        string
	BaseURL       string
	ModelID       string
	InitStrength  float64
	GuidanceScale float64
	Width         int
	Height        int
}

type CommerceConfig struct {
	StoreURL    string
	AccessToken string
	APIVersion  string
	Vendor      string
}

type TrackingConfig struct {
	WebhookURL     string
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type CatalogConfig struct {
	File string
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// Load reads a .env file when present, then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env: env("BITWEAR_ENV", "production"),
		API: APIConfig{
			Addr:           env("BITWEAR_API_ADDR", ":8080"),
			MaxUploadBytes: int64(envInt("BITWEAR_MAX_UPLOAD_BYTES", 10<<20)),
			PresignTTL:     envDuration("BITWEAR_PRESIGN_TTL", 15*time.Minute),
			ArtifactDir:    env("BITWEAR_ARTIFACT_DIR", "./.bitwear-artifacts"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Enabled:   envBool("MINIO_ENABLED", false),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "bitwear"),
			Region:    env("MINIO_REGION", "us-east-1"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			URLTTL:    envDuration("MINIO_URL_TTL", 7*24*time.Hour),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("RATE_LIMIT_ENABLED", false),
			Backend:      strings.ToLower(env("RATE_LIMIT_BACKEND", "redis")),
			Capacity:     envInt("RATE_LIMIT_CAPACITY", 20),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader: env("RATE_LIMIT_USER_HEADER", "X-Session-ID"),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Conversion: ConversionConfig{
			Mode:           strings.ToLower(env("BITWEAR_MODE", "openai")),
			Attempts:       envInt("BITWEAR_ATTEMPTS", 3),
			AttemptTimeout: envDuration("BITWEAR_ATTEMPT_TIMEOUT", 120*time.Second),
			PollInterval:   envDuration("BITWEAR_POLL_INTERVAL", 0),
			MaxPolls:       envInt("BITWEAR_MAX_POLLS", 0),
			Seed:           int64(envInt("BITWEAR_PROMPT_SEED", 0)),
		},
		Filter: FilterConfig{
			TargetSize:       envInt("BITWEAR_FILTER_SIZE", 64),
			Levels:           envInt("BITWEAR_FILTER_LEVELS", 16),
			Contrast:         envFloat("BITWEAR_FILTER_CONTRAST", 1.0),
			OutlineThreshold: envInt("BITWEAR_FILTER_OUTLINE", 50),
			PreviewScale:     envInt("BITWEAR_PREVIEW_SCALE", 8),
		},
		Providers: ProvidersConfig{
			HTTPTimeout: envDuration("PROVIDER_HTTP_TIMEOUT", 120*time.Second),
			PreferIPv4:  envBool("PROVIDER_PREFER_IPV4", false),
			PromptsFile: env("BITWEAR_PROMPTS_FILE", ""),
			OpenAI: OpenAIConfig{
				APIKey:     env("OPENAI_API_KEY", ""),
				BaseURL:    env("OPENAI_BASE_URL", "https://api.openai.com"),
				Model:      env("OPENAI_IMAGE_MODEL", "gpt-image-1"),
				Size:       env("OPENAI_IMAGE_SIZE", "1024x1024"),
				TargetSize: envInt("OPENAI_TARGET_SIZE", 512),
			},
			Gemini: GeminiConfig{
				APIKey:     env("GEMINI_API_KEY", ""),
				BaseURL:    env("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
				APIVersion: env("GEMINI_API_VERSION", "v1beta"),
				Model:      env("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
			},
			Replicate: ReplicateConfig{
				APIKey:  env("REPLICATE_API_TOKEN", ""),
				BaseURL: env("REPLICATE_BASE_URL", "https://api.replicate.com"),
				Version: env("REPLICATE_MODEL_VERSION", ""),
			},
			Leonardo: LeonardoConfig{
				APIKey:        env("LEONARDO_API_KEY", ""),
				BaseURL:       env("LEONARDO_BASE_URL", "https://cloud.leonardo.ai"),
				ModelID:       env("LEONARDO_MODEL_ID", ""),
				InitStrength:  envFloat("LEONARDO_INIT_STRENGTH", 0.3),
				GuidanceScale: envFloat("LEONARDO_GUIDANCE_SCALE", 7),
				Width:         envInt("LEONARDO_WIDTH", 1024),
				Height:        envInt("LEONARDO_HEIGHT", 1024),
			},
		},
		Commerce: CommerceConfig{
			StoreURL:    env("SHOPIFY_STORE_URL", ""),
			AccessToken: env("SHOPIFY_ADMIN_API_TOKEN", ""),
			APIVersion:  env("SHOPIFY_API_VERSION", "2024-01"),
			Vendor:      env("SHOPIFY_VENDOR", "8BitWear"),
		},
		Tracking: TrackingConfig{
			WebhookURL:     env("TRACKING_WEBHOOK_URL", ""),
			SigningSecret:  env("TRACKING_WEBHOOK_SECRET", ""),
			Timeout:        envDuration("TRACKING_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("TRACKING_WEBHOOK_ATTEMPTS", 3),
			InitialBackoff: envDuration("TRACKING_WEBHOOK_BACKOFF", time.Second),
			MaxBackoff:     envDuration("TRACKING_WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Catalog: CatalogConfig{
			File: env("BITWEAR_CATALOG_FILE", ""),
		},
		Sessions: SessionConfig{
			TTL:           envDuration("BITWEAR_SESSION_TTL", time.Hour),
			SweepInterval: envDuration("BITWEAR_SESSION_SWEEP", 5*time.Minute),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
