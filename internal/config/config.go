package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort  string `yaml:"api_port"`
	LogLevel string `yaml:"log_level"`

	RedisAddr          string        `yaml:"redis_addr"`
	RedisPassword      string        `yaml:"redis_password"`
	RedisDB            int           `yaml:"redis_db"`
	StatusRetentionTTL time.Duration `yaml:"status_retention_ttl"`

	S3Endpoint     string        `yaml:"s3_endpoint"`
	S3Region       string        `yaml:"s3_region"`
	S3Bucket       string        `yaml:"s3_bucket"`
	S3AccessKey    string        `yaml:"s3_access_key"`
	S3SecretKey    string        `yaml:"s3_secret_key"`
	S3Prefix       string        `yaml:"s3_prefix"`
	S3UsePathStyle bool          `yaml:"s3_use_path_style"`
	UploadGrantTTL time.Duration `yaml:"upload_grant_ttl"`

	MaxUploadBytes   int64  `yaml:"max_upload_bytes"`
	AllowedMimeTypes string `yaml:"allowed_mime_types"`

	QdrantURL        string `yaml:"qdrant_url"`
	QdrantCollection string `yaml:"qdrant_collection"`

	OllamaURL        string `yaml:"ollama_url"`
	OllamaEmbedModel string `yaml:"ollama_embed_model"`

	PostgresDSN string `yaml:"postgres_dsn"`

	QueueBackend      string        `yaml:"queue_backend"`
	NATSURL           string        `yaml:"nats_url"`
	NATSSubject       string        `yaml:"nats_subject"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	WorkerConcurrency int           `yaml:"worker_concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	DependencyTimeout time.Duration `yaml:"dependency_timeout"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	// RecoveryInterval is how often processing records older than JobTimeout are requeued.
	RecoveryInterval  time.Duration `yaml:"recovery_interval"`

	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	APIRateLimitRPS   int `yaml:"api_rate_limit_rps"`
	APIRateLimitBurst int `yaml:"api_rate_limit_burst"`
	APIMaxInFlight    int `yaml:"api_max_in_flight"`

	RetryMaxAttempts    int           `yaml:"retry_max_attempts"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
	RetryJitterPercent  uint64        `yaml:"retry_jitter_percent"`
	BreakerEnabled      bool          `yaml:"breaker_enabled"`
	BreakerOpenTimeout  time.Duration `yaml:"breaker_open_timeout"`

	WorkerMetricsPort string `yaml:"worker_metrics_port"`
}

const (
	QueueBackendMemory = "memory"
	QueueBackendNATS   = "nats"
)

func defaults() Config {
	return Config{
		APIPort:  "8080",
		LogLevel: "info",

		RedisAddr:          "localhost:6379",
		StatusRetentionTTL: 24 * time.Hour,

		S3Endpoint:     "http://localhost:9000",
		S3Region:       "us-east-1",
		S3Bucket:       "intranest-documents",
		S3Prefix:       "documents",
		S3UsePathStyle: true,
		UploadGrantTTL: 10 * time.Minute,

		MaxUploadBytes:   50 << 20,
		AllowedMimeTypes: "text/plain,text/markdown,text/html,application/json,application/pdf,application/vnd.openxmlformats-officedocument.wordprocessingml.document",

		QdrantURL:        "http://localhost:6333",
		QdrantCollection: "documents",

		OllamaURL:        "http://localhost:11434",
		OllamaEmbedModel: "nomic-embed-text",

		QueueBackend:      QueueBackendMemory,
		NATSURL:           "nats://localhost:4222",
		NATSSubject:       "documents.ingest",
		QueueCapacity:     100,
		WorkerConcurrency: 4,
		JobTimeout:        15 * time.Minute,
		DependencyTimeout: 30 * time.Second,
		LockTTL:           10 * time.Minute,
		DrainTimeout:      30 * time.Second,
		RecoveryInterval:  time.Minute,

		ChunkSize:    1000,
		ChunkOverlap: 0,

		APIRateLimitRPS:   20,
		APIRateLimitBurst: 40,
		APIMaxInFlight:    64,

		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryJitterPercent:  10,
		BreakerEnabled:      true,
		BreakerOpenTimeout:  30 * time.Second,

		WorkerMetricsPort: "9090",
	}
}

// Load starts from defaults, overlays CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.APIPort = mustEnv("API_PORT", cfg.APIPort)
	cfg.LogLevel = mustEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.RedisAddr = mustEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = mustEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = mustEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.StatusRetentionTTL = mustEnvDuration("STATUS_RETENTION_TTL", cfg.StatusRetentionTTL)

	cfg.S3Endpoint = mustEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = mustEnv("S3_REGION", cfg.S3Region)
	cfg.S3Bucket = mustEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = mustEnv("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = mustEnv("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3Prefix = mustEnv("S3_PREFIX", cfg.S3Prefix)
	cfg.S3UsePathStyle = mustEnvBool("S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.UploadGrantTTL = mustEnvDuration("UPLOAD_GRANT_TTL", cfg.UploadGrantTTL)

	cfg.MaxUploadBytes = int64(mustEnvInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.AllowedMimeTypes = mustEnv("ALLOWED_MIME_TYPES", cfg.AllowedMimeTypes)

	cfg.QdrantURL = mustEnv("QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantCollection = mustEnv("QDRANT_COLLECTION", cfg.QdrantCollection)

	cfg.OllamaURL = mustEnv("OLLAMA_URL", cfg.OllamaURL)
	cfg.OllamaEmbedModel = mustEnv("OLLAMA_EMBED_MODEL", cfg.OllamaEmbedModel)

	cfg.PostgresDSN = mustEnv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.QueueBackend = strings.ToLower(mustEnv("QUEUE_BACKEND", cfg.QueueBackend))
	cfg.NATSURL = mustEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = mustEnv("NATS_SUBJECT", cfg.NATSSubject)
	cfg.QueueCapacity = mustEnvInt("QUEUE_CAPACITY", cfg.QueueCapacity)
	cfg.WorkerConcurrency = mustEnvInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.JobTimeout = mustEnvDuration("JOB_TIMEOUT", cfg.JobTimeout)
	cfg.DependencyTimeout = mustEnvDuration("DEPENDENCY_TIMEOUT", cfg.DependencyTimeout)
	cfg.LockTTL = mustEnvDuration("LOCK_TTL", cfg.LockTTL)
	cfg.DrainTimeout = mustEnvDuration("DRAIN_TIMEOUT", cfg.DrainTimeout)
	cfg.RecoveryInterval = mustEnvDuration("RECOVERY_INTERVAL", cfg.RecoveryInterval)

	cfg.ChunkSize = mustEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = mustEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)

	cfg.APIRateLimitRPS = mustEnvInt("API_RATE_LIMIT_RPS", cfg.APIRateLimitRPS)
	cfg.APIRateLimitBurst = mustEnvInt("API_RATE_LIMIT_BURST", cfg.APIRateLimitBurst)
	cfg.APIMaxInFlight = mustEnvInt("API_MAX_IN_FLIGHT", cfg.APIMaxInFlight)

	cfg.RetryMaxAttempts = mustEnvInt("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryInitialBackoff = mustEnvDuration("RETRY_INITIAL_BACKOFF", cfg.RetryInitialBackoff)
	cfg.RetryMaxBackoff = mustEnvDuration("RETRY_MAX_BACKOFF", cfg.RetryMaxBackoff)
	cfg.RetryJitterPercent = uint64(mustEnvInt("RETRY_JITTER_PERCENT", int(cfg.RetryJitterPercent)))
	cfg.BreakerEnabled = mustEnvBool("BREAKER_ENABLED", cfg.BreakerEnabled)
	cfg.BreakerOpenTimeout = mustEnvDuration("BREAKER_OPEN_TIMEOUT", cfg.BreakerOpenTimeout)

	cfg.WorkerMetricsPort = mustEnv("WORKER_METRICS_PORT", cfg.WorkerMetricsPort)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.QueueBackend {
	case QueueBackendMemory, QueueBackendNATS:
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if strings.TrimSpace(c.S3Bucket) == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	return nil
}

// AllowedMimeTypeList splits ALLOWED_MIME_TYPES on commas.
func (c Config) AllowedMimeTypeList() []string {
	parts := strings.Split(c.AllowedMimeTypes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
