package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries all runtime configuration, loaded from the environment
// with development-friendly defaults.
type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Knowledge store (Weaviate)
	WeaviateHost   string
	WeaviateScheme string
	ChunkSize      int
	ChunkOverlap   int
	RetrievalK     int

	// File handling
	UploadDir    string
	OutputDir    string
	MaxImageSize int64 // bytes

	// Memo cache
	CacheMaxEntries int

	// AI provider configuration
	AIProvider      string // "dashscope" or "mock"
	DashscopeAPIKey string
	DashscopeURL    string
	ChatModel       string
	VisionModel     string
	AIMaxRetries    int
	AIRetryDelay    time.Duration
	AITimeout       time.Duration

	// Streaming response controller
	StreamMaxRetries int
	StreamRetryDelay time.Duration
	StreamMinChunk   int
	StreamMaxChunk   int

	// Storage Configuration
	StorageProvider string // "local" or "s3"

	// Local storage (development)
	LocalStoragePath string
	LocalStorageURL  string

	// S3-compatible storage (production)
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BucketName      string
	S3PublicURL       string

	// Metrics endpoint authentication.
	// If both are empty, the /metrics endpoint is unprotected.
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		WeaviateHost:   getEnv("WEAVIATE_HOST", "localhost:8085"),
		WeaviateScheme: getEnv("WEAVIATE_SCHEME", "http"),
		ChunkSize:      getEnvInt("CHUNK_SIZE", 400),
		ChunkOverlap:   getEnvInt("CHUNK_OVERLAP", 40),
		RetrievalK:     getEnvInt("RETRIEVAL_K", 5),

		UploadDir:    getEnv("UPLOAD_DIR", "./data/uploads"),
		OutputDir:    getEnv("OUTPUT_DIR", "./output"),
		MaxImageSize: int64(getEnvInt("MAX_IMAGE_SIZE", 10*1024*1024)),

		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 1000),

		AIProvider:      getEnv("AI_PROVIDER", "mock"),
		DashscopeAPIKey: getEnv("DASHSCOPE_API_KEY", ""),
		DashscopeURL:    getEnv("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		ChatModel:       getEnv("CHAT_MODEL", "qwen3-max-2025-09-23"),
		VisionModel:     getEnv("VISION_MODEL", "qwen-vl-plus"),
		AIMaxRetries:    getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryDelay:    getEnvDuration("AI_RETRY_DELAY", 1*time.Second),
		AITimeout:       getEnvDuration("AI_TIMEOUT", 60*time.Second),

		StreamMaxRetries: getEnvInt("STREAM_MAX_RETRIES", 3),
		StreamRetryDelay: getEnvDuration("STREAM_RETRY_DELAY", 1*time.Second),
		StreamMinChunk:   getEnvInt("STREAM_MIN_CHUNK", 2),
		StreamMaxChunk:   getEnvInt("STREAM_MAX_CHUNK", 8),

		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./data/storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          getEnv("S3_REGION", "auto"),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3BucketName:      getEnv("S3_BUCKET_NAME", ""),
		S3PublicURL:       getEnv("S3_PUBLIC_URL", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Validate AI provider configuration
	if cfg.AIProvider == "dashscope" {
		if cfg.DashscopeAPIKey == "" {
			return nil, fmt.Errorf("DASHSCOPE_API_KEY is required when AI_PROVIDER is 'dashscope'")
		}
	} else if cfg.AIProvider != "mock" {
		return nil, fmt.Errorf("AI_PROVIDER must be either 'dashscope' or 'mock', got: %s", cfg.AIProvider)
	}

	// Validate storage configuration
	if cfg.StorageProvider == "s3" {
		if cfg.S3Endpoint == "" {
			return nil, fmt.Errorf("S3_ENDPOINT is required when STORAGE_PROVIDER is 's3'")
		}
		if cfg.S3AccessKeyID == "" {
			return nil, fmt.Errorf("S3_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 's3'")
		}
		if cfg.S3SecretAccessKey == "" {
			return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 's3'")
		}
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME is required when STORAGE_PROVIDER is 's3'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 's3', got: %s", cfg.StorageProvider)
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.StreamMinChunk < 1 || cfg.StreamMaxChunk < cfg.StreamMinChunk {
		return nil, fmt.Errorf("invalid stream chunk bounds: min=%d max=%d", cfg.StreamMinChunk, cfg.StreamMaxChunk)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
