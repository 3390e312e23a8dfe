package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Job store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Blob storage drivers.
const (
	DriverS3    = "s3"
	DriverMinio = "minio"
)

type Config struct {
	ServerAddr     string
	AllowedOrigins []string
	LogLevel       string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisURL  string
	JobStore  string
	JWTSecret string

	// Transcoding pipeline
	WorkerCount  int
	QueueSize    int
	EventBuffer  int
	JobTimeout   time.Duration
	WorkDir      string
	UploadDir    string
	FFmpegPath   string
	FFprobePath  string
	PublishRedis bool

	// Temp file sweeper
	SweepSchedule string
	SweepMaxAge   time.Duration

	StorageDriver string

	// MinIO configuration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// S3 configuration
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3UsePathStyle bool

	// PublicBaseURL prefixes object keys to build playable URLs. Empty means
	// the driver's own endpoint URL.
	PublicBaseURL string
}

// LoadDotEnv reads a .env file into the process environment when present.
// Variables already set take precedence.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func Load() *Config {
	return &Config{
		ServerAddr:     getEnvOrDefault("SERVER_ADDR", ":8080"),
		AllowedOrigins: splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*")),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),

		DBHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("DB_PORT", "5432"),
		DBUser:     getEnvOrDefault("DB_USER", "social"),
		DBPassword: getEnvOrDefault("DB_PASSWORD", "social_dev_password"),
		DBName:     getEnvOrDefault("DB_NAME", "social"),
		DBSSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),

		RedisURL:  getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		JobStore:  strings.ToLower(getEnvOrDefault("JOB_STORE", StorePostgres)),
		JWTSecret: getEnvOrDefault("JWT_SECRET", generateDefaultSecret()),

		WorkerCount:  getIntOrDefault("WORKER_COUNT", 2),
		QueueSize:    getIntOrDefault("QUEUE_SIZE", 100),
		EventBuffer:  getIntOrDefault("EVENT_BUFFER", 256),
		JobTimeout:   getDurationOrDefault("JOB_TIMEOUT", 30*time.Minute),
		WorkDir:      getEnvOrDefault("WORK_DIR", filepath.Join(os.TempDir(), "transcode")),
		UploadDir:    getEnvOrDefault("UPLOAD_DIR", filepath.Join(os.TempDir(), "uploads")),
		FFmpegPath:   getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:  getEnvOrDefault("FFPROBE_PATH", "ffprobe"),
		PublishRedis: getBoolOrDefault("PUBLISH_REDIS_EVENTS", true),

		SweepSchedule: getEnvOrDefault("SWEEP_SCHEDULE", "0 */15 * * * *"),
		SweepMaxAge:   getDurationOrDefault("SWEEP_MAX_AGE", 6*time.Hour),

		StorageDriver: strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", DriverMinio)),

		MinioEndpoint:  getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnvOrDefault("MINIO_BUCKET", "media"),
		MinioUseSSL:    getBoolOrDefault("MINIO_USE_SSL", false),

		S3Region:       getEnvOrDefault("S3_REGION", "us-east-1"),
		S3Bucket:       getEnvOrDefault("S3_BUCKET", "media"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3UsePathStyle: getBoolOrDefault("S3_USE_PATH_STYLE", false),

		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
	}
}

// Validate reports settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("EVENT_BUFFER must be at least 1, got %d", c.EventBuffer)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive")
	}
	if c.SweepMaxAge <= c.JobTimeout {
		return fmt.Errorf("SWEEP_MAX_AGE (%s) must exceed JOB_TIMEOUT (%s)", c.SweepMaxAge, c.JobTimeout)
	}
	switch c.JobStore {
	case StorePostgres, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.JobStore)
	}
	switch c.StorageDriver {
	case DriverS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 driver")
		}
	case DriverMinio:
		if c.MinioBucket == "" {
			return fmt.Errorf("MINIO_BUCKET is required for the minio driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	return nil
}

// DatabaseDSN builds a lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return n
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

// getDurationOrDefault accepts Go durations ("90s") or plain seconds.
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
