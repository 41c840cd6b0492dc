package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mediaconvert/logger"
)

type Config struct {
	Port     string
	LogFile  string
	LogLevel string

	// Job store
	StoreDriver string // "pebble" or "postgres"
	JobsDBPath  string
	DatabaseURL string

	// Artifact store
	ArtifactBackend string // "local", "s3", "gcs" or "sftp"
	LocalDir        string
	PublicBaseURL   string
	URLExpiry       time.Duration // lifetime of signed S3/GCS download URLs

	S3Bucket       string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3UsePathStyle bool

	GCSBucket          string
	GCSCredentialsJSON string // base64 encoded service account key, optional

	SFTPHost       string
	SFTPPort       string
	SFTPUser       string
	SFTPPassword   string
	SFTPPrivateKey string
	SFTPRootDir    string
	SFTPPublicURL  string

	// Identity
	JWTSecret      string
	JWTIssuer      string
	TrustProxy     bool
	MaxUploadBytes int64
	AllowedOrigins []string

	// Conversion policy
	AnonymousDailyLimit int
	KeepCount           int
	JobTTL              time.Duration
	JobTimeout          time.Duration
	ImageTimeout        time.Duration
	ScratchDir          string

	// Scheduler
	RetentionInterval time.Duration
	StaleInterval     time.Duration
	CleanupInterval   time.Duration
	StaleAfter        time.Duration
	FailedRetention   time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int

	// External tools
	FFmpegPath  string
	FFprobePath string
	MagickPath  string
	CwebpPath   string
}

// Load reads configuration from the environment, loading a .env file first when
// one is present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	return &Config{
		Port:     getEnv("MEDIACONVERT_PORT", "8080"),
		LogFile:  getEnv("MEDIACONVERT_LOG_FILE", ""),
		LogLevel: getEnv("MEDIACONVERT_LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(getEnv("MEDIACONVERT_STORE_DRIVER", "pebble")),
		JobsDBPath:  GetJobsDBPath(),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		ArtifactBackend: strings.ToLower(getEnv("MEDIACONVERT_ARTIFACT_BACKEND", "local")),
		LocalDir:        GetLocalArtifactDir(),
		PublicBaseURL:   strings.TrimSuffix(getEnv("MEDIACONVERT_PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		URLExpiry:       getEnvDuration("MEDIACONVERT_URL_EXPIRY", time.Hour),

		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		S3AccessKey:    getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:    getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),

		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSCredentialsJSON: getEnv("GCS_CREDENTIALS_JSON", ""),

		SFTPHost:       getEnv("SFTP_HOST", ""),
		SFTPPort:       getEnv("SFTP_PORT", "22"),
		SFTPUser:       getEnv("SFTP_USER", ""),
		SFTPPassword:   getEnv("SFTP_PASSWORD", ""),
		SFTPPrivateKey: getEnv("SFTP_PRIVATE_KEY", ""),
		SFTPRootDir:    getEnv("SFTP_ROOT_DIR", "/upload"),
		SFTPPublicURL:  strings.TrimSuffix(getEnv("SFTP_PUBLIC_URL", ""), "/"),

		JWTSecret:      getEnv("MEDIACONVERT_JWT_SECRET", ""),
		JWTIssuer:      getEnv("MEDIACONVERT_JWT_ISSUER", ""),
		TrustProxy:     getEnvBool("MEDIACONVERT_TRUST_PROXY", false),
		MaxUploadBytes: int64(getEnvInt("MEDIACONVERT_MAX_UPLOAD_BYTES", 100<<20)),
		AllowedOrigins: getEnvList("MEDIACONVERT_ALLOWED_ORIGINS", []string{"*"}),

		AnonymousDailyLimit: getEnvInt("MEDIACONVERT_ANON_DAILY_LIMIT", 3),
		KeepCount:           getEnvInt("MEDIACONVERT_KEEP_COUNT", 5),
		JobTTL:              getEnvDuration("MEDIACONVERT_JOB_TTL", 24*time.Hour),
		JobTimeout:          getEnvDuration("MEDIACONVERT_JOB_TIMEOUT", 10*time.Minute),
		ImageTimeout:        getEnvDuration("MEDIACONVERT_IMAGE_TIMEOUT", 5*time.Minute),
		ScratchDir:          GetScratchDir(),

		RetentionInterval: getEnvDuration("MEDIACONVERT_RETENTION_INTERVAL", time.Hour),
		StaleInterval:     getEnvDuration("MEDIACONVERT_STALE_INTERVAL", 5*time.Minute),
		CleanupInterval:   getEnvDuration("MEDIACONVERT_CLEANUP_INTERVAL", 30*time.Minute),
		StaleAfter:        getEnvDuration("MEDIACONVERT_STALE_AFTER", 10*time.Minute),
		FailedRetention:   getEnvDuration("MEDIACONVERT_FAILED_RETENTION", time.Hour),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),
		MagickPath:  getEnv("MAGICK_PATH", "magick"),
		CwebpPath:   getEnv("CWEBP_PATH", "cwebp"),
	}
}

// SharedJobStore reports whether other replicas may be writing to the same
// job store.
func (c *Config) SharedJobStore() bool {
	return c.StoreDriver == "postgres" || c.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logger.Warnf("Ignoring invalid integer %s=%q", key, value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// getEnvDuration accepts Go duration strings ("90s", "10m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	logger.Warnf("Ignoring invalid duration %s=%q", key, value)
	return fallback
}
