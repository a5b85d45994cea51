package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Webhook ingestion
	WebhookSignatureHeader   string
	WebhookSecretCacheTTL    time.Duration
	WebhookResponseBudget    time.Duration
	WebhookHandlerTimeout    time.Duration
	WebhookReplayInterval    time.Duration
	WebhookReplayBatch       int
	WebhookReplayMaxAttempts int
	WebhookMaxBodyBytes      int64

	AdminJWTSecret string

	// AWS (notification queue + payload archive)
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	NotificationQueueURL string
	OutboxPollInterval   time.Duration
	PayloadArchiveBucket string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		WebhookSignatureHeader:   getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Webhook-Signature"),
		WebhookSecretCacheTTL:    getEnvAsDuration("WEBHOOK_SECRET_CACHE_TTL", 5*time.Minute),
		WebhookResponseBudget:    getEnvAsDuration("WEBHOOK_RESPONSE_BUDGET", 8*time.Second),
		WebhookHandlerTimeout:    getEnvAsDuration("WEBHOOK_HANDLER_TIMEOUT", 60*time.Second),
		WebhookReplayInterval:    getEnvAsDuration("WEBHOOK_REPLAY_INTERVAL", 5*time.Minute),
		WebhookReplayBatch:       getEnvAsInt("WEBHOOK_REPLAY_BATCH", 25),
		WebhookReplayMaxAttempts: getEnvAsInt("WEBHOOK_REPLAY_MAX_ATTEMPTS", 5),
		WebhookMaxBodyBytes:      int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		NotificationQueueURL: strings.TrimSpace(getEnv("NOTIFICATION_QUEUE_URL", "")),
		OutboxPollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		PayloadArchiveBucket: strings.TrimSpace(getEnv("PAYLOAD_ARCHIVE_BUCKET", "")),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
