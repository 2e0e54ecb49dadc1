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
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Scheduling provider (Acuity) API access.
	AcuityBaseURL       string
	AcuityAPIKey        string
	AcuityUserID        string
	AcuityWebhookSecret string
	ProviderTimeout     time.Duration

	// Provider appointment type ids per booking kind.
	AcuityIntroTypeID       string
	AcuityFullSessionTypeID string

	// Availability cache behavior.
	AvailabilityTTL      time.Duration
	AvailabilityDailyCap int

	// Ingestion failure escalation.
	FailureWindow         time.Duration
	FailureAlertThreshold int

	// Webhook delivery dedupe guard (Redis).
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	WebhookDedupeTTL time.Duration

	// Notification dispatch.
	UseMemoryQueue bool
	WorkerCount    int
	NotifyQueueURL string
	EmailProvider  string
	TestSinkEmail  string

	// SendGrid email configuration.
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// SES email configuration.
	SESFromEmail string
	SESFromName  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	CORSAllowedOrigins []string

	// Rate limit for the user-facing /api surface; zero disables it.
	APIRateLimit float64
	APIRateBurst int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		AcuityBaseURL:       getEnv("ACUITY_BASE_URL", ""),
		AcuityAPIKey:        getEnv("ACUITY_API_KEY", ""),
		AcuityUserID:        getEnv("ACUITY_USER_ID", ""),
		AcuityWebhookSecret: getEnv("ACUITY_WEBHOOK_SECRET", ""),
		ProviderTimeout:     getEnvAsDuration("PROVIDER_TIMEOUT", 20*time.Second),

		AcuityIntroTypeID:       getEnv("ACUITY_INTRO_TYPE_ID", ""),
		AcuityFullSessionTypeID: getEnv("ACUITY_FULL_SESSION_TYPE_ID", ""),

		AvailabilityTTL:      getEnvAsDuration("AVAILABILITY_TTL", 10*time.Minute),
		AvailabilityDailyCap: getEnvAsInt("AVAILABILITY_DAILY_CAP", 3),

		FailureWindow:         getEnvAsDuration("FAILURE_WINDOW", time.Hour),
		FailureAlertThreshold: getEnvAsInt("FAILURE_ALERT_THRESHOLD", 3),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		WebhookDedupeTTL: getEnvAsDuration("WEBHOOK_DEDUPE_TTL", 5*time.Minute),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		NotifyQueueURL: getEnv("NOTIFY_QUEUE_URL", ""),
		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		TestSinkEmail:  getEnv("TEST_SINK_EMAIL", "bookings-test@theramatch.com"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "TheraMatch"),

		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESFromName:  getEnv("SES_FROM_NAME", "TheraMatch"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		APIRateLimit: getEnvAsFloat("API_RATE_LIMIT", 0),
		APIRateBurst: getEnvAsInt("API_RATE_BURST", 0),
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
