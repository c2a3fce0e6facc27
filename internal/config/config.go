package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	// Queue wiring. When UseMemoryQueue is set both queues run in-process,
	// which is only useful for local development and tests.
	UseMemoryQueue       bool
	ClassifyQueueURL     string
	DraftQueueURL        string
	QueueWaitSeconds     int
	QueueBatchSize       int
	QueueVisibility      time.Duration
	WorkerCount          int
	WorkerPassBudget     time.Duration
	MaxDeliveryAttempts  int
	DeadLetterTable      string
	DeadLetterBucket     string
	UseDynamoDeadLetters bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Classification oracle.
	OracleProvider     string
	GeminiAPIKey       string
	GeminiModelID      string
	BedrockModelID     string
	OracleTimeout      time.Duration
	OracleBatchSize    int
	OracleMaxTokens    int
	OracleTemperature  float64
	ConfidenceFloor    float64
	WorkspaceCacheTTL  time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	AdminJWTSecret     string
	AlertFromEmail     string
	AlertFromName      string
	AlertOperatorEmail string
	SendGridAPIKey     string
	EmailProvider      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		ClassifyQueueURL:     getEnv("CLASSIFY_QUEUE_URL", ""),
		DraftQueueURL:        getEnv("DRAFT_QUEUE_URL", ""),
		QueueWaitSeconds:     getEnvAsInt("QUEUE_WAIT_SECONDS", 2),
		QueueBatchSize:       getEnvAsInt("QUEUE_BATCH_SIZE", 10),
		QueueVisibility:      getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 120*time.Second),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),
		WorkerPassBudget:     getEnvAsDuration("WORKER_PASS_BUDGET", 45*time.Second),
		MaxDeliveryAttempts:  getEnvAsInt("MAX_DELIVERY_ATTEMPTS", 6),
		DeadLetterTable:      getEnv("DEAD_LETTER_TABLE", "dead_letters"),
		DeadLetterBucket:     getEnv("DEAD_LETTER_BUCKET", ""),
		UseDynamoDeadLetters: getEnvAsBool("USE_DYNAMO_DEAD_LETTERS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		OracleProvider:     getEnv("ORACLE_PROVIDER", "gemini"),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:      getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		OracleTimeout:      getEnvAsDuration("ORACLE_TIMEOUT", 25*time.Second),
		OracleBatchSize:    getEnvAsInt("ORACLE_BATCH_SIZE", 10),
		OracleMaxTokens:    getEnvAsInt("ORACLE_MAX_TOKENS", 4096),
		OracleTemperature:  getEnvAsFloat("ORACLE_TEMPERATURE", 0.2),
		ConfidenceFloor:    getEnvAsFloat("CONFIDENCE_FLOOR", 0.70),
		WorkspaceCacheTTL:  getEnvAsDuration("WORKSPACE_CACHE_TTL", 10*time.Minute),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		AlertFromEmail:     getEnv("ALERT_FROM_EMAIL", ""),
		AlertFromName:      getEnv("ALERT_FROM_NAME", "Lanebird Inbox"),
		AlertOperatorEmail: getEnv("ALERT_OPERATOR_EMAIL", ""),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		EmailProvider:      getEnv("EMAIL_PROVIDER", "ses"),
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
