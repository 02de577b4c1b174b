package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port      string
	Mode      string
	LogLevel  string
	LogFormat string

	// Database configuration
	DatabaseURL string
	SQLitePath  string

	// Redis configuration (empty keeps rate limiting in process memory)
	RedisURL string

	// Access token validation
	JWTSecretKey string
	JWTAlgorithm string

	// Per-address rate limits, e.g. "60/minute"
	RateLimitDefault string
	RateLimitAuth    string
	RateLimitAI      string
	RateLimitVerify  string

	// Apple App Store Server API
	AppleBundleID    string
	AppleIssuerID    string
	AppleKeyID       string
	ApplePrivateKey  string
	AppleEnvironment string
	AppleRootCAPEM   string

	// Google Play Developer API
	GooglePlayPackageName    string
	GoogleServiceAccountJSON string

	// Store product identifiers
	StudentAppleProductID    string
	UnlimitedAppleProductID  string
	StudentGoogleProductID   string
	UnlimitedGoogleProductID string

	// Receipt verification policy
	StoreTimeoutSeconds   int
	VerifyMaxAttempts     int
	VerifyRetryIntervalMS int

	// Shared token for store server notifications (empty disables the endpoints)
	StoreNotificationToken string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file; a missing file is fine
	_ = godotenv.Load()

	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

// Load reads the configuration from the environment without validating it.
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8000"),
		Mode:      getEnv("GIN_MODE", "debug"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "knowit.db"),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecretKey: getEnv("JWT_SECRET_KEY", ""),
		JWTAlgorithm: getEnv("JWT_ALGORITHM", "HS256"),

		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "60/minute"),
		RateLimitAuth:    getEnv("RATE_LIMIT_AUTH", "10/minute"),
		RateLimitAI:      getEnv("RATE_LIMIT_AI", "10/minute"),
		RateLimitVerify:  getEnv("RATE_LIMIT_VERIFY", "5/minute"),

		AppleBundleID:    getEnv("APPLE_BUNDLE_ID", ""),
		AppleIssuerID:    getEnv("APPLE_ISSUER_ID", ""),
		AppleKeyID:       getEnv("APPLE_KEY_ID", ""),
		ApplePrivateKey:  getEnv("APPLE_PRIVATE_KEY", ""),
		AppleEnvironment: getEnv("APPLE_ENVIRONMENT", "production"),
		AppleRootCAPEM:   getEnv("APPLE_ROOT_CA_PEM", ""),

		GooglePlayPackageName:    getEnv("GOOGLE_PLAY_PACKAGE_NAME", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),

		StudentAppleProductID:    getEnv("SUBSCRIPTION_STUDENT_APPLE_ID", "com.knowit.student"),
		UnlimitedAppleProductID:  getEnv("SUBSCRIPTION_UNLIMITED_APPLE_ID", "com.knowit.unlimited"),
		StudentGoogleProductID:   getEnv("SUBSCRIPTION_STUDENT_GOOGLE_ID", "com.knowit.student"),
		UnlimitedGoogleProductID: getEnv("SUBSCRIPTION_UNLIMITED_GOOGLE_ID", "com.knowit.unlimited"),

		StoreTimeoutSeconds:   getEnvInt("STORE_TIMEOUT_SECONDS", 15),
		VerifyMaxAttempts:     getEnvInt("VERIFY_MAX_ATTEMPTS", 3),
		VerifyRetryIntervalMS: getEnvInt("VERIFY_RETRY_INTERVAL_MS", 200),

		StoreNotificationToken: getEnv("STORE_NOTIFICATION_TOKEN", ""),
	}
}

// Validate checks that required values are present and well formed
func (c *Config) Validate() error {
	if c.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}

	for name, value := range map[string]string{
		"RATE_LIMIT_DEFAULT": c.RateLimitDefault,
		"RATE_LIMIT_AUTH":    c.RateLimitAuth,
		"RATE_LIMIT_AI":      c.RateLimitAI,
		"RATE_LIMIT_VERIFY":  c.RateLimitVerify,
	} {
		if _, _, err := ParseRate(value); err != nil {
			return fmt.Errorf("%s must look like <count>/<second|minute|hour|day>, got %q", name, value)
		}
	}

	switch c.AppleEnvironment {
	case "production", "sandbox":
	default:
		return fmt.Errorf("APPLE_ENVIRONMENT must be production or sandbox, got %q", c.AppleEnvironment)
	}

	if c.StoreTimeoutSeconds < 1 {
		return fmt.Errorf("STORE_TIMEOUT_SECONDS must be at least 1")
	}

	if c.VerifyMaxAttempts < 1 {
		return fmt.Errorf("VERIFY_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

// StoreTimeout returns the per-call timeout for store verification requests
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// VerifyRetryInterval returns the initial backoff between verification attempts
func (c *Config) VerifyRetryInterval() time.Duration {
	return time.Duration(c.VerifyRetryIntervalMS) * time.Millisecond
}

// ParseRate reads rates like "10/minute" into a positive count and its window
func ParseRate(value string) (int, time.Duration, error) {
	parts := strings.SplitN(strings.TrimSpace(value), "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate %q", value)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("invalid rate count in %q", value)
	}

	switch strings.TrimSpace(parts[1]) {
	case "second":
		return limit, time.Second, nil
	case "minute":
		return limit, time.Minute, nil
	case "hour":
		return limit, time.Hour, nil
	case "day":
		return limit, 24 * time.Hour, nil
	}
	return 0, 0, fmt.Errorf("invalid rate period in %q", value)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
