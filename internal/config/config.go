// Package config provides configuration loading and validation for the API
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Conversation store (Redis). Optional: without it the pipeline falls
	// back to the in-memory store.
	RedisURL string `koanf:"redis_url"`

	// Attribution report database. Optional: without it reports stay
	// in-memory.
	DatabaseURL string `koanf:"database_url"`

	// JWT authentication for dashboard observers.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Privacy
	AnonymizeUserIDs bool   `koanf:"anonymize_user_ids"`
	StripPII         bool   `koanf:"strip_pii"`
	AnonymizationKey string `koanf:"anonymization_key"`

	// Stripe (commerce platform). Optional: without it sales attribution
	// runs without a commerce source.
	StripeAPIKey string `koanf:"stripe_api_key"`

	// Alert thresholds
	AlertFaceConfidenceMin    float64 `koanf:"alert_face_confidence_min"`
	AlertVoiceLatencyMaxMs    float64 `koanf:"alert_voice_latency_max_ms"`
	AlertStoreLocatorUsageMin float64 `koanf:"alert_store_locator_usage_min"`
	AlertConversionRateMin    float64 `koanf:"alert_conversion_rate_min"` // percent
	AlertErrorRateMax         float64 `koanf:"alert_error_rate_max"`
	AlertSatisfactionMin      float64 `koanf:"alert_satisfaction_min"`

	// Quality score weights
	QualityWeightSentiment  float64 `koanf:"quality_weight_sentiment"`
	QualityWeightResolution float64 `koanf:"quality_weight_resolution"`
	QualityWeightErrorRate  float64 `koanf:"quality_weight_error_rate"`

	// Dashboard fan-out
	ObserverBufferSize int `koanf:"observer_buffer_size"`

	// R2 (snapshot export target). Optional as a group: without a bucket
	// the export job does not run.
	R2BucketName          string `koanf:"r2_bucket_name"`
	R2AccessKeyID         string `koanf:"r2_access_key_id"`
	R2SecretAccessKey     string `koanf:"r2_secret_access_key"`
	R2Endpoint            string `koanf:"r2_endpoint"`
	ExportIntervalSeconds int    `koanf:"export_interval_seconds"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrMissingAnonymizationKey  = errors.New("ANONYMIZATION_KEY is required when ANONYMIZE_USER_IDS is enabled")
	ErrMissingR2BucketName      = errors.New("R2_BUCKET_NAME is required")
	ErrMissingR2AccessKeyID     = errors.New("R2_ACCESS_KEY_ID is required")
	ErrMissingR2SecretAccessKey = errors.New("R2_SECRET_ACCESS_KEY is required")
	ErrMissingR2Endpoint        = errors.New("R2_ENDPOINT is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultObserverBufferSize    = 64
	DefaultExportIntervalSeconds = 300

	DefaultAlertFaceConfidenceMin    = 0.7
	DefaultAlertVoiceLatencyMaxMs    = 3000
	DefaultAlertStoreLocatorUsageMin = 0.1
	DefaultAlertConversionRateMin    = 2.0
	DefaultAlertErrorRateMax         = 0.1
	DefaultAlertSatisfactionMin      = 3.0

	DefaultQualityWeightSentiment  = 0.5
	DefaultQualityWeightResolution = 0.3
	DefaultQualityWeightErrorRate  = 0.2
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try FRAMEPULSE_PORT first, then PORT for container platforms
	port, portErr := getEnvIntOrDefaultMulti([]string{"FRAMEPULSE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	bufferSize, bufferErr := getEnvIntOrDefault("OBSERVER_BUFFER_SIZE", k.Int("observer_buffer_size"), DefaultObserverBufferSize)
	if bufferErr != nil {
		loadErrs = append(loadErrs, bufferErr)
	}

	exportInterval, exportErr := getEnvIntOrDefault("EXPORT_INTERVAL_SECONDS", k.Int("export_interval_seconds"), DefaultExportIntervalSeconds)
	if exportErr != nil {
		loadErrs = append(loadErrs, exportErr)
	}

	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefaultMulti([]string{"FRAMEPULSE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		RedisURL:          getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret: getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		AnonymizeUserIDs:  getEnvBoolOrDefault("ANONYMIZE_USER_IDS", k, "anonymize_user_ids", true),
		StripPII:          getEnvBoolOrDefault("STRIP_PII", k, "strip_pii", true),
		AnonymizationKey:  getEnvOrKoanf("ANONYMIZATION_KEY", k, "anonymization_key"),
		StripeAPIKey:      getEnvOrKoanf("STRIPE_API_KEY", k, "stripe_api_key"),

		ObserverBufferSize:    bufferSize,
		R2BucketName:          getEnvOrKoanf("R2_BUCKET_NAME", k, "r2_bucket_name"),
		R2AccessKeyID:         getEnvOrKoanf("R2_ACCESS_KEY_ID", k, "r2_access_key_id"),
		R2SecretAccessKey:     getEnvOrKoanf("R2_SECRET_ACCESS_KEY", k, "r2_secret_access_key"),
		R2Endpoint:            getEnvOrKoanf("R2_ENDPOINT", k, "r2_endpoint"),
		ExportIntervalSeconds: exportInterval,
	}

	floats := []struct {
		dst        *float64
		envKey     string
		koanfKey   string
		defaultVal float64
	}{
		{&cfg.AlertFaceConfidenceMin, "ALERT_FACE_CONFIDENCE_MIN", "alert_face_confidence_min", DefaultAlertFaceConfidenceMin},
		{&cfg.AlertVoiceLatencyMaxMs, "ALERT_VOICE_LATENCY_MAX_MS", "alert_voice_latency_max_ms", DefaultAlertVoiceLatencyMaxMs},
		{&cfg.AlertStoreLocatorUsageMin, "ALERT_STORE_LOCATOR_USAGE_MIN", "alert_store_locator_usage_min", DefaultAlertStoreLocatorUsageMin},
		{&cfg.AlertConversionRateMin, "ALERT_CONVERSION_RATE_MIN", "alert_conversion_rate_min", DefaultAlertConversionRateMin},
		{&cfg.AlertErrorRateMax, "ALERT_ERROR_RATE_MAX", "alert_error_rate_max", DefaultAlertErrorRateMax},
		{&cfg.AlertSatisfactionMin, "ALERT_SATISFACTION_MIN", "alert_satisfaction_min", DefaultAlertSatisfactionMin},
		{&cfg.QualityWeightSentiment, "QUALITY_WEIGHT_SENTIMENT", "quality_weight_sentiment", DefaultQualityWeightSentiment},
		{&cfg.QualityWeightResolution, "QUALITY_WEIGHT_RESOLUTION", "quality_weight_resolution", DefaultQualityWeightResolution},
		{&cfg.QualityWeightErrorRate, "QUALITY_WEIGHT_ERROR_RATE", "quality_weight_error_rate", DefaultQualityWeightErrorRate},
	}
	for _, f := range floats {
		val, err := getEnvFloatOrDefault(f.envKey, k.Float64(f.koanfKey), f.defaultVal)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		*f.dst = val
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBoolOrDefault returns the environment variable as bool if set,
// otherwise the koanf value, or default.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	if k.Exists(koanfKey) {
		return k.Bool(koanfKey)
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.AnonymizeUserIDs && c.AnonymizationKey == "" {
		errs = append(errs, ErrMissingAnonymizationKey)
	}

	// R2 configuration is optional. Only validate fields if any R2 value is set.
	if c.R2BucketName != "" || c.R2AccessKeyID != "" || c.R2SecretAccessKey != "" || c.R2Endpoint != "" {
		if c.R2BucketName == "" {
			errs = append(errs, ErrMissingR2BucketName)
		}
		if c.R2AccessKeyID == "" {
			errs = append(errs, ErrMissingR2AccessKeyID)
		}
		if c.R2SecretAccessKey == "" {
			errs = append(errs, ErrMissingR2SecretAccessKey)
		}
		if c.R2Endpoint == "" {
			errs = append(errs, ErrMissingR2Endpoint)
		}
	}

	return errs
}

// ExportEnabled reports whether the snapshot export job should run.
func (c *Config) ExportEnabled() bool {
	return c.R2BucketName != ""
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                          fmt.Sprintf("%d", c.Port),
		"env":                           c.Env,
		"redis_url":                     maskURL(c.RedisURL),
		"database_url":                  maskURL(c.DatabaseURL),
		"jwt_secret":                    maskSecret(c.JWTSecret),
		"jwt_previous_secret":           maskSecret(c.JWTPreviousSecret),
		"anonymize_user_ids":            fmt.Sprintf("%t", c.AnonymizeUserIDs),
		"strip_pii":                     fmt.Sprintf("%t", c.StripPII),
		"anonymization_key":             maskSecret(c.AnonymizationKey),
		"stripe_api_key":                maskStripeKey(c.StripeAPIKey),
		"alert_face_confidence_min":     fmt.Sprintf("%g", c.AlertFaceConfidenceMin),
		"alert_voice_latency_max_ms":    fmt.Sprintf("%g", c.AlertVoiceLatencyMaxMs),
		"alert_store_locator_usage_min": fmt.Sprintf("%g", c.AlertStoreLocatorUsageMin),
		"alert_conversion_rate_min":     fmt.Sprintf("%g", c.AlertConversionRateMin),
		"alert_error_rate_max":          fmt.Sprintf("%g", c.AlertErrorRateMax),
		"alert_satisfaction_min":        fmt.Sprintf("%g", c.AlertSatisfactionMin),
		"quality_weight_sentiment":      fmt.Sprintf("%g", c.QualityWeightSentiment),
		"quality_weight_resolution":     fmt.Sprintf("%g", c.QualityWeightResolution),
		"quality_weight_error_rate":     fmt.Sprintf("%g", c.QualityWeightErrorRate),
		"observer_buffer_size":          fmt.Sprintf("%d", c.ObserverBufferSize),
		"r2_bucket_name":                c.R2BucketName,
		"r2_access_key_id":              maskSecret(c.R2AccessKeyID),
		"r2_secret_access_key":          maskSecret(c.R2SecretAccessKey),
		"r2_endpoint":                   c.R2Endpoint,
		"export_interval_seconds":       fmt.Sprintf("%d", c.ExportIntervalSeconds),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey masks a Stripe API key, preserving the prefix (sk_live_, sk_test_, etc.)
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	return maskSecret(s)
}

// maskURL masks the password in a connection URL.
// Works for postgres://, postgresql://, redis://, and rediss:// schemes.
func maskURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
