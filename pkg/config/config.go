// Package config loads the engine's process configuration from the
// environment and provides the dynamic key-value store backed by the
// database with a Redis read-through cache.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider labels recognised for credential lookup. Each provider reads
// {LABEL}_API_KEY and {LABEL}_API_URL or {LABEL}_BASE_URL.
var providerLabels = []string{"OPENAI", "QWEN", "ERNIE", "GLM", "SILICON", "ARK", "GEMINI"}

// ProviderCredential is one provider's connection settings from the
// environment.
type ProviderCredential struct {
	APIKey  string
	BaseURL string
}

// Config holds the process-wide engine settings.
type Config struct {
	HTTPPort   string
	PathPrefix string
	LogLevel   slog.Level

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	SecretKey string

	DefaultLLMModel        string
	DefaultLLMTemperature  float64
	AllowedModels          []string
	AllowedModelDisplay    map[string]string
	ProviderCredentials    map[string]ProviderCredential
	ModerationLLMModel     string
	TTSMaxSegmentChars     int
	TTSWorkerCount         int
	TTSSegmentTimeout      time.Duration
	NextChapterButtonLabel string

	VolcTTSAppID       string
	VolcTTSAccessToken string
	VolcTTSCluster     string

	// OSSProvider selects where finalised audio lands: "aliyun" or "local".
	OSSProvider         string
	OSSEndpoint         string
	OSSBucket           string
	OSSAccessKeyID      string
	OSSAccessKeySecret  string
	OSSPublicBaseURL    string
	LocalStorageRoot    string
	LocalStorageBaseURL string
}

// Load builds a Config from the environment. Missing values fall back to
// sensible defaults; only malformed numeric values produce an error.
func Load() (*Config, error) {
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	maxSegmentChars, err := getEnvInt("TTS_MAX_SEGMENT_CHARS", 300)
	if err != nil {
		return nil, err
	}
	workerCount, err := getEnvInt("TTS_WORKER_COUNT", 4)
	if err != nil {
		return nil, err
	}
	segmentTimeout, err := getEnvDuration("TTS_SEGMENT_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	temperature, err := getEnvFloat("DEFAULT_LLM_TEMPERATURE", 0.8)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:   getEnvOrDefault("HTTP_PORT", "8080"),
		PathPrefix: getEnvOrDefault("API_PATH_PREFIX", "/api/learn"),
		LogLevel:   parseLogLevel(os.Getenv("LOG_LEVEL")),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisPrefix:   os.Getenv("REDIS_KEY_PREFIX"),

		SecretKey: os.Getenv("SECRET_KEY"),

		DefaultLLMModel:        getEnvOrDefault("DEFAULT_LLM_MODEL", "gpt-5-mini"),
		DefaultLLMTemperature:  temperature,
		AllowedModels:          splitList(os.Getenv("LLM_ALLOWED_MODELS")),
		AllowedModelDisplay:    parseDisplayNames(os.Getenv("LLM_ALLOWED_MODEL_DISPLAY_NAMES")),
		ProviderCredentials:    loadProviderCredentials(),
		ModerationLLMModel:     os.Getenv("MODERATION_LLM_MODEL"),
		TTSMaxSegmentChars:     maxSegmentChars,
		TTSWorkerCount:         workerCount,
		TTSSegmentTimeout:      segmentTimeout,
		NextChapterButtonLabel: getEnvOrDefault("NEXT_CHAPTER_LABEL", "Next Chapter"),

		VolcTTSAppID:       os.Getenv("VOLC_TTS_APP_ID"),
		VolcTTSAccessToken: os.Getenv("VOLC_TTS_ACCESS_TOKEN"),
		VolcTTSCluster:     os.Getenv("VOLC_TTS_CLUSTER"),

		OSSProvider:         getEnvOrDefault("OSS_PROVIDER", "local"),
		OSSEndpoint:         os.Getenv("OSS_ENDPOINT"),
		OSSBucket:           os.Getenv("OSS_BUCKET"),
		OSSAccessKeyID:      os.Getenv("OSS_ACCESS_KEY_ID"),
		OSSAccessKeySecret:  os.Getenv("OSS_ACCESS_KEY_SECRET"),
		OSSPublicBaseURL:    os.Getenv("OSS_PUBLIC_BASE_URL"),
		LocalStorageRoot:    getEnvOrDefault("LOCAL_STORAGE_ROOT", "./data"),
		LocalStorageBaseURL: getEnvOrDefault("LOCAL_STORAGE_BASE_URL", "http://localhost:8080/static"),
	}
	return cfg, nil
}

// loadProviderCredentials reads {LABEL}_API_KEY plus {LABEL}_API_URL or
// {LABEL}_BASE_URL for every recognised provider. Providers without a key
// are omitted.
func loadProviderCredentials() map[string]ProviderCredential {
	creds := make(map[string]ProviderCredential)
	for _, label := range providerLabels {
		key := os.Getenv(label + "_API_KEY")
		if key == "" {
			continue
		}
		base := os.Getenv(label + "_API_URL")
		if base == "" {
			base = os.Getenv(label + "_BASE_URL")
		}
		creds[strings.ToLower(label)] = ProviderCredential{APIKey: key, BaseURL: base}
	}
	return creds
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// splitList parses a comma-separated env value into its non-empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDisplayNames parses "alias:Display Name,alias2:Other" pairs.
func parseDisplayNames(s string) map[string]string {
	if s == "" {
		return nil
	}
	names := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		alias, display, found := strings.Cut(part, ":")
		alias = strings.TrimSpace(alias)
		if !found || alias == "" {
			continue
		}
		names[alias] = strings.TrimSpace(display)
	}
	return names
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
