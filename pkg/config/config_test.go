package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "/api/learn", cfg.PathPrefix)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 300, cfg.TTSMaxSegmentChars)
	assert.Equal(t, 4, cfg.TTSWorkerCount)
	assert.Equal(t, 60*time.Second, cfg.TTSSegmentTimeout)
	assert.Equal(t, "local", cfg.OSSProvider)
	assert.Empty(t, cfg.ModerationLLMModel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_KEY_PREFIX", "engine:")
	t.Setenv("TTS_MAX_SEGMENT_CHARS", "120")
	t.Setenv("DEFAULT_LLM_MODEL", "qwen/qwen-max")
	t.Setenv("DEFAULT_LLM_TEMPERATURE", "0.3")
	t.Setenv("LLM_ALLOWED_MODELS", "gpt-5-mini, qwen/qwen-max ,")
	t.Setenv("LLM_ALLOWED_MODEL_DISPLAY_NAMES", "gpt-5-mini:GPT 5 Mini,qwen/qwen-max:Qwen Max")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QWEN_API_KEY", "qw-test")
	t.Setenv("QWEN_BASE_URL", "https://dashscope.example.com/v1")
	t.Setenv("MODERATION_LLM_MODEL", "gpt-5-mini")
	t.Setenv("VOLC_TTS_APP_ID", "app-1")
	t.Setenv("VOLC_TTS_ACCESS_TOKEN", "tok-1")
	t.Setenv("OSS_PROVIDER", "aliyun")
	t.Setenv("OSS_BUCKET", "flowrun-audio")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "engine:", cfg.RedisPrefix)
	assert.Equal(t, 120, cfg.TTSMaxSegmentChars)
	assert.Equal(t, "qwen/qwen-max", cfg.DefaultLLMModel)
	assert.InDelta(t, 0.3, cfg.DefaultLLMTemperature, 1e-9)
	assert.Equal(t, []string{"gpt-5-mini", "qwen/qwen-max"}, cfg.AllowedModels)
	assert.Equal(t, "GPT 5 Mini", cfg.AllowedModelDisplay["gpt-5-mini"])

	require.Contains(t, cfg.ProviderCredentials, "openai")
	assert.Equal(t, "sk-test", cfg.ProviderCredentials["openai"].APIKey)
	require.Contains(t, cfg.ProviderCredentials, "qwen")
	assert.Equal(t, "https://dashscope.example.com/v1", cfg.ProviderCredentials["qwen"].BaseURL)
	assert.NotContains(t, cfg.ProviderCredentials, "ark")

	assert.Equal(t, "gpt-5-mini", cfg.ModerationLLMModel)
	assert.Equal(t, "app-1", cfg.VolcTTSAppID)
	assert.Equal(t, "tok-1", cfg.VolcTTSAccessToken)
	assert.Equal(t, "aliyun", cfg.OSSProvider)
	assert.Equal(t, "flowrun-audio", cfg.OSSBucket)
}

func TestLoadAPIURLBeatsBaseURL(t *testing.T) {
	t.Setenv("GLM_API_KEY", "glm-test")
	t.Setenv("GLM_API_URL", "https://api-url.example.com")
	t.Setenv("GLM_BASE_URL", "https://base-url.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api-url.example.com", cfg.ProviderCredentials["glm"].BaseURL)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("TTS_MAX_SEGMENT_CHARS", "many")
	_, err := Load()
	assert.Error(t, err)
}
