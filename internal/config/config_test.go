package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennsieve/pennsieve-go-bedrock/llm"
)

// isolate keeps ambient config files and variables out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, name := range []string{
		"BEDROCK_CREDENTIALS_PATH", "BEDROCK_REGION", "BEDROCK_MODEL", "BEDROCK_MAX_TOKENS",
		"BEDROCK_TEMPERATURE", "BEDROCK_LOG_LEVEL", "BEDROCK_PROXY_FUNCTION", "LLM_PROXY_FUNCTION",
		"AWS_REGION", "AWS_DEFAULT_REGION",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Claude 3.5 Haiku", cfg.Model)
	assert.Equal(t, llm.DefaultMaxTokens, cfg.MaxTokens)
	assert.True(t, cfg.EnableCaching)
	assert.Zero(t, cfg.Temperature)
	assert.Equal(t, 1, cfg.RateBurst)
	assert.False(t, cfg.ExportEnv)

	rc, err := cfg.RequestConfig()
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultRequestConfig(), rc)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
credentials_path: /tmp/creds.json
region: eu-west-1
model: Nova Pro
temperature: 0.4
max_tokens: 512
enable_caching: false
rate_limit: 2.5
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/creds.json", cfg.CredentialsPath)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "Nova Pro", cfg.Model)
	assert.Equal(t, 0.4, cfg.Temperature)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.False(t, cfg.EnableCaching)
	assert.Equal(t, 2.5, cfg.RateLimit)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_SearchPath(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("bedrock.yaml", []byte("model: Llama 3.2 1B\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Llama 3.2 1B", cfg.Model)
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("BEDROCK_MODEL", "Titan Text Express")
	t.Setenv("BEDROCK_MAX_TOKENS", "64")
	t.Setenv("AWS_REGION", "ap-southeast-2")
	t.Setenv("LLM_PROXY_FUNCTION", "bedrock-proxy")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Titan Text Express", cfg.Model)
	assert.Equal(t, 64, cfg.MaxTokens)
	assert.Equal(t, "ap-southeast-2", cfg.Region)
	assert.Equal(t, "bedrock-proxy", cfg.ProxyFunction)

	t.Setenv("BEDROCK_REGION", "us-west-2")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", cfg.Region)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"temperature": "temperature: 1.5\n",
		"nan temperature": "temperature: .nan\n",
		"max tokens":  "max_tokens: 0\n",
		"log level":   "log_level: loud\n",
		"yaml":        "model: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_NaNTemperatureFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("BEDROCK_TEMPERATURE", "NaN")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
