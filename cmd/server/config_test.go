package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clearEnv blanks the overrides loadConfig reads
func clearEnv(t *testing.T) {
	for _, k := range []string{"PORT", "AI_PROVIDER", "OCR_ENGINE", "USE_GOOGLE_VISION", "GEMINI_MODEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	config, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "openai", config.AI.DefaultProvider)
	assert.Equal(t, "tesseract", config.OCR.Engine)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
port: 9090
ai:
  default_provider: gemini
  timeout: 10s
reconcile:
  total_tolerance: "0.10"
  currency_markers: ["CHF"]
`)
	config, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "gemini", config.AI.DefaultProvider)
	assert.Equal(t, 10*time.Second, config.AI.Timeout)
	assert.Equal(t, "0.10", config.Reconcile.TotalTolerance)
	assert.Equal(t, []string{"CHF"}, config.Reconcile.CurrencyMarkers)
	// Unset keys keep their defaults
	assert.Equal(t, "gemini-1.5-flash", config.AI.Gemini.Model)
	assert.Equal(t, "1.5", config.Reconcile.PriceTolerance)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	clearEnv(t)
	_, err := loadConfig(writeConfig(t, "port: [1, 2]\n"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "reconcile:\n  price_tolerance: abc\n"))
	assert.ErrorContains(t, err, "price_tolerance")

	_, err = loadConfig(writeConfig(t, "port: 70000\n"))
	assert.ErrorContains(t, err, "invalid port")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                  "7000",
		"HOST":                  "127.0.0.1",
		"OPENAI_API_KEY":        "sk-test",
		"OPENAI_MODEL":          "gpt-4o",
		"GEMINI_API_KEY":        "g-test",
		"OLLAMA_BASE_URL":       "http://ollama:11434",
		"AI_PROVIDER":           "ollama",
		"GOOGLE_VISION_API_KEY": "v-test",
		"USE_GOOGLE_VISION":     "true",
		"JWT_SECRET":            "s3cret",
		"LOG_LEVEL":             "debug",
	}
	config := models.DefaultConfig()
	applyEnv(config, func(k string) string { return env[k] })

	assert.Equal(t, 7000, config.Port)
	assert.Equal(t, "127.0.0.1", config.Host)
	assert.Equal(t, "sk-test", config.AI.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", config.AI.OpenAI.Model)
	assert.Equal(t, "g-test", config.AI.Gemini.APIKey)
	assert.Equal(t, "http://ollama:11434", config.AI.Ollama.BaseURL)
	assert.Equal(t, "ollama", config.AI.DefaultProvider)
	assert.Equal(t, "v-test", config.OCR.VisionAPIKey)
	assert.Equal(t, "vision", config.OCR.Engine)
	assert.Equal(t, "s3cret", config.Auth.JWTSecret)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestApplyEnvIgnoresBadPort(t *testing.T) {
	config := models.DefaultConfig()
	applyEnv(config, func(k string) string {
		if k == "PORT" {
			return "http"
		}
		return ""
	})
	assert.Equal(t, 8080, config.Port)
}

func TestTolerance(t *testing.T) {
	def := decimal.RequireFromString("0.05")
	assert.True(t, tolerance("0.25", def).Equal(decimal.RequireFromString("0.25")))
	assert.True(t, tolerance("", def).Equal(def))
	assert.True(t, tolerance("-1", def).Equal(def))
	assert.True(t, tolerance("x", def).Equal(def))
}
