package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

// loadConfig reads the YAML file over the defaults, then applies environment
// overrides. A missing file leaves the defaults in place.
func loadConfig(path string) (*models.Config, error) {
	config := models.DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config.file.missing", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(config, os.Getenv)

	if err := checkConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides config fields from the environment
func applyEnv(config *models.Config, getenv func(string) string) {
	if port := getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if host := getenv("HOST"); host != "" {
		config.Host = host
	}
	if apiKey := getenv("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAI.APIKey = apiKey
	}
	if baseURL := getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.AI.OpenAI.BaseURL = baseURL
	}
	if model := getenv("OPENAI_MODEL"); model != "" {
		config.AI.OpenAI.Model = model
	}
	if apiKey := getenv("GEMINI_API_KEY"); apiKey != "" {
		config.AI.Gemini.APIKey = apiKey
	}
	if model := getenv("GEMINI_MODEL"); model != "" {
		config.AI.Gemini.Model = model
	}
	if baseURL := getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.AI.Ollama.BaseURL = baseURL
	}
	if provider := getenv("AI_PROVIDER"); provider != "" {
		config.AI.DefaultProvider = provider
	}
	if engine := getenv("OCR_ENGINE"); engine != "" {
		config.OCR.Engine = engine
	}
	if apiKey := getenv("GOOGLE_VISION_API_KEY"); apiKey != "" {
		config.OCR.VisionAPIKey = apiKey
	}
	if use, err := strconv.ParseBool(getenv("USE_GOOGLE_VISION")); err == nil && use {
		config.OCR.Engine = "vision"
	}
	if secret := getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
}

func checkConfig(config *models.Config) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("invalid port %d", config.Port)
	}
	for name, raw := range map[string]string{
		"price_tolerance": config.Reconcile.PriceTolerance,
		"total_tolerance": config.Reconcile.TotalTolerance,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("reconcile.%s: %w", name, err)
		}
	}
	return nil
}

// tolerance parses a decimal config value, falling back to def when empty
func tolerance(raw string, def decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return def
	}
	return d
}
