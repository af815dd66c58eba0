package models

import "time"

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// Inbound rate limit per client IP
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	OCR       OCRConfig       `yaml:"ocr"`
	AI        AIConfig        `yaml:"ai"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Auth      AuthConfig      `yaml:"auth"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// RateLimitConfig is a token bucket per client
type RateLimitConfig struct {
	PerSecond int `yaml:"per_second"` // 0 disables
	Burst     int `yaml:"burst"`
}

// OCRConfig represents OCR-specific configuration
type OCRConfig struct {
	Engine       string `yaml:"engine"`         // "tesseract" or "vision"
	Language     string `yaml:"language"`       // Tesseract language (default: "eng")
	Preprocess   bool   `yaml:"preprocess"`     // Run ImageMagick before tesseract
	VisionAPIKey string `yaml:"vision_api_key"` // Google Cloud Vision key
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
	Ollama OllamaConfig `yaml:"ollama"`

	DefaultProvider string        `yaml:"default_provider"` // "openai", "gemini", "ollama"
	Timeout         time.Duration `yaml:"timeout"`          // Per extraction call
	MaxTokens       int           `yaml:"max_tokens"`
	RequestsPerMin  int           `yaml:"requests_per_minute"` // 0 means unlimited
}

// OpenAIConfig for OpenAI compatible endpoints
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4o-mini"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// OllamaConfig for local Ollama
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // Default: "http://localhost:11434"
	Model   string `yaml:"model"`    // e.g., "llama3.1"
}

// ReconcileConfig tunes the reconciliation heuristics
type ReconcileConfig struct {
	PriceTolerance  string   `yaml:"price_tolerance"`  // Exact-name price proximity, default "1.5"
	TotalTolerance  string   `yaml:"total_tolerance"`  // Printed total check, default "0.05"
	CurrencyMarkers []string `yaml:"currency_markers"` // Extra symbols stripped from amounts
}

// AuthConfig configures bearer tokens. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string            `yaml:"jwt_secret"`
	TokenTTL  time.Duration     `yaml:"token_ttl"`
	Clients   map[string]string `yaml:"clients"` // client id -> bcrypt hash of the secret
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	return &Config{
		Port: 8080,
		Host: "0.0.0.0",
		RateLimit: RateLimitConfig{
			PerSecond: 5,
			Burst:     10,
		},
		OCR: OCRConfig{
			Engine:     "tesseract",
			Language:   "eng",
			Preprocess: true,
		},
		AI: AIConfig{
			OpenAI:          OpenAIConfig{Model: "gpt-4o-mini"},
			Gemini:          GeminiConfig{Model: "gemini-1.5-flash"},
			Ollama:          OllamaConfig{BaseURL: "http://localhost:11434", Model: "llama3.1"},
			DefaultProvider: "openai",
			Timeout:         30 * time.Second,
			MaxTokens:       800,
			RequestsPerMin:  60,
		},
		Reconcile: ReconcileConfig{
			PriceTolerance: "1.5",
			TotalTolerance: "0.05",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		LogLevel: "info",
	}
}
