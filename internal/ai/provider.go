package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

// Provider sends one prompt, optionally with a base64 JPEG, and returns the raw reply
type Provider interface {
	ExtractData(ctx context.Context, prompt string, imageBase64 string) (string, error)
	Name() string
}

// ErrNoProvider is returned when the requested provider is not configured
var ErrNoProvider = errors.New("ai provider not configured")

// OpenAIProvider talks to OpenAI or any OpenAI compatible endpoint
type OpenAIProvider struct {
	name      string
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIProvider creates an OpenAI provider
func NewOpenAIProvider(cfg models.OpenAIConfig, maxTokens int) *OpenAIProvider {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		name:      "openai",
		client:    openai.NewClientWithConfig(c),
		model:     model,
		maxTokens: maxTokens,
	}
}

// NewOllamaProvider uses Ollama through its OpenAI compatible API
func NewOllamaProvider(cfg models.OllamaConfig, maxTokens int) *OpenAIProvider {
	p := NewOpenAIProvider(models.OpenAIConfig{
		APIKey:  "ollama",
		BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/v1",
		Model:   cfg.Model,
	}, maxTokens)
	p.name = "ollama"
	return p
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string { return p.name }

// ExtractData sends a chat completion at temperature 0
func (p *OpenAIProvider) ExtractData(ctx context.Context, prompt string, imageBase64 string) (string, error) {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	if imageBase64 != "" {
		msg = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: "data:image/jpeg;base64," + imageBase64},
				},
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    []openai.ChatCompletionMessage{msg},
		Temperature: 0,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GeminiProvider talks to Google Gemini
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiProvider creates a Gemini client. Call Close when done.
func NewGeminiProvider(ctx context.Context, cfg models.GeminiConfig, maxTokens int) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiProvider{client: client, model: model, maxTokens: maxTokens}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string { return "gemini" }

// Close releases the client
func (p *GeminiProvider) Close() error { return p.client.Close() }

// ExtractData asks Gemini for a JSON reply
func (p *GeminiProvider) ExtractData(ctx context.Context, prompt string, imageBase64 string) (string, error) {
	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(0)
	if p.maxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.maxTokens))
	}
	model.ResponseMIMEType = "application/json"

	parts := []genai.Part{genai.Text(prompt)}
	if imageBase64 != "" {
		img, err := decodeImage(imageBase64)
		if err != nil {
			return "", err
		}
		parts = append(parts, genai.ImageData("jpeg", img))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

// NewProvider builds the named provider from configuration. An empty name
// selects the configured default.
func NewProvider(ctx context.Context, cfg models.AIConfig, name string) (Provider, error) {
	if name == "" {
		name = cfg.DefaultProvider
	}
	switch strings.ToLower(name) {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("%w: openai api key missing", ErrNoProvider)
		}
		return NewOpenAIProvider(cfg.OpenAI, cfg.MaxTokens), nil
	case "ollama":
		if cfg.Ollama.BaseURL == "" {
			return nil, fmt.Errorf("%w: ollama base url missing", ErrNoProvider)
		}
		return NewOllamaProvider(cfg.Ollama, cfg.MaxTokens), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini api key missing", ErrNoProvider)
		}
		p, err := NewGeminiProvider(ctx, cfg.Gemini, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, name)
	}
}
