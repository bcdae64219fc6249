package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/callrelay/domain/entities"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 30
)

// GeminiConfig configures the Gemini adapter
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	MaxOutputTokens int
	TimeoutSeconds  int
	// BaseURL overrides the API endpoint, e.g. for a regional proxy
	BaseURL string
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}

	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	if config.TopP < 0 || config.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("maxOutputTokens must be positive, got %d", config.MaxOutputTokens)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client  *genai.Client
	logger  *zap.Logger
	model   string
	config  *genai.GenerateContentConfig
	timeout time.Duration
}

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}
	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := config.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if config.TopP != 0 {
		genConfig.TopP = genai.Ptr(config.TopP)
	}

	logger.Info("Gemini adapter ready",
		zap.String("model", model),
		zap.Float32("temperature", temperature),
		zap.Int("maxOutputTokens", maxTokens))

	return &GeminiLLM{
		client:  client,
		logger:  logger,
		model:   model,
		config:  genConfig,
		timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Complete implements repositories.LargeLanguageModel. It makes a single
// request; the instructions are sent as a trailing user turn and never
// stored anywhere.
func (g *GeminiLLM) Complete(ctx context.Context, messages []entities.Message, instructions string) (string, error) {
	system, contents := toContents(messages)
	if instructions != "" {
		contents = append(contents, genai.NewContentFromText(instructions, genai.RoleUser))
	}
	config := g.requestConfig(system)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini complete: %w", err)
	}

	return responseText(response), nil
}

func (g *GeminiLLM) requestConfig(system *genai.Content) *genai.GenerateContentConfig {
	config := *g.config
	config.SystemInstruction = system
	return &config
}
