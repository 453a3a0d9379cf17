package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string // groq, openai or ollama
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *zap.Logger
}

type completer interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// ChatEngine sends a composed prompt to the generation service. It makes a
// single attempt per call.
type ChatEngine struct {
	config ChatConfig
	llm    completer
	log    *zap.Logger
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = "groq"
	}
	if config.Model == "" {
		config.Model = "llama-3.3-70b-versatile"
	}
	if config.Temperature <= 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 500
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	var backend completer
	switch config.Provider {
	case "groq", "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("%s provider selected but no API key set", config.Provider)
		}
		if config.BaseURL == "" && config.Provider == "groq" {
			config.BaseURL = "https://api.groq.com/openai/v1"
		}
		cfg := openai.DefaultConfig(config.APIKey)
		if config.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
		}
		backend = &openAICompleter{client: openai.NewClientWithConfig(cfg), config: config}
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		model, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		backend = &langchainCompleter{llm: model, config: config}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", config.Provider)
	}

	return &ChatEngine{
		config: config,
		llm:    backend,
		log:    logger.OrNop(config.Logger).Named("chat"),
	}, nil
}

// Generate returns the completion for prompt.
func (ce *ChatEngine) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	start := time.Now()
	answer, err := ce.llm.complete(ctx, prompt)
	if err != nil {
		ce.log.Warn("generation failed", zap.String("model", ce.config.Model), zap.Error(err))
		return "", ragerr.Generation("complete "+ce.config.Model, err)
	}

	ce.log.Debug("generated answer",
		zap.String("model", ce.config.Model),
		zap.Duration("took", time.Since(start)))
	return strings.TrimSpace(answer), nil
}

type openAICompleter struct {
	client *openai.Client
	config ChatConfig
}

func (c *openAICompleter) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: float32(c.config.Temperature),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classify tags auth and rate-limit failures with their sentinels.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ragerr.ErrUnauthorized, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ragerr.ErrRateLimited, err)
	default:
		return err
	}
}

type langchainCompleter struct {
	llm    llms.Model
	config ChatConfig
}

func (c *langchainCompleter) complete(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	resp, err := c.llm.GenerateContent(ctx, content,
		llms.WithTemperature(c.config.Temperature),
		llms.WithMaxTokens(c.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}
	return resp.Choices[0].Content, nil
}
