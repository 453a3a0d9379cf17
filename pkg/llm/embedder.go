package llm

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"github.com/patrickmn/go-cache"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/chatweb/internal/types"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
)

type EmbedderConfig struct {
	Provider       string // ollama, openai or hashing
	Model          string
	BaseURL        string
	APIKey         string
	Dimension      int
	BatchSize      int
	MaxInputTokens int
	CacheTTL       time.Duration
	Logger         *zap.Logger
}

// Embedder is the process-wide embedding model. Build it once and share it
// between indexing and querying so both sides use the same vector space.
type Embedder struct {
	config  EmbedderConfig
	backend types.Embedder
	queries *cache.Cache
	log     *zap.Logger
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "all-minilm"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, ragerr.Embedding("load ollama model", err)
		}
		client = emb
	case "openai":
		if config.APIKey == "" {
			return nil, ragerr.Embedding("load openai model", fmt.Errorf("api key is required"))
		}
		if config.Model == "" {
			config.Model = string(openai.SmallEmbedding3)
		}
		cfg := openai.DefaultConfig(config.APIKey)
		if config.BaseURL != "" {
			cfg.BaseURL = config.BaseURL
		}
		client = &openAIEmbeddingClient{
			client: openai.NewClientWithConfig(cfg),
			model:  config.Model,
		}
	case "hashing":
		if config.Dimension <= 0 {
			config.Dimension = 384
		}
		client = NewHashingEmbedder(config.Dimension)
	default:
		return nil, ragerr.Embedding("load model", fmt.Errorf("unknown embedding provider: %s", config.Provider))
	}

	backend, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, ragerr.Embedding("load model", err)
	}

	return NewEmbedder(backend, config), nil
}

// NewEmbedder wraps an existing backend with truncation, dimension checks and
// the query cache.
func NewEmbedder(backend types.Embedder, config EmbedderConfig) *Embedder {
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	return &Embedder{
		config:  config,
		backend: backend,
		queries: cache.New(config.CacheTTL, 2*config.CacheTTL),
		log:     logger.OrNop(config.Logger).Named("embedder"),
	}
}

func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = e.truncate(text)
	}

	vectors, err := e.backend.EmbedDocuments(ctx, inputs)
	if err != nil {
		return nil, ragerr.Embedding("embed documents", err)
	}
	if len(vectors) != len(texts) {
		return nil, ragerr.Embedding("embed documents",
			fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
	}
	for _, v := range vectors {
		if err := e.checkDimension(v); err != nil {
			return nil, ragerr.Embedding("embed documents", err)
		}
	}

	e.log.Debug("embedded documents", zap.Int("count", len(vectors)))
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.queries.Get(text); ok {
		return cached.([]float32), nil
	}

	vector, err := e.backend.EmbedQuery(ctx, e.truncate(text))
	if err != nil {
		return nil, ragerr.Embedding("embed query", err)
	}
	if err := e.checkDimension(vector); err != nil {
		return nil, ragerr.Embedding("embed query", err)
	}

	e.queries.SetDefault(text, vector)
	return vector, nil
}

func (e *Embedder) checkDimension(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("model returned an empty vector")
	}
	if e.config.Dimension > 0 && len(v) != e.config.Dimension {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.config.Dimension, len(v))
	}
	return nil
}

// truncate keeps the first MaxInputTokens whitespace-separated tokens of
// text, cutting at the end of the last kept token.
func (e *Embedder) truncate(text string) string {
	limit := e.config.MaxInputTokens
	if limit <= 0 {
		return text
	}

	tokens := 0
	inToken := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inToken && tokens == limit {
				return text[:i]
			}
			inToken = false
			continue
		}
		if !inToken {
			inToken = true
			tokens++
		}
	}
	return text
}

type openAIEmbeddingClient struct {
	client *openai.Client
	model  string
}

func (c *openAIEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	results := make([][]float32, len(texts))
	for _, datum := range resp.Data {
		if datum.Index < 0 || datum.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedding index %d out of range", datum.Index)
		}
		results[datum.Index] = datum.Embedding
	}
	return results, nil
}
