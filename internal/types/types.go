package types

import (
	"context"

	"github.com/xhad/chatweb/internal/models"
)

// Core interfaces
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]models.Document, error)
}

type Chunker interface {
	Process(docs []models.Document) ([]models.Chunk, error)
}

// Embedder has the same method set as langchaingo's embeddings.Embedder so
// either can be injected.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	ResetAndBuild(ctx context.Context, entries []models.Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]models.ScoredEntry, error)
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
