// Package rag ties the stages together: loading a site into the index and
// answering questions against it.
package rag

import (
	"context"

	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/internal/types"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
)

const DefaultTopK = 4

type RetrieverConfig struct {
	TopK int
	// MaxDistance drops results farther than this cosine distance. Zero
	// keeps everything.
	MaxDistance float64
	Logger      *zap.Logger
}

// Retriever finds the passages closest to a question.
type Retriever struct {
	embedder types.Embedder
	store    types.VectorStore
	config   RetrieverConfig
	log      *zap.Logger
}

func NewRetriever(embedder types.Embedder, store types.VectorStore, config RetrieverConfig) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		config:   config,
		log:      logger.OrNop(config.Logger).Named("retriever"),
	}
}

// Retrieve returns up to TopK entries, nearest first. An empty result is not
// an error.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]models.ScoredEntry, error) {
	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, ragerr.Query("embed question", err)
	}

	results, err := r.store.Query(ctx, vector, r.config.TopK)
	if err != nil {
		return nil, err
	}

	if r.config.MaxDistance > 0 {
		kept := results[:0]
		for _, res := range results {
			if res.Distance <= r.config.MaxDistance {
				kept = append(kept, res)
			}
		}
		results = kept
	}

	r.log.Debug("retrieved passages",
		zap.Int("count", len(results)),
		zap.Int("k", r.config.TopK))
	return results, nil
}
