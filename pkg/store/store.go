// Package store holds the vector index backends.
package store

import (
	"context"
	"fmt"

	"github.com/xhad/chatweb/internal/types"
	"go.uber.org/zap"
)

type Options struct {
	Backend     string // memory or pgvector
	PersistDir  string
	Collection  string
	DatabaseURL string
	BatchSize   int
	Dimension   int
	Logger      *zap.Logger
}

// Open builds the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (types.VectorStore, error) {
	switch opts.Backend {
	case "", "memory":
		s, err := NewMemory(MemoryConfig{
			PersistDir: opts.PersistDir,
			Collection: opts.Collection,
			Logger:     opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pgvector":
		s, err := NewWithConfig(ctx, VectorStoreConfig{
			ConnString: opts.DatabaseURL,
			TableName:  opts.Collection,
			VectorDim:  opts.Dimension,
			BatchSize:  opts.BatchSize,
			Logger:     opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}
