package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/chatweb/pkg/llm"
	"github.com/xhad/chatweb/pkg/ragerr"
)

// countingBackend returns fixed-size vectors and records what it was asked.
type countingBackend struct {
	dim     int
	queries int
	inputs  []string
	err     error
}

func (b *countingBackend) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.inputs = append(b.inputs, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, b.dim)
		out[i][0] = 1
	}
	return out, nil
}

func (b *countingBackend) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.queries++
	b.inputs = append(b.inputs, text)
	v := make([]float32, b.dim)
	v[0] = 1
	return v, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestHashingEmbedder(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "hashing", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, emb.Dimension())

	ctx := context.Background()
	vectors, err := emb.EmbedDocuments(ctx, []string{
		"Our return policy is 30 days.",
		"our RETURN policy is 30 days",
		"మా రిటర్న్ పాలసీ",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for _, v := range vectors {
		assert.Len(t, v, 64)
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
	assert.Equal(t, vectors[0], vectors[1], "case and punctuation do not change the vector")

	query, err := emb.EmbedQuery(ctx, "Our return policy is 30 days.")
	require.NoError(t, err)
	assert.Equal(t, vectors[0], query)
}

func TestHashingEmbedderEmptyText(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "hashing", Dimension: 8})
	require.NoError(t, err)

	v, err := emb.EmbedQuery(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

func TestEmbedQueryIsCached(t *testing.T) {
	backend := &countingBackend{dim: 4}
	emb := llm.NewEmbedder(backend, llm.EmbedderConfig{Dimension: 4})

	ctx := context.Background()
	first, err := emb.EmbedQuery(ctx, "what is the return policy?")
	require.NoError(t, err)
	second, err := emb.EmbedQuery(ctx, "what is the return policy?")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.queries)

	_, err = emb.EmbedQuery(ctx, "how long is shipping?")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.queries)
}

func TestEmbedTruncatesLongInputs(t *testing.T) {
	backend := &countingBackend{dim: 4}
	emb := llm.NewEmbedder(backend, llm.EmbedderConfig{Dimension: 4, MaxInputTokens: 3})

	_, err := emb.EmbedDocuments(context.Background(), []string{
		"one two three four five",
		"  one\ttwo\n",
	})
	require.NoError(t, err)
	require.Len(t, backend.inputs, 2)
	assert.Equal(t, "one two three", backend.inputs[0])
	assert.Equal(t, "  one\ttwo\n", backend.inputs[1])
}

func TestEmbedErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("dimension mismatch", func(t *testing.T) {
		emb := llm.NewEmbedder(&countingBackend{dim: 3}, llm.EmbedderConfig{Dimension: 4})
		_, err := emb.EmbedDocuments(ctx, []string{"text"})
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)

		_, err = emb.EmbedQuery(ctx, "text")
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	})

	t.Run("backend failure", func(t *testing.T) {
		cause := errors.New("connection refused")
		emb := llm.NewEmbedder(&countingBackend{dim: 4, err: cause}, llm.EmbedderConfig{Dimension: 4})
		_, err := emb.EmbedDocuments(ctx, []string{"text"})
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "word2vec"})
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	})

	t.Run("openai without key", func(t *testing.T) {
		_, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "openai"})
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	})
}

func TestEmbedDocumentsEmpty(t *testing.T) {
	emb := llm.NewEmbedder(&countingBackend{dim: 4}, llm.EmbedderConfig{Dimension: 4})
	vectors, err := emb.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestOpenAIEmbedder(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// Reply out of order to check index placement.
		type datum struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var data []datum
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, datum{
				Object:    "embedding",
				Index:     i,
				Embedding: []float32{float32(len(req.Input[i])), 0, 0},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	defer server.Close()

	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  "openai",
		BaseURL:   server.URL,
		APIKey:    "sk-test",
		Dimension: 3,
		BatchSize: 2,
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", strings.Repeat("d", 4), strings.Repeat("e", 5)}
	vectors, err := emb.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, 3, requests, "batches of two")
}
