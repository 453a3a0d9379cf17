package rag_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/internal/types"
	"github.com/xhad/chatweb/pkg/llm"
	"github.com/xhad/chatweb/pkg/processor"
	"github.com/xhad/chatweb/pkg/prompt"
	"github.com/xhad/chatweb/pkg/rag"
	"github.com/xhad/chatweb/pkg/ragerr"
)

const (
	docsURL  = "https://example.com/docs"
	otherURL = "https://example.com/other"
)

var pages = map[string]string{
	docsURL:  "Help Center\n\nOur return policy is 30 days. Items must be unused.\n\nShipping takes 5 business days.",
	otherURL: "Careers\n\nWe are hiring engineers in Hyderabad.",
}

type fixture struct {
	fetcher   *fakeFetcher
	store     *countingStore
	generator *scriptedGenerator
	opts      rag.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 1000, ChunkOverlap: 100})
	require.NoError(t, err)
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "hashing", Dimension: 256})
	require.NoError(t, err)

	f := &fixture{
		fetcher:   &fakeFetcher{pages: pages},
		store:     newCountingStore(),
		generator: &scriptedGenerator{},
	}
	f.opts = rag.Options{
		Fetcher:   f.fetcher,
		Chunker:   chunker,
		Embedder:  embedder,
		Store:     f.store,
		Generator: f.generator,
		Timeout:   time.Second,
	}
	return f
}

func (f *fixture) session(t *testing.T) *rag.Session {
	t.Helper()
	s, err := rag.NewSession(f.opts)
	require.NoError(t, err)
	return s
}

func TestNewSessionRequiresComponents(t *testing.T) {
	f := newFixture(t)

	for name, mutate := range map[string]func(*rag.Options){
		"fetcher":   func(o *rag.Options) { o.Fetcher = nil },
		"chunker":   func(o *rag.Options) { o.Chunker = nil },
		"embedder":  func(o *rag.Options) { o.Embedder = nil },
		"store":     func(o *rag.Options) { o.Store = nil },
		"generator": func(o *rag.Options) { o.Generator = nil },
	} {
		t.Run(name, func(t *testing.T) {
			opts := f.opts
			mutate(&opts)
			_, err := rag.NewSession(opts)
			assert.Error(t, err)
		})
	}
}

func TestAskBeforeLoad(t *testing.T) {
	s := newFixture(t).session(t)
	assert.Equal(t, rag.StateEmpty, s.State())

	_, err := s.Ask(context.Background(), models.Handle{ID: "nope"}, "What is the return policy?")
	assert.ErrorIs(t, err, ragerr.ErrQuery)
	assert.ErrorIs(t, err, ragerr.ErrEmptyStore)
}

func TestLoadAndAsk(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()

	handle, err := s.Load(ctx, " "+docsURL+" ")
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, docsURL, handle.URL)
	assert.Equal(t, 1, handle.Documents)
	assert.Equal(t, 1, handle.Chunks)
	assert.Equal(t, rag.StateIndexed, s.State())

	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, handle, current)

	answer, err := s.Ask(ctx, handle, "What is the return policy?")
	require.NoError(t, err)
	assert.Equal(t, "Our return policy is 30 days.", answer.Text)
	assert.Equal(t, "en", answer.Language)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, docsURL, answer.Sources[0].Metadata["source"])
	assert.Equal(t, "doc-"+docsURL, answer.Sources[0].Metadata["document_id"])

	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: "What is the return policy?"},
		{Role: models.RoleAssistant, Content: "Our return policy is 30 days."},
	}, s.History())

	_, err = s.Ask(ctx, handle, "   ")
	assert.ErrorIs(t, err, ragerr.ErrQuery)
}

func TestReloadReplacesIndexAndHistory(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()

	first, err := s.Load(ctx, docsURL)
	require.NoError(t, err)
	_, err = s.Ask(ctx, first, "What is the return policy?")
	require.NoError(t, err)

	second, err := s.Load(ctx, otherURL)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, s.History())

	_, err = s.Ask(ctx, first, "What is the return policy?")
	assert.ErrorIs(t, err, ragerr.ErrQuery)
	assert.ErrorIs(t, err, ragerr.ErrStaleHandle)

	// The old site's text is no longer retrievable.
	answer, err := s.Ask(ctx, second, "What is the return policy?")
	require.NoError(t, err)
	assert.Equal(t, prompt.NotFound, answer.Text)
	assert.NotContains(t, f.generator.last(), "30 days")
}

func TestFailedLoadKeepsLastGoodIndex(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		url    string
		breaks func(*fixture)
		kind   error
	}{
		{
			name: "fetch",
			url:  "https://example.com/missing",
			kind: ragerr.ErrFetch,
		},
		{
			name: "empty page",
			url:  "https://example.com/blank",
			breaks: func(f *fixture) {
				f.fetcher.pages = map[string]string{
					docsURL:                     pages[docsURL],
					"https://example.com/blank": " \n\n ",
				}
			},
			kind: ragerr.ErrFetch,
		},
		{
			name: "embedding",
			url:  otherURL,
			breaks: func(f *fixture) {
				f.opts.Embedder = &switchingEmbedder{Embedder: f.opts.Embedder}
			},
			kind: ragerr.ErrEmbedding,
		},
		{
			name: "index",
			url:  otherURL,
			kind: ragerr.ErrEmbedding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.breaks != nil {
				tt.breaks(f)
			}
			s := f.session(t)

			handle, err := s.Load(ctx, docsURL)
			require.NoError(t, err)
			_, err = s.Ask(ctx, handle, "What is the return policy?")
			require.NoError(t, err)

			switch tt.name {
			case "embedding":
				f.opts.Embedder.(*switchingEmbedder).fail = true
			case "index":
				f.store.err = errors.New("disk full")
			}

			_, err = s.Load(ctx, tt.url)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			assert.Equal(t, rag.StateIndexed, s.State())
			assert.Equal(t, 1, f.store.builds)
			assert.Len(t, s.History(), 2)

			answer, err := s.Ask(ctx, handle, "What is the return policy?")
			require.NoError(t, err)
			assert.Equal(t, "Our return policy is 30 days.", answer.Text)
		})
	}
}

// switchingEmbedder starts failing document embedding once fail is set.
type switchingEmbedder struct {
	types.Embedder
	fail bool
}

func (e *switchingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("model not loaded")
	}
	return e.Embedder.EmbedDocuments(ctx, texts)
}

func TestFailedFirstLoadStaysEmpty(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)

	_, err := s.Load(context.Background(), "https://example.com/missing")
	assert.ErrorIs(t, err, ragerr.ErrFetch)
	assert.Equal(t, rag.StateEmpty, s.State())
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestLoadCancellationCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.opts.Embedder = &failingEmbedder{block: true}
	s := f.session(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.Load(ctx, docsURL)
	assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.store.builds)
	assert.Equal(t, rag.StateEmpty, s.State())
}

func TestStageTimeouts(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		f := newFixture(t)
		f.fetcher.block = true
		f.opts.Timeout = 30 * time.Millisecond
		s := f.session(t)

		start := time.Now()
		_, err := s.Load(context.Background(), docsURL)
		assert.ErrorIs(t, err, ragerr.ErrFetch)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("generation", func(t *testing.T) {
		f := newFixture(t)
		f.opts.Timeout = 30 * time.Millisecond
		s := f.session(t)

		handle, err := s.Load(context.Background(), docsURL)
		require.NoError(t, err)

		f.generator.block = true
		_, err = s.Ask(context.Background(), handle, "What is the return policy?")
		assert.ErrorIs(t, err, ragerr.ErrGeneration)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, s.History())
	})
}

func TestAskSurfacesGenerationErrors(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()

	handle, err := s.Load(ctx, docsURL)
	require.NoError(t, err)

	f.generator.err = ragerr.Generation("complete", ragerr.ErrRateLimited)
	_, err = s.Ask(ctx, handle, "What is the return policy?")
	assert.ErrorIs(t, err, ragerr.ErrGeneration)
	assert.ErrorIs(t, err, ragerr.ErrRateLimited)

	f.generator.err = errors.New("connection reset")
	_, err = s.Ask(ctx, handle, "What is the return policy?")
	assert.ErrorIs(t, err, ragerr.ErrGeneration)
	assert.Empty(t, s.History())
}

func TestMaxDistanceCanEmptyTheContext(t *testing.T) {
	f := newFixture(t)
	f.opts.MaxDistance = 0.05
	s := f.session(t)
	ctx := context.Background()

	handle, err := s.Load(ctx, docsURL)
	require.NoError(t, err)

	answer, err := s.Ask(ctx, handle, "What is the capital of France?")
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, prompt.NotFound, answer.Text)
	assert.Contains(t, f.generator.last(), prompt.NoContext)
}

func TestOperationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	var inflight, overlaps atomic.Int32
	f.fetcher.inflight, f.fetcher.overlaps = &inflight, &overlaps
	f.generator.inflight, f.generator.overlaps = &inflight, &overlaps
	s := f.session(t)
	ctx := context.Background()

	handle, err := s.Load(ctx, docsURL)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Ask(ctx, handle, "What is the return policy?")
		}()
		go func() {
			defer wg.Done()
			s.Load(ctx, docsURL)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
}
