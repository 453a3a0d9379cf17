package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/internal/types"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/prompt"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
)

type State int

const (
	StateEmpty State = iota
	StateIndexed
)

func (s State) String() string {
	if s == StateIndexed {
		return "indexed"
	}
	return "empty"
}

type Options struct {
	Fetcher   types.Fetcher
	Chunker   types.Chunker
	Embedder  types.Embedder
	Store     types.VectorStore
	Generator types.Generator

	TopK        int
	MaxDistance float64
	Timeout     time.Duration // per stage
	Logger      *zap.Logger
}

// Session is the single active conversation over one loaded site. Load and
// Ask are serialized: each runs to completion before the next starts.
type Session struct {
	opts     Options
	pipeline *Pipeline
	log      *zap.Logger

	mu      sync.Mutex
	handle  *models.Handle
	history []models.Turn
}

func NewSession(opts Options) (*Session, error) {
	switch {
	case opts.Fetcher == nil:
		return nil, errors.New("session needs a fetcher")
	case opts.Chunker == nil:
		return nil, errors.New("session needs a chunker")
	case opts.Embedder == nil:
		return nil, errors.New("session needs an embedder")
	case opts.Store == nil:
		return nil, errors.New("session needs a vector store")
	case opts.Generator == nil:
		return nil, errors.New("session needs a generator")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	log := logger.OrNop(opts.Logger)
	retriever := NewRetriever(opts.Embedder, opts.Store, RetrieverConfig{
		TopK:        opts.TopK,
		MaxDistance: opts.MaxDistance,
		Logger:      log,
	})

	return &Session{
		opts:     opts,
		pipeline: NewPipeline(retriever, prompt.NewComposer(), opts.Generator, opts.Timeout, log),
		log:      log.Named("session"),
	}, nil
}

// Load fetches url, rebuilds the index from it and returns a new handle. On
// failure the previous index, handle and history stay in place.
func (s *Session) Load(ctx context.Context, url string) (models.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	url = strings.TrimSpace(url)
	start := time.Now()
	log := s.log.With(zap.String("url", url))

	docs, err := s.fetch(ctx, url)
	if err != nil {
		log.Warn("load failed", zap.String("stage", "fetch"), zap.Error(err))
		return models.Handle{}, err
	}

	chunks, err := s.opts.Chunker.Process(docs)
	if err != nil {
		err = ragerr.Embedding("chunk documents", err)
		log.Warn("load failed", zap.String("stage", "chunk"), zap.Error(err))
		return models.Handle{}, err
	}
	if len(chunks) == 0 {
		return models.Handle{}, ragerr.Fetch(url, errors.New("no text content found"))
	}

	entries, err := s.embed(ctx, chunks)
	if err != nil {
		log.Warn("load failed", zap.String("stage", "embed"), zap.Error(err))
		return models.Handle{}, err
	}

	if err := s.build(ctx, entries); err != nil {
		log.Warn("load failed", zap.String("stage", "index"), zap.Error(err))
		return models.Handle{}, err
	}

	handle := models.Handle{
		ID:        uuid.NewString(),
		URL:       url,
		Documents: len(docs),
		Chunks:    len(chunks),
		LoadedAt:  time.Now(),
	}
	s.handle = &handle
	s.history = nil

	log.Info("site loaded",
		zap.String("handle", handle.ID),
		zap.Int("documents", handle.Documents),
		zap.Int("chunks", handle.Chunks),
		zap.Duration("took", time.Since(start)))
	return handle, nil
}

func (s *Session) fetch(ctx context.Context, url string) ([]models.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	docs, err := s.opts.Fetcher.Fetch(ctx, url)
	if err != nil {
		if ragerr.KindOf(err) == 0 {
			err = ragerr.Fetch(url, err)
		}
		return nil, err
	}
	return docs, nil
}

func (s *Session) embed(ctx context.Context, chunks []models.Chunk) ([]models.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if ragerr.KindOf(err) == 0 {
			err = ragerr.Embedding("embed chunks", err)
		}
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, ragerr.Embedding("embed chunks",
			fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vectors)))
	}

	entries := make([]models.Entry, len(chunks))
	for i, c := range chunks {
		metadata := make(map[string]interface{}, len(c.Metadata)+2)
		for k, v := range c.Metadata {
			metadata[k] = v
		}
		metadata["document_id"] = c.DocumentID
		metadata["start"] = c.Start

		entries[i] = models.Entry{
			ID:       c.ID,
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: metadata,
		}
	}
	return entries, nil
}

func (s *Session) build(ctx context.Context, entries []models.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if err := s.opts.Store.ResetAndBuild(ctx, entries); err != nil {
		return ragerr.Embedding("index entries", err)
	}
	return nil
}

// Ask answers question against the index behind handle. handle must be the
// one returned by the most recent successful Load.
func (s *Session) Ask(ctx context.Context, handle models.Handle, question string) (models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return models.Answer{}, ragerr.Query("ask", ragerr.ErrEmptyStore)
	}
	if handle.ID != s.handle.ID {
		return models.Answer{}, ragerr.Query("ask", ragerr.ErrStaleHandle)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return models.Answer{}, ragerr.Query("ask", errors.New("question is empty"))
	}

	answer, err := s.pipeline.Answer(ctx, question)
	if err != nil {
		s.log.Warn("question failed", zap.Error(err))
		return models.Answer{}, err
	}

	s.history = append(s.history,
		models.Turn{Role: models.RoleUser, Content: question},
		models.Turn{Role: models.RoleAssistant, Content: answer.Text},
	)
	return answer, nil
}

// Current returns the handle of the loaded site, if any.
func (s *Session) Current() (models.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return models.Handle{}, false
	}
	return *s.handle, true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return StateEmpty
	}
	return StateIndexed
}

// History returns a copy of the conversation since the last successful load.
func (s *Session) History() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Turn(nil), s.history...)
}

func (s *Session) Close() error {
	return s.opts.Store.Close()
}
