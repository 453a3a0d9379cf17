package rag

import (
	"context"
	"time"

	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/internal/types"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/prompt"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// Pipeline answers one question: retrieve, compose, generate. It holds no
// state between calls beyond what the store contains.
type Pipeline struct {
	retriever *Retriever
	composer  *prompt.Composer
	generator types.Generator
	timeout   time.Duration
	log       *zap.Logger
}

func NewPipeline(retriever *Retriever, composer *prompt.Composer, generator types.Generator, timeout time.Duration, log *zap.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pipeline{
		retriever: retriever,
		composer:  composer,
		generator: generator,
		timeout:   timeout,
		log:       logger.OrNop(log).Named("pipeline"),
	}
}

func (p *Pipeline) Answer(ctx context.Context, question string) (models.Answer, error) {
	sources, err := p.retrieve(ctx, question)
	if err != nil {
		return models.Answer{}, err
	}

	passages := make([]string, len(sources))
	for i, s := range sources {
		passages[i] = s.Text
	}

	composed, err := p.composer.Compose(passages, question)
	if err != nil {
		return models.Answer{}, ragerr.Generation("compose prompt", err)
	}

	text, err := p.generate(ctx, composed.Text)
	if err != nil {
		return models.Answer{}, err
	}

	p.log.Info("answered question",
		zap.String("language", composed.Language.Code),
		zap.Int("sources", len(sources)))

	return models.Answer{
		Text:     text,
		Language: composed.Language.Code,
		Sources:  sources,
	}, nil
}

func (p *Pipeline) retrieve(ctx context.Context, question string) ([]models.ScoredEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.retriever.Retrieve(ctx, question)
}

func (p *Pipeline) generate(ctx context.Context, composed string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.generator.Generate(ctx, composed)
	if err != nil {
		if ragerr.KindOf(err) == 0 {
			err = ragerr.Generation("generate", err)
		}
		return "", err
	}
	return text, nil
}
