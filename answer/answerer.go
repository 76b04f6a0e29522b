package answer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
)

// Apology is returned whenever an answer cannot be generated.
const Apology = "Sorry, I could not answer your question right now. Please try again later."

// noContext is passed to the answer prompt when no evidence survived.
const noContext = "No reference information was found."

// Answerer dispatches the answer and general prompts.
type Answerer struct {
	generator ai.Generator
	logger    *slog.Logger
}

// Option configures an Answerer.
type Option func(*Answerer) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Answerer) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger.With("component", "answer")
		return nil
	}
}

// NewAnswerer creates an answerer.
func NewAnswerer(generator ai.Generator, opts ...Option) (*Answerer, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	a := &Answerer{
		generator: generator,
		logger:    slog.Default().With("component", "answer"),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Answer generates an in-domain answer from the assembled context.
func (a *Answerer) Answer(ctx context.Context, query, evidence string, history []*core.ConversationTurn) string {
	if strings.TrimSpace(evidence) == "" {
		evidence = noContext
	}
	return a.generate(ctx, ai.PromptAnswer, ai.PromptArgs{
		Query:   query,
		Context: evidence,
		History: history,
	})
}

// General generates an out-of-domain reply from history only.
func (a *Answerer) General(ctx context.Context, query string, history []*core.ConversationTurn) string {
	return a.generate(ctx, ai.PromptGeneral, ai.PromptArgs{
		Query:   query,
		History: history,
	})
}

func (a *Answerer) generate(ctx context.Context, kind ai.PromptKind, args ai.PromptArgs) string {
	out, err := a.generator.Generate(ctx, kind, args)
	if err != nil {
		a.logger.Error("answer generation failed", "kind", kind, "err", err)
		return Apology
	}
	if out = strings.TrimSpace(out); out == "" {
		a.logger.Warn("empty answer from generator", "kind", kind)
		return Apology
	}
	return out
}
