// Package generator turns a question and its retrieved passages into a model
// prompt and extracts the answer from the model output.
package generator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"policyrag/internal/domain"
)

const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.3
)

// Generator wraps a model with the policy prompt.
type Generator struct {
	model  domain.Model
	opts   domain.GenerateOptions
	logger *zap.Logger
}

func New(model domain.Model, opts domain.GenerateOptions, logger *zap.Logger) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, opts: opts, logger: logger}
}

// Model returns the wrapped model.
func (g *Generator) Model() domain.Model { return g.model }

// WithModel returns a copy of g that generates with m.
func (g *Generator) WithModel(m domain.Model) *Generator {
	c := *g
	c.model = m
	return &c
}

// Generate answers question from docs. Model failures are returned wrapped in
// domain.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, question string, docs []string) (string, error) {
	prompt := Render(question, JoinContext(docs))
	start := time.Now()
	out, err := g.model.Generate(ctx, prompt, g.opts)
	info := g.model.Info()
	if err != nil {
		g.logger.Error("generation failed",
			zap.String("model", info.Name),
			zap.String("provider", info.Provider),
			zap.Error(err))
		return "", fmt.Errorf("%w: %s: %v", domain.ErrGeneration, info.Name, err)
	}
	g.logger.Debug("generated",
		zap.String("model", info.Name),
		zap.Duration("took", time.Since(start)),
		zap.Int("prompt_chars", len(prompt)))
	return Extract(out), nil
}
