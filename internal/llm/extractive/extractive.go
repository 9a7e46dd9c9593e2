// Package extractive answers from the prompt's own context without a model
// server: it picks the context sentences that best match the question.
package extractive

import (
	"context"
	"errors"

	"policyrag/internal/domain"
	"policyrag/internal/generator"
	"policyrag/internal/summarizer"
)

const (
	Name = "frequency"

	defaultSentences = 3
)

// Model implements domain.Model offline.
type Model struct {
	ranker    *summarizer.FrequencySummarizer
	sentences int
}

// New returns a model answering with at most sentences context sentences.
func New(sentences int) *Model {
	if sentences <= 0 {
		sentences = defaultSentences
	}
	return &Model{ranker: summarizer.NewFrequencySummarizer(), sentences: sentences}
}

func (m *Model) Info() domain.ModelInfo {
	return domain.ModelInfo{Name: Name, Provider: "extractive"}
}

// Generate echoes the prompt followed by the selected sentences, like a
// completion model would. MaxTokens caps the answer length in characters.
func (m *Model) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	question, context, ok := generator.Parse(prompt)
	if !ok {
		return "", errors.New("prompt does not contain a context section")
	}
	answer, err := m.ranker.Focus(context, question, m.sentences)
	if err != nil {
		return "", err
	}
	if r := []rune(answer); opts.MaxTokens > 0 && len(r) > opts.MaxTokens {
		answer = string(r[:opts.MaxTokens])
	}
	return prompt + " " + answer, nil
}
