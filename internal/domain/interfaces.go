package domain

import "context"

// Chunker splits a document into smaller documents suitable for retrieval indexing.
// Every chunk carries a copy of the parent metadata.
type Chunker interface {
	Chunk(document Document) ([]Document, error)
}

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Collection is a named, independently queryable partition of a vector engine.
type Collection interface {
	Name() string
	Add(ctx context.Context, ids []string, documents []string, metadatas []Metadata) error
	Query(ctx context.Context, text string, n int) (QueryResult, error)
	IDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

// GenerateOptions bounds a single model call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}

// ModelInfo describes the model behind a Model.
type ModelInfo struct {
	Name     string
	Provider string
}

// Model is a generative language model.
type Model interface {
	Info() ModelInfo
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// ResponseCache stores generated answers keyed by (question, context).
type ResponseCache interface {
	Get(ctx context.Context, question, context string) (CacheEntry, bool, error)
	Put(ctx context.Context, entry CacheEntry) error
}

// Summarizer ranks the sentences of a text and returns the best ones.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
