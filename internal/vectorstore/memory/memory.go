package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"policyrag/internal/domain"
	"policyrag/internal/embedding"
	"policyrag/internal/vectorstore"
)

// Engine keeps collections in process memory.
type Engine struct {
	mu          sync.Mutex
	embedder    domain.Embedder
	collections map[string]*Collection
}

func NewEngine(embedder domain.Embedder) *Engine {
	return &Engine{embedder: embedder, collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use.
func (e *Engine) Collection(_ context.Context, name string) (domain.Collection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[name]
	if !ok {
		c = &Collection{name: name, embedder: e.embedder, index: make(map[string]int)}
		e.collections[name] = c
	}
	return c, nil
}

func (e *Engine) Close() error { return nil }

// Collection is a simple in-memory vector collection using brute-force cosine distance.
type Collection struct {
	name     string
	embedder domain.Embedder

	mu        sync.RWMutex
	ids       []string
	documents []string
	metadatas []domain.Metadata
	vectors   [][]float64
	index     map[string]int
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Add(ctx context.Context, ids []string, documents []string, metadatas []domain.Metadata) error {
	if err := vectorstore.ValidateAdd(ids, documents, metadatas); err != nil {
		return err
	}
	vectors := make([][]float64, len(documents))
	for i, d := range documents {
		v, err := c.embedder.Embed(ctx, d)
		if err != nil {
			return fmt.Errorf("embed %s: %w", ids[i], err)
		}
		vectors[i] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if _, ok := c.index[id]; ok {
			return fmt.Errorf("%w: %s", vectorstore.ErrDuplicateID, id)
		}
	}
	for i := range ids {
		c.index[ids[i]] = len(c.ids)
		c.ids = append(c.ids, ids[i])
		c.documents = append(c.documents, documents[i])
		c.metadatas = append(c.metadatas, metadatas[i].Clone())
		c.vectors = append(c.vectors, vectors[i])
	}
	return nil
}

// Query returns the n nearest entries, closest first.
func (c *Collection) Query(ctx context.Context, text string, n int) (domain.QueryResult, error) {
	var out domain.QueryResult
	if n <= 0 {
		return out, nil
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return out, fmt.Errorf("embed query: %w", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	distances := make([]float64, len(c.vectors))
	order := make([]int, len(c.vectors))
	for i := range c.vectors {
		distances[i] = embedding.CosineDistance(c.vectors[i], vec)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return distances[order[a]] < distances[order[b]] })
	if n > len(order) {
		n = len(order)
	}
	out.Distances = make([]float64, 0, n)
	for _, j := range order[:n] {
		out.IDs = append(out.IDs, c.ids[j])
		out.Documents = append(out.Documents, c.documents[j])
		out.Metadatas = append(out.Metadatas, c.metadatas[j].Clone())
		out.Distances = append(out.Distances, distances[j])
	}
	return out, nil
}

func (c *Collection) IDs(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.ids...), nil
}

func (c *Collection) Count(context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids), nil
}
