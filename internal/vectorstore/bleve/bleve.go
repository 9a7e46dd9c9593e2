// Package bleve backs collections with a bleve full-text index. Relevance
// comes from term matching instead of embeddings; the score is mapped to a
// distance so results merge with the vector engines.
package bleve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/mapping"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

const (
	fieldContent  = "content"
	fieldMetadata = "metadata"
	fieldSeq      = "seq"
)

// Engine keeps one bleve index per collection, in memory when dir is empty.
type Engine struct {
	dir string

	mu          sync.Mutex
	collections map[string]*collection
}

func NewEngine(dir string) *Engine {
	return &Engine{dir: dir, collections: make(map[string]*collection)}
}

func (e *Engine) Collection(_ context.Context, name string) (domain.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("collection name is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.collections[name]; ok {
		return c, nil
	}
	index, err := e.open(name)
	if err != nil {
		return nil, fmt.Errorf("open bleve index %s: %w", name, err)
	}
	count, err := index.DocCount()
	if err != nil {
		index.Close()
		return nil, err
	}
	c := &collection{name: name, index: index, next: int(count)}
	e.collections[name] = c
	return c, nil
}

func (e *Engine) open(name string) (bleve.Index, error) {
	if e.dir == "" {
		return bleve.NewMemOnly(indexMapping())
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(e.dir, name+".bleve")
	if _, err := os.Stat(path); err == nil {
		return bleve.Open(path)
	}
	return bleve.New(path, indexMapping())
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for name, c := range e.collections {
		if err := c.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(e.collections, name)
	}
	return errors.Join(errs...)
}

func indexMapping() *mapping.IndexMappingImpl {
	content := bleve.NewTextFieldMapping()
	content.Store = true

	meta := bleve.NewTextFieldMapping()
	meta.Index = false
	meta.Store = true
	meta.IncludeInAll = false

	seq := bleve.NewNumericFieldMapping()
	seq.Store = true
	seq.IncludeInAll = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(fieldContent, content)
	doc.AddFieldMappingsAt(fieldMetadata, meta)
	doc.AddFieldMappingsAt(fieldSeq, seq)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

type collection struct {
	name  string
	index bleve.Index

	mu   sync.Mutex
	next int
}

func (c *collection) Name() string { return c.name }

func (c *collection) Add(_ context.Context, ids []string, documents []string, metadatas []domain.Metadata) error {
	if err := vectorstore.ValidateAdd(ids, documents, metadatas); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		existing, err := c.index.Document(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", vectorstore.ErrDuplicateID, id)
		}
	}
	batch := c.index.NewBatch()
	for i := range ids {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("marshal metadata %s: %w", ids[i], err)
		}
		err = batch.Index(ids[i], map[string]interface{}{
			fieldContent:  documents[i],
			fieldMetadata: string(meta),
			fieldSeq:      float64(c.next + i),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", ids[i], err)
		}
	}
	if err := c.index.Batch(batch); err != nil {
		return err
	}
	c.next += len(ids)
	return nil
}

// Query runs a match query against the content field. Documents that share
// no term with text are not returned.
func (c *collection) Query(ctx context.Context, text string, n int) (domain.QueryResult, error) {
	var out domain.QueryResult
	if n <= 0 {
		return out, nil
	}
	q := bleve.NewMatchQuery(text)
	q.SetField(fieldContent)
	req := bleve.NewSearchRequestOptions(q, n, 0, false)
	req.Fields = []string{fieldContent, fieldMetadata}
	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return out, err
	}
	out.Distances = make([]float64, 0, len(res.Hits))
	for _, hit := range res.Hits {
		content, _ := hit.Fields[fieldContent].(string)
		meta, err := decodeMetadata(hit.Fields[fieldMetadata])
		if err != nil {
			return out, fmt.Errorf("decode metadata %s: %w", hit.ID, err)
		}
		out.IDs = append(out.IDs, hit.ID)
		out.Documents = append(out.Documents, content)
		out.Metadatas = append(out.Metadatas, meta)
		out.Distances = append(out.Distances, 1/(1+hit.Score))
	}
	return out, nil
}

func (c *collection) IDs(ctx context.Context) ([]string, error) {
	count, err := c.index.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	req.SortBy([]string{fieldSeq})
	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (c *collection) Count(context.Context) (int, error) {
	n, err := c.index.DocCount()
	return int(n), err
}

func decodeMetadata(v interface{}) (domain.Metadata, error) {
	s, _ := v.(string)
	if s == "" {
		return domain.Metadata{}, nil
	}
	var m domain.Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
