// Package retrieval partitions policy documents into one collection per
// policy type and routes questions to the matching collections.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"policyrag/internal/domain"
	"policyrag/internal/router"
	"policyrag/internal/vectorstore"
)

// DefaultLimit is the number of results fetched per collection when the caller
// does not ask for a specific number.
const DefaultLimit = 3

// CollectionSpec binds a policy type to an engine collection name.
type CollectionSpec struct {
	Type domain.PolicyType `yaml:"type"`
	Name string            `yaml:"name"`
}

// DefaultCollections returns the health and auto collections.
func DefaultCollections() []CollectionSpec {
	return []CollectionSpec{
		{Type: domain.PolicyHealth, Name: "health_insurance"},
		{Type: domain.PolicyAuto, Name: "auto_insurance"},
	}
}

// AddReport describes the outcome of Store.Add.
type AddReport struct {
	Added   map[domain.PolicyType]int `json:"added"`
	Dropped []string                  `json:"dropped,omitempty"`
	// Duplicates lists sources whose content was already stored.
	Duplicates []string `json:"duplicates,omitempty"`
	// Stored holds the documents written by the call, in insertion order.
	Stored []domain.Document `json:"-"`
}

// Total returns the number of documents stored.
func (r AddReport) Total() int {
	n := 0
	for _, c := range r.Added {
		n += c
	}
	return n
}

// CollectionStats describes one typed collection.
type CollectionStats struct {
	Type  domain.PolicyType `json:"type"`
	Name  string            `json:"name"`
	Count int               `json:"count"`
	IDs   []string          `json:"ids"`
}

// Store owns one collection per policy type.
type Store struct {
	router      *router.Router
	order       []domain.PolicyType
	names       map[domain.PolicyType]string
	collections map[domain.PolicyType]domain.Collection
	logger      *zap.Logger
}

// Open resolves every configured collection on engine. Collections are
// searched in the order given by specs.
func Open(ctx context.Context, engine vectorstore.Engine, r *router.Router, specs []CollectionSpec, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no collections configured", domain.ErrConfig)
	}
	s := &Store{
		router:      r,
		names:       make(map[domain.PolicyType]string, len(specs)),
		collections: make(map[domain.PolicyType]domain.Collection, len(specs)),
		logger:      logger,
	}
	for _, spec := range specs {
		if spec.Type == "" || spec.Type == domain.PolicyUnknown || spec.Name == "" {
			return nil, fmt.Errorf("%w: invalid collection %q for type %q", domain.ErrConfig, spec.Name, spec.Type)
		}
		if _, dup := s.collections[spec.Type]; dup {
			return nil, fmt.Errorf("%w: type %q has more than one collection", domain.ErrConfig, spec.Type)
		}
		c, err := engine.Collection(ctx, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: open collection %s: %v", domain.ErrRetrieval, spec.Name, err)
		}
		s.order = append(s.order, spec.Type)
		s.names[spec.Type] = spec.Name
		s.collections[spec.Type] = c
	}
	return s, nil
}

// Types returns the policy types that have a collection, in search order.
func (s *Store) Types() []domain.PolicyType {
	return append([]domain.PolicyType(nil), s.order...)
}

// duplicateWindow is how many nearest entries are compared when looking for
// an already stored copy of a document.
const duplicateWindow = 5

// batch is the prepared insert for one collection.
type batch struct {
	typ   domain.PolicyType
	docs  []domain.Document
	ids   []string
	metas []domain.Metadata
}

// Add inserts every document into the collection of its type. A document
// keeps the type recorded at ingestion (doc_type); one without it is
// classified by content. Documents without a collection are reported as
// dropped, and documents whose source and content are already stored are
// reported as duplicates. Neither is written.
//
// Every batch is prepared, checked for duplicates and counted, before the
// first insert, so an unreachable collection stores nothing. The collection boundary has no delete: if an insert fails after
// earlier collections were written, those writes stay and are listed in the
// returned report next to the error.
func (s *Store) Add(ctx context.Context, docs []domain.Document) (AddReport, error) {
	report := AddReport{Added: make(map[domain.PolicyType]int)}
	grouped := make(map[domain.PolicyType][]domain.Document)
	for _, d := range docs {
		t := s.typeOf(d)
		if _, ok := s.collections[t]; !ok {
			report.Dropped = append(report.Dropped, d.Source())
			s.logger.Warn("document not stored",
				zap.String("source", d.Source()),
				zap.String("policy_type", string(t)))
			continue
		}
		grouped[t] = append(grouped[t], d)
	}

	var batches []batch
	for _, t := range s.order {
		if len(grouped[t]) == 0 {
			continue
		}
		b, dups, err := s.prepare(ctx, t, grouped[t])
		if err != nil {
			return AddReport{Added: map[domain.PolicyType]int{}}, err
		}
		report.Duplicates = append(report.Duplicates, dups...)
		if len(b.docs) > 0 {
			batches = append(batches, b)
		}
	}

	for _, b := range batches {
		c := s.collections[b.typ]
		contents := make([]string, len(b.docs))
		for i, d := range b.docs {
			contents[i] = d.Content
		}
		if err := c.Add(ctx, b.ids, contents, b.metas); err != nil {
			if len(report.Stored) > 0 {
				s.logger.Error("batch partially stored",
					zap.String("failed_collection", c.Name()),
					zap.Int("stored", len(report.Stored)))
			}
			return report, fmt.Errorf("%w: add to %s: %v", domain.ErrRetrieval, c.Name(), err)
		}
		report.Added[b.typ] = len(b.docs)
		report.Stored = append(report.Stored, b.docs...)
		s.logger.Info("documents added",
			zap.String("collection", c.Name()),
			zap.Int("count", len(b.docs)))
	}
	return report, nil
}

func (s *Store) typeOf(d domain.Document) domain.PolicyType {
	if t := d.Type(); t != domain.PolicyUnknown {
		return t
	}
	return s.router.Classify(d.Content)
}

// prepare assigns ids and drops documents whose digest is already stored or
// repeated within docs.
func (s *Store) prepare(ctx context.Context, t domain.PolicyType, docs []domain.Document) (batch, []string, error) {
	c := s.collections[t]
	b := batch{typ: t}
	var dups []string
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		digest := d.Digest()
		stored, err := s.isStored(ctx, c, d.Content, digest)
		if err != nil {
			return b, nil, err
		}
		if stored || seen[digest] {
			dups = append(dups, d.Source())
			s.logger.Info("document already stored",
				zap.String("source", d.Source()),
				zap.String("collection", c.Name()))
			continue
		}
		seen[digest] = true
		meta := d.Metadata.Clone()
		meta[domain.MetaDigest] = digest
		b.docs = append(b.docs, d)
		b.metas = append(b.metas, meta)
	}
	if len(b.docs) == 0 {
		return b, dups, nil
	}
	start, err := c.Count(ctx)
	if err != nil {
		return b, nil, fmt.Errorf("%w: count %s: %v", domain.ErrRetrieval, c.Name(), err)
	}
	b.ids = make([]string, len(b.docs))
	for i := range b.docs {
		b.ids[i] = string(t) + "_" + strconv.Itoa(start+i)
	}
	return b, dups, nil
}

// isStored looks for digest among the entries nearest to content.
func (s *Store) isStored(ctx context.Context, c domain.Collection, content, digest string) (bool, error) {
	res, err := c.Query(ctx, content, duplicateWindow)
	if err != nil {
		return false, fmt.Errorf("%w: query %s: %v", domain.ErrRetrieval, c.Name(), err)
	}
	for _, m := range res.Metadatas {
		if m[domain.MetaDigest] == digest {
			return true, nil
		}
	}
	return false, nil
}

// Search classifies query and runs it against the matching collection, or
// against every collection when the query has no collection of its own.
// When every result carries a distance the merged list is sorted by it.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	targets := s.order
	if t := s.router.Classify(query); s.collections[t] != nil {
		targets = []domain.PolicyType{t}
	}

	var results []domain.SearchResult
	for _, t := range targets {
		c := s.collections[t]
		res, err := c.Query(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: query %s: %v", domain.ErrRetrieval, c.Name(), err)
		}
		for i, content := range res.Documents {
			r := domain.SearchResult{Content: content, PolicyType: t}
			if i < len(res.Metadatas) {
				r.Metadata = res.Metadatas[i]
			}
			if i < len(res.Distances) {
				r.Distance = res.Distances[i]
				r.HasDistance = true
			}
			results = append(results, r)
		}
	}

	if allHaveDistance(results) {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	}
	return results, nil
}

func allHaveDistance(results []domain.SearchResult) bool {
	for _, r := range results {
		if !r.HasDistance {
			return false
		}
	}
	return true
}

// Stats reports the size and ids of every collection.
func (s *Store) Stats(ctx context.Context) ([]CollectionStats, error) {
	out := make([]CollectionStats, 0, len(s.order))
	for _, t := range s.order {
		c := s.collections[t]
		n, err := c.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: count %s: %v", domain.ErrRetrieval, c.Name(), err)
		}
		ids, err := c.IDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: ids %s: %v", domain.ErrRetrieval, c.Name(), err)
		}
		out = append(out, CollectionStats{Type: t, Name: s.names[t], Count: n, IDs: ids})
	}
	return out, nil
}
