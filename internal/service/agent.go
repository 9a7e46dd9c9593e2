// Package service wires ingestion, retrieval, caching and generation into the
// two operations the harness uses: processing documents and answering
// questions.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"policyrag/internal/domain"
	"policyrag/internal/generator"
	"policyrag/internal/ingest"
	"policyrag/internal/metrics"
	"policyrag/internal/retrieval"
)

const (
	// NoResultsResponse is returned when retrieval finds nothing.
	NoResultsResponse = "I couldn't find any relevant information in the policy documents. Could you please rephrase your question or be more specific?"
	// ApologyResponse is returned when answering fails.
	ApologyResponse = "I apologize, but I encountered an error while processing your question. Please try again."

	DefaultCite = 2
)

// ModelFactory builds a model by name for runtime switching.
type ModelFactory func(name string) (domain.Model, error)

// Options tunes an Agent. Zero values fall back to defaults.
type Options struct {
	Limit    int
	Cite     int
	Models   []string
	NewModel ModelFactory
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// IngestReport describes one ProcessDocuments call.
type IngestReport struct {
	Files      []string                  `json:"files"`
	Documents  int                       `json:"documents"`
	Added      map[domain.PolicyType]int `json:"added"`
	Dropped    []string                  `json:"dropped,omitempty"`
	Duplicates []string                  `json:"duplicates,omitempty"`
	Stats      ingest.DocumentStats      `json:"stats"`
}

// Agent answers questions about the policies it has processed.
type Agent struct {
	ingestor *ingest.Ingestor
	store    *retrieval.Store
	cache    domain.ResponseCache
	limit    int
	cite     int
	models   []string
	newModel ModelFactory
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// mu serializes generation with model switching.
	mu  sync.Mutex
	gen *generator.Generator

	libMu   sync.RWMutex
	library []domain.Document
	inLib   map[string]bool
}

func New(ingestor *ingest.Ingestor, store *retrieval.Store, cache domain.ResponseCache, gen *generator.Generator, opts Options) *Agent {
	if opts.Limit <= 0 {
		opts.Limit = retrieval.DefaultLimit
	}
	if opts.Cite <= 0 {
		opts.Cite = DefaultCite
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Agent{
		ingestor: ingestor,
		store:    store,
		cache:    cache,
		gen:      gen,
		limit:    opts.Limit,
		cite:     opts.Cite,
		models:   opts.Models,
		newModel: opts.NewModel,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		inLib:    make(map[string]bool),
	}
}

// ProcessDocuments ingests every path and then stores the documents. Glob
// patterns are expanded and keep only .txt matches. Nothing is stored unless
// every file was read successfully. Documents already stored are skipped and
// listed in Duplicates. When the store fails part way, the documents it did
// write are still added to the library so that Documents and Stats agree.
func (a *Agent) ProcessDocuments(ctx context.Context, op domain.Operation, paths []string) (IngestReport, error) {
	var report IngestReport
	files, err := expand(paths)
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		return report, fmt.Errorf("%w: no .txt documents found", domain.ErrNotFound)
	}

	var docs []domain.Document
	for _, f := range files {
		ds, err := a.ingestor.Process(ctx, op, f)
		if err != nil {
			a.logger.Error("ingestion aborted",
				zap.String("request_id", op.RequestID),
				zap.String("path", f),
				zap.Error(err))
			return report, err
		}
		docs = append(docs, ds...)
	}

	added, err := a.store.Add(ctx, docs)
	if err != nil {
		// Collections written before the failure keep their documents.
		a.remember(added.Stored)
		a.count(added)
		a.logger.Error("storing documents failed",
			zap.String("request_id", op.RequestID),
			zap.Int("stored", len(added.Stored)),
			zap.Error(err))
		return report, err
	}
	a.remember(docs)
	a.count(added)
	report = IngestReport{
		Files:      files,
		Documents:  len(docs),
		Added:      added.Added,
		Dropped:    added.Dropped,
		Duplicates: added.Duplicates,
		Stats:      ingest.Stats(docs),
	}
	a.logger.Info("documents processed",
		zap.String("request_id", op.RequestID),
		zap.Int("files", len(files)),
		zap.Int("documents", len(docs)),
		zap.Int("stored", added.Total()),
		zap.Int("dropped", len(added.Dropped)),
		zap.Int("duplicates", len(added.Duplicates)))
	return report, nil
}

// remember adds docs to the library, skipping ones it already holds.
func (a *Agent) remember(docs []domain.Document) {
	a.libMu.Lock()
	defer a.libMu.Unlock()
	for _, d := range docs {
		if digest := d.Digest(); !a.inLib[digest] {
			a.inLib[digest] = true
			a.library = append(a.library, d)
		}
	}
}

func (a *Agent) count(added retrieval.AddReport) {
	if a.metrics == nil {
		return
	}
	for t, n := range added.Added {
		a.metrics.DocumentsIngested.WithLabelValues(string(t)).Add(float64(n))
	}
	a.metrics.DocumentsDropped.Add(float64(len(added.Dropped)))
}

func expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		if !strings.ContainsAny(p, "*?[") {
			out = append(out, p)
			continue
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", domain.ErrNotFound, p, err)
		}
		for _, m := range matches {
			if strings.EqualFold(filepath.Ext(m), ".txt") {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// AnswerQuestion retrieves context for question and answers it. It never
// returns an error: failures produce the apology text with StatusFailed and
// the error kind set.
func (a *Agent) AnswerQuestion(ctx context.Context, op domain.Operation, question string) domain.Answer {
	ans := domain.Answer{Timestamp: op.At, User: op.User}
	log := a.logger.With(zap.String("request_id", op.RequestID))

	start := time.Now()
	results, err := a.store.Search(ctx, question, a.limit)
	if a.metrics != nil {
		a.metrics.RetrievalSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return a.fail(log, ans, err)
	}
	if len(results) == 0 {
		log.Info("no relevant documents", zap.String("question", question))
		ans.Response = NoResultsResponse
		ans.Status = domain.StatusNoResults
		return a.done(ans)
	}

	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Content
	}
	joined := generator.JoinContext(contexts)

	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, ok := a.lookup(ctx, log, question, joined); ok {
		ans.Response = entry.Response
		ans.Status = domain.StatusCached
	} else {
		start = time.Now()
		resp, err := a.gen.Generate(ctx, question, contexts)
		if a.metrics != nil {
			a.metrics.GenerationSeconds.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return a.fail(log, ans, err)
		}
		ans.Response = resp
		ans.Status = domain.StatusAnswered
		err = a.cache.Put(ctx, domain.CacheEntry{
			Question: question,
			Context:  joined,
			Response: resp,
			CachedAt: op.At,
			CachedBy: op.User,
		})
		if err != nil {
			log.Warn("cache write failed", zap.Error(err))
		}
	}

	n := a.cite
	if n > len(results) {
		n = len(results)
	}
	ans.SimilarDocuments = results[:n]
	return a.done(ans)
}

func (a *Agent) lookup(ctx context.Context, log *zap.Logger, question, joined string) (domain.CacheEntry, bool) {
	entry, ok, err := a.cache.Get(ctx, question, joined)
	result := "miss"
	switch {
	case err != nil:
		log.Warn("cache read failed", zap.Error(err))
		result = "error"
	case ok:
		result = "hit"
	}
	if a.metrics != nil {
		a.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
	return entry, ok && err == nil
}

func (a *Agent) fail(log *zap.Logger, ans domain.Answer, err error) domain.Answer {
	log.Error("answering failed", zap.Error(err))
	ans.Response = ApologyResponse
	ans.Status = domain.StatusFailed
	ans.ErrorKind = domain.ErrorKind(err)
	ans.Err = err
	ans.SimilarDocuments = nil
	return a.done(ans)
}

func (a *Agent) done(ans domain.Answer) domain.Answer {
	if a.metrics != nil {
		a.metrics.Answers.WithLabelValues(string(ans.Status)).Inc()
	}
	return ans
}

// Documents returns every document processed so far, in ingestion order.
func (a *Agent) Documents() []domain.Document {
	a.libMu.RLock()
	defer a.libMu.RUnlock()
	return append([]domain.Document(nil), a.library...)
}

// Stats reports the contents of every collection.
func (a *Agent) Stats(ctx context.Context) ([]retrieval.CollectionStats, error) {
	return a.store.Stats(ctx)
}

// ModelInfo describes the model currently used for generation.
func (a *Agent) ModelInfo() domain.ModelInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen.Model().Info()
}

// Models lists the model names offered for switching.
func (a *Agent) Models() []string {
	return append([]string(nil), a.models...)
}

// SwitchModel replaces the generation model. It waits for a running
// generation to finish.
func (a *Agent) SwitchModel(name string) (domain.ModelInfo, error) {
	if a.newModel == nil {
		return domain.ModelInfo{}, fmt.Errorf("%w: model switching is not configured", domain.ErrConfig)
	}
	if strings.TrimSpace(name) == "" {
		return domain.ModelInfo{}, errors.New("model name is empty")
	}
	m, err := a.newModel(name)
	if err != nil {
		return domain.ModelInfo{}, err
	}
	a.mu.Lock()
	a.gen = a.gen.WithModel(m)
	a.mu.Unlock()
	info := m.Info()
	a.logger.Info("model switched", zap.String("model", info.Name), zap.String("provider", info.Provider))
	return info, nil
}
