package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"policyrag/internal/cache"
	"policyrag/internal/chunker"
	"policyrag/internal/domain"
	"policyrag/internal/embedding/hashing"
	"policyrag/internal/generator"
	"policyrag/internal/ingest"
	"policyrag/internal/metrics"
	"policyrag/internal/retrieval"
	"policyrag/internal/router"
	"policyrag/internal/vectorstore"
	"policyrag/internal/vectorstore/memory"
)

// countingModel records how often it is called.
type countingModel struct {
	name  string
	calls atomic.Int32
	reply string
	err   error
}

func (m *countingModel) Info() domain.ModelInfo {
	return domain.ModelInfo{Name: m.name, Provider: "test"}
}

func (m *countingModel) Generate(_ context.Context, prompt string, _ domain.GenerateOptions) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	return prompt + " " + m.reply, nil
}

type fixture struct {
	agent   *Agent
	model   *countingModel
	cache   *cache.Memory
	metrics *metrics.Metrics
	dir     string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newFixtureOn(t, opts, memory.NewEngine(hashing.NewEmbedder(256)))
}

func newFixtureOn(t *testing.T, opts Options, engine vectorstore.Engine) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	r := router.Default()
	store, err := retrieval.Open(ctx, engine, r, retrieval.DefaultCollections(), logger)
	require.NoError(t, err)

	f := &fixture{
		model:   &countingModel{name: "counting", reply: "Your primary care copay is $25 per visit."},
		cache:   cache.NewMemory(16),
		metrics: metrics.New(),
		dir:     t.TempDir(),
	}
	opts.Metrics = f.metrics
	opts.Logger = logger
	gen := generator.New(f.model, domain.GenerateOptions{}, logger)
	in := ingest.New(r, router.DefaultHeaders(), chunker.NewParagraphChunker(), logger)
	f.agent = New(in, store, f.cache, gen, opts)
	return f
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testOp() domain.Operation {
	return domain.NewOperation("tester", time.Date(2025, 1, 20, 23, 18, 40, 0, time.UTC))
}

const healthDoc = "HEALTH INSURANCE POLICY\nPolicy Number: H-1\n\nCopay: $25 per visit\n"

const autoDoc = "AUTO INSURANCE POLICY\nCollision Coverage: $500 deductible\nLiability: $100,000 per person\n"

func TestAnswerQuestion_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.agent.ProcessDocuments(ctx, testOp(), []string{f.write(t, "health.txt", healthDoc)})
	require.NoError(t, err)

	results, err := f.agent.store.Search(ctx, "What is my primary care copay?", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, domain.PolicyHealth, results[0].PolicyType)

	ans := f.agent.AnswerQuestion(ctx, testOp(), "What is my primary care copay?")
	assert.Equal(t, domain.StatusAnswered, ans.Status)
	assert.NotEqual(t, NoResultsResponse, ans.Response)
	assert.Contains(t, ans.Response, "$25 per visit")
	assert.Equal(t, "tester", ans.User)
	assert.Equal(t, testOp().At, ans.Timestamp)
	require.Len(t, ans.SimilarDocuments, 1)
	assert.Equal(t, healthDoc, ans.SimilarDocuments[0].Content)
	assert.EqualValues(t, 1, f.model.calls.Load())
}

func TestAnswerQuestion_EmptyIndex(t *testing.T) {
	f := newFixture(t, Options{})

	ans := f.agent.AnswerQuestion(context.Background(), testOp(), "anything")
	assert.Equal(t, NoResultsResponse, ans.Response)
	assert.Equal(t, domain.StatusNoResults, ans.Status)
	assert.Empty(t, ans.SimilarDocuments)
	assert.Zero(t, f.model.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Answers.WithLabelValues("no_results")))
}

func TestAnswerQuestion_UsesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.agent.ProcessDocuments(ctx, testOp(), []string{f.write(t, "health.txt", healthDoc)})
	require.NoError(t, err)

	first := f.agent.AnswerQuestion(ctx, testOp(), "What is my copay?")
	second := f.agent.AnswerQuestion(ctx, testOp(), "What is my copay?")

	assert.Equal(t, domain.StatusAnswered, first.Status)
	assert.Equal(t, domain.StatusCached, second.Status)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.SimilarDocuments, second.SimilarDocuments)
	assert.EqualValues(t, 1, f.model.calls.Load())
	assert.Equal(t, 1, f.cache.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("miss")))
}

func TestAnswerQuestion_GenerationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.model.err = errors.New("model offline")
	_, err := f.agent.ProcessDocuments(ctx, testOp(), []string{f.write(t, "health.txt", healthDoc)})
	require.NoError(t, err)

	ans := f.agent.AnswerQuestion(ctx, testOp(), "What is my copay?")
	assert.Equal(t, ApologyResponse, ans.Response)
	assert.Equal(t, domain.StatusFailed, ans.Status)
	assert.Equal(t, "generation", ans.ErrorKind)
	assert.ErrorIs(t, ans.Err, domain.ErrGeneration)
	assert.Empty(t, ans.SimilarDocuments)
	assert.Zero(t, f.cache.Len())
}

func TestAnswerQuestion_RetrievalFailure(t *testing.T) {
	engine := &brokenEngine{Engine: memory.NewEngine(hashing.NewEmbedder(256))}
	f := newFixtureOn(t, Options{}, engine)
	engine.queryErr = errors.New("connection refused")

	ans := f.agent.AnswerQuestion(context.Background(), testOp(), "What is my copay?")
	assert.Equal(t, ApologyResponse, ans.Response)
	assert.Equal(t, domain.StatusFailed, ans.Status)
	assert.Equal(t, "retrieval", ans.ErrorKind)
	assert.ErrorIs(t, ans.Err, domain.ErrRetrieval)
	assert.Nil(t, ans.SimilarDocuments)
	assert.Zero(t, f.model.calls.Load())
	assert.Zero(t, f.cache.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Answers.WithLabelValues("failed")))
}

func TestAnswerQuestion_CitesTopResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Cite: 1, Limit: 2})
	_, err := f.agent.ProcessDocuments(ctx, testOp(), []string{
		f.write(t, "health.txt", healthDoc),
		f.write(t, "auto.txt", autoDoc),
	})
	require.NoError(t, err)

	ans := f.agent.AnswerQuestion(ctx, testOp(), "Tell me about my policy")
	assert.Equal(t, domain.StatusAnswered, ans.Status)
	assert.Len(t, ans.SimilarDocuments, 1)
}

func TestProcessDocuments_Report(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.write(t, "health.txt", healthDoc)
	f.write(t, "auto.txt", autoDoc)
	f.write(t, "notes.md", "ignored by the glob")
	f.write(t, "misc.txt", "Office hours are nine to five.\n\nCall us anytime.")

	report, err := f.agent.ProcessDocuments(ctx, testOp(), []string{filepath.Join(f.dir, "*")})
	require.NoError(t, err)
	assert.Len(t, report.Files, 3)
	assert.Equal(t, 4, report.Documents)
	assert.Equal(t, 1, report.Added[domain.PolicyHealth])
	assert.Equal(t, 1, report.Added[domain.PolicyAuto])
	assert.Len(t, report.Dropped, 2)
	assert.Equal(t, 4, report.Stats.Total)
	assert.Equal(t, 2, report.Stats.ByType[domain.PolicyUnknown])
	assert.Len(t, f.agent.Documents(), 4)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.DocumentsDropped))

	stats, err := f.agent.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[0].Count)
	assert.Equal(t, 1, stats[1].Count)
}

func TestProcessDocuments_NoPartialCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	good := f.write(t, "health.txt", healthDoc)
	missing := filepath.Join(f.dir, "missing.txt")

	_, err := f.agent.ProcessDocuments(ctx, testOp(), []string{good, missing})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.agent.ProcessDocuments(ctx, testOp(), []string{good, f.write(t, "policy.pdf", "x")})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	stats, err := f.agent.Stats(ctx)
	require.NoError(t, err)
	for _, s := range stats {
		assert.Zero(t, s.Count, s.Name)
	}
	assert.Empty(t, f.agent.Documents())
}

func TestProcessDocuments_PartialStoreFailure(t *testing.T) {
	ctx := context.Background()
	engine := &brokenEngine{Engine: memory.NewEngine(hashing.NewEmbedder(256)), addFails: "auto_insurance"}
	f := newFixtureOn(t, Options{}, engine)

	report, err := f.agent.ProcessDocuments(ctx, testOp(), []string{
		f.write(t, "health.txt", healthDoc),
		f.write(t, "auto.txt", autoDoc),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.Empty(t, report.Files)

	docs := f.agent.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, healthDoc, docs[0].Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DocumentsIngested.WithLabelValues("health")))

	stats, err := f.agent.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[0].Count)
	assert.Equal(t, 0, stats[1].Count)
}

func TestProcessDocuments_SkipsStoredDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	paths := []string{f.write(t, "health.txt", healthDoc), f.write(t, "auto.txt", autoDoc)}

	_, err := f.agent.ProcessDocuments(ctx, testOp(), paths)
	require.NoError(t, err)
	later := domain.NewOperation("tester", testOp().At.Add(time.Hour))
	report, err := f.agent.ProcessDocuments(ctx, later, paths)
	require.NoError(t, err)

	assert.Zero(t, report.Added[domain.PolicyHealth])
	assert.Zero(t, report.Added[domain.PolicyAuto])
	assert.ElementsMatch(t, paths, report.Duplicates)
	assert.Len(t, f.agent.Documents(), 2)

	stats, err := f.agent.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"health_0"}, stats[0].IDs)
	assert.Equal(t, []string{"auto_0"}, stats[1].IDs)
}

func TestProcessDocuments_NothingToProcess(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.agent.ProcessDocuments(context.Background(), testOp(), []string{filepath.Join(f.dir, "*.txt")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSwitchModel(t *testing.T) {
	other := &countingModel{name: "other", reply: "other answer"}
	f := newFixture(t, Options{
		Models: []string{"counting", "other"},
		NewModel: func(name string) (domain.Model, error) {
			if name != "other" {
				return nil, errors.New("unknown model")
			}
			return other, nil
		},
	})
	assert.Equal(t, "counting", f.agent.ModelInfo().Name)
	assert.Equal(t, []string{"counting", "other"}, f.agent.Models())

	_, err := f.agent.SwitchModel("missing")
	assert.Error(t, err)
	assert.Equal(t, "counting", f.agent.ModelInfo().Name)

	info, err := f.agent.SwitchModel("other")
	require.NoError(t, err)
	assert.Equal(t, "other", info.Name)
	assert.Equal(t, "other", f.agent.ModelInfo().Name)

	ctx := context.Background()
	_, err = f.agent.ProcessDocuments(ctx, testOp(), []string{f.write(t, "health.txt", healthDoc)})
	require.NoError(t, err)
	ans := f.agent.AnswerQuestion(ctx, testOp(), "What is my copay?")
	assert.Contains(t, ans.Response, "other answer")
	assert.Zero(t, f.model.calls.Load())
}

func TestSwitchModel_NotConfigured(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.agent.SwitchModel("x")
	assert.ErrorIs(t, err, domain.ErrConfig)
}

// brokenEngine wraps a working engine and injects failures into its collections.
type brokenEngine struct {
	vectorstore.Engine
	addFails string
	queryErr error
}

func (e *brokenEngine) Collection(ctx context.Context, name string) (domain.Collection, error) {
	c, err := e.Engine.Collection(ctx, name)
	if err != nil {
		return nil, err
	}
	return &brokenCollection{Collection: c, engine: e}, nil
}

type brokenCollection struct {
	domain.Collection
	engine *brokenEngine
}

func (c *brokenCollection) Add(ctx context.Context, ids, docs []string, metas []domain.Metadata) error {
	if c.Name() == c.engine.addFails {
		return errors.New("disk full")
	}
	return c.Collection.Add(ctx, ids, docs, metas)
}

func (c *brokenCollection) Query(ctx context.Context, text string, n int) (domain.QueryResult, error) {
	if c.engine.queryErr != nil {
		return domain.QueryResult{}, c.engine.queryErr
	}
	return c.Collection.Query(ctx, text, n)
}
