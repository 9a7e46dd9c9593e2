package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"policyrag/internal/chunker"
	"policyrag/internal/domain"
	"policyrag/internal/router"
)

const healthPolicy = `
HEALTH INSURANCE POLICY
Policy Number: HEALTH-2025-001

1. Primary Care Visits
   - Copay: $25 per visit

2. Specialist Care
   - Copay: $40 per visit
`

func newIngestor(t *testing.T) *Ingestor {
	return New(router.Default(), router.DefaultHeaders(), chunker.NewParagraphChunker(), zaptest.NewLogger(t))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func op(at time.Time) domain.Operation {
	return domain.Operation{User: "tester", At: at}
}

func TestProcess_PolicyHeaderIsSingleChunk(t *testing.T) {
	path := writeFile(t, "health_policy.txt", healthPolicy)
	at := time.Date(2025, 1, 20, 22, 38, 6, 0, time.UTC)

	docs, err := newIngestor(t).Process(context.Background(), op(at), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d := docs[0]
	assert.Equal(t, healthPolicy, d.Content)
	assert.Equal(t, domain.PolicyHealth, d.Type())
	assert.Equal(t, path, d.Metadata[domain.MetaSource])
	assert.Equal(t, "2025-01-20 22:38:06", d.Metadata[domain.MetaProcessedAt])
	assert.Equal(t, "tester", d.Metadata[domain.MetaProcessedBy])
	assert.Equal(t, ".txt", d.Metadata[domain.MetaFileType])
	assert.Equal(t, "health_policy.txt", d.Metadata[domain.MetaFileName])
	assert.NotContains(t, d.Metadata, domain.MetaChunkIndex)
}

func TestProcess_SameFileTwice(t *testing.T) {
	path := writeFile(t, "health_policy.txt", healthPolicy)
	in := newIngestor(t)
	t1 := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

	first, err := in.Process(context.Background(), op(t1), path)
	require.NoError(t, err)
	same, err := in.Process(context.Background(), op(t1), path)
	require.NoError(t, err)
	later, err := in.Process(context.Background(), op(t1.Add(time.Second)), path)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, later, 1)
	assert.Equal(t, first[0].Content, later[0].Content)
	assert.Equal(t, first[0].Metadata[domain.MetaProcessedAt], same[0].Metadata[domain.MetaProcessedAt])
	assert.NotEqual(t, first[0].Metadata[domain.MetaProcessedAt], later[0].Metadata[domain.MetaProcessedAt])
}

func TestProcess_UnrecognisedTextIsSplit(t *testing.T) {
	path := writeFile(t, "notes.TXT", "Claims Process:\n- Phone: 1-800-555-CLAIM\n\nMy collision deductible\n\n\nGeneral notes\n")

	docs, err := newIngestor(t).Process(context.Background(), op(time.Now()), path)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "Claims Process:\n- Phone: 1-800-555-CLAIM", docs[0].Content)
	assert.Equal(t, domain.PolicyUnknown, docs[0].Type())
	assert.Equal(t, domain.PolicyAuto, docs[1].Type())
	assert.Equal(t, "2", docs[2].Metadata[domain.MetaChunkIndex])
	assert.Equal(t, ".txt", docs[2].Metadata[domain.MetaFileType])
}

func TestProcess_Errors(t *testing.T) {
	in := newIngestor(t)
	ctx := context.Background()

	_, err := in.Process(ctx, op(time.Now()), filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = in.Process(ctx, op(time.Now()), writeFile(t, "policy.pdf", "HEALTH INSURANCE POLICY"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = in.Process(ctx, op(time.Now()), t.TempDir())
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = in.Process(cancelled, op(time.Now()), writeFile(t, "a.txt", "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStats(t *testing.T) {
	docs := []domain.Document{
		{Metadata: domain.Metadata{domain.MetaDocType: "health"}},
		{Metadata: domain.Metadata{domain.MetaDocType: "health"}},
		{Metadata: domain.Metadata{domain.MetaDocType: "auto"}},
		{Metadata: domain.Metadata{}},
	}
	s := Stats(docs)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.ByType[domain.PolicyHealth])
	assert.Equal(t, 1, s.ByType[domain.PolicyAuto])
	assert.Equal(t, 1, s.ByType[domain.PolicyUnknown])
}
