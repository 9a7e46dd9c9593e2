package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
	"policyrag/internal/embedding/hashing"
	"policyrag/internal/vectorstore"
)

func setupEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors", "policyrag.db")
	e, err := Open(path, hashing.NewEmbedder(128))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })
	return e, path
}

func TestCollection_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)
	c, err := e.Collection(ctx, "auto_insurance")
	require.NoError(t, err)

	require.NoError(t, c.Add(ctx,
		[]string{"auto_0", "auto_1"},
		[]string{"Collision Coverage deductible $500", "Liability Coverage bodily injury"},
		[]domain.Metadata{{"doc_type": "auto", "source": "a.txt"}, {"doc_type": "auto"}}))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := c.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auto_0", "auto_1"}, ids)

	res, err := c.Query(ctx, "collision deductible", 3)
	require.NoError(t, err)
	require.Len(t, res.IDs, 2)
	assert.Equal(t, "auto_0", res.IDs[0])
	assert.Equal(t, "a.txt", res.Metadatas[0]["source"])
	assert.LessOrEqual(t, res.Distances[0], res.Distances[1])
}

func TestCollection_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	e, path := setupEngine(t)
	c, _ := e.Collection(ctx, "health_insurance")
	require.NoError(t, c.Add(ctx, []string{"health_0"}, []string{"copay"}, []domain.Metadata{{}}))

	reopened, err := Open(path, hashing.NewEmbedder(128))
	require.NoError(t, err)
	defer reopened.Close()
	rc, _ := reopened.Collection(ctx, "health_insurance")
	n, err := rc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	other, _ := reopened.Collection(ctx, "auto_insurance")
	n, err = other.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCollection_DuplicateID(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)
	c, _ := e.Collection(ctx, "x")
	require.NoError(t, c.Add(ctx, []string{"1"}, []string{"a"}, []domain.Metadata{{}}))
	err := c.Add(ctx, []string{"1"}, []string{"b"}, []domain.Metadata{{}})
	assert.ErrorIs(t, err, vectorstore.ErrDuplicateID)
}

func TestVectorEncoding(t *testing.T) {
	v := []float64{0.5, -1.25, 3}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("", hashing.NewEmbedder(8))
	assert.Error(t, err)
}
