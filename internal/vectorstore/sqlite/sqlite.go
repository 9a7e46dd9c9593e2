// Package sqlite persists collections in a local SQLite database and answers
// queries with brute-force cosine distance.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"policyrag/internal/domain"
	"policyrag/internal/embedding"
	"policyrag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_entries_collection ON entries (collection, seq);
`

// Engine stores every collection in one database file.
type Engine struct {
	db       *sql.DB
	path     string
	embedder domain.Embedder
}

// Open opens or creates the database at path.
func Open(path string, embedder domain.Embedder) (*Engine, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Engine{db: db, path: path, embedder: embedder}, nil
}

// Path returns the database file path.
func (e *Engine) Path() string { return e.path }

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) Collection(_ context.Context, name string) (domain.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("collection name is empty")
	}
	return &collection{engine: e, name: name}, nil
}

type collection struct {
	engine *Engine
	name   string
}

func (c *collection) Name() string { return c.name }

func (c *collection) Add(ctx context.Context, ids []string, documents []string, metadatas []domain.Metadata) error {
	if err := vectorstore.ValidateAdd(ids, documents, metadatas); err != nil {
		return err
	}
	blobs := make([][]byte, len(documents))
	metas := make([]string, len(documents))
	for i, d := range documents {
		v, err := c.engine.embedder.Embed(ctx, d)
		if err != nil {
			return fmt.Errorf("embed %s: %w", ids[i], err)
		}
		blobs[i] = encodeVector(v)
		m, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("marshal metadata %s: %w", ids[i], err)
		}
		metas[i] = string(m)
	}

	tx, err := c.engine.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (collection, id, content, metadata, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i := range ids {
		if _, err := stmt.ExecContext(ctx, c.name, ids[i], documents[i], metas[i], blobs[i]); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("%w: %s", vectorstore.ErrDuplicateID, ids[i])
			}
			return fmt.Errorf("insert %s: %w", ids[i], err)
		}
	}
	return tx.Commit()
}

func (c *collection) Query(ctx context.Context, text string, n int) (domain.QueryResult, error) {
	var out domain.QueryResult
	if n <= 0 {
		return out, nil
	}
	q, err := c.engine.embedder.Embed(ctx, text)
	if err != nil {
		return out, fmt.Errorf("embed query: %w", err)
	}
	rows, err := c.engine.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM entries WHERE collection = ? ORDER BY seq`, c.name)
	if err != nil {
		return out, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	type scored struct {
		id, content string
		meta        domain.Metadata
		distance    float64
	}
	var all []scored
	for rows.Next() {
		var (
			s        scored
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&s.id, &s.content, &metaJSON, &blob); err != nil {
			return out, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &s.meta); err != nil {
			return out, fmt.Errorf("decode metadata %s: %w", s.id, err)
		}
		s.distance = embedding.CosineDistance(decodeVector(blob), q)
		all = append(all, s)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate entries: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].distance < all[j].distance })
	if n > len(all) {
		n = len(all)
	}
	out.Distances = make([]float64, 0, n)
	for _, s := range all[:n] {
		out.IDs = append(out.IDs, s.id)
		out.Documents = append(out.Documents, s.content)
		out.Metadatas = append(out.Metadatas, s.meta)
		out.Distances = append(out.Distances, s.distance)
	}
	return out, nil
}

func (c *collection) IDs(ctx context.Context) ([]string, error) {
	rows, err := c.engine.db.QueryContext(ctx,
		`SELECT id FROM entries WHERE collection = ? ORDER BY seq`, c.name)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.engine.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE collection = ?`, c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
