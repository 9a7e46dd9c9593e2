package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

// errNotFound marks a 404 from Qdrant, which for reads means an empty collection.
var errNotFound = errors.New("qdrant: not found")

const scrollPage = 256

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Engine is a minimal REST client to Qdrant.
// Collections use cosine distance and are created on first write.
type Engine struct {
	url      string
	apiKey   string
	embedder domain.Embedder
	client   *http.Client

	mu          sync.Mutex
	collections map[string]*collection
}

func NewEngine(cfg Config, embedder domain.Embedder) *Engine {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Engine{
		url:         strings.TrimRight(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		embedder:    embedder,
		client:      &http.Client{Timeout: timeout},
		collections: make(map[string]*collection),
	}
}

func (e *Engine) Collection(_ context.Context, name string) (domain.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("collection name is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[name]
	if !ok {
		c = &collection{engine: e, name: name, next: -1}
		e.collections[name] = c
	}
	return c, nil
}

func (e *Engine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// pointID maps an entry id to the UUID Qdrant requires for point ids.
func pointID(collection, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+id)).String()
}

type point struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type collection struct {
	engine *Engine
	name   string

	mu      sync.Mutex
	created bool
	next    int
}

func (c *collection) Name() string { return c.name }

func (c *collection) path(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", c.engine.url, c.name, suffix)
}

func (c *collection) Add(ctx context.Context, ids []string, documents []string, metadatas []domain.Metadata) error {
	if err := vectorstore.ValidateAdd(ids, documents, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	vectors := make([][]float64, len(documents))
	for i, d := range documents {
		v, err := c.engine.embedder.Embed(ctx, d)
		if err != nil {
			return fmt.Errorf("embed %s: %w", ids[i], err)
		}
		vectors[i] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(ctx, len(vectors[0])); err != nil {
		return err
	}
	if c.next < 0 {
		n, err := c.count(ctx)
		if err != nil {
			return err
		}
		c.next = n
	}
	if err := c.checkDuplicates(ctx, ids); err != nil {
		return err
	}

	points := make([]map[string]any, len(ids))
	for i := range ids {
		points[i] = map[string]any{
			"id":     pointID(c.name, ids[i]),
			"vector": vectors[i],
			"payload": map[string]any{
				"entry_id": ids[i],
				"content":  documents[i],
				"metadata": map[string]string(metadatas[i]),
				"seq":      c.next + i,
			},
		}
	}
	body := map[string]any{"points": points}
	if err := c.engine.putJSON(ctx, c.path("/points?wait=true"), body, nil); err != nil {
		return err
	}
	c.next += len(ids)
	return nil
}

// ensure creates the collection for vectors of size dim unless it already exists.
func (c *collection) ensure(ctx context.Context, dim int) error {
	if c.created {
		return nil
	}
	err := c.engine.do(ctx, http.MethodGet, c.path(""), nil, nil)
	if errors.Is(err, errNotFound) {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dim,
				"distance": "Cosine",
			},
		}
		err = c.engine.putJSON(ctx, c.path(""), body, nil)
	}
	if err != nil {
		return err
	}
	c.created = true
	return nil
}

func (c *collection) checkDuplicates(ctx context.Context, ids []string) error {
	pids := make([]string, len(ids))
	for i, id := range ids {
		pids[i] = pointID(c.name, id)
	}
	var resp struct {
		Result []point `json:"result"`
	}
	body := map[string]any{"ids": pids, "with_payload": true}
	if err := c.engine.postJSON(ctx, c.path("/points"), body, &resp); err != nil {
		return err
	}
	if len(resp.Result) > 0 {
		id, _ := resp.Result[0].Payload["entry_id"].(string)
		return fmt.Errorf("%w: %s", vectorstore.ErrDuplicateID, id)
	}
	return nil
}

func (c *collection) Query(ctx context.Context, text string, n int) (domain.QueryResult, error) {
	var out domain.QueryResult
	if n <= 0 {
		return out, nil
	}
	vec, err := c.engine.embedder.Embed(ctx, text)
	if err != nil {
		return out, fmt.Errorf("embed query: %w", err)
	}
	req := map[string]any{
		"vector":       vec,
		"limit":        n,
		"with_payload": true,
	}
	var resp struct {
		Result []point `json:"result"`
	}
	err = c.engine.postJSON(ctx, c.path("/points/search"), req, &resp)
	if errors.Is(err, errNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Distances = make([]float64, 0, len(resp.Result))
	for _, r := range resp.Result {
		id, content, meta := decodePayload(r.Payload)
		out.IDs = append(out.IDs, id)
		out.Documents = append(out.Documents, content)
		out.Metadatas = append(out.Metadatas, meta)
		out.Distances = append(out.Distances, 1-r.Score)
	}
	return out, nil
}

// IDs scrolls the whole collection and orders entries by insertion sequence.
func (c *collection) IDs(ctx context.Context) ([]string, error) {
	type entry struct {
		id  string
		seq float64
	}
	var entries []entry
	var offset any
	for {
		req := map[string]any{"limit": scrollPage, "with_payload": true, "with_vector": false}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []point `json:"points"`
				NextPageOffset any     `json:"next_page_offset"`
			} `json:"result"`
		}
		err := c.engine.postJSON(ctx, c.path("/points/scroll"), req, &resp)
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			id, _ := p.Payload["entry_id"].(string)
			seq, _ := p.Payload["seq"].(float64)
			entries = append(entries, entry{id: id, seq: seq})
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

func (c *collection) Count(ctx context.Context) (int, error) {
	n, err := c.count(ctx)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	return n, err
}

func (c *collection) count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := c.engine.postJSON(ctx, c.path("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func decodePayload(p map[string]any) (string, string, domain.Metadata) {
	id, _ := p["entry_id"].(string)
	content, _ := p["content"].(string)
	meta := domain.Metadata{}
	if raw, ok := p["metadata"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				meta[k] = s
			}
		}
	}
	return id, content, meta
}

func (e *Engine) putJSON(ctx context.Context, url string, body, out any) error {
	return e.do(ctx, http.MethodPut, url, body, out)
}

func (e *Engine) postJSON(ctx context.Context, url string, body, out any) error {
	return e.do(ctx, http.MethodPost, url, body, out)
}

func (e *Engine) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("api-key", e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s: %w", method, url, errNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
