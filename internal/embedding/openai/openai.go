// Package openai embeds text through an OpenAI-compatible /embeddings
// endpoint. Ollama's native response shape is accepted as well.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"

	maxBackoff = 5 * time.Second
)

var errEmptyEmbedding = errors.New("no embedding returned")

// Config configures the embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// AllowNoKey permits servers (such as Ollama) that need no API key.
	AllowNoKey bool
}

// Client implements domain.Embedder. 429 and 5xx responses are retried up to
// MaxRetries times with exponential backoff, honouring Retry-After.
type Client struct {
	url        string
	apiKey     string
	model      string
	maxRetries int
	client     *http.Client
	dimension  atomic.Int64
}

func NewClient(cfg Config) (*Client, error) {
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && !cfg.AllowNoKey {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		url:        strings.TrimRight(cfg.BaseURL, "/") + "/embeddings",
		apiKey:     key,
		model:      cfg.Model,
		maxRetries: max(0, cfg.MaxRetries),
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Name() string { return "openai" }

// Dimension is zero until the first successful Embed call.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]string{"model": c.model, "input": text, "prompt": text})
	if err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		vec, wait, err := c.attempt(ctx, body)
		if err == nil {
			c.dimension.CompareAndSwap(0, int64(len(vec)))
			return vec, nil
		}
		if wait < 0 || attempt >= c.maxRetries || ctx.Err() != nil {
			return nil, err
		}
		if wait == 0 {
			wait = backoff(attempt)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt performs one request. A negative wait marks the error as final; a
// positive one is the server's Retry-After.
func (c *Client) attempt(ctx context.Context, body []byte) ([]float64, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, -1, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		var wait time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return nil, wait, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	case resp.StatusCode >= 300:
		return nil, -1, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	vec := decodeEmbedding(payload)
	if len(vec) == 0 {
		return nil, -1, errEmptyEmbedding
	}
	return vec, 0, nil
}

// decodeEmbedding accepts {"data":[{"embedding":[...]}]} and {"embedding":[...]}.
func decodeEmbedding(payload []byte) []float64 {
	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil
	}
	if len(out.Data) > 0 && len(out.Data[0].Embedding) > 0 {
		return out.Data[0].Embedding
	}
	return out.Embedding
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
