package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("POLICYRAG_TEST_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "POLICYRAG_TEST_KEY"})
	assert.Error(t, err)

	c, err := NewClient(Config{APIKeyEnv: "POLICYRAG_TEST_KEY", AllowNoKey: true})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
}

func TestEmbed_OpenAIShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m", body["model"])
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()
	t.Setenv("POLICYRAG_TEST_KEY", "secret")

	c, err := NewClient(Config{BaseURL: srv.URL + "/v1", APIKeyEnv: "POLICYRAG_TEST_KEY", Model: "m"})
	require.NoError(t, err)
	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, v)
	assert.Equal(t, 3, c.Dimension())
}

func TestEmbed_OllamaShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"embedding":[1,2]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AllowNoKey: true})
	require.NoError(t, err)
	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, v)
}

func TestEmbed_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[1]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AllowNoKey: true, MaxRetries: 2})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEmbed_NoRetriesFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AllowNoKey: true})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, backoff(0))
	assert.Equal(t, 800*time.Millisecond, backoff(2))
	assert.Equal(t, maxBackoff, backoff(10))
	assert.Equal(t, maxBackoff, backoff(70))
}
