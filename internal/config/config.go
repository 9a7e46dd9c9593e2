package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"policyrag/internal/domain"
	"policyrag/internal/generator"
	"policyrag/internal/retrieval"
	"policyrag/internal/router"
)

// AppSettings holds identity and storage locations.
type AppSettings struct {
	User    string `yaml:"user"`
	DataDir string `yaml:"data_dir"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// RouterConfig lists the classification rules, highest precedence first.
type RouterConfig struct {
	Rules []router.Rule `yaml:"rules"`
}

// ChunkerConfig configures how documents without a policy header are split.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	Chunker ChunkerConfig `yaml:"chunker"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PathConfig locates a file-backed engine. An empty path falls back to a
// location under the data directory.
type PathConfig struct {
	Path string `yaml:"path"`
}

// VectorStoreConfig selects and configures the collection engine.
type VectorStoreConfig struct {
	Type        string                     `yaml:"type"`
	Collections []retrieval.CollectionSpec `yaml:"collections"`
	SQLite      PathConfig                 `yaml:"sqlite"`
	Bleve       PathConfig                 `yaml:"bleve"`
	Qdrant      *QdrantConfig              `yaml:"qdrant,omitempty"`
}

// RetrievalConfig bounds how many passages are fetched and cited.
type RetrievalConfig struct {
	Limit int `yaml:"limit"`
	Cite  int `yaml:"cite"`
}

// RedisConfig points the response cache at a redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Type       string       `yaml:"type"`
	Dir        string       `yaml:"dir"`
	MaxEntries int          `yaml:"max_entries"`
	Redis      *RedisConfig `yaml:"redis,omitempty"`
}

// LLMConfig selects the generative model.
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Models      []string `yaml:"models,omitempty"`
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	TimeoutSecs int      `yaml:"timeout_secs"`
}

// SampleQuestions are offered as shortcuts in the chat harness.
type SampleQuestions struct {
	Auto   []string `yaml:"auto"`
	Health []string `yaml:"health"`
}

// SamplesConfig locates the sample policy documents.
type SamplesConfig struct {
	DocsDir   string          `yaml:"docs_dir"`
	Questions SampleQuestions `yaml:"questions"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	App         AppSettings       `yaml:"app"`
	Log         LogConfig         `yaml:"log"`
	Router      RouterConfig      `yaml:"router"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Cache       CacheConfig       `yaml:"cache"`
	LLM         LLMConfig         `yaml:"llm"`
	Samples     SamplesConfig     `yaml:"samples"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// The file is decoded over the defaults, so a setting it omits keeps its
// default value and one it sets explicitly, zero included, is kept.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	cfg := baseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfig, path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/policyrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/policyrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "policyrag", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

func defaultConfig() *AppConfig {
	cfg := baseConfig()
	applyConfigDefaults(cfg)
	return cfg
}

// baseConfig holds the defaults that do not depend on other settings. Paths
// under the data dir and the user are filled in by applyConfigDefaults.
func baseConfig() *AppConfig {
	return &AppConfig{
		App:         AppSettings{DataDir: "data"},
		Log:         LogConfig{Level: "info", Format: "console"},
		Router:      RouterConfig{Rules: router.DefaultRules()},
		Ingest:      IngestConfig{Chunker: ChunkerConfig{Type: "paragraph", SentencesPerChunk: 5, OverlapSentences: 1}},
		Embedder:    EmbedderConfig{Type: "hashing", Dimension: 512},
		VectorStore: VectorStoreConfig{Type: "memory", Collections: retrieval.DefaultCollections()},
		Retrieval:   RetrievalConfig{Limit: 3, Cite: 2},
		Cache:       CacheConfig{Type: "file", MaxEntries: 1000},
		LLM: LLMConfig{
			Provider:    "extractive",
			MaxTokens:   generator.DefaultMaxTokens,
			Temperature: generator.DefaultTemperature,
			TimeoutSecs: 120,
		},
		Samples: SamplesConfig{
			DocsDir: filepath.Join("examples", "sample_docs"),
			Questions: SampleQuestions{
				Auto: []string{
					"What is my collision deductible?",
					"What's my comprehensive coverage limit?",
					"How do I file an auto claim?",
					"What are my liability limits for auto?",
					"What is my auto policy number?",
				},
				Health: []string{
					"What is my primary care copay?",
					"Is my annual check-up covered?",
					"What's my prescription drug coverage?",
					"What's my emergency room copay?",
					"How do I find a health provider?",
				},
			},
		},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.App.User == "" {
		cfg.App.User = currentUser()
	}
	if cfg.App.DataDir == "" {
		cfg.App.DataDir = "data"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if len(cfg.Router.Rules) == 0 {
		cfg.Router.Rules = router.DefaultRules()
	}
	if cfg.Ingest.Chunker.Type == "" {
		cfg.Ingest.Chunker.Type = "paragraph"
	}
	if cfg.Ingest.Chunker.SentencesPerChunk == 0 {
		cfg.Ingest.Chunker.SentencesPerChunk = 5
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 512
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 3
		}
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if len(cfg.VectorStore.Collections) == 0 {
		cfg.VectorStore.Collections = retrieval.DefaultCollections()
	}
	if cfg.VectorStore.SQLite.Path == "" {
		cfg.VectorStore.SQLite.Path = filepath.Join(cfg.App.DataDir, "vectors.db")
	}
	if cfg.VectorStore.Bleve.Path == "" {
		cfg.VectorStore.Bleve.Path = filepath.Join(cfg.App.DataDir, "bleve")
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Retrieval.Limit == 0 {
		cfg.Retrieval.Limit = 3
	}
	if cfg.Retrieval.Cite == 0 {
		cfg.Retrieval.Cite = 2
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "file"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.App.DataDir, "cache")
	}
	if cfg.Cache.Type == "redis" {
		if cfg.Cache.Redis == nil {
			cfg.Cache.Redis = &RedisConfig{}
		}
		if cfg.Cache.Redis.Addr == "" {
			cfg.Cache.Redis.Addr = "localhost:6379"
		}
		if cfg.Cache.Redis.Prefix == "" {
			cfg.Cache.Redis.Prefix = "policyrag:answer:"
		}
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "extractive"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = generator.DefaultMaxTokens
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 120
	}
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Samples.DocsDir == "" {
		cfg.Samples.DocsDir = filepath.Join("examples", "sample_docs")
	}
}

func currentUser() string {
	for _, env := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(env); u != "" {
			return u
		}
	}
	return "policyrag"
}

// Validate reports the first setting that cannot be used.
func (c *AppConfig) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrConfig, fmt.Sprintf(format, args...))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return bad("unknown log format %q", c.Log.Format)
	}
	switch c.Ingest.Chunker.Type {
	case "paragraph", "sentence":
	default:
		return bad("unknown chunker %q", c.Ingest.Chunker.Type)
	}
	if c.Ingest.Chunker.SentencesPerChunk < 0 || c.Ingest.Chunker.OverlapSentences < 0 {
		return bad("chunker sizes must not be negative")
	}
	switch c.Embedder.Type {
	case "hashing", "openai":
	default:
		return bad("unknown embedder %q", c.Embedder.Type)
	}
	if c.Embedder.Dimension < 0 {
		return bad("embedder dimension must be positive")
	}
	switch c.VectorStore.Type {
	case "memory", "sqlite", "bleve", "qdrant":
	default:
		return bad("unknown vector store %q", c.VectorStore.Type)
	}
	seenTypes := map[domain.PolicyType]bool{}
	seenNames := map[string]bool{}
	for _, col := range c.VectorStore.Collections {
		if col.Type == "" || col.Type == domain.PolicyUnknown || col.Name == "" {
			return bad("collection %q for type %q is invalid", col.Name, col.Type)
		}
		if seenTypes[col.Type] || seenNames[col.Name] {
			return bad("collection %q for type %q is declared twice", col.Name, col.Type)
		}
		seenTypes[col.Type], seenNames[col.Name] = true, true
	}
	for _, rule := range c.Router.Rules {
		if !seenTypes[rule.Type] {
			return bad("router rule for %q has no collection", rule.Type)
		}
	}
	if c.Retrieval.Limit < 0 || c.Retrieval.Cite < 0 {
		return bad("retrieval limits must not be negative")
	}
	switch c.Cache.Type {
	case "file", "memory", "redis", "none":
	default:
		return bad("unknown cache %q", c.Cache.Type)
	}
	switch c.LLM.Provider {
	case "extractive", "ollama", "openai":
	default:
		return bad("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return bad("llm temperature %.2f out of range", c.LLM.Temperature)
	}
	return nil
}

// Seconds converts a *_secs setting to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }
