package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"docrag/internal/domain"
)

// ChunkerConfig configures how extracted text is split into chunks.
type ChunkerConfig struct {
	Strategy string `yaml:"strategy"`
	Size     int    `yaml:"size"`
	Overlap  int    `yaml:"overlap"`
	// Encoding is a tiktoken model or encoding name for the token strategy.
	Encoding   string     `yaml:"encoding"`
	Separators Separators `yaml:"separators,omitempty"`
}

// Separators is the recursive strategy's separator list. Each item is written
// double-quoted so whitespace-only separators such as "\n\n" survive a
// Save and Load cycle.
type Separators []string

// MarshalYAML implements yaml.Marshaler.
func (s Separators) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, sep := range s {
		node.Content = append(node.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Style: yaml.DoubleQuotedStyle,
			Value: sep,
		})
	}
	return node, nil
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
	Dimensions  int    `yaml:"dimensions,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type string `yaml:"type"`
	// Dimension applies to the hash embedder.
	Dimension   int                   `yaml:"dimension"`
	BatchSize   int                   `yaml:"batch_size"`
	Concurrency int                   `yaml:"concurrency"`
	OpenAI      *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// OpenAICompleterConfig configures the chat completion backend.
type OpenAICompleterConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxTokens   int    `yaml:"max_tokens,omitempty"`
}

// AnthropicConfig configures the Messages API backend.
type AnthropicConfig struct {
	BaseURL     string `yaml:"base_url,omitempty"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	MaxTokens   int    `yaml:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GeminiConfig configures the generateContent backend.
type GeminiConfig struct {
	Endpoint    string `yaml:"endpoint"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// CompleterConfig selects the answer model.
type CompleterConfig struct {
	Type      string                 `yaml:"type"`
	OpenAI    *OpenAICompleterConfig `yaml:"openai,omitempty"`
	Anthropic *AnthropicConfig       `yaml:"anthropic,omitempty"`
	Gemini    *GeminiConfig          `yaml:"gemini,omitempty"`
}

// StoreConfig selects where chunk records live.
type StoreConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for the Qdrant mirror.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// RetrieverConfig selects the top-K search implementation.
type RetrieverConfig struct {
	Type   string        `yaml:"type"`
	TopK   int           `yaml:"top_k"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// AnswerConfig bounds the prompt and the extractive answer.
type AnswerConfig struct {
	MaxContextChars int `yaml:"max_context_chars"`
	MaxSentences    int `yaml:"max_sentences"`
}

// IngestConfig configures batch ingestion and uploads.
type IngestConfig struct {
	Workers int    `yaml:"workers"`
	DataDir string `yaml:"data_dir"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// FrontendDir, when set, is served as a single-page app.
	FrontendDir string `yaml:"frontend_dir,omitempty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Completer CompleterConfig `yaml:"completer"`
	Store     StoreConfig     `yaml:"store"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Answer    AnswerConfig    `yaml:"answer"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Server    ServerConfig    `yaml:"server"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/docrag/config.yaml and returns them.
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

// Validate rejects values no component could run with.
func (c *AppConfig) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfig}, args...)...)
	}
	switch c.Chunker.Strategy {
	case "token", "recursive", "sentence":
	default:
		return bad("unknown chunker strategy %q", c.Chunker.Strategy)
	}
	if c.Chunker.Size <= 0 {
		return bad("chunker size must be positive, got %d", c.Chunker.Size)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return bad("chunker overlap must be in [0, %d), got %d", c.Chunker.Size, c.Chunker.Overlap)
	}
	switch c.Embedder.Type {
	case "hash", "openai":
	default:
		return bad("unknown embedder %q", c.Embedder.Type)
	}
	switch c.Completer.Type {
	case "extractive", "openai", "anthropic", "gemini":
	default:
		return bad("unknown completer %q", c.Completer.Type)
	}
	switch c.Store.Type {
	case "memory":
	case "jsonl", "sqlite":
		if c.Store.Path == "" {
			return bad("%s store needs a path", c.Store.Type)
		}
	default:
		return bad("unknown store %q", c.Store.Type)
	}
	switch c.Retriever.Type {
	case "linear", "qdrant":
	default:
		return bad("unknown retriever %q", c.Retriever.Type)
	}
	if c.Retriever.TopK <= 0 {
		return bad("top_k must be positive, got %d", c.Retriever.TopK)
	}
	if c.Ingest.Workers <= 0 {
		return bad("ingest workers must be positive, got %d", c.Ingest.Workers)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Chunker:   ChunkerConfig{Strategy: "token", Size: 500, Overlap: 50, Encoding: "gpt-3.5-turbo"},
		Embedder:  EmbedderConfig{Type: "hash"},
		Completer: CompleterConfig{Type: "extractive"},
		Store:     StoreConfig{Type: "jsonl"},
		Retriever: RetrieverConfig{Type: "linear"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.Strategy == "" {
		cfg.Chunker.Strategy = "token"
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 500
	}
	if cfg.Chunker.Encoding == "" {
		cfg.Chunker.Encoding = "gpt-3.5-turbo"
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hash"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 256
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Concurrency == 0 {
		cfg.Embedder.Concurrency = 4
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
	}

	if cfg.Completer.Type == "" {
		cfg.Completer.Type = "extractive"
	}
	switch cfg.Completer.Type {
	case "openai":
		if cfg.Completer.OpenAI == nil {
			cfg.Completer.OpenAI = &OpenAICompleterConfig{}
		}
		o := cfg.Completer.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-4o-mini"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
	case "anthropic":
		if cfg.Completer.Anthropic == nil {
			cfg.Completer.Anthropic = &AnthropicConfig{}
		}
		a := cfg.Completer.Anthropic
		if a.APIKeyEnv == "" {
			a.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
		if a.Model == "" {
			a.Model = "claude-3-7-sonnet-latest"
		}
		if a.MaxTokens == 0 {
			a.MaxTokens = 1024
		}
		if a.TimeoutSecs == 0 {
			a.TimeoutSecs = 30
		}
	case "gemini":
		if cfg.Completer.Gemini == nil {
			cfg.Completer.Gemini = &GeminiConfig{}
		}
		g := cfg.Completer.Gemini
		if g.Endpoint == "" {
			g.Endpoint = "https://generativelanguage.googleapis.com"
		}
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = "GEMINI_API_KEY"
		}
		if g.Model == "" {
			g.Model = "gemini-1.5-flash"
		}
		if g.TimeoutSecs == 0 {
			g.TimeoutSecs = 30
		}
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = "jsonl"
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Type {
		case "jsonl":
			cfg.Store.Path = filepath.Join("data", "chunks.jsonl")
		case "sqlite":
			cfg.Store.Path = filepath.Join("data", "chunks.db")
		}
	}

	if cfg.Retriever.Type == "" {
		cfg.Retriever.Type = "linear"
	}
	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 5
	}
	if cfg.Retriever.Type == "qdrant" {
		if cfg.Retriever.Qdrant == nil {
			cfg.Retriever.Qdrant = &QdrantConfig{}
		}
		if cfg.Retriever.Qdrant.Addr == "" {
			cfg.Retriever.Qdrant.Addr = "localhost:6334"
		}
		if cfg.Retriever.Qdrant.Collection == "" {
			cfg.Retriever.Qdrant.Collection = "docrag_chunks"
		}
	}

	if cfg.Answer.MaxContextChars == 0 {
		cfg.Answer.MaxContextChars = 6000
	}
	if cfg.Answer.MaxSentences == 0 {
		cfg.Answer.MaxSentences = 3
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.DataDir == "" {
		cfg.Ingest.DataDir = filepath.Join("data", "uploads")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
}
