package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"bioscout/internal/domain"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// HugotEmbedderConfig points at a local ONNX sentence-transformer.
type HugotEmbedderConfig struct {
	ModelName string `yaml:"model_name"`
	ModelDir  string `yaml:"model_dir"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type"`
	Dimension   int                   `yaml:"dimension"`
	BatchSize   int                   `yaml:"batch_size"`
	TimeoutSecs int                   `yaml:"timeout_secs"`
	OpenAI      *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Hugot       *HugotEmbedderConfig  `yaml:"hugot,omitempty"`
}

// Timeout bounds a single provider call.
func (c EmbedderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ChunkerConfig configures how rendered records are split into chunks.
type ChunkerConfig struct {
	MaxSize int `yaml:"max_size"`
	Overlap int `yaml:"overlap"`
}

// IndexConfig selects and configures the document index.
type IndexConfig struct {
	Type     string          `yaml:"type"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector *PGVectorConfig `yaml:"pgvector,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant document index.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PGVectorConfig names the environment variable holding the Postgres DSN.
type PGVectorConfig struct {
	DSNEnv string `yaml:"dsn_env"`
	Table  string `yaml:"table"`
}

// StoreConfig selects the external data layer.
type StoreConfig struct {
	Type   string        `yaml:"type"`
	SQLite *SQLiteConfig `yaml:"sqlite,omitempty"`
}

type SQLiteConfig struct {
	DataDir string `yaml:"data_dir"`
}

// SynthesizerConfig configures the extractive answer synthesizer. A zero seed samples
// follow-up questions differently on every run.
type SynthesizerConfig struct {
	MaxSentences int    `yaml:"max_sentences"`
	MaxFollowUps int    `yaml:"max_follow_ups"`
	Seed         uint64 `yaml:"seed"`
}

type QAConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Index       IndexConfig       `yaml:"index"`
	Store       StoreConfig       `yaml:"store"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	QA          QAConfig          `yaml:"qa"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(domain.ErrInvalidInput, err.Error(), goerr.V("path", path))
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/bioscout/config.yaml.
// If neither exists, it writes defaults to ~/.config/bioscout/config.yaml and returns them.
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
		return goerr.Wrap(err, "failed to create config dir", goerr.V("path", path))
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write config", goerr.V("path", path))
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve home dir")
	}
	return filepath.Join(home, ".config", "bioscout", "config.yaml"), nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bioscout"
	}
	return filepath.Join(home, ".bioscout")
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "lexical"},
		Index:       IndexConfig{Type: "memory"},
		Store:       StoreConfig{Type: "sqlite"},
		Synthesizer: SynthesizerConfig{},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "lexical"
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 100
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 10
	}
	switch cfg.Embedder.Type {
	case "lexical":
		if cfg.Embedder.Dimension == 0 {
			cfg.Embedder.Dimension = 512
		}
	case "openai":
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
		if cfg.Embedder.Dimension == 0 && cfg.Embedder.OpenAI.Model == "text-embedding-3-small" {
			cfg.Embedder.Dimension = 1536
		}
	case "hugot":
		if cfg.Embedder.Hugot == nil {
			cfg.Embedder.Hugot = &HugotEmbedderConfig{}
		}
		if cfg.Embedder.Hugot.ModelName == "" {
			cfg.Embedder.Hugot.ModelName = "sentence-transformers/all-MiniLM-L6-v2"
		}
		if cfg.Embedder.Hugot.ModelDir == "" {
			cfg.Embedder.Hugot.ModelDir = filepath.Join(defaultDataDir(), "models")
		}
		if cfg.Embedder.Dimension == 0 {
			cfg.Embedder.Dimension = 384
		}
	}

	if cfg.Chunker.MaxSize == 0 {
		cfg.Chunker.MaxSize = 1000
	}
	if cfg.Chunker.Overlap == 0 {
		cfg.Chunker.Overlap = 200
	}

	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	switch cfg.Index.Type {
	case "qdrant":
		if cfg.Index.Qdrant == nil {
			cfg.Index.Qdrant = &QdrantConfig{}
		}
		if cfg.Index.Qdrant.URL == "" {
			cfg.Index.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.Index.Qdrant.Collection == "" {
			cfg.Index.Qdrant.Collection = "bioscout"
		}
	case "pgvector":
		if cfg.Index.PGVector == nil {
			cfg.Index.PGVector = &PGVectorConfig{}
		}
		if cfg.Index.PGVector.DSNEnv == "" {
			cfg.Index.PGVector.DSNEnv = "BIOSCOUT_PG_DSN"
		}
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = "sqlite"
	}
	if cfg.Store.Type == "sqlite" {
		if cfg.Store.SQLite == nil {
			cfg.Store.SQLite = &SQLiteConfig{}
		}
		if cfg.Store.SQLite.DataDir == "" {
			cfg.Store.SQLite.DataDir = filepath.Join(defaultDataDir(), "data")
		}
	}

	if cfg.Synthesizer.MaxSentences == 0 {
		cfg.Synthesizer.MaxSentences = 3
	}
	if cfg.Synthesizer.MaxFollowUps == 0 {
		cfg.Synthesizer.MaxFollowUps = 5
	}
	if cfg.QA.TopK == 0 {
		cfg.QA.TopK = 5
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "pretty"
	}
}

func invalid(field string, value any) error {
	return goerr.Wrap(domain.ErrInvalidInput, "invalid config value", goerr.V("field", field), goerr.V("value", value))
}

// Validate checks a config after defaults have been applied.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "lexical", "openai", "hugot":
	default:
		return invalid("embedder.type", c.Embedder.Type)
	}
	if c.Embedder.Dimension < 0 {
		return invalid("embedder.dimension", c.Embedder.Dimension)
	}
	if c.Embedder.BatchSize < 1 || c.Embedder.BatchSize > 100 {
		return invalid("embedder.batch_size", c.Embedder.BatchSize)
	}
	if c.Embedder.TimeoutSecs < 0 {
		return invalid("embedder.timeout_secs", c.Embedder.TimeoutSecs)
	}
	if c.Chunker.MaxSize < 1 {
		return invalid("chunker.max_size", c.Chunker.MaxSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.MaxSize {
		return invalid("chunker.overlap", c.Chunker.Overlap)
	}
	switch c.Index.Type {
	case "memory":
	case "qdrant":
		if c.Index.Qdrant == nil || c.Index.Qdrant.URL == "" {
			return invalid("index.qdrant.url", "")
		}
	case "pgvector":
		if c.Index.PGVector == nil || c.Index.PGVector.DSNEnv == "" {
			return invalid("index.pgvector.dsn_env", "")
		}
	default:
		return invalid("index.type", c.Index.Type)
	}
	switch c.Store.Type {
	case "memory", "sqlite":
	default:
		return invalid("store.type", c.Store.Type)
	}
	if c.Synthesizer.MaxSentences < 1 {
		return invalid("synthesizer.max_sentences", c.Synthesizer.MaxSentences)
	}
	if c.Synthesizer.MaxFollowUps < 0 {
		return invalid("synthesizer.max_follow_ups", c.Synthesizer.MaxFollowUps)
	}
	if c.QA.TopK < 1 {
		return invalid("qa.top_k", c.QA.TopK)
	}
	switch c.Log.Format {
	case "pretty", "json":
	default:
		return invalid("log.format", c.Log.Format)
	}
	return nil
}
