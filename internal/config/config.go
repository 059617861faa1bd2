// Package config provides configuration loading and structs for the proshno server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxK is the largest number of results a single search may request.
const MaxK = 50

// EmbeddingProvider selects the embedder implementation.
type EmbeddingProvider string

const (
	// ProviderONNX runs a WordPiece (BERT vocab.txt) sentence encoder locally
	// through ONNX Runtime (requires CGO).
	ProviderONNX EmbeddingProvider = "onnx"
	// ProviderOpenAI calls an OpenAI-compatible /v1/embeddings endpoint. This is
	// the default and how the multilingual MiniLM model is served.
	ProviderOpenAI EmbeddingProvider = "openai"
	// ProviderMock produces deterministic hash-based vectors; for tests and offline use.
	ProviderMock EmbeddingProvider = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Eval      EvalConfig      `yaml:"eval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CorpusConfig points at the tabular quiz source (.csv or .xlsx).
type CorpusConfig struct {
	Path  string `yaml:"path"`
	Sheet string `yaml:"sheet"` // xlsx only; empty means the first sheet
}

// IndexConfig holds the persisted index cache location and rebuild behavior.
type IndexConfig struct {
	CacheDir string `yaml:"cache_dir"`
	// Watch rebuilds the index when the corpus file changes (server mode only).
	Watch bool `yaml:"watch"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider           EmbeddingProvider `yaml:"provider"`
	ModelID            string            `yaml:"model_id"`
	ModelPath          string            `yaml:"model_path"`
	Dimensions         int               `yaml:"dimensions"`
	MaxTokens          int               `yaml:"max_tokens"`
	CacheSize          int               `yaml:"cache_size"`
	BatchSize          int               `yaml:"batch_size"`
	Workers            int               `yaml:"workers"`
	Timeout            time.Duration     `yaml:"timeout"`
	IncludeExplanation *bool             `yaml:"include_explanation"`
	OpenAI             OpenAIConfig      `yaml:"openai"`
	ONNX               ONNXConfig        `yaml:"onnx"`
}

// IncludeExplanationOrDefault reports whether explanations are embedded with
// their question; defaults to true when unset.
func (e *EmbeddingConfig) IncludeExplanationOrDefault() bool {
	if e.IncludeExplanation != nil {
		return *e.IncludeExplanation
	}
	return true
}

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// ONNXConfig configures the local ONNX embedder. ModelPath and MaxTokens on
// EmbeddingConfig also apply.
type ONNXConfig struct {
	VocabPath string `yaml:"vocab_path"`
	Lowercase bool   `yaml:"lowercase"`
	// OutputName picks the model output; empty tries sentence_embedding, then
	// mean-pools last_hidden_state.
	OutputName string `yaml:"output_name"`
}

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	DefaultK int `yaml:"default_k"`
}

// EvalConfig holds evaluator settings.
type EvalConfig struct {
	Fraction float64 `yaml:"fraction"`
	Seed     int64   `yaml:"seed"`
	KMax     int     `yaml:"k_max"`
	Samples  int     `yaml:"samples"`
	SampleK  int     `yaml:"sample_k"`
	Workers  int     `yaml:"workers"`
}

// Load reads and parses the config file at path, expands paths, applies defaults,
// and validates the result. Returns an error if the file cannot be read or parsed
// or holds invalid values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Corpus.Path = expandPath(cfg.Corpus.Path, configDir)
	cfg.Index.CacheDir = expandPath(cfg.Index.CacheDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Embedding.ONNX.VocabPath = expandPath(cfg.Embedding.ONNX.VocabPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration built from defaults only, with
// relative paths resolved against dir.
func Default(dir string) *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Corpus.Path = expandPath(cfg.Corpus.Path, dir)
	cfg.Index.CacheDir = expandPath(cfg.Index.CacheDir, dir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, dir)
	cfg.Embedding.ONNX.VocabPath = expandPath(cfg.Embedding.ONNX.VocabPath, dir)
	return cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects values the rest of the system cannot honor.
func (c *Config) Validate() error {
	var errs []error
	switch c.Embedding.Provider {
	case ProviderONNX, ProviderOpenAI, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q (supported: onnx, openai, mock)", c.Embedding.Provider))
	}
	if c.Embedding.ModelID == "" {
		errs = append(errs, errors.New("embedding.model_id is required"))
	}
	if c.Embedding.Provider == ProviderONNX && c.Embedding.ONNX.VocabPath == "" {
		errs = append(errs, errors.New("embedding.onnx.vocab_path is required for the onnx provider"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions))
	}
	if c.Search.DefaultK < 1 || c.Search.DefaultK > MaxK {
		errs = append(errs, fmt.Errorf("search.default_k must be between 1 and %d, got %d", MaxK, c.Search.DefaultK))
	}
	if c.Eval.KMax < 1 || c.Eval.KMax > MaxK {
		errs = append(errs, fmt.Errorf("eval.k_max must be between 1 and %d, got %d", MaxK, c.Eval.KMax))
	}
	if c.Eval.SampleK < 1 || c.Eval.SampleK > MaxK {
		errs = append(errs, fmt.Errorf("eval.sample_k must be between 1 and %d, got %d", MaxK, c.Eval.SampleK))
	}
	if c.Eval.Fraction <= 0 || c.Eval.Fraction > 1 {
		errs = append(errs, fmt.Errorf("eval.fraction must be in (0, 1], got %g", c.Eval.Fraction))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
