package config

import "time"

// DefaultModelID is the multilingual sentence-embedding model the corpus was built for.
const DefaultModelID = "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Corpus.Path == "" {
		cfg.Corpus.Path = "./questions.csv"
	}
	if cfg.Index.CacheDir == "" {
		cfg.Index.CacheDir = "./data/index"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.ModelID == "" {
		cfg.Embedding.ModelID = DefaultModelID
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./data/models/model.onnx"
	}
	if cfg.Embedding.ONNX.VocabPath == "" {
		cfg.Embedding.ONNX.VocabPath = "./data/models/vocab.txt"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 128
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.OpenAI.BaseURL == "" {
		cfg.Embedding.OpenAI.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embedding.OpenAI.APIKeyEnv == "" {
		cfg.Embedding.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 5
	}
	if cfg.Eval.Fraction == 0 {
		cfg.Eval.Fraction = 0.2
	}
	if cfg.Eval.Seed == 0 {
		cfg.Eval.Seed = 42
	}
	if cfg.Eval.KMax == 0 {
		cfg.Eval.KMax = 20
	}
	if cfg.Eval.Samples == 0 {
		cfg.Eval.Samples = 5
	}
	if cfg.Eval.SampleK == 0 {
		cfg.Eval.SampleK = 3
	}
	if cfg.Eval.Workers == 0 {
		cfg.Eval.Workers = 4
	}
}
