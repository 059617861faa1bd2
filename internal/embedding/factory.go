package embedding

import (
	"fmt"

	"github.com/hyperjump/proshno/internal/config"
)

// New creates the embedder selected by cfg.Provider, wrapped with an LRU cache of
// cfg.CacheSize entries. ONNX requires building with CGO and the onnxruntime library.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case config.ProviderONNX:
		e, err = NewONNXEmbedder(ONNXOptions{
			ModelID:    cfg.ModelID,
			ModelPath:  cfg.ModelPath,
			VocabPath:  cfg.ONNX.VocabPath,
			Lowercase:  cfg.ONNX.Lowercase,
			OutputName: cfg.ONNX.OutputName,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
	case config.ProviderOpenAI, "":
		e, err = NewOpenAIEmbedder(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKeyEnv, cfg.ModelID, cfg.Dimensions)
	case config.ProviderMock:
		e = NewMockEmbedder(cfg.Dimensions).WithModelID(cfg.ModelID)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, openai, mock)", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.Provider, err)
	}
	return NewCachedEmbedder(e, cfg.CacheSize), nil
}
