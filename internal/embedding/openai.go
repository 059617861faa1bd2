package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/pkg/utils"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint (OpenAI itself,
// a text-embeddings-inference server, Ollama, and so on).
type OpenAIEmbedder struct {
	client     *openai.Client
	modelID    string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for modelID served at baseURL. The API key
// is read from the environment variable apiKeyEnv; an unset key is allowed for
// local servers that do not check it.
func NewOpenAIEmbedder(baseURL, apiKeyEnv, modelID string, dimensions int) (*OpenAIEmbedder, error) {
	if modelID == "" {
		return nil, errors.New("openai embedder: model id is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder: dimensions must be positive, got %d", dimensions)
	}
	var key string
	if apiKeyEnv != "" {
		key = os.Getenv(apiKeyEnv)
	}
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		modelID:    modelID,
		dimensions: dimensions,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in one request and returns the vectors in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, models.NewEmbeddingError(e.modelID, i, errors.New("cannot embed empty text"))
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.modelID),
		Input: texts,
	})
	if err != nil {
		return nil, models.NewEmbeddingError(e.modelID, -1, fmt.Errorf("embeddings request failed: %w", err))
	}
	if len(resp.Data) != len(texts) {
		return nil, models.NewEmbeddingError(e.modelID, -1,
			fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, models.NewEmbeddingError(e.modelID, -1, fmt.Errorf("unexpected embedding index %d", d.Index))
		}
		if len(d.Embedding) != e.dimensions {
			return nil, models.NewEmbeddingError(e.modelID, d.Index,
				fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(d.Embedding), e.dimensions))
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		utils.NormalizeL2(v)
		out[d.Index] = v
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns the model name sent with each request.
func (e *OpenAIEmbedder) ModelID() string {
	return e.modelID
}

// Close is a no-op; the HTTP client needs no teardown.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
