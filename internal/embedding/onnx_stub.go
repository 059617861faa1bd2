//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"

	"github.com/hyperjump/proshno/internal/models"
)

var errNoCGO = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEmbedder struct {
	modelID    string
	dimensions int
}

// NewONNXEmbedder returns an error when built without CGO (ONNX not available).
func NewONNXEmbedder(ONNXOptions) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

// Embed always fails without CGO.
func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, models.NewEmbeddingError(e.modelID, -1, errNoCGO)
}

// EmbedBatch always fails without CGO.
func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, models.NewEmbeddingError(e.modelID, -1, errNoCGO)
}

// Dimensions returns the configured dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// ModelID returns the configured model identifier.
func (e *ONNXEmbedder) ModelID() string { return e.modelID }

// Close is a no-op.
func (e *ONNXEmbedder) Close() error { return nil }
