package models

import (
	"errors"
	"fmt"
)

// Error kinds returned by the retrieval core. Callers match them with errors.Is;
// the message after the colon carries the context.
var (
	ErrCorpusLoad        = errors.New("corpus load error")
	ErrNotFound          = errors.New("not found")
	ErrEmbedding         = errors.New("embedding error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrIndexNotReady     = errors.New("index not ready")
	ErrPersistence       = errors.New("persistence error")
)

// EmbeddingError reports a failed embedding call. Item is the index of the
// offending text within the batch, or -1 when the whole call failed.
type EmbeddingError struct {
	Item  int
	Model string
	Err   error
}

// NewEmbeddingError wraps err for the given model and batch item.
func NewEmbeddingError(model string, item int, err error) *EmbeddingError {
	return &EmbeddingError{Item: item, Model: model, Err: err}
}

func (e *EmbeddingError) Error() string {
	if e.Item >= 0 {
		return fmt.Sprintf("embedding error: model %s: item %d: %v", e.Model, e.Item, e.Err)
	}
	return fmt.Sprintf("embedding error: model %s: %v", e.Model, e.Err)
}

// Unwrap exposes both ErrEmbedding and the underlying cause.
func (e *EmbeddingError) Unwrap() []error {
	return []error{ErrEmbedding, e.Err}
}
