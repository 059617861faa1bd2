package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/proshno/internal/models"
	"golang.org/x/sync/errgroup"
)

// EmbedAll embeds texts in batches of batchSize with at most workers batches in
// flight. The result has exactly one vector per text, in input order. The first
// failing batch cancels the rest; its error names the offending text's global index
// when the embedder reported one.
func EmbedAll(ctx context.Context, e Embedder, texts []string, batchSize, workers int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			batch := texts[start:end]
			vecs, err := e.EmbedBatch(gctx, batch)
			if err == nil {
				err = checkBatch(e.ModelID(), e.Dimensions(), batch, vecs)
			}
			if err != nil {
				return shiftItem(err, start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// checkBatch verifies an embedder returned one vector of the right size per text.
func checkBatch(modelID string, dim int, texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return models.NewEmbeddingError(modelID, -1, fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
	}
	for i, v := range vecs {
		if len(v) != dim {
			return models.NewEmbeddingError(modelID, i,
				fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(v), dim))
		}
	}
	return nil
}

// shiftItem offsets the item index of an EmbeddingError by offset.
func shiftItem(err error, offset int) error {
	var ee *models.EmbeddingError
	if !errors.As(err, &ee) {
		return err
	}
	if ee.Item < 0 || offset == 0 {
		return ee
	}
	return models.NewEmbeddingError(ee.Model, ee.Item+offset, ee.Err)
}

// remapItem maps an EmbeddingError item index through pos, used when a batch was
// built from a subset of the caller's texts.
func remapItem(err error, pos []int) error {
	var ee *models.EmbeddingError
	if !errors.As(err, &ee) || ee.Item < 0 || ee.Item >= len(pos) {
		return err
	}
	return models.NewEmbeddingError(ee.Model, pos[ee.Item], ee.Err)
}
