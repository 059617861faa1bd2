// Package search answers retrieval requests against the currently published index snapshot.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hyperjump/proshno/internal/config"
	"github.com/hyperjump/proshno/internal/corpus"
	"github.com/hyperjump/proshno/internal/embedding"
	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/internal/vector"
	"go.uber.org/zap"
)

// Service runs semantic retrieval: validate, normalize, embed, rank, map to documents.
// It is safe for concurrent use.
type Service struct {
	embedder embedding.Embedder
	handle   *vector.Handle
	timeout  time.Duration
	logger   *zap.Logger

	queries  atomic.Int64
	failures atomic.Int64
	totalUs  atomic.Int64
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for per-query debug output.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithTimeout bounds the query embedding call. Zero means no limit beyond ctx.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// NewService creates a retrieval service reading snapshots from handle.
func NewService(embedder embedding.Embedder, handle *vector.Handle, opts ...ServiceOption) *Service {
	s := &Service{
		embedder: embedder,
		handle:   handle,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns the k documents most similar to text. Errors: models.ErrInvalidParameter
// for k outside [1, config.MaxK], models.ErrInvalidQuery for empty text,
// models.ErrIndexNotReady before the first snapshot, and the embedder's
// *models.EmbeddingError unchanged.
func (s *Service) Search(ctx context.Context, text string, k int) (*models.RetrievalResult, error) {
	return s.run(ctx, nil, text, k)
}

// run searches snap, or the current snapshot when snap is nil, and records counters.
func (s *Service) run(ctx context.Context, snap *vector.Snapshot, text string, k int) (*models.RetrievalResult, error) {
	start := time.Now()
	s.queries.Add(1)
	res, err := s.search(ctx, snap, text, k)
	if err != nil {
		s.failures.Add(1)
		s.logger.Debug("search failed", zap.String("query", text), zap.Int("k", k), zap.Error(err))
		return nil, err
	}
	took := time.Since(start)
	s.totalUs.Add(took.Microseconds())
	res.QueryTime = took.Milliseconds()
	s.logger.Debug("search",
		zap.String("query", res.NormalizedQuery),
		zap.Int("k", k),
		zap.Int("results", len(res.Hits)),
		zap.Duration("took", took))
	return res, nil
}

func (s *Service) search(ctx context.Context, snap *vector.Snapshot, text string, k int) (*models.RetrievalResult, error) {
	normalized, err := ProcessQuery(&models.Query{Text: text, K: k}, config.MaxK)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap = s.handle.Current()
	}
	if snap == nil {
		return nil, models.ErrIndexNotReady
	}

	embedCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	q, err := s.embedder.Embed(embedCtx, normalized)
	if err != nil {
		var ee *models.EmbeddingError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, models.NewEmbeddingError(s.embedder.ModelID(), -1, err)
	}

	neighbors, err := snap.Query(q, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	c := snap.Corpus()
	hits := make([]*models.Hit, 0, len(neighbors))
	for i, n := range neighbors {
		doc := c.At(n.Position)
		if doc == nil {
			return nil, fmt.Errorf("index position %d has no document", n.Position)
		}
		hits = append(hits, &models.Hit{
			Rank:       i + 1,
			Document:   doc,
			Score:      n.Score,
			Distance:   1 - n.Score,
			AnswerText: doc.AnswerText(),
		})
	}
	return &models.RetrievalResult{
		Query:           text,
		NormalizedQuery: normalized,
		K:               k,
		Hits:            hits,
		Total:           len(hits),
	}, nil
}

// Status describes the snapshot currently being served.
func (s *Service) Status() models.Status {
	snap := s.handle.Current()
	if snap == nil {
		return models.Status{ModelID: s.embedder.ModelID(), Dimensions: s.embedder.Dimensions()}
	}
	return snapshotStatus(snap)
}

func snapshotStatus(snap *vector.Snapshot) models.Status {
	return models.Status{
		Ready:      true,
		CorpusSize: snap.Size(),
		ModelID:    snap.ModelID(),
		Dimensions: snap.Dimensions(),
		BuiltAt:    snap.BuiltAt(),
		Origin:     snap.Origin(),
	}
}

// Stats returns Status plus query counters since the service was created.
func (s *Service) Stats() models.Stats {
	st := models.Stats{
		Status:   s.Status(),
		Queries:  s.queries.Load(),
		Failures: s.failures.Load(),
	}
	if ok := st.Queries - st.Failures; ok > 0 {
		st.AvgQueryMs = float64(s.totalUs.Load()) / float64(ok) / 1000
	}
	return st
}

// Pinned searches one fixed snapshot, so a long run such as an evaluation sees
// the same corpus for every query even if a rebuild is published meanwhile.
// Queries still count towards the service's Stats.
type Pinned struct {
	svc  *Service
	snap *vector.Snapshot
}

// Pin returns a searcher bound to the snapshot being served now, or
// models.ErrIndexNotReady before the first snapshot.
func (s *Service) Pin() (*Pinned, error) {
	snap := s.handle.Current()
	if snap == nil {
		return nil, models.ErrIndexNotReady
	}
	return &Pinned{svc: s, snap: snap}, nil
}

// Search is Service.Search against the pinned snapshot.
func (p *Pinned) Search(ctx context.Context, text string, k int) (*models.RetrievalResult, error) {
	return p.svc.run(ctx, p.snap, text, k)
}

// Corpus returns the pinned snapshot's corpus.
func (p *Pinned) Corpus() *corpus.Corpus {
	return p.snap.Corpus()
}

// Status describes the pinned snapshot.
func (p *Pinned) Status() models.Status {
	return snapshotStatus(p.snap)
}
