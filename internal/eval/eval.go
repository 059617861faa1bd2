// Package eval measures retrieval quality by leave-one-out self-retrieval: each
// evaluated document's own question is issued as a query and the rank at which
// the document comes back is recorded.
package eval

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/proshno/internal/config"
	"github.com/hyperjump/proshno/internal/corpus"
	"github.com/hyperjump/proshno/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Searcher is the retrieval capability the evaluator queries.
type Searcher interface {
	Search(ctx context.Context, text string, k int) (*models.RetrievalResult, error)
}

// statusReporter is implemented by searchers that can describe their index.
type statusReporter interface {
	Status() models.Status
}

// Evaluator computes Hit@1/3/5 and MRR over a seeded subset of the corpus.
type Evaluator struct {
	cfg    config.EvalConfig
	logger *zap.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets a logger for progress output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// New creates an evaluator. Zero values in cfg fall back to the config defaults,
// except Samples: zero disables qualitative samples.
func New(cfg config.EvalConfig, opts ...Option) *Evaluator {
	def := config.Config{}
	config.ApplyDefaults(&def)
	if cfg.Fraction <= 0 {
		cfg.Fraction = def.Eval.Fraction
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Eval.Seed
	}
	if cfg.KMax <= 0 {
		cfg.KMax = def.Eval.KMax
	}
	if cfg.SampleK <= 0 {
		cfg.SampleK = def.Eval.SampleK
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Eval.Workers
	}
	cfg.KMax = min(cfg.KMax, config.MaxK)
	cfg.SampleK = min(cfg.SampleK, config.MaxK)
	e := &Evaluator{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the leave-one-out evaluation of c against s. The query for a
// document is its own normalized question and the whole corpus is searched,
// the document itself included. Any search error aborts the run.
func (e *Evaluator) Evaluate(ctx context.Context, c *corpus.Corpus, s Searcher) (*models.Report, error) {
	started := time.Now()
	n := c.Size()
	positions := e.subset(n)

	report := &models.Report{
		RunID:           uuid.NewString(),
		StartedAt:       started.UTC(),
		CorpusSize:      n,
		Evaluated:       len(positions),
		KMax:            e.cfg.KMax,
		ReciprocalRanks: make([]float64, len(positions)),
	}
	if sr, ok := s.(statusReporter); ok {
		st := sr.Status()
		report.ModelID = st.ModelID
		report.Dimensions = st.Dimensions
	}
	e.logger.Info("evaluation started",
		zap.String("run_id", report.RunID),
		zap.Int("corpus_size", n),
		zap.Int("evaluated", len(positions)),
		zap.Int("k_max", e.cfg.KMax))

	ranks := make([]int, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, pos := range positions {
		g.Go(func() error {
			doc := c.At(pos)
			res, err := s.Search(gctx, doc.Question, e.cfg.KMax)
			if err != nil {
				return fmt.Errorf("evaluate document %d: %w", doc.ID, err)
			}
			ranks[i] = res.RankOf(doc.ID)
			if (i+1)%10 == 0 {
				e.logger.Debug("evaluation progress", zap.Int("done", i+1), zap.Int("total", len(positions)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	score(report, ranks)

	samples, err := e.samples(ctx, c, s)
	if err != nil {
		return nil, err
	}
	report.Samples = samples
	report.Duration = time.Since(started)

	e.logger.Info("evaluation finished",
		zap.String("run_id", report.RunID),
		zap.Float64("hit_at_1", report.HitAt1),
		zap.Float64("hit_at_3", report.HitAt3),
		zap.Float64("hit_at_5", report.HitAt5),
		zap.Float64("mrr", report.MRR),
		zap.Duration("took", report.Duration))
	return report, nil
}

// subset returns the corpus positions to evaluate: a seeded permutation cut to
// ceil(fraction·n), or every position in order when fraction is 1.
func (e *Evaluator) subset(n int) []int {
	if n == 0 {
		return nil
	}
	if e.cfg.Fraction >= 1 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	m := int(math.Ceil(e.cfg.Fraction*float64(n) - 1e-9))
	m = max(1, min(m, n))
	return rand.New(rand.NewSource(e.cfg.Seed)).Perm(n)[:m]
}

func (e *Evaluator) samples(ctx context.Context, c *corpus.Corpus, s Searcher) ([]*models.Sample, error) {
	count := min(e.cfg.Samples, c.Size())
	if count <= 0 {
		return nil, nil
	}
	picks := rand.New(rand.NewSource(e.cfg.Seed)).Perm(c.Size())[:count]
	out := make([]*models.Sample, 0, count)
	for _, pos := range picks {
		doc := c.At(pos)
		res, err := s.Search(ctx, doc.Question, e.cfg.SampleK)
		if err != nil {
			return nil, fmt.Errorf("sample document %d: %w", doc.ID, err)
		}
		out = append(out, &models.Sample{
			Query:          doc.Question,
			SourceQuestion: doc.SourceQuestion,
			Answer:         doc.Answer,
			Hits:           res.Hits,
		})
	}
	return out, nil
}

// score fills the metric fields of r from ranks, where 0 means not found.
func score(r *models.Report, ranks []int) {
	var found []int
	for i, rank := range ranks {
		if rank == 0 {
			r.NotFound++
			continue
		}
		found = append(found, rank)
		r.ReciprocalRanks[i] = 1 / float64(rank)
		if rank <= 1 {
			r.HitAt1Count++
		}
		if rank <= 3 {
			r.HitAt3Count++
		}
		if rank <= 5 {
			r.HitAt5Count++
		}
	}
	if len(ranks) == 0 {
		return
	}
	total := float64(len(ranks))
	r.HitAt1 = float64(r.HitAt1Count) / total
	r.HitAt3 = float64(r.HitAt3Count) / total
	r.HitAt5 = float64(r.HitAt5Count) / total
	var sum float64
	for _, rr := range r.ReciprocalRanks {
		sum += rr
	}
	r.MRR = sum / total

	if len(found) == 0 {
		return
	}
	var rankSum int
	for _, rank := range found {
		rankSum += rank
	}
	r.MeanRankFound = float64(rankSum) / float64(len(found))
	sort.Ints(found)
	mid := len(found) / 2
	if len(found)%2 == 1 {
		r.MedianRankFound = float64(found[mid])
	} else {
		r.MedianRankFound = float64(found[mid-1]+found[mid]) / 2
	}
}
