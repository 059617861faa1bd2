// Package indexer builds the similarity index from the corpus, persists it to the
// cache directory, restores it on startup, and publishes rebuilt snapshots.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/proshno/internal/config"
	"github.com/hyperjump/proshno/internal/corpus"
	"github.com/hyperjump/proshno/internal/embedding"
	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/internal/storage"
	"github.com/hyperjump/proshno/internal/vector"
	"go.uber.org/zap"
)

// Cache artifact names inside the cache directory.
const (
	VectorsFile  = "vectors.bin"
	MetadataFile = "index.db"
)

// Indexer is the single writer of the index: it builds snapshots and publishes
// them to the handle readers query through.
type Indexer struct {
	embedder embedding.Embedder
	store    storage.Store // nil disables the cache
	handle   *vector.Handle
	corpus   config.CorpusConfig
	cacheDir string
	embed    config.EmbeddingConfig
	logger   *zap.Logger
	mu       sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for build, cache, and rebuild events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer. store may be nil, in which case nothing is
// persisted and every Init builds from the corpus source.
func NewIndexer(
	embedder embedding.Embedder,
	store storage.Store,
	handle *vector.Handle,
	cfg *config.Config,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		embedder: embedder,
		store:    store,
		handle:   handle,
		corpus:   cfg.Corpus,
		cacheDir: cfg.Index.CacheDir,
		embed:    cfg.Embedding,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Init publishes a snapshot for the current corpus. Unless force is set, a valid
// cache is used; a missing or stale cache is logged and replaced by a fresh build.
// When the corpus source file is absent, the corpus is restored from the cache.
func (idx *Indexer) Init(ctx context.Context, force bool) (*vector.Snapshot, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, err := idx.loadCorpus(ctx)
	if err != nil {
		return nil, err
	}

	if !force && idx.store != nil {
		snap, err := idx.LoadCache(ctx, c)
		if err == nil {
			idx.publish(snap)
			return snap, nil
		}
		if errors.Is(err, models.ErrNotFound) {
			idx.logger.Info("no index cache, building", zap.String("cache_dir", idx.cacheDir))
		} else {
			idx.logger.Warn("index cache rejected, rebuilding", zap.String("cache_dir", idx.cacheDir), zap.Error(err))
		}
	}

	snap, err := idx.buildAndSave(ctx, c)
	if err != nil {
		return nil, err
	}
	idx.publish(snap)
	return snap, nil
}

// Rebuild reloads the corpus source, builds a new snapshot, saves it, and
// publishes it. On failure the previously published snapshot keeps serving.
func (idx *Indexer) Rebuild(ctx context.Context) (*vector.Snapshot, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, err := corpus.Load(idx.corpus.Path, corpus.WithSheet(idx.corpus.Sheet))
	if err != nil {
		idx.logger.Error("rebuild failed: corpus load", zap.String("path", idx.corpus.Path), zap.Error(err))
		return nil, err
	}
	snap, err := idx.buildAndSave(ctx, c)
	if err != nil {
		idx.logger.Error("rebuild failed", zap.Error(err))
		return nil, err
	}
	idx.publish(snap)
	return snap, nil
}

// Build embeds every document of c and returns a new snapshot. It does not publish.
func (idx *Indexer) Build(ctx context.Context, c *corpus.Corpus) (*vector.Snapshot, error) {
	texts := make([]string, c.Size())
	for i := range texts {
		texts[i] = c.At(i).EmbeddingText(idx.embed.IncludeExplanationOrDefault())
	}
	start := time.Now()
	idx.logger.Info("embedding corpus",
		zap.Int("documents", len(texts)),
		zap.String("model", idx.embedder.ModelID()),
		zap.Int("batch_size", idx.embed.BatchSize),
		zap.Int("workers", idx.embed.Workers))

	vecs, err := embedding.EmbedAll(ctx, idx.embedder, texts, idx.embed.BatchSize, idx.embed.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to embed corpus: %w", err)
	}
	snap, err := vector.Build(c, vecs, idx.embedder.ModelID())
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}
	idx.logger.Info("index built", zap.Int("documents", snap.Size()), zap.Duration("took", time.Since(start)))
	return snap, nil
}

// Save writes the snapshot's vectors and the corpus rows plus manifest to the cache.
// The vectors file is replaced atomically.
func (idx *Indexer) Save(ctx context.Context, snap *vector.Snapshot) error {
	if idx.store == nil {
		return nil
	}
	data, err := snap.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(idx.cacheDir, 0755); err != nil {
		return fmt.Errorf("%w: create cache dir: %v", models.ErrPersistence, err)
	}
	path := filepath.Join(idx.cacheDir, VectorsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write vectors: %v", models.ErrPersistence, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: replace vectors: %v", models.ErrPersistence, err)
	}

	c := snap.Corpus()
	m := &storage.Manifest{
		ModelID:            snap.ModelID(),
		Dimensions:         snap.Dimensions(),
		DocCount:           snap.Size(),
		Fingerprint:        c.Fingerprint(),
		IncludeExplanation: idx.embed.IncludeExplanationOrDefault(),
		BuiltAt:            snap.BuiltAt(),
	}
	if err := idx.store.SaveSnapshot(ctx, c.Documents(), m); err != nil {
		return fmt.Errorf("failed to save index metadata: %w", err)
	}
	idx.logger.Debug("index cache saved", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// LoadCache returns the cached snapshot for c if the manifest and vectors file
// match c and the configured embedder. It returns models.ErrNotFound when there
// is no cache and models.ErrPersistence when the cache is stale or corrupt.
func (idx *Indexer) LoadCache(ctx context.Context, c *corpus.Corpus) (*vector.Snapshot, error) {
	if idx.store == nil {
		return nil, fmt.Errorf("%w: cache disabled", models.ErrNotFound)
	}
	m, err := idx.store.LoadManifest(ctx)
	if err != nil {
		return nil, err
	}
	if err := idx.checkManifest(m, c); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(idx.cacheDir, VectorsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: manifest present but %s missing", models.ErrPersistence, VectorsFile)
		}
		return nil, fmt.Errorf("%w: read vectors: %v", models.ErrPersistence, err)
	}
	snap, err := vector.Restore(c, data, idx.embedder.ModelID(), idx.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	if !snap.BuiltAt().Equal(m.BuiltAt) {
		return nil, fmt.Errorf("%w: vectors built at %s, manifest says %s", models.ErrPersistence,
			snap.BuiltAt().Format(time.RFC3339Nano), m.BuiltAt.Format(time.RFC3339Nano))
	}
	idx.logger.Info("index loaded from cache",
		zap.Int("documents", snap.Size()),
		zap.String("model", snap.ModelID()),
		zap.Time("built_at", snap.BuiltAt()))
	return snap, nil
}

func (idx *Indexer) checkManifest(m *storage.Manifest, c *corpus.Corpus) error {
	switch {
	case m.ModelID != idx.embedder.ModelID():
		return fmt.Errorf("%w: cache model %q, configured %q", models.ErrPersistence, m.ModelID, idx.embedder.ModelID())
	case m.DocCount > 0 && m.Dimensions != idx.embedder.Dimensions():
		return fmt.Errorf("%w: cache dimension %d, configured %d", models.ErrPersistence, m.Dimensions, idx.embedder.Dimensions())
	case m.IncludeExplanation != idx.embed.IncludeExplanationOrDefault():
		return fmt.Errorf("%w: cache include_explanation=%t differs from config", models.ErrPersistence, m.IncludeExplanation)
	case m.DocCount != c.Size():
		return fmt.Errorf("%w: cache has %d documents, corpus has %d", models.ErrPersistence, m.DocCount, c.Size())
	case m.Fingerprint != c.Fingerprint():
		return fmt.Errorf("%w: corpus changed since the cache was built", models.ErrPersistence)
	}
	return nil
}

// loadCorpus reads the corpus source, or the cached rows when the source file is absent.
func (idx *Indexer) loadCorpus(ctx context.Context) (*corpus.Corpus, error) {
	if _, err := os.Stat(idx.corpus.Path); err != nil && os.IsNotExist(err) && idx.store != nil {
		docs, lerr := idx.store.LoadDocuments(ctx)
		if lerr == nil && len(docs) > 0 {
			c, nerr := corpus.New(docs)
			if nerr == nil {
				idx.logger.Warn("corpus source missing, using cached corpus",
					zap.String("path", idx.corpus.Path), zap.Int("documents", c.Size()))
				return c, nil
			}
			lerr = nerr
		}
		idx.logger.Debug("no cached corpus available", zap.Error(lerr))
	}
	c, err := corpus.Load(idx.corpus.Path, corpus.WithSheet(idx.corpus.Sheet))
	if err != nil {
		return nil, err
	}
	if c.Skipped() > 0 {
		idx.logger.Warn("skipped rows with an empty question", zap.Int("rows", c.Skipped()), zap.String("path", c.Source()))
	}
	idx.logger.Info("corpus loaded", zap.Int("documents", c.Size()), zap.String("path", c.Source()))
	return c, nil
}

func (idx *Indexer) buildAndSave(ctx context.Context, c *corpus.Corpus) (*vector.Snapshot, error) {
	snap, err := idx.Build(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := idx.Save(ctx, snap); err != nil {
		idx.logger.Warn("failed to save index cache", zap.Error(err))
	}
	return snap, nil
}

func (idx *Indexer) publish(snap *vector.Snapshot) {
	idx.handle.Publish(snap)
	idx.logger.Info("index ready",
		zap.Int("documents", snap.Size()),
		zap.Int("dimensions", snap.Dimensions()),
		zap.String("model", snap.ModelID()),
		zap.String("origin", snap.Origin()))
}
