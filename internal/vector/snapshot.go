package vector

import (
	"fmt"
	"sort"
	"time"

	"github.com/hyperjump/proshno/internal/corpus"
	"github.com/hyperjump/proshno/internal/models"
)

// Snapshot is an immutable pairing of a corpus with one embedding per document,
// aligned by corpus position. It is safe for concurrent queries.
type Snapshot struct {
	corpus  *corpus.Corpus
	ids     []int64
	vectors [][]float32
	norms   []float64
	modelID string
	dim     int
	builtAt time.Time
	origin  string
}

// Snapshot origins reported by Origin.
const (
	OriginBuilt = "built"
	OriginCache = "cache"
)

// Build creates a snapshot. embeddings[i] is the vector of c.At(i). It fails with
// models.ErrDimensionMismatch when the counts differ, vectors differ in length, or
// the vectors are empty for a non-empty corpus. Vectors are copied.
func Build(c *corpus.Corpus, embeddings [][]float32, modelID string) (*Snapshot, error) {
	if c == nil {
		var err error
		if c, err = corpus.New(nil); err != nil {
			return nil, err
		}
	}
	n := c.Size()
	if len(embeddings) != n {
		return nil, fmt.Errorf("%w: %d embeddings for %d documents", models.ErrDimensionMismatch, len(embeddings), n)
	}
	dim := 0
	if n > 0 {
		dim = len(embeddings[0])
		if dim == 0 {
			return nil, fmt.Errorf("%w: embeddings are empty", models.ErrDimensionMismatch)
		}
	}
	s := &Snapshot{
		corpus:  c,
		ids:     make([]int64, n),
		vectors: make([][]float32, n),
		norms:   make([]float64, n),
		modelID: modelID,
		dim:     dim,
		builtAt: time.Now().UTC(),
		origin:  OriginBuilt,
	}
	for i, v := range embeddings {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: embedding %d has length %d, want %d", models.ErrDimensionMismatch, i, len(v), dim)
		}
		s.ids[i] = c.At(i).ID
		s.vectors[i] = append([]float32(nil), v...)
		s.norms[i] = L2Norm(v)
	}
	return s, nil
}

// Query scores every stored vector against q and returns the best min(k, N)
// positions. k <= 0 returns an empty result.
func (s *Snapshot) Query(q []float32, k int) ([]Neighbor, error) {
	n := len(s.vectors)
	if n > 0 && len(q) != s.dim {
		return nil, fmt.Errorf("%w: query has length %d, index has %d", models.ErrDimensionMismatch, len(q), s.dim)
	}
	if k <= 0 || n == 0 {
		return []Neighbor{}, nil
	}

	qn := L2Norm(q)
	scored := make([]Neighbor, n)
	for i, v := range s.vectors {
		scored[i] = Neighbor{Position: i, Score: cosine(q, qn, v, s.norms[i])}
	}
	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return scored[a].Position < scored[b].Position
	})
	if k > n {
		k = n
	}
	return scored[:k:k], nil
}

// Corpus returns the documents the snapshot was built over. It is nil for a
// snapshot decoded with UnmarshalBinary and not yet restored.
func (s *Snapshot) Corpus() *corpus.Corpus {
	return s.corpus
}

// Size returns the number of vectors.
func (s *Snapshot) Size() int {
	return len(s.vectors)
}

// Dimensions returns the vector length, 0 for an empty snapshot.
func (s *Snapshot) Dimensions() int {
	return s.dim
}

// ModelID returns the embedding model the vectors came from.
func (s *Snapshot) ModelID() string {
	return s.modelID
}

// BuiltAt returns when the vectors were computed.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Origin reports whether the vectors were computed in this process (OriginBuilt)
// or decoded from a persisted cache (OriginCache).
func (s *Snapshot) Origin() string {
	return s.origin
}

// Vector returns the stored vector at position i. The slice must not be modified.
func (s *Snapshot) Vector(i int) []float32 {
	if i < 0 || i >= len(s.vectors) {
		return nil
	}
	return s.vectors[i]
}
