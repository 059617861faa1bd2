package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/proshno/internal/corpus"
	"github.com/hyperjump/proshno/internal/embedding"
	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/internal/vector"
)

// lookupEmbedder returns fixed vectors for known texts and an error otherwise.
type lookupEmbedder struct {
	vectors map[string][]float32
	dim     int
	delay   time.Duration
}

func (l *lookupEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	v, ok := l.vectors[text]
	if !ok {
		return nil, models.NewEmbeddingError(l.ModelID(), -1, fmt.Errorf("unknown text %q", text))
	}
	return v, nil
}

func (l *lookupEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := l.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (l *lookupEmbedder) Dimensions() int { return l.dim }
func (l *lookupEmbedder) ModelID() string { return "lookup" }
func (l *lookupEmbedder) Close() error    { return nil }

var orthogonal = map[string][]float32{
	"রবীন্দ্রনাথ": {1, 0, 0},
	"নজরুল":       {0, 1, 0},
	"জীবনানন্দ":   {0, 0, 1},
}

func newOrthogonalService(t *testing.T, opts ...ServiceOption) (*Service, *vector.Handle) {
	t.Helper()
	docs := []*models.Document{
		{ID: 11, Question: "রবীন্দ্রনাথ", Options: []string{"গীতাঞ্জলি"}, Answer: "1"},
		{ID: 22, Question: "নজরুল", Answer: "অগ্নিবীণা"},
		{ID: 33, Question: "জীবনানন্দ", Answer: "রূপসী বাংলা"},
	}
	c, err := corpus.New(docs)
	if err != nil {
		t.Fatal(err)
	}
	e := &lookupEmbedder{vectors: orthogonal, dim: 3}
	vecs := make([][]float32, c.Size())
	for i := range vecs {
		vecs[i] = orthogonal[c.At(i).Question]
	}
	snap, err := vector.Build(c, vecs, e.ModelID())
	if err != nil {
		t.Fatal(err)
	}
	h := vector.NewHandle()
	h.Publish(snap)
	return NewService(e, h, opts...), h
}

func TestSearch_SelfRetrieval(t *testing.T) {
	s, _ := newOrthogonalService(t)
	for text, id := range map[string]int64{"রবীন্দ্রনাথ": 11, "নজরুল": 22, "জীবনানন্দ": 33} {
		res, err := s.Search(context.Background(), "  "+text+" ", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Hits) != 1 {
			t.Fatalf("k=1 should give 1 hit, got %d", len(res.Hits))
		}
		top := res.Top()
		if top.Document.ID != id || top.Rank != 1 || top.Score < 0.999 || top.Distance > 0.001 {
			t.Errorf("%s: top = %+v", text, top)
		}
		if res.NormalizedQuery != text {
			t.Errorf("NormalizedQuery = %q", res.NormalizedQuery)
		}
	}
}

func TestSearch_ResultShape(t *testing.T) {
	s, _ := newOrthogonalService(t)
	res, err := s.Search(context.Background(), "রবীন্দ্রনাথ", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 3 || res.Total != 3 || res.K != 50 {
		t.Fatalf("got %d hits, total %d, k %d", len(res.Hits), res.Total, res.K)
	}
	for i, h := range res.Hits {
		if h.Rank != i+1 {
			t.Errorf("hit %d has rank %d", i, h.Rank)
		}
	}
	if res.Hits[1].Document.ID != 22 || res.Hits[2].Document.ID != 33 {
		t.Errorf("equal scores should keep corpus order: %d, %d", res.Hits[1].Document.ID, res.Hits[2].Document.ID)
	}
	if res.Hits[0].AnswerText != "গীতাঞ্জলি" {
		t.Errorf("AnswerText = %q", res.Hits[0].AnswerText)
	}
}

func TestSearch_Validation(t *testing.T) {
	s, _ := newOrthogonalService(t)
	tests := []struct {
		name string
		text string
		k    int
		want error
	}{
		{"empty", "", 5, models.ErrInvalidQuery},
		{"whitespace", " \t\n", 5, models.ErrInvalidQuery},
		{"markup only", "<br/>", 5, models.ErrInvalidQuery},
		{"k zero", "নজরুল", 0, models.ErrInvalidParameter},
		{"k negative", "নজরুল", -3, models.ErrInvalidParameter},
		{"k above max", "নজরুল", 51, models.ErrInvalidParameter},
		{"k checked first", "", 0, models.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.text, tt.k)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSearch_NotReady(t *testing.T) {
	s := NewService(embedding.NewMockEmbedder(3), vector.NewHandle())
	if _, err := s.Search(context.Background(), "প্রশ্ন", 5); !errors.Is(err, models.ErrIndexNotReady) {
		t.Fatalf("expected ErrIndexNotReady, got %v", err)
	}
	st := s.Status()
	if st.Ready || st.ModelID != embedding.MockModelID {
		t.Errorf("status = %+v", st)
	}
}

func TestSearch_AfterClose(t *testing.T) {
	s, h := newOrthogonalService(t)
	_ = h.Close()
	if _, err := s.Search(context.Background(), "নজরুল", 1); !errors.Is(err, models.ErrIndexNotReady) {
		t.Fatalf("expected ErrIndexNotReady after Close, got %v", err)
	}
}

func TestSearch_EmbeddingErrorUnchanged(t *testing.T) {
	s, _ := newOrthogonalService(t)
	_, err := s.Search(context.Background(), "অজানা প্রশ্ন", 3)
	var ee *models.EmbeddingError
	if !errors.As(err, &ee) || ee.Model != "lookup" {
		t.Fatalf("expected the embedder's EmbeddingError, got %v", err)
	}
	if !errors.Is(err, models.ErrEmbedding) {
		t.Error("error should match ErrEmbedding")
	}
}

func TestSearch_Timeout(t *testing.T) {
	s, _ := newOrthogonalService(t, WithTimeout(10*time.Millisecond))
	s.embedder.(*lookupEmbedder).delay = time.Second
	_, err := s.Search(context.Background(), "নজরুল", 1)
	if !errors.Is(err, models.ErrEmbedding) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected embedding deadline error, got %v", err)
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	s, h := newOrthogonalService(t)
	c := h.Current().Corpus()
	snap, err := vector.Build(c, [][]float32{{1, 0}, {0, 1}, {1, 1}}, "lookup")
	if err != nil {
		t.Fatal(err)
	}
	h.Publish(snap)
	if _, err := s.Search(context.Background(), "নজরুল", 1); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s, _ := newOrthogonalService(t)
	ctx := context.Background()
	_, _ = s.Search(ctx, "নজরুল", 1)
	_, _ = s.Search(ctx, "জীবনানন্দ", 2)
	_, _ = s.Search(ctx, "", 1)

	st := s.Stats()
	if st.Queries != 3 || st.Failures != 1 {
		t.Errorf("queries=%d failures=%d", st.Queries, st.Failures)
	}
	if !st.Ready || st.CorpusSize != 3 || st.Dimensions != 3 || st.ModelID != "lookup" || st.Origin != vector.OriginBuilt {
		t.Errorf("status = %+v", st.Status)
	}
	if st.AvgQueryMs < 0 {
		t.Errorf("AvgQueryMs = %f", st.AvgQueryMs)
	}
}

func TestSearch_ConcurrentWithSwap(t *testing.T) {
	s, h := newOrthogonalService(t)
	first := h.Current()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				res, err := s.Search(context.Background(), "নজরুল", 3)
				if err != nil {
					t.Error(err)
					return
				}
				if res.Top().Document.ID != 22 {
					t.Errorf("top = %d", res.Top().Document.ID)
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		h.Publish(first)
	}
	wg.Wait()
}

func TestPin_KeepsSnapshotAcrossPublish(t *testing.T) {
	s, h := newOrthogonalService(t)
	ctx := context.Background()

	pinned, err := s.Pin()
	if err != nil {
		t.Fatal(err)
	}

	renumbered := make([]*models.Document, 0, 3)
	vecs := make([][]float32, 0, 3)
	for i, doc := range h.Current().Corpus().Documents() {
		renumbered = append(renumbered, &models.Document{ID: int64(900 + i), Question: doc.Question, Answer: doc.Answer})
		vecs = append(vecs, orthogonal[doc.Question])
	}
	c, err := corpus.New(renumbered)
	if err != nil {
		t.Fatal(err)
	}
	next, err := vector.Build(c, vecs, "lookup")
	if err != nil {
		t.Fatal(err)
	}
	h.Publish(next)

	res, err := pinned.Search(ctx, "নজরুল", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Top().Document.ID; got != 22 {
		t.Errorf("pinned search top = %d, want 22 from the pinned snapshot", got)
	}
	if got := pinned.Corpus().At(1).ID; got != 22 {
		t.Errorf("pinned corpus position 1 = %d, want 22", got)
	}
	res, err = s.Search(ctx, "নজরুল", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Top().Document.ID; got != 901 {
		t.Errorf("live search top = %d, want 901 from the new snapshot", got)
	}
	if st := pinned.Status(); !st.Ready || st.CorpusSize != 3 || st.ModelID != "lookup" {
		t.Errorf("pinned status = %+v", st)
	}
	if st := s.Stats(); st.Queries != 2 {
		t.Errorf("pinned queries should count towards stats, got %d", st.Queries)
	}
}

func TestPin_NotReady(t *testing.T) {
	s := NewService(embedding.NewMockEmbedder(3), vector.NewHandle())
	if _, err := s.Pin(); !errors.Is(err, models.ErrIndexNotReady) {
		t.Fatalf("expected ErrIndexNotReady, got %v", err)
	}
}

func TestProcessQuery(t *testing.T) {
	got, err := ProcessQuery(&models.Query{Text: "<b>গীতাঞ্জলি</b>  কাব্য", K: 5}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if got != "গীতাঞ্জলি কাব্য" {
		t.Errorf("ProcessQuery = %q", got)
	}
}
