package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/hyperjump/proshno/internal/config"
	"github.com/hyperjump/proshno/internal/embedding"
	"github.com/hyperjump/proshno/internal/indexer"
	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/internal/search"
	"github.com/hyperjump/proshno/internal/server"
	"github.com/hyperjump/proshno/internal/storage"
	"github.com/hyperjump/proshno/internal/vector"
)

const (
	e2eDocs       = 100
	e2eDimensions = 32
)

type stack struct {
	cfg    *config.Config
	handle *vector.Handle
	idx    *indexer.Indexer
	http   *httptest.Server
}

// newStack wires the same components as the server command, with the mock embedder.
func newStack(t *testing.T, cfg *config.Config) *stack {
	t.Helper()
	e, err := embedding.New(cfg.Embedding)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(filepath.Join(cfg.Index.CacheDir, indexer.MetadataFile))
	if err != nil {
		t.Fatal(err)
	}
	h := vector.NewHandle()
	idx := indexer.NewIndexer(e, store, h, cfg)
	if _, err := idx.Init(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	srv := server.NewServer(search.NewService(e, h), h, cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = h.Close()
		_ = store.Close()
		_ = e.Close()
	})
	return &stack{cfg: cfg, handle: h, idx: idx, http: ts}
}

func e2eConfig(t *testing.T, corpusFile string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	include := false
	cfg.Corpus.Path = filepath.Join(dir, corpusFile)
	cfg.Index.CacheDir = filepath.Join(dir, "index")
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Embedding.ModelID = "e2e-mock"
	cfg.Embedding.Dimensions = e2eDimensions
	cfg.Embedding.IncludeExplanation = &include
	cfg.Eval.Fraction = 1
	return cfg
}

func getJSON(t *testing.T, rawURL string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestE2E_SearchReturnsCorrectResults(t *testing.T) {
	gen := BuildCorpus(e2eDocs)
	for _, file := range []string{"questions.csv", "questions.xlsx"} {
		t.Run(file, func(t *testing.T) {
			cfg := e2eConfig(t, file)
			write := WriteCSV
			if filepath.Ext(file) == ".xlsx" {
				write = WriteXLSX
			}
			if err := write(cfg.Corpus.Path, gen.Documents); err != nil {
				t.Fatal(err)
			}
			st := newStack(t, cfg)

			for _, tc := range gen.TestCases {
				var res models.RetrievalResult
				q := url.Values{"query": {tc.Query}, "k": {"5"}}
				if code := getJSON(t, st.http.URL+"/search?"+q.Encode(), &res); code != http.StatusOK {
					t.Fatalf("query %q: status %d", tc.Query, code)
				}
				if len(res.Hits) != 5 {
					t.Fatalf("query %q: %d hits, want 5", tc.Query, len(res.Hits))
				}
				if top := res.Top(); top.Document.ID != tc.ExpectedID || top.AnswerText != tc.Answer {
					t.Errorf("query %q: top id=%d answer=%q, want id=%d answer=%q",
						tc.Query, top.Document.ID, top.AnswerText, tc.ExpectedID, tc.Answer)
				}
				for i := 1; i < len(res.Hits); i++ {
					if res.Hits[i].Score > res.Hits[i-1].Score {
						t.Fatalf("query %q: hits not sorted by score", tc.Query)
					}
				}
			}
		})
	}
}

func TestE2E_AskAndEvaluate(t *testing.T) {
	gen := BuildCorpus(30)
	cfg := e2eConfig(t, "questions.csv")
	if err := WriteCSV(cfg.Corpus.Path, gen.Documents); err != nil {
		t.Fatal(err)
	}
	st := newStack(t, cfg)

	tc := gen.TestCases[7]
	var ask struct {
		Answer       *string       `json:"answer"`
		Match        *models.Hit   `json:"match"`
		Alternatives []*models.Hit `json:"alternatives"`
	}
	q := url.Values{"query": {tc.Query}}
	if code := getJSON(t, st.http.URL+"/ask?"+q.Encode(), &ask); code != http.StatusOK {
		t.Fatalf("ask status %d", code)
	}
	if ask.Answer == nil || *ask.Answer != tc.Answer || ask.Match.Document.ID != tc.ExpectedID || len(ask.Alternatives) != 2 {
		t.Errorf("ask: answer=%v match=%+v alternatives=%d", ask.Answer, ask.Match, len(ask.Alternatives))
	}

	resp, err := http.Post(st.http.URL+"/evaluate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status %d", resp.StatusCode)
	}
	var report models.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Evaluated != gen.TotalDocs || report.HitAt1 != 1 || report.MRR != 1 || report.NotFound != 0 {
		t.Errorf("report: evaluated=%d hit@1=%v mrr=%v not_found=%d", report.Evaluated, report.HitAt1, report.MRR, report.NotFound)
	}
	if report.ModelID != "e2e-mock" || report.Dimensions != e2eDimensions {
		t.Errorf("report model=%q dim=%d", report.ModelID, report.Dimensions)
	}
}

func TestE2E_RestartUsesCacheAndRebuildSwaps(t *testing.T) {
	gen := BuildCorpus(40)
	cfg := e2eConfig(t, "questions.csv")
	if err := WriteCSV(cfg.Corpus.Path, gen.Documents[:30]); err != nil {
		t.Fatal(err)
	}
	first := newStack(t, cfg)
	if o := first.handle.Current().Origin(); o != vector.OriginBuilt {
		t.Fatalf("first start origin = %s", o)
	}
	first.http.Close()

	second := newStack(t, cfg)
	var stats models.Stats
	if code := getJSON(t, second.http.URL+"/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats status %d", code)
	}
	if !stats.Ready || stats.Origin != vector.OriginCache || stats.CorpusSize != 30 {
		t.Fatalf("restart should serve the cache: %+v", stats.Status)
	}

	// Documents 30..39 are not indexed yet.
	late := gen.TestCases[35]
	q := url.Values{"query": {late.Query}, "k": {"1"}}
	var before models.RetrievalResult
	getJSON(t, second.http.URL+"/search?"+q.Encode(), &before)
	if before.Top().Document.ID == late.ExpectedID {
		t.Fatal("document should not be found before the rebuild")
	}

	if err := WriteCSV(cfg.Corpus.Path, gen.Documents); err != nil {
		t.Fatal(err)
	}
	if _, err := second.idx.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	var after models.RetrievalResult
	getJSON(t, second.http.URL+"/search?"+q.Encode(), &after)
	if after.Top().Document.ID != late.ExpectedID {
		t.Errorf("after rebuild top id = %d, want %d", after.Top().Document.ID, late.ExpectedID)
	}
	if code := getJSON(t, second.http.URL+"/stats", &stats); code != http.StatusOK || stats.CorpusSize != 40 {
		t.Errorf("stats after rebuild: code=%d size=%d", code, stats.CorpusSize)
	}
}

func TestE2E_ErrorsOverHTTP(t *testing.T) {
	gen := BuildCorpus(10)
	cfg := e2eConfig(t, "questions.csv")
	if err := WriteCSV(cfg.Corpus.Path, gen.Documents); err != nil {
		t.Fatal(err)
	}
	st := newStack(t, cfg)
	for k, want := range map[int]int{0: http.StatusBadRequest, 1: http.StatusOK, 50: http.StatusOK, 51: http.StatusBadRequest} {
		q := url.Values{"query": {"কবি"}, "k": {strconv.Itoa(k)}}
		if code := getJSON(t, st.http.URL+"/search?"+q.Encode(), nil); code != want {
			t.Errorf("k=%d: status %d, want %d", k, code, want)
		}
	}
	if code := getJSON(t, st.http.URL+"/search?query=", nil); code != http.StatusBadRequest {
		t.Errorf("empty query: status %d", code)
	}
}
