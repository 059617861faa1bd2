package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hyperjump/proshno/internal/config"
	"github.com/hyperjump/proshno/internal/corpus"
	"github.com/hyperjump/proshno/internal/embedding"
	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/internal/search"
	"github.com/hyperjump/proshno/internal/vector"
)

var testDocs = []*models.Document{
	{ID: 1, Question: "গীতাঞ্জলি কাব্যগ্রন্থের রচয়িতা কে?", Options: []string{"রবীন্দ্রনাথ ঠাকুর", "কাজী নজরুল ইসলাম"}, Answer: "1"},
	{ID: 2, Question: "বিদ্রোহী কবি কাকে বলা হয়?", Options: []string{"জীবনানন্দ দাশ", "কাজী নজরুল ইসলাম"}, Answer: "2"},
	{ID: 3, Question: "রূপসী বাংলা কাব্যের কবি কে?", Options: []string{"জীবনানন্দ দাশ", "জসীমউদ্দীন"}, Answer: "জীবনানন্দ দাশ"},
	{ID: 4, Question: "নকশী কাঁথার মাঠ কার লেখা?", Options: []string{"জসীমউদ্দীন", "শামসুর রাহমান"}, Answer: "1"},
}

// failingEmbedder wraps a working embedder but fails single-text calls.
type failingEmbedder struct {
	embedding.Embedder
}

func (f failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("backend unavailable")
}

func newTestServer(t *testing.T, e embedding.Embedder, ready bool) *Server {
	t.Helper()
	h := vector.NewHandle()
	if ready {
		c, err := corpus.New(testDocs)
		if err != nil {
			t.Fatal(err)
		}
		texts := make([]string, c.Size())
		for i, d := range c.Documents() {
			texts[i] = d.Question
		}
		vecs, err := e.EmbedBatch(context.Background(), texts)
		if err != nil {
			t.Fatal(err)
		}
		snap, err := vector.Build(c, vecs, e.ModelID())
		if err != nil {
			t.Fatal(err)
		}
		h.Publish(snap)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Index.CacheDir = t.TempDir()
	cfg.Eval.Fraction = 1
	return NewServer(search.NewService(e, h), h, cfg, nil)
}

func do(t *testing.T, srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHandleRoot(t *testing.T) {
	srv := newTestServer(t, embedding.NewMockEmbedder(16), true)
	w := do(t, srv, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Name      string              `json:"name"`
		Endpoints map[string]endpoint `json:"endpoints"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"search", "ask", "chat", "stats", "health", "evaluate"} {
		if _, ok := out.Endpoints[name]; !ok {
			t.Errorf("endpoint %q not listed", name)
		}
	}
}

func TestHandleSearch(t *testing.T) {
	srv := newTestServer(t, embedding.NewMockEmbedder(16), true)
	w := do(t, srv, http.MethodGet, "/search?query="+url.QueryEscape(testDocs[1].Question)+"&k=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body)
	}
	var out struct {
		Results []struct {
			Rank     int              `json:"rank"`
			Document *models.Document `json:"document"`
			Score    float64          `json:"similarity_score"`
		} `json:"results"`
		Total       int           `json:"total_results"`
		SystemStats models.Status `json:"system_stats"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 2 || len(out.Results) != 2 {
		t.Fatalf("want 2 results, got total=%d len=%d", out.Total, len(out.Results))
	}
	if out.Results[0].Document.ID != 2 || out.Results[0].Rank != 1 {
		t.Errorf("top result: got id=%d rank=%d, want id=2 rank=1", out.Results[0].Document.ID, out.Results[0].Rank)
	}
	if !out.SystemStats.Ready || out.SystemStats.CorpusSize != len(testDocs) {
		t.Errorf("system_stats: got %+v", out.SystemStats)
	}
}

func TestHandleSearch_DefaultK(t *testing.T) {
	srv := newTestServer(t, embedding.NewMockEmbedder(16), true)
	w := do(t, srv, http.MethodGet, "/search?query=kobi", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out models.RetrievalResult
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	// default k is 5 but the corpus only holds 4 documents
	if out.K != defaultSearchK || out.Total != len(testDocs) {
		t.Errorf("got k=%d total=%d", out.K, out.Total)
	}
}

func TestHandlers_ErrorMapping(t *testing.T) {
	mock := embedding.NewMockEmbedder(16)
	tests := []struct {
		name     string
		embedder embedding.Embedder
		ready    bool
		method   string
		target   string
		body     string
		want     int
	}{
		{"empty query", mock, true, http.MethodGet, "/search?query=", "", http.StatusBadRequest},
		{"whitespace query", mock, true, http.MethodGet, "/search?query=%20%20", "", http.StatusBadRequest},
		{"k zero", mock, true, http.MethodGet, "/search?query=a&k=0", "", http.StatusBadRequest},
		{"k above max", mock, true, http.MethodGet, "/search?query=a&k=51", "", http.StatusBadRequest},
		{"k not a number", mock, true, http.MethodGet, "/search?query=a&k=five", "", http.StatusBadRequest},
		{"ask k above ten", mock, true, http.MethodGet, "/ask?query=a&k=11", "", http.StatusBadRequest},
		{"not ready", mock, false, http.MethodGet, "/search?query=a", "", http.StatusServiceUnavailable},
		{"ask not ready", mock, false, http.MethodGet, "/ask?query=a", "", http.StatusServiceUnavailable},
		{"embedding failure", failingEmbedder{mock}, true, http.MethodGet, "/search?query=a", "", http.StatusBadGateway},
		{"chat bad body", mock, true, http.MethodPost, "/chat", "{", http.StatusBadRequest},
		{"chat empty message", mock, true, http.MethodPost, "/chat", `{"message":""}`, http.StatusBadRequest},
		{"evaluate not ready", mock, false, http.MethodPost, "/evaluate", "", http.StatusServiceUnavailable},
		{"evaluate bad fraction", mock, true, http.MethodPost, "/evaluate", `{"fraction":2}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.embedder, tt.ready)
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			w := do(t, srv, tt.method, tt.target, body)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d (body %s)", w.Code, tt.want, w.Body)
			}
			var out map[string]string
			if err := json.NewDecoder(w.Body).Decode(&out); err != nil || out["error"] == "" {
				t.Errorf("want JSON error body, got %v (decode err %v)", out, err)
			}
		})
	}
}

func TestHandleAsk(t *testing.T) {
	srv := newTestServer(t, embedding.NewMockEmbedder(16), true)
	w := do(t, srv, http.MethodGet, "/ask?query="+url.QueryEscape(testDocs[0].Question), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body)
	}
	var out askResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Answer == nil || *out.Answer != "রবীন্দ্রনাথ ঠাকুর" {
		t.Errorf("answer: got %v", out.Answer)
	}
	if out.Match == nil || out.Match.Document.ID != 1 {
		t.Errorf("match: got %+v", out.Match)
	}
	if len(out.Alternatives) != defaultAskK-1 {
		t.Errorf("alternatives: got %d, want %d", len(out.Alternatives), defaultAskK-1)
	}
	if out.Query != testDocs[0].Question {
		t.Errorf("query echo: got %q", out.Query)
	}
}

func TestHandleChat(t *testing.T) {
	srv := newTestServer(t, embedding.NewMockEmbedder(16), true)
	body, _ := json.Marshal(map[string]interface{}{"message": testDocs[2].Question, "k": 1})
	w := do(t, srv, http.MethodPost, "/chat", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body)
	}
	var out askResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.UserMessage != testDocs[2].Question {
		t.Errorf("user_message: got %q", out.UserMessage)
	}
	if out.Answer == nil || *out.Answer != "জীবনানন্দ দাশ" {
		t.Errorf("answer: got %v", out.Answer)
	}
	if len(out.Alternatives) != 0 {
		t.Errorf("k=1 should leave no alternatives, got %d", len(out.Alternatives))
	}
}

func TestHandleStats(t *testing.T) {
	srv := newTestServer(t, embedding.NewMockEmbedder(16), true)
	do(t, srv, http.MethodGet, "/search?query=a", nil)
	do(t, srv, http.MethodGet, "/search?query=", nil)

	w := do(t, srv, http.MethodGet, "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out models.Stats
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Ready || out.ModelID != embedding.MockModelID || out.Dimensions != 16 {
		t.Errorf("stats status: got %+v", out.Status)
	}
	if out.Queries != 2 || out.Failures != 1 {
		t.Errorf("counters: got queries=%d failures=%d", out.Queries, out.Failures)
	}
}

func TestHandleHealth(t *testing.T) {
	for _, ready := range []bool{true, false} {
		srv := newTestServer(t, embedding.NewMockEmbedder(16), ready)
		w := do(t, srv, http.MethodGet, "/health", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		var out struct {
			Status string `json:"status"`
			Ready  bool   `json:"ready"`
		}
		if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if out.Status != "ok" || out.Ready != ready {
			t.Errorf("health: got %+v, want ready=%v", out, ready)
		}
	}
}

func TestHandleEvaluate(t *testing.T) {
	srv := newTestServer(t, embedding.NewMockEmbedder(16), true)
	w := do(t, srv, http.MethodPost, "/evaluate", []byte(`{"samples":1}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body)
	}
	var report models.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Evaluated != len(testDocs) {
		t.Errorf("evaluated: got %d, want %d", report.Evaluated, len(testDocs))
	}
	if report.HitAt1 != 1 || report.MRR != 1 {
		t.Errorf("self retrieval should be perfect, got hit@1=%v mrr=%v", report.HitAt1, report.MRR)
	}
	if len(report.Samples) != 1 {
		t.Errorf("samples: got %d, want 1", len(report.Samples))
	}
}

func TestHandleEvaluate_EmptyBody(t *testing.T) {
	srv := newTestServer(t, embedding.NewMockEmbedder(16), true)
	w := do(t, srv, http.MethodPost, "/evaluate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body)
	}
}

func TestNewServer_NilConfigUsesDefaults(t *testing.T) {
	e := embedding.NewMockEmbedder(16)
	ready := newTestServer(t, e, true)
	srv := NewServer(ready.search, ready.handle, nil, nil)

	w := do(t, srv, http.MethodPost, "/evaluate", []byte(`{"fraction":1,"samples":0}`))
	if w.Code != http.StatusOK {
		t.Fatalf("evaluate status: got %d, body %s", w.Code, w.Body)
	}
	var report models.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Evaluated != len(testDocs) || report.KMax != 20 {
		t.Errorf("evaluated=%d k_max=%d, want %d and the default 20", report.Evaluated, report.KMax, len(testDocs))
	}
	if w := do(t, srv, http.MethodGet, "/stats", nil); w.Code != http.StatusOK {
		t.Errorf("stats status: got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidParameter, http.StatusBadRequest},
		{models.ErrInvalidQuery, http.StatusBadRequest},
		{models.ErrIndexNotReady, http.StatusServiceUnavailable},
		{models.NewEmbeddingError("m", -1, errors.New("x")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
