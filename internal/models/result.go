package models

import "time"

// Hit is a single ranked retrieval result.
type Hit struct {
	Rank       int       `json:"rank"`
	Document   *Document `json:"document"`
	Score      float64   `json:"similarity_score"`
	Distance   float64   `json:"distance"`
	AnswerText string    `json:"answer_text,omitempty"`
}

// RetrievalResult is the response for a search request. Hits are ordered by
// rank starting at 1 and hold at most min(k, corpus size) entries.
type RetrievalResult struct {
	Query           string `json:"query"`
	NormalizedQuery string `json:"normalized_query"`
	K               int    `json:"k"`
	Hits            []*Hit `json:"results"`
	Total           int    `json:"total_results"`
	QueryTime       int64  `json:"query_time_ms"`
}

// Top returns the first hit, or nil when there are none.
func (r *RetrievalResult) Top() *Hit {
	if len(r.Hits) == 0 {
		return nil
	}
	return r.Hits[0]
}

// RankOf returns the rank of the document with the given id, or 0 when absent.
func (r *RetrievalResult) RankOf(id int64) int {
	for _, h := range r.Hits {
		if h.Document != nil && h.Document.ID == id {
			return h.Rank
		}
	}
	return 0
}

// Status describes the currently served index snapshot.
type Status struct {
	Ready      bool      `json:"ready"`
	CorpusSize int       `json:"corpus_size"`
	ModelID    string    `json:"model_id"`
	Dimensions int       `json:"embedding_dimension,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
	Origin     string    `json:"origin,omitempty"`
}

// Stats extends Status with query counters.
type Stats struct {
	Status
	Queries    int64   `json:"queries"`
	Failures   int64   `json:"failures"`
	AvgQueryMs float64 `json:"avg_query_ms"`
}
