package models

import "time"

// Report is the outcome of one leave-one-out evaluation run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	CorpusSize int           `json:"corpus_size"`
	Evaluated  int           `json:"total_questions_evaluated"`
	KMax       int           `json:"k_max"`
	ModelID    string        `json:"model_id,omitempty"`
	Dimensions int           `json:"embedding_dimension,omitempty"`

	HitAt1      float64 `json:"hit_at_1"`
	HitAt3      float64 `json:"hit_at_3"`
	HitAt5      float64 `json:"hit_at_5"`
	HitAt1Count int     `json:"hit_at_1_count"`
	HitAt3Count int     `json:"hit_at_3_count"`
	HitAt5Count int     `json:"hit_at_5_count"`
	MRR         float64 `json:"mrr"`

	// ReciprocalRanks is aligned with the evaluation subset order; 0 means not found.
	ReciprocalRanks []float64 `json:"reciprocal_ranks"`
	MeanRankFound   float64   `json:"mean_rank_found"`
	MedianRankFound float64   `json:"median_rank_found"`
	NotFound        int       `json:"not_found"`

	Samples []*Sample `json:"samples,omitempty"`
}

// Sample is a qualitative example: a document's own question and what it retrieved.
type Sample struct {
	Query          string `json:"query"`
	SourceQuestion string `json:"original_question"`
	Answer         string `json:"original_answer"`
	Hits           []*Hit `json:"results"`
}
