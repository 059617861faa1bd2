// Package cli renders retrieval results, evaluation reports, and index status
// for the proshno command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ExplanationPreview is how many characters of an explanation text output shows.
const ExplanationPreview = 100

var rule = strings.Repeat("=", 60)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q (supported: text, json)", models.ErrInvalidParameter, s)
	}
}

// WriteSearchResults writes a retrieval result to w in the given format.
// Unknown formats are written as text.
func WriteSearchResults(w io.Writer, res *models.RetrievalResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "\nResults for: %q (%d results in %dms)\n", res.Query, res.Total, res.QueryTime)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	for _, h := range res.Hits {
		writeHit(w, h)
	}
	return nil
}

func writeHit(w io.Writer, h *models.Hit) {
	doc := h.Document
	fmt.Fprintf(w, "\nRank %d: %s\n", h.Rank, doc.Question)
	fmt.Fprintf(w, "Similarity: %.3f\n", h.Score)
	if h.AnswerText != "" {
		fmt.Fprintf(w, "Answer: %s\n", h.AnswerText)
	} else if doc.Answer != "" {
		fmt.Fprintf(w, "Answer: %s\n", doc.Answer)
	}
	if doc.Explanation != "" {
		fmt.Fprintf(w, "Explanation: %s\n", utils.Truncate(doc.Explanation, ExplanationPreview))
	}
	fmt.Fprintln(w, strings.Repeat("-", 30))
}

// PrintSearchResults prints a retrieval result to stdout in text format.
func PrintSearchResults(res *models.RetrievalResult) {
	_ = WriteSearchResults(os.Stdout, res, OutputText)
}

// WriteReport writes an evaluation report, samples included, in the given format.
func WriteReport(w io.Writer, r *models.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "\n%s\nRETRIEVAL EVALUATION REPORT\n%s\n", rule, rule)

	fmt.Fprintln(w, "\nDataset:")
	fmt.Fprintf(w, "- Questions in corpus: %d\n", r.CorpusSize)
	fmt.Fprintf(w, "- Questions evaluated: %d\n", r.Evaluated)
	if r.ModelID != "" {
		fmt.Fprintf(w, "- Model: %s\n", r.ModelID)
	}
	if r.Dimensions > 0 {
		fmt.Fprintf(w, "- Embedding dimension: %d\n", r.Dimensions)
	}

	fmt.Fprintln(w, "\nRetrieval metrics:")
	fmt.Fprintf(w, "- Hit@1: %.3f (%d/%d)\n", r.HitAt1, r.HitAt1Count, r.Evaluated)
	fmt.Fprintf(w, "- Hit@3: %.3f (%d/%d)\n", r.HitAt3, r.HitAt3Count, r.Evaluated)
	fmt.Fprintf(w, "- Hit@5: %.3f (%d/%d)\n", r.HitAt5, r.HitAt5Count, r.Evaluated)
	fmt.Fprintf(w, "- Mean Reciprocal Rank (MRR): %.3f\n", r.MRR)

	if r.Evaluated > r.NotFound {
		fmt.Fprintln(w, "\nRank distribution:")
		fmt.Fprintf(w, "- Average rank when found: %.2f\n", r.MeanRankFound)
		fmt.Fprintf(w, "- Median rank when found: %.2f\n", r.MedianRankFound)
		fmt.Fprintf(w, "- Not found in top %d: %d\n", r.KMax, r.NotFound)
	}
	fmt.Fprintf(w, "\nRun %s took %s\n", r.RunID, r.Duration)
	fmt.Fprintf(w, "\n%s\n", rule)

	for i, s := range r.Samples {
		fmt.Fprintf(w, "\nExample %d:\n", i+1)
		fmt.Fprintf(w, "Query: %s\n", s.Query)
		fmt.Fprintf(w, "Original question: %s\n", s.SourceQuestion)
		fmt.Fprintf(w, "Original answer: %s\n", s.Answer)
		for _, h := range s.Hits {
			fmt.Fprintf(w, "  Rank %d: %s\n", h.Rank, h.Document.Question)
			fmt.Fprintf(w, "    Answer: %s\n", h.AnswerText)
			fmt.Fprintf(w, "    Similarity: %.3f\n", h.Score)
		}
	}
	return nil
}

// WriteStatus writes the served index status in the given format.
func WriteStatus(w io.Writer, st models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	if !st.Ready {
		fmt.Fprintf(w, "Index: not ready (model %s, dimension %d)\n", st.ModelID, st.Dimensions)
		return nil
	}
	fmt.Fprintln(w, "Index: ready")
	fmt.Fprintf(w, "Questions: %d\n", st.CorpusSize)
	fmt.Fprintf(w, "Model: %s\n", st.ModelID)
	fmt.Fprintf(w, "Embedding dimension: %d\n", st.Dimensions)
	if !st.BuiltAt.IsZero() {
		fmt.Fprintf(w, "Built at: %s (%s)\n", st.BuiltAt.Format("2006-01-02 15:04:05 MST"), st.Origin)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
