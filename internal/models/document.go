// Package models defines core data structures for quiz documents, queries, and retrieval results.
package models

import (
	"strconv"
	"strings"
)

// MaxOptions is the number of answer option columns a quiz row carries.
const MaxOptions = 5

// Document is one quiz question loaded from the corpus source. Documents are
// never modified after the corpus is built.
type Document struct {
	ID             int64             `json:"id"`
	QuestionID     *int64            `json:"question_id,omitempty"`
	Question       string            `json:"question"`
	SourceQuestion string            `json:"source_question,omitempty"`
	Options        []string          `json:"options"`
	Answer         string            `json:"answer"`
	Explanation    string            `json:"explanation,omitempty"`
	Difficulty     string            `json:"difficulty,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AnswerText resolves the answer to readable text. A numeric answer in 1..5
// selects that option; otherwise an option equal to the answer is returned;
// otherwise the raw answer.
func (d *Document) AnswerText() string {
	answer := strings.TrimSpace(d.Answer)
	if answer == "" {
		return ""
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= MaxOptions {
		if n <= len(d.Options) && strings.TrimSpace(d.Options[n-1]) != "" {
			return d.Options[n-1]
		}
	}
	for _, opt := range d.Options {
		if opt != "" && strings.TrimSpace(opt) == answer {
			return opt
		}
	}
	return d.Answer
}

// EmbeddingText returns the text embedded for this document: the question,
// followed by the explanation when includeExplanation is set and it is non-empty.
// Both parts are already normalized at load time.
func (d *Document) EmbeddingText(includeExplanation bool) string {
	if includeExplanation && d.Explanation != "" {
		return d.Question + " " + d.Explanation
	}
	return d.Question
}
