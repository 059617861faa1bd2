package models

import "fmt"

// Query is a single retrieval request: raw text and the number of results wanted.
type Query struct {
	Text string `json:"query"`
	K    int    `json:"k,omitempty"`
}

// Validate checks that K lies in the closed range [1, maxK].
// Text is checked after normalization by the retrieval service.
func (q *Query) Validate(maxK int) error {
	if q.K < 1 || q.K > maxK {
		return fmt.Errorf("%w: k must be between 1 and %d, got %d", ErrInvalidParameter, maxK, q.K)
	}
	return nil
}
