// Package vector holds the exact similarity index over corpus embeddings: an
// immutable Snapshot queried by brute-force cosine similarity, its binary
// encoding, and the Handle through which readers see the current snapshot.
package vector

// Neighbor is one query result: a corpus position and its cosine similarity.
type Neighbor struct {
	Position int
	Score    float64
}

// Index ranks stored vectors against a query vector.
type Index interface {
	// Query returns at most k neighbors sorted by descending score, ties broken by
	// ascending position.
	Query(q []float32, k int) ([]Neighbor, error)
	Size() int
	Dimensions() int
	ModelID() string
}

var _ Index = (*Snapshot)(nil)
