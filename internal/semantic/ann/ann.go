// Package ann defines the approximate-nearest-neighbor index capability
// (spec.md §9: "Treated as a capability: add(id, vector), search(vector, k)
// → [(id, distance)], save(path), load(path). Any library that implements
// this contract suffices.") and a concrete binding over
// github.com/blevesearch/go-faiss, the FAISS-compatible ANN library
// surfaced transitively in the vinayprograms-agent example's go.mod.
package ann

import "errors"

// ErrDimensionMismatch is returned when a vector's length does not match
// the index's configured dimension.
var ErrDimensionMismatch = errors.New("ann: vector dimension mismatch")

// Neighbor is one search hit: the ANN-local id and its L2 distance to the
// query vector.
type Neighbor struct {
	ID       int64
	Distance float32
}

// Index is the capability contract every backend (FAISS or otherwise)
// must satisfy. IDs are assigned by the backend in insertion order
// (0, 1, 2, ...), matching spec.md §4.3's vector_id = index.ntotal
// convention.
type Index interface {
	Add(vector []float32) (id int64, err error)
	Search(query []float32, k int) ([]Neighbor, error)
	Save(path string) error
	Load(path string) error
	Dimension() int
	Len() int64
}
