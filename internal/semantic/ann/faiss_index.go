package ann

import (
	"fmt"
	"sync"

	faiss "github.com/blevesearch/go-faiss"
)

// FlatL2Index wraps a faiss.IndexFlatL2, matching
// original_source/backend/memory/semantic_store.py's
// `faiss.IndexFlatL2(dimension)` exactly, with adds serialized and
// searches allowed to proceed concurrently through a read-write lock
// (spec.md §5: "Semantic Store: adds serialize; searches read-only and
// concurrent with adds through a consistent snapshot").
type FlatL2Index struct {
	mu    sync.RWMutex
	index faiss.Index
	dim   int
}

// NewFlatL2Index constructs an empty flat-L2 index of the given
// dimension.
func NewFlatL2Index(dimension int) (*FlatL2Index, error) {
	idx, err := faiss.NewIndexFlatL2(dimension)
	if err != nil {
		return nil, fmt.Errorf("ann: new index: %w", err)
	}
	return &FlatL2Index{index: idx, dim: dimension}, nil
}

// Add inserts vector and returns its assigned id (= prior Ntotal).
func (f *FlatL2Index) Add(vector []float32) (int64, error) {
	if len(vector) != f.dim {
		return 0, ErrDimensionMismatch
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.index.Ntotal()
	if err := f.index.Add(vector); err != nil {
		return 0, fmt.Errorf("ann: add: %w", err)
	}
	return id, nil
}

// Search returns up to k nearest neighbors by L2 distance, ascending.
func (f *FlatL2Index) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.index.Ntotal() == 0 {
		return nil, nil
	}

	distances, labels, err := f.index.Search(query, int64(k))
	if err != nil {
		return nil, fmt.Errorf("ann: search: %w", err)
	}

	out := make([]Neighbor, 0, len(labels))
	for i, label := range labels {
		if label < 0 {
			continue // faiss pads short result sets with -1
		}
		out = append(out, Neighbor{ID: label, Distance: distances[i]})
	}
	return out, nil
}

// Save persists the index to path.
func (f *FlatL2Index) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return faiss.WriteIndex(f.index, path)
}

// Load replaces the in-memory index with the one stored at path.
func (f *FlatL2Index) Load(path string) error {
	idx, err := faiss.ReadIndex(path, faiss.IOFlagReadOnly)
	if err != nil {
		return fmt.Errorf("ann: load: %w", err)
	}
	if idx.D() != f.dim {
		return ErrDimensionMismatch
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = idx
	return nil
}

// Dimension returns the configured vector dimension.
func (f *FlatL2Index) Dimension() int { return f.dim }

// Len returns the number of vectors currently indexed.
func (f *FlatL2Index) Len() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index.Ntotal()
}
