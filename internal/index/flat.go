package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Flat is an exact nearest-neighbour index using squared Euclidean distance.
// Vectors are addressed by insertion position.
type Flat struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dimension int) (*Flat, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	return &Flat{dimension: dimension}, nil
}

// Dimension returns the vector width accepted by the index.
func (f *Flat) Dimension() int { return f.dimension }

// Size returns the number of stored vectors.
func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Add appends vectors; the i-th vector added overall gets position i.
// Either all vectors are added or none are.
func (f *Flat) Add(vectors ...[]float32) error {
	for i, v := range vectors {
		if len(v) != f.dimension {
			return fmt.Errorf("vector %d: dimension %d, want %d", i, len(v), f.dimension)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		f.vectors = append(f.vectors, cp)
	}
	return nil
}

// Search returns the positions and squared distances of the k vectors closest
// to query, nearest first. Ties keep insertion order.
func (f *Flat) Search(query []float32, k int) ([]int, []float32, error) {
	if len(query) != f.dimension {
		return nil, nil, fmt.Errorf("query dimension %d, want %d", len(query), f.dimension)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil, nil
	}
	dists := make([]float32, len(f.vectors))
	positions := make([]int, len(f.vectors))
	for i, v := range f.vectors {
		dists[i] = squaredL2(v, query)
		positions[i] = i
	}
	sort.SliceStable(positions, func(a, b int) bool {
		return dists[positions[a]] < dists[positions[b]]
	})
	if k > len(positions) {
		k = len(positions)
	}
	positions = positions[:k]
	out := make([]float32, k)
	for i, p := range positions {
		out[i] = dists[p]
	}
	return positions, out, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
