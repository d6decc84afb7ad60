package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Index stores exemplars and answers nearest-neighbour queries.
// Nothing is ever deleted; re-adding an ID replaces its entry.
type Index interface {
	Add(ctx context.Context, ex Exemplar) error
	Search(ctx context.Context, vec []float32, k int) ([]Scored, error)
	Count(ctx context.Context) (int, error)
}

// MemoryIndex is a process-local exemplar index. Search is a linear
// scan; receipts per deployment number in the thousands at most.
type MemoryIndex struct {
	mu        sync.RWMutex
	exemplars []Exemplar
	byID      map[string]int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byID: make(map[string]int)}
}

func (ix *MemoryIndex) Add(ctx context.Context, ex Exemplar) error {
	if ex.ID == "" {
		return fmt.Errorf("exemplar id is empty")
	}
	if len(ex.Vector) == 0 {
		return fmt.Errorf("exemplar vector is empty")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if i, ok := ix.byID[ex.ID]; ok {
		ix.exemplars[i] = ex
		return nil
	}
	ix.byID[ex.ID] = len(ix.exemplars)
	ix.exemplars = append(ix.exemplars, ex)
	return nil
}

func (ix *MemoryIndex) Search(ctx context.Context, vec []float32, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	scored := make([]Scored, 0, len(ix.exemplars))
	for _, ex := range ix.exemplars {
		sim, ok := cosine(vec, ex.Vector)
		if !ok {
			continue
		}
		scored = append(scored, Scored{Exemplar: ex, Similarity: sim})
	}
	sortBySimilarity(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (ix *MemoryIndex) Count(ctx context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.exemplars), nil
}

func sortBySimilarity(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
}

// cosine returns the cosine similarity of two vectors. ok is false for
// mismatched dimensions or a zero vector.
func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
