package vectorindex

import (
	"errors"
	"fmt"
	"sort"

	"github.com/viant/vec/search"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Match is a single ranked result of a query
type Match struct {
	ID       string  `json:"id"`
	Distance float32 `json:"distance"`
}

// Index is an immutable brute-force L2 index.
// Slot i holds ids[i] and vecs[i]; the mapping never changes after New returns.
type Index struct {
	ids  []string
	vecs [][]float32
	dim  int
}

// New builds an index from parallel id and vector slices.
// Both slices are copied, so callers may reuse them afterwards.
func New(ids []string, vectors [][]float32) (*Index, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("ids and vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("cannot build index without vectors, use Empty")
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("vectors must have a non-zero dimension")
	}

	idx := &Index{
		ids:  make([]string, len(ids)),
		vecs: make([][]float32, len(vectors)),
		dim:  dim,
	}

	for i, vec := range vectors {
		if ids[i] == "" {
			return nil, fmt.Errorf("empty id at slot %d", i)
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: slot %d has %d, expected %d", ErrDimensionMismatch, i, len(vec), dim)
		}
		idx.ids[i] = ids[i]
		idx.vecs[i] = append([]float32(nil), vec...)
	}

	return idx, nil
}

// Empty returns an index with no vectors that answers every query with no results
func Empty(dim int) *Index {
	return &Index{dim: dim}
}

// Query returns up to k matches ordered by ascending L2 distance.
// Exact ties keep insertion order.
func (idx *Index) Query(vec []float32, k int) ([]Match, error) {
	if k <= 0 || len(idx.vecs) == 0 {
		return []Match{}, nil
	}
	if len(vec) != idx.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vec), idx.dim)
	}

	query := search.Float32s(vec)
	matches := make([]Match, len(idx.vecs))
	for i, v := range idx.vecs {
		matches[i] = Match{
			ID:       idx.ids[i],
			Distance: query.EuclideanDistance(v),
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if k > len(matches) {
		k = len(matches)
	}

	return matches[:k], nil
}

// Size returns the number of indexed vectors
func (idx *Index) Size() int {
	return len(idx.vecs)
}

// Dimension returns the vector dimension of the index
func (idx *Index) Dimension() int {
	return idx.dim
}

// IDs returns a copy of the indexed ids in slot order
func (idx *Index) IDs() []string {
	return append([]string(nil), idx.ids...)
}
