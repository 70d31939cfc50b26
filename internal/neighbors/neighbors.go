// Package neighbors answers k-nearest-neighbour queries over a gallery
// matrix of unit-length embeddings using cosine distance.
package neighbors

import (
	"fmt"
	"sort"

	"github.com/kamusis/shoesnap/internal/vector"
)

// DefaultMaxK is the default neighbour count fixed at build time.
const DefaultMaxK = 8

// Backend names.
const (
	BackendExact = "exact"
	BackendAnnoy = "annoy"
)

// Result is one neighbour: its row in the gallery matrix and its cosine distance to the query.
type Result struct {
	Row      int
	Distance float64
}

// Index returns the nearest rows for a query, ascending by distance.
// k <= 0 selects the default fixed at build time; larger k is capped at Len.
type Index interface {
	Search(q vector.Embedding, k int) ([]Result, error)
	K() int
	Len() int
	Dim() int
}

// Options configures Build.
type Options struct {
	Backend string `yaml:"backend" json:"backend" validate:"omitempty,oneof=exact annoy"`
	Trees   int    `yaml:"trees" json:"trees" validate:"gte=0"`
	MaxK    int    `yaml:"max_k" json:"max_k" validate:"gte=0"`
}

// DefaultOptions returns the exact backend with k = 8.
func DefaultOptions() Options {
	return Options{Backend: BackendExact, Trees: 10, MaxK: DefaultMaxK}
}

// Build fits an index on m. k is min(MaxK, m.Rows). A zero-row matrix yields a nil index.
func Build(m vector.Matrix, opts Options) (Index, error) {
	if m.Rows == 0 {
		return nil, nil
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrInvalidInput, err)
	}
	maxK := opts.MaxK
	if maxK <= 0 {
		maxK = DefaultMaxK
	}
	k := min(maxK, m.Rows)

	switch opts.Backend {
	case "", BackendExact:
		return &Exact{m: m, k: k}, nil
	case BackendAnnoy:
		return newAnnoy(m, k, opts.Trees), nil
	default:
		return nil, fmt.Errorf("%w: unknown neighbour backend %q", vector.ErrInvalidInput, opts.Backend)
	}
}

// Exact scans every row.
type Exact struct {
	m vector.Matrix
	k int
}

func (e *Exact) K() int   { return e.k }
func (e *Exact) Len() int { return e.m.Rows }
func (e *Exact) Dim() int { return e.m.Dim }

// Search returns the k rows closest to q. Ties are broken by row order.
func (e *Exact) Search(q vector.Embedding, k int) ([]Result, error) {
	if err := checkDim(q, e.m.Dim); err != nil {
		return nil, err
	}
	return rank(e.m, q, allRows(e.m.Rows), resolveK(k, e.k, e.m.Rows))
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func resolveK(k, def, rows int) int {
	if k <= 0 {
		return def
	}
	return min(k, rows)
}

// rank computes exact distances for the candidate rows and keeps the k closest.
func rank(m vector.Matrix, q vector.Embedding, rows []int, k int) ([]Result, error) {
	out := make([]Result, 0, len(rows))
	for _, r := range rows {
		d, err := vector.CosineDistance(q, m.Row(r))
		if err != nil {
			return nil, err
		}
		out = append(out, Result{Row: r, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Row < out[j].Row
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func checkDim(q vector.Embedding, dim int) error {
	if len(q) != dim {
		return fmt.Errorf("%w: query has dimension %d, index has %d", vector.ErrInvalidInput, len(q), dim)
	}
	return nil
}
