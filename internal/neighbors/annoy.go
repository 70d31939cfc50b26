package neighbors

import (
	"sync"

	"github.com/mariotoffia/goannoy/builder"
	"github.com/mariotoffia/goannoy/interfaces"

	"github.com/kamusis/shoesnap/internal/vector"
)

// candidateFactor widens the approximate candidate pool before exact re-ranking.
const candidateFactor = 4

// Annoy uses a random-projection forest to propose candidates, then ranks
// them exactly. A short candidate list from the forest falls back to a full
// scan, so results never shrink below k.
type Annoy struct {
	mu  sync.Mutex
	idx interfaces.AnnoyIndex[float32, uint32]
	m   vector.Matrix
	k   int
}

func newAnnoy(m vector.Matrix, k, trees int) *Annoy {
	if trees <= 0 {
		trees = DefaultOptions().Trees
	}
	idx := builder.Index[float32, uint32]().
		AngularDistance(m.Dim).
		UseMultiWorkerPolicy().
		MmapIndexAllocator().
		Build()

	for i := 0; i < m.Rows; i++ {
		idx.AddItem(uint32(i), m.Row(i))
	}
	idx.Build(trees, -1)

	return &Annoy{idx: idx, m: m, k: k}
}

func (a *Annoy) K() int   { return a.k }
func (a *Annoy) Len() int { return a.m.Rows }
func (a *Annoy) Dim() int { return a.m.Dim }

func (a *Annoy) Search(q vector.Embedding, k int) ([]Result, error) {
	if err := checkDim(q, a.m.Dim); err != nil {
		return nil, err
	}
	k = resolveK(k, a.k, a.m.Rows)
	n := min(k*candidateFactor, a.m.Rows)

	a.mu.Lock()
	ctx := a.idx.CreateContext()
	ids, _ := a.idx.GetNnsByVector(q, n, -1, ctx)
	a.mu.Unlock()

	rows := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		r := int(id)
		if r < 0 || r >= a.m.Rows {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		rows = append(rows, r)
	}
	if len(rows) < n {
		rows = allRows(a.m.Rows)
	}
	return rank(a.m, q, rows, k)
}
