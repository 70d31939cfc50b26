// Package gallery turns a directory of reference images into a searchable
// snapshot: embeddings cached on disk by directory fingerprint plus a
// nearest-neighbour index over them.
package gallery

import (
	"errors"
	"fmt"

	"github.com/kamusis/shoesnap/internal/metrics"
	"github.com/kamusis/shoesnap/internal/neighbors"
	"github.com/kamusis/shoesnap/internal/vector"
)

// ErrSearchUnavailable is returned by Search on a gallery without an index.
var ErrSearchUnavailable = errors.New("gallery search unavailable: no indexed images")

// Status is the per-file outcome of a build.
type Status int

const (
	Decoded Status = iota
	Skipped
)

func (s Status) String() string {
	if s == Skipped {
		return "skipped"
	}
	return "decoded"
}

// MarshalText renders the status by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names MarshalText produces.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "decoded":
		*s = Decoded
	case "skipped":
		*s = Skipped
	default:
		return fmt.Errorf("unknown gallery status %q", b)
	}
	return nil
}

// Outcome records what happened to one listed file.
type Outcome struct {
	Path   string `json:"path"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Neighbor is one search hit.
type Neighbor struct {
	Path           string  `json:"path"`
	CosineDistance float64 `json:"cosine_distance"`
}

// Gallery is an immutable snapshot. Paths[i] owns row i of Embeddings.
type Gallery struct {
	Dir         string
	Fingerprint string
	ModelID     string
	Paths       []string
	Embeddings  vector.Matrix
	Index       neighbors.Index
	Outcomes    []Outcome
	CacheHit    bool

	backend string
}

// Size returns the number of indexed entries.
func (g *Gallery) Size() int {
	if g == nil {
		return 0
	}
	return len(g.Paths)
}

// Skipped returns the outcomes of files that could not be decoded.
func (g *Gallery) Skipped() []Outcome {
	if g == nil {
		return nil
	}
	var out []Outcome
	for _, o := range g.Outcomes {
		if o.Status == Skipped {
			out = append(out, o)
		}
	}
	return out
}

// Search returns up to k gallery entries closest to query, ascending by
// cosine distance. k <= 0 uses the index default.
func (g *Gallery) Search(query vector.Embedding, k int) ([]Neighbor, error) {
	if g == nil || g.Index == nil {
		return nil, ErrSearchUnavailable
	}
	res, err := g.Index.Search(query, k)
	if err != nil {
		return nil, err
	}
	metrics.RecordSearch(g.backend)

	out := make([]Neighbor, len(res))
	for i, r := range res {
		out[i] = Neighbor{Path: g.Paths[r.Row], CosineDistance: r.Distance}
	}
	return out, nil
}
