package gallery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/kamusis/shoesnap/internal/embeddings"
	"github.com/kamusis/shoesnap/internal/imaging"
	"github.com/kamusis/shoesnap/internal/metrics"
	"github.com/kamusis/shoesnap/internal/neighbors"
	"github.com/kamusis/shoesnap/internal/vector"
)

// DefaultLockTimeout bounds how long a build waits for another process's build.
const DefaultLockTimeout = 2 * time.Minute

// Embedder is the slice of the loaded model the builder needs.
type Embedder interface {
	Variant() embeddings.Variant
	EmbedImage(ctx context.Context, img image.Image) (vector.Embedding, error)
}

// BuildOptions controls a single build.
type BuildOptions struct {
	// Force skips the cache lookup. The fresh artifact is still published.
	Force bool
}

// Builder builds gallery snapshots for one model.
type Builder struct {
	Model       Embedder
	Store       *Store
	Search      neighbors.Options
	LockTimeout time.Duration
	Log         zerolog.Logger
}

// NewBuilder returns a builder with default lock timeout.
func NewBuilder(model Embedder, store *Store, search neighbors.Options, log zerolog.Logger) *Builder {
	return &Builder{
		Model:       model,
		Store:       store,
		Search:      search,
		LockTimeout: DefaultLockTimeout,
		Log:         log,
	}
}

// BuildOrRefresh lists dir, reuses the cached artifact when the fingerprint
// matches and otherwise embeds every decodable file and publishes the result.
// Undecodable files are skipped; encoder failures abort the build.
func (b *Builder) BuildOrRefresh(ctx context.Context, dir string, opts BuildOptions) (*Gallery, error) {
	if b.Model == nil {
		return nil, fmt.Errorf("gallery build requires a loaded model")
	}
	if b.Store == nil {
		return nil, fmt.Errorf("gallery build requires a cache store")
	}
	start := time.Now()
	variant := b.Model.Variant()
	log := b.Log.With().Str("dir", dir).Str("model", variant.ID()).Logger()

	listed, err := List(dir)
	if err != nil {
		return nil, err
	}
	if len(listed) == 0 {
		log.Info().Msg("gallery is empty; search unavailable")
		metrics.RecordGalleryBuild(metrics.BuildEmpty, 0, 0, time.Since(start))
		return &Gallery{
			Dir:        dir,
			ModelID:    variant.ID(),
			Paths:      []string{},
			Embeddings: vector.Empty(0),
			backend:    b.backend(),
		}, nil
	}

	fp, err := Fingerprint(listed)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("fingerprint", fp).Logger()
	ns := variant.Slug()

	timeout := b.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	unlock, err := b.Store.Lock(ctx, timeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !opts.Force {
		paths, m, err := b.Store.Lookup(ns, fp)
		switch {
		case err == nil:
			paths = relocate(listed, paths)
			g, err := b.assemble(dir, fp, variant, paths, m, hitOutcomes(listed, paths))
			if err != nil {
				return nil, err
			}
			g.CacheHit = true
			log.Info().Int("rows", m.Rows).Msg("gallery cache hit")
			metrics.RecordGalleryBuild(metrics.BuildHit, g.Size(), len(g.Skipped()), time.Since(start))
			return g, nil
		case errors.Is(err, ErrCacheMiss):
			log.Debug().Msg("gallery cache miss")
		default:
			log.Warn().Err(err).Msg("ignoring unusable gallery cache; recomputing")
		}
	}

	paths, embs, outcomes, err := b.embedAll(ctx, listed, log)
	if err != nil {
		return nil, err
	}
	m, err := vector.Stack(embs)
	if err != nil {
		return nil, err
	}
	if err := b.Store.Publish(ns, fp, paths, m); err != nil {
		return nil, fmt.Errorf("cannot persist gallery cache: %w", err)
	}

	g, err := b.assemble(dir, fp, variant, paths, m, outcomes)
	if err != nil {
		return nil, err
	}
	skipped := len(g.Skipped())
	log.Info().Int("rows", m.Rows).Int("skipped", skipped).Dur("elapsed", time.Since(start)).Msg("gallery built")
	metrics.RecordGalleryBuild(metrics.BuildMiss, g.Size(), skipped, time.Since(start))
	return g, nil
}

func (b *Builder) embedAll(ctx context.Context, listed []string, log zerolog.Logger) ([]string, []vector.Embedding, []Outcome, error) {
	var (
		paths    = make([]string, 0, len(listed))
		embs     = make([]vector.Embedding, 0, len(listed))
		outcomes = make([]Outcome, 0, len(listed))
	)
	for _, p := range listed {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}
		img, err := imaging.DecodeFile(p)
		if err != nil {
			log.Warn().Str("path", p).Err(err).Msg("skipping undecodable file")
			outcomes = append(outcomes, Outcome{Path: p, Status: Skipped, Reason: err.Error()})
			continue
		}
		emb, err := b.Model.EmbedImage(ctx, img)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("embed %s: %w", p, err)
		}
		paths = append(paths, p)
		embs = append(embs, emb)
		outcomes = append(outcomes, Outcome{Path: p, Status: Decoded})
	}
	return paths, embs, outcomes, nil
}

func (b *Builder) assemble(dir, fp string, v embeddings.Variant, paths []string, m vector.Matrix, outcomes []Outcome) (*Gallery, error) {
	idx, err := neighbors.Build(m, b.Search)
	if err != nil {
		return nil, fmt.Errorf("cannot build neighbour index: %w", err)
	}
	return &Gallery{
		Dir:         dir,
		Fingerprint: fp,
		ModelID:     v.ID(),
		Paths:       paths,
		Embeddings:  m,
		Index:       idx,
		Outcomes:    outcomes,
		backend:     b.backend(),
	}, nil
}

func (b *Builder) backend() string {
	if b.Search.Backend == "" {
		return neighbors.BackendExact
	}
	return b.Search.Backend
}

// relocate maps cached paths onto the current listing by basename. The
// fingerprint covers basenames only, so the same gallery reached through a
// different directory spelling is still a hit.
func relocate(listed, cached []string) []string {
	byBase := make(map[string]string, len(listed))
	for _, p := range listed {
		byBase[filepath.Base(p)] = p
	}
	out := make([]string, len(cached))
	for i, p := range cached {
		if cur, ok := byBase[filepath.Base(p)]; ok {
			out[i] = cur
		} else {
			out[i] = p
		}
	}
	return out
}

// hitOutcomes reconstructs outcomes for a cache hit: cached files were
// decoded when the artifact was built, everything else was skipped.
func hitOutcomes(listed, cached []string) []Outcome {
	in := make(map[string]struct{}, len(cached))
	for _, p := range cached {
		in[filepath.Base(p)] = struct{}{}
	}
	out := make([]Outcome, 0, len(listed))
	for _, p := range listed {
		if _, ok := in[filepath.Base(p)]; ok {
			out = append(out, Outcome{Path: p, Status: Decoded})
		} else {
			out = append(out, Outcome{Path: p, Status: Skipped, Reason: "not decodable when the cached index was built"})
		}
	}
	return out
}
