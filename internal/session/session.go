// Package session holds the process-wide state: the loaded model and the
// current gallery snapshot. Every operation receives the session explicitly.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kamusis/shoesnap/internal/classify"
	"github.com/kamusis/shoesnap/internal/embeddings"
	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/imaging"
	"github.com/kamusis/shoesnap/internal/metrics"
	"github.com/kamusis/shoesnap/internal/neighbors"
	"github.com/kamusis/shoesnap/internal/result"
)

// ErrModelNotLoaded is returned by operations that need LoadModel first.
var ErrModelNotLoaded = errors.New("model not loaded")

// Options wires a session.
type Options struct {
	Opener     embeddings.Opener
	Variants   []embeddings.Variant
	GalleryDir string
	CacheDir   string
	Search     neighbors.Options
	Log        zerolog.Logger
}

// Session is safe for concurrent use. Analyze runs one request at a time;
// gallery rebuilds are serialized and swap the snapshot atomically.
type Session struct {
	opts  Options
	store *gallery.Store

	model   atomic.Pointer[embeddings.Model]
	gallery atomic.Pointer[gallery.Gallery]

	loadMu  sync.Mutex
	buildMu sync.Mutex
	inferMu sync.Mutex
}

// New returns a session with no model and no gallery.
func New(opts Options) *Session {
	if len(opts.Variants) == 0 {
		opts.Variants = embeddings.DefaultVariants
	}
	return &Session{opts: opts, store: gallery.NewStore(opts.CacheDir)}
}

// GalleryDir returns the directory the session indexes.
func (s *Session) GalleryDir() string { return s.opts.GalleryDir }

// LoadModel opens the first available variant. Later calls return the
// already loaded model.
func (s *Session) LoadModel(ctx context.Context) (*embeddings.Model, error) {
	if m := s.model.Load(); m != nil {
		return m, nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if m := s.model.Load(); m != nil {
		return m, nil
	}
	if s.opts.Opener == nil {
		return nil, fmt.Errorf("%w: no encoder configured", embeddings.ErrModelUnavailable)
	}
	m, err := embeddings.Load(ctx, s.opts.Opener, s.opts.Variants)
	if err != nil {
		return nil, err
	}
	s.opts.Log.Info().Str("model", m.ModelID()).Int("dim", m.Dim()).Msg("model loaded")
	s.model.Store(m)
	return m, nil
}

// Model returns the loaded model or nil.
func (s *Session) Model() *embeddings.Model { return s.model.Load() }

// Gallery returns the current snapshot or nil before the first refresh.
func (s *Session) Gallery() *gallery.Gallery { return s.gallery.Load() }

// RefreshGallery rebuilds the snapshot from the gallery directory and
// publishes it. On error the previous snapshot stays in place.
func (s *Session) RefreshGallery(ctx context.Context, opts gallery.BuildOptions) (*gallery.Gallery, error) {
	m := s.model.Load()
	if m == nil {
		return nil, ErrModelNotLoaded
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	b := gallery.NewBuilder(m, s.store, s.opts.Search, s.opts.Log.With().Str("component", "gallery").Logger())
	g, err := b.BuildOrRefresh(ctx, s.opts.GalleryDir, opts)
	if err != nil {
		return nil, err
	}
	s.gallery.Store(g)
	return g, nil
}

// Analysis is the full outcome for one query image.
type Analysis struct {
	Predictions     classify.Predictions
	Dominant        imaging.RGB
	Neighbors       []gallery.Neighbor
	SearchAvailable bool
	Record          result.Record
}

// Analyze embeds img once, predicts every attribute, extracts the dominant
// colour and searches the current gallery. An unavailable gallery yields
// no neighbours and SearchAvailable=false rather than an error.
func (s *Session) Analyze(ctx context.Context, img image.Image, k int) (*Analysis, error) {
	m := s.model.Load()
	if m == nil {
		return nil, ErrModelNotLoaded
	}
	s.inferMu.Lock()
	defer s.inferMu.Unlock()
	start := time.Now()

	emb, err := m.EmbedImage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("embed query image: %w", err)
	}
	preds, err := classify.PredictAll(ctx, m, emb, classify.Attributes)
	if err != nil {
		return nil, err
	}
	dom, err := imaging.DominantColor(img, imaging.DefaultColorClusters)
	if err != nil {
		return nil, fmt.Errorf("dominant colour: %w", err)
	}

	a := &Analysis{Predictions: preds, Dominant: dom}
	nb, err := s.gallery.Load().Search(emb, k)
	switch {
	case err == nil:
		a.Neighbors = nb
		a.SearchAvailable = true
	case errors.Is(err, gallery.ErrSearchUnavailable):
		s.opts.Log.Debug().Msg("gallery search unavailable; returning no neighbours")
	default:
		return nil, fmt.Errorf("gallery search: %w", err)
	}
	a.Record = result.Assemble(preds, dom, a.Neighbors)

	metrics.RecordAnalyze(time.Since(start))
	return a, nil
}
