// Package embedtest provides a deterministic in-process encoder for tests.
package embedtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/kamusis/shoesnap/internal/embeddings"
	"github.com/kamusis/shoesnap/internal/imaging"
)

// DefaultImageSize keeps test preprocessing cheap.
const DefaultImageSize = 16

// Encoder derives image embeddings from per-chunk tensor means and text
// embeddings from an FNV hash of each prompt.
type Encoder struct {
	Dim int

	mu       sync.Mutex
	imageErr error
	textErr  error

	imageCalls atomic.Int64
	textCalls  atomic.Int64
}

var _ embeddings.Encoder = (*Encoder)(nil)

// New returns an encoder producing dim-dimensional vectors.
func New(dim int) *Encoder {
	return &Encoder{Dim: dim}
}

// FailImages makes every subsequent EncodeImage return err (nil clears it).
func (e *Encoder) FailImages(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.imageErr = err
}

// FailText makes every subsequent EncodeText return err (nil clears it).
func (e *Encoder) FailText(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.textErr = err
}

// ImageCalls returns how many images were encoded.
func (e *Encoder) ImageCalls() int64 { return e.imageCalls.Load() }

// TextCalls returns how many text batches were encoded.
func (e *Encoder) TextCalls() int64 { return e.textCalls.Load() }

func (e *Encoder) EncodeImage(_ context.Context, t imaging.Tensor) ([]float32, error) {
	e.mu.Lock()
	err := e.imageErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.imageCalls.Add(1)

	out := make([]float32, e.Dim)
	chunk := len(t.Data) / e.Dim
	if chunk == 0 {
		return nil, fmt.Errorf("tensor too small for dim %d", e.Dim)
	}
	for i := 0; i < e.Dim; i++ {
		var sum float64
		for _, v := range t.Data[i*chunk : (i+1)*chunk] {
			sum += float64(v)
		}
		// Offset by the index so flat images still point in distinct directions.
		out[i] = float32(sum/float64(chunk)) + float32(i+1)*0.01
	}
	return out, nil
}

func (e *Encoder) EncodeText(_ context.Context, prompts []string) ([][]float32, error) {
	e.mu.Lock()
	err := e.textErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.textCalls.Add(1)

	out := make([][]float32, len(prompts))
	for i, p := range prompts {
		v := make([]float32, e.Dim)
		for j := range v {
			h := fnv.New64a()
			_, _ = fmt.Fprintf(h, "%d:%s", j, p)
			v[j] = float32(h.Sum64()%2001)/1000 - 1
		}
		out[i] = v
	}
	return out, nil
}

// Opener opens the embedtest encoder for every variant except those listed in Fail.
type Opener struct {
	Encoder *Encoder
	Fail    map[string]error
	Opened  []embeddings.Variant
}

// Open implements embeddings.Opener.
func (o *Opener) Open(_ context.Context, v embeddings.Variant) (embeddings.Encoder, embeddings.Spec, error) {
	o.Opened = append(o.Opened, v)
	if err, ok := o.Fail[v.ID()]; ok {
		return nil, embeddings.Spec{}, err
	}
	return o.Encoder, embeddings.Spec{Dim: o.Encoder.Dim, ImageSize: DefaultImageSize}, nil
}

// NewModel returns a model backed by a fresh encoder of the given dimension.
func NewModel(dim int) (*embeddings.Model, *Encoder) {
	enc := New(dim)
	m := embeddings.NewModel(embeddings.DefaultVariants[0], enc, embeddings.Spec{Dim: dim, ImageSize: DefaultImageSize})
	return m, enc
}
