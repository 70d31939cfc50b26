// Package embeddings wraps a frozen dual image/text encoder and guarantees that
// every embedding it hands out is unit-normalised.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/kamusis/shoesnap/internal/imaging"
	"github.com/kamusis/shoesnap/internal/vector"
)

// ErrModelUnavailable is matched by the error Load returns when no variant could be opened.
var ErrModelUnavailable = errors.New("model unavailable")

// Variant identifies one pretrained weight configuration of an encoder architecture.
type Variant struct {
	Arch       string `yaml:"arch" json:"arch" validate:"required"`
	Pretrained string `yaml:"pretrained" json:"pretrained" validate:"required"`
}

// ID returns "arch/pretrained".
func (v Variant) ID() string {
	return v.Arch + "/" + v.Pretrained
}

var unsafeSlugChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Slug returns a filesystem-safe form of ID, used to namespace cache artifacts per model.
func (v Variant) Slug() string {
	return unsafeSlugChars.ReplaceAllString(v.Arch, "_") + "__" + unsafeSlugChars.ReplaceAllString(v.Pretrained, "_")
}

// DefaultVariants is the fallback order tried by Load when nothing is configured.
var DefaultVariants = []Variant{
	{Arch: "RN50", Pretrained: "laion400m_e32"},
	{Arch: "RN50", Pretrained: "yfcc15m"},
	{Arch: "ViT-B-32", Pretrained: "laion2b_s34b_b79k"},
}

// Encoder produces raw, not necessarily normalised, embeddings.
//
// Implementations must be deterministic for the same input and weights.
type Encoder interface {
	EncodeImage(ctx context.Context, t imaging.Tensor) ([]float32, error)
	EncodeText(ctx context.Context, prompts []string) ([][]float32, error)
}

// Spec describes the opened encoder. Zero values mean "unknown".
type Spec struct {
	Dim       int
	ImageSize int
}

// Opener opens the encoder for one variant.
type Opener interface {
	Open(ctx context.Context, v Variant) (Encoder, Spec, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, v Variant) (Encoder, Spec, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, v Variant) (Encoder, Spec, error) {
	return f(ctx, v)
}

// Attempt records one failed variant during Load.
type Attempt struct {
	Variant Variant
	Err     error
}

// ModelUnavailableError is returned by Load when every variant failed.
type ModelUnavailableError struct {
	Attempts []Attempt
}

func (e *ModelUnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return "could not load any model: no variants configured"
	}
	tried := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		tried = append(tried, a.Variant.ID())
	}
	return fmt.Sprintf("could not load any model (tried %s): %v", strings.Join(tried, ", "), e.Last())
}

// Last returns the error of the final attempt.
func (e *ModelUnavailableError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Unwrap exposes ErrModelUnavailable and every attempt's cause to errors.Is / errors.As.
func (e *ModelUnavailableError) Unwrap() []error {
	out := []error{ErrModelUnavailable}
	for _, a := range e.Attempts {
		out = append(out, a.Err)
	}
	return out
}

// Load tries variants in order and returns the first model that opens.
// It never retries a variant; when all fail the attempts are aggregated into a
// *ModelUnavailableError.
func Load(ctx context.Context, opener Opener, variants []Variant) (*Model, error) {
	if opener == nil {
		return nil, fmt.Errorf("%w: no encoder backend", ErrModelUnavailable)
	}
	var attempts []Attempt
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		enc, spec, err := opener.Open(ctx, v)
		if err != nil {
			attempts = append(attempts, Attempt{Variant: v, Err: err})
			continue
		}
		return NewModel(v, enc, spec), nil
	}
	return nil, &ModelUnavailableError{Attempts: attempts}
}

// Model is a loaded encoder plus the preprocessing transform tied to it.
// It is read-only after construction and safe to share.
type Model struct {
	variant Variant
	enc     Encoder
	pre     imaging.Preprocessor
	dim     int
}

// NewModel binds an opened encoder to its variant.
func NewModel(v Variant, enc Encoder, spec Spec) *Model {
	return &Model{
		variant: v,
		enc:     enc,
		pre:     imaging.NewCLIPPreprocessor(spec.ImageSize),
		dim:     spec.Dim,
	}
}

// Variant returns the loaded weight configuration.
func (m *Model) Variant() Variant { return m.variant }

// ModelID returns the variant ID.
func (m *Model) ModelID() string { return m.variant.ID() }

// Dim returns the advertised embedding dimension, or 0 when the backend did not report one.
func (m *Model) Dim() int { return m.dim }

// Preprocessor returns the image transform used before encoding.
func (m *Model) Preprocessor() imaging.Preprocessor { return m.pre }

// EmbedImage preprocesses img and returns its unit-normalised embedding.
func (m *Model) EmbedImage(ctx context.Context, img image.Image) (vector.Embedding, error) {
	t, err := m.pre.Apply(img)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	raw, err := m.enc.EncodeImage(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return m.finish(raw)
}

// EmbedText embeds prompts in one batch. Output order matches input order.
func (m *Model) EmbedText(ctx context.Context, prompts []string) ([]vector.Embedding, error) {
	if len(prompts) == 0 {
		return []vector.Embedding{}, nil
	}
	raw, err := m.enc.EncodeText(ctx, prompts)
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	if len(raw) != len(prompts) {
		return nil, fmt.Errorf("encode text: got %d embeddings for %d prompts", len(raw), len(prompts))
	}
	out := make([]vector.Embedding, len(raw))
	for i, r := range raw {
		e, err := m.finish(r)
		if err != nil {
			return nil, fmt.Errorf("prompt %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

func (m *Model) finish(raw []float32) (vector.Embedding, error) {
	if m.dim > 0 && len(raw) != m.dim {
		return nil, fmt.Errorf("embedding dim mismatch: got %d want %d", len(raw), m.dim)
	}
	return vector.Normalize(raw)
}
