// Package classify implements zero-shot attribute prediction by comparing an
// image embedding with embeddings of one text prompt per label.
package classify

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/text/unicode/norm"

	"github.com/kamusis/shoesnap/internal/vector"
)

// Temperature scales cosine similarities before the softmax.
const Temperature = 100.0

// TextEmbedder embeds a batch of prompts, preserving order.
type TextEmbedder interface {
	EmbedText(ctx context.Context, prompts []string) ([]vector.Embedding, error)
}

// Embedder embeds both images and text.
type Embedder interface {
	TextEmbedder
	EmbedImage(ctx context.Context, img image.Image) (vector.Embedding, error)
}

// Prediction is the outcome of classifying one image against one label set.
type Prediction struct {
	Label        string    `json:"label"`
	Probability  float64   `json:"probability"`
	Distribution []float64 `json:"distribution"`
}

// Prompt builds the text prompt for one label.
func Prompt(template, label string) string {
	return norm.NFC.String(template + " " + label + " shoe")
}

// Prompts builds one prompt per label, in label order.
func Prompts(template string, labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = Prompt(template, l)
	}
	return out
}

// Classify embeds img once and scores it against labels.
func Classify(ctx context.Context, m Embedder, img image.Image, labels []string, template string) (Prediction, error) {
	if len(labels) == 0 {
		return Prediction{}, fmt.Errorf("%w: empty label set", vector.ErrInvalidInput)
	}
	emb, err := m.EmbedImage(ctx, img)
	if err != nil {
		return Prediction{}, err
	}
	return ClassifyEmbedding(ctx, m, emb, labels, template)
}

// ClassifyEmbedding scores a precomputed image embedding against labels.
// All prompts are embedded in a single batch.
func ClassifyEmbedding(ctx context.Context, m TextEmbedder, img vector.Embedding, labels []string, template string) (Prediction, error) {
	if len(labels) == 0 {
		return Prediction{}, fmt.Errorf("%w: empty label set", vector.ErrInvalidInput)
	}
	text, err := m.EmbedText(ctx, Prompts(template, labels))
	if err != nil {
		return Prediction{}, err
	}
	if len(text) != len(labels) {
		return Prediction{}, fmt.Errorf("got %d prompt embeddings for %d labels", len(text), len(labels))
	}

	logits := make([]float64, len(labels))
	for i, t := range text {
		sim, err := vector.Dot(img, t)
		if err != nil {
			return Prediction{}, fmt.Errorf("label %q: %w", labels[i], err)
		}
		logits[i] = Temperature * sim
	}

	dist := Softmax(logits)
	best := Argmax(dist)
	return Prediction{
		Label:        labels[best],
		Probability:  dist[best],
		Distribution: dist,
	}, nil
}

// Softmax returns the normalised exponentials of logits, shifted by the max for stability.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, l)
	}
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value; the first index wins ties.
func Argmax(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}
