package classify_test

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/shoesnap/internal/classify"
	"github.com/kamusis/shoesnap/internal/embeddings/embedtest"
	"github.com/kamusis/shoesnap/internal/vector"
)

func shoeImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 40, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: 80, B: uint8(y * 9), A: 255})
		}
	}
	return img
}

// staticText returns fixed prompt embeddings regardless of the prompt text.
type staticText struct {
	vecs    []vector.Embedding
	prompts []string
}

func (s *staticText) EmbedText(_ context.Context, prompts []string) ([]vector.Embedding, error) {
	s.prompts = prompts
	return s.vecs, nil
}

func unit(t *testing.T, v ...float32) vector.Embedding {
	t.Helper()
	e, err := vector.Normalize(v)
	require.NoError(t, err)
	return e
}

func TestPrompt(t *testing.T) {
	assert.Equal(t, "a product photo of a sneaker shoe", classify.Prompt("a product photo of a", "sneaker"))
	assert.Equal(t, []string{"made of leather shoe", "made of mesh shoe"}, classify.Prompts("made of", []string{"leather", "mesh"}))
	// Decomposed e + combining acute is composed.
	assert.Equal(t, "a caf\u00e9 shoe", classify.Prompt("a", "cafe\u0301"))
}

func TestClassify_DistributionProperties(t *testing.T) {
	m, _ := embedtest.NewModel(8)
	labels := []string{"sneaker", "boot", "sandal", "loafer", "heel"}

	p, err := classify.Classify(context.Background(), m, shoeImage(), labels, "a product photo of a")
	require.NoError(t, err)
	require.Len(t, p.Distribution, len(labels))

	var sum float64
	for _, v := range p.Distribution {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	best := classify.Argmax(p.Distribution)
	assert.Equal(t, labels[best], p.Label)
	assert.Equal(t, p.Distribution[best], p.Probability)
}

func TestClassify_Deterministic(t *testing.T) {
	m, _ := embedtest.NewModel(8)
	labels := []string{"sneaker", "boot", "sandal"}
	img := shoeImage()

	first, err := classify.Classify(context.Background(), m, img, labels, "a product photo of a")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := classify.Classify(context.Background(), m, img, labels, "a product photo of a")
		require.NoError(t, err)
		require.Equal(t, len(first.Distribution), len(again.Distribution))
		for j := range first.Distribution {
			assert.Equal(t, math.Float64bits(first.Distribution[j]), math.Float64bits(again.Distribution[j]))
		}
		assert.Equal(t, first.Label, again.Label)
	}
}

func TestClassify_EmptyLabels(t *testing.T) {
	m, enc := embedtest.NewModel(4)
	_, err := classify.Classify(context.Background(), m, shoeImage(), nil, "a")
	assert.ErrorIs(t, err, vector.ErrInvalidInput)
	assert.Equal(t, int64(0), enc.ImageCalls())
}

func TestClassifyEmbedding_TemperatureSoftmax(t *testing.T) {
	img := unit(t, 1, 0)
	text := &staticText{vecs: []vector.Embedding{unit(t, 1, 0), unit(t, 0, 1)}}

	p, err := classify.ClassifyEmbedding(context.Background(), text, img, []string{"boot", "sandal"}, "a")
	require.NoError(t, err)

	// logits are 100 and 0.
	want := 1 / (1 + math.Exp(-100))
	assert.Equal(t, "boot", p.Label)
	assert.InDelta(t, want, p.Probability, 1e-12)
	assert.InDelta(t, 1-want, p.Distribution[1], 1e-12)
	assert.Equal(t, []string{"a boot shoe", "a sandal shoe"}, text.prompts)
}

func TestClassifyEmbedding_TieFirstWins(t *testing.T) {
	img := unit(t, 1, 0)
	same := unit(t, 1, 1)
	text := &staticText{vecs: []vector.Embedding{unit(t, 0, 1), same, same}}

	p, err := classify.ClassifyEmbedding(context.Background(), text, img, []string{"a", "b", "c"}, "x")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Label)
	assert.Equal(t, p.Distribution[1], p.Distribution[2])
}

func TestClassifyEmbedding_DimensionMismatch(t *testing.T) {
	text := &staticText{vecs: []vector.Embedding{unit(t, 1, 0, 0)}}
	_, err := classify.ClassifyEmbedding(context.Background(), text, unit(t, 1, 0), []string{"boot"}, "a")
	assert.ErrorIs(t, err, vector.ErrInvalidInput)
}

func TestSoftmax_Stable(t *testing.T) {
	out := classify.Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, out[0], 1e-12)
	assert.InDelta(t, 0.5, out[1], 1e-12)
	assert.Empty(t, classify.Softmax(nil))
}

func TestPredictAll(t *testing.T) {
	m, enc := embedtest.NewModel(8)
	emb, err := m.EmbedImage(context.Background(), shoeImage())
	require.NoError(t, err)

	preds, err := classify.PredictAll(context.Background(), m, emb, classify.Attributes)
	require.NoError(t, err)
	require.Len(t, preds, 5)
	for _, a := range classify.Attributes {
		p, ok := preds[a.Name]
		require.True(t, ok, a.Name)
		assert.Contains(t, a.Labels, p.Label)
		assert.Len(t, p.Distribution, len(a.Labels))
	}
	assert.Equal(t, int64(1), enc.ImageCalls())
	assert.Equal(t, int64(5), enc.TextCalls())
}
