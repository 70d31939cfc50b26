package classify

import (
	"context"
	"fmt"

	"github.com/kamusis/shoesnap/internal/vector"
)

// Attribute is one predicted shoe property: a closed label set plus the prompt template.
type Attribute struct {
	Name     string
	Labels   []string
	Template string
}

// Attribute names.
const (
	Category = "category"
	Closure  = "closure"
	Toe      = "toe"
	Material = "material"
	Color    = "color"
)

// Attributes is the fixed set of attributes predicted for every query image.
var Attributes = []Attribute{
	{Name: Category, Labels: []string{"sneaker", "boot", "sandal", "loafer", "heel"}, Template: "a product photo of a"},
	{Name: Closure, Labels: []string{"lace-up", "slip-on", "zip", "buckle", "velcro"}, Template: "a"},
	{Name: Toe, Labels: []string{"round toe", "pointed toe", "square toe", "open toe"}, Template: "a"},
	{Name: Material, Labels: []string{"leather", "suede", "textile", "mesh", "synthetic"}, Template: "made of"},
	{Name: Color, Labels: []string{"black", "white", "brown", "beige", "blue", "red", "green", "grey"}, Template: "a"},
}

// Predictions maps attribute name to its prediction.
type Predictions map[string]Prediction

// PredictAll classifies one image embedding against every attribute in attrs.
func PredictAll(ctx context.Context, m TextEmbedder, img vector.Embedding, attrs []Attribute) (Predictions, error) {
	out := make(Predictions, len(attrs))
	for _, a := range attrs {
		p, err := ClassifyEmbedding(ctx, m, img, a.Labels, a.Template)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", a.Name, err)
		}
		out[a.Name] = p
	}
	return out, nil
}
