// Package result shapes one analysis into the exported JSON record.
package result

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"

	"github.com/kamusis/shoesnap/internal/classify"
	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/imaging"
)

// DefaultFile is where the CLI writes the record unless told otherwise.
const DefaultFile = "shoesnap_result.json"

// Category is the only attribute exported with its confidence.
type Category struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Record is the exported analysis.
type Record struct {
	Category         Category           `json:"category"`
	Closure          string             `json:"closure"`
	Toe              string             `json:"toe"`
	Material         string             `json:"material"`
	ColorPred        string             `json:"color_pred"`
	DominantColorHex string             `json:"dominant_color_hex"`
	Neighbors        []gallery.Neighbor `json:"neighbors"`
}

// Assemble builds a record. Missing attributes come out as empty labels.
func Assemble(preds classify.Predictions, dominant imaging.RGB, neighbors []gallery.Neighbor) Record {
	cat := preds[classify.Category]
	if neighbors == nil {
		neighbors = []gallery.Neighbor{}
	}
	return Record{
		Category:         Category{Label: cat.Label, Confidence: Round(cat.Probability, 4)},
		Closure:          preds[classify.Closure].Label,
		Toe:              preds[classify.Toe].Label,
		Material:         preds[classify.Material].Label,
		ColorPred:        preds[classify.Color].Label,
		DominantColorHex: dominant.Hex(),
		Neighbors:        neighbors,
	}
}

// Round rounds x half away from zero to places decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// Write encodes rec as two-space indented JSON. Non-ASCII text is kept as is.
func Write(w io.Writer, rec Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("cannot encode result: %w", err)
	}
	return nil
}

// WriteFile writes rec to path, replacing any previous record.
func WriteFile(path string, rec Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := Write(f, rec); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
