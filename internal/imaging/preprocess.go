package imaging

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// DefaultInputSize is the square input resolution of the supported CLIP variants.
const DefaultInputSize = 224

// CLIP image normalisation constants.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Tensor is a CHW float32 image tensor.
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Shape returns [C, H, W].
func (t Tensor) Shape() []int {
	return []int{t.Channels, t.Height, t.Width}
}

// Preprocessor maps an arbitrary image to the model's fixed input tensor.
// The transform is deterministic: identical images yield identical tensors.
type Preprocessor struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

// NewCLIPPreprocessor returns the resize / center-crop / normalise pipeline used by CLIP models.
func NewCLIPPreprocessor(size int) Preprocessor {
	if size <= 0 {
		size = DefaultInputSize
	}
	return Preprocessor{Size: size, Mean: clipMean, Std: clipStd}
}

// Apply resizes the shorter side to Size (bicubic), center-crops Size x Size,
// scales to [0,1] and normalises each channel.
func (p Preprocessor) Apply(img image.Image) (Tensor, error) {
	if p.Size <= 0 {
		return Tensor{}, fmt.Errorf("invalid preprocess size %d", p.Size)
	}
	if img == nil {
		return Tensor{}, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Tensor{}, fmt.Errorf("empty image %dx%d", w, h)
	}

	nw, nh := resizeShorter(w, h, p.Size)
	resized := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), toNRGBA(img), b, draw.Src, nil)

	top := int(math.Round(float64(nh-p.Size) / 2))
	left := int(math.Round(float64(nw-p.Size) / 2))

	plane := p.Size * p.Size
	data := make([]float32, 3*plane)
	for y := 0; y < p.Size; y++ {
		row := (top+y)*resized.Stride + left*4
		for x := 0; x < p.Size; x++ {
			px := resized.Pix[row+x*4 : row+x*4+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				data[c*plane+y*p.Size+x] = (v - p.Mean[c]) / p.Std[c]
			}
		}
	}
	return Tensor{Channels: 3, Height: p.Size, Width: p.Size, Data: data}, nil
}

// resizeShorter scales (w, h) so the shorter side equals size, truncating the longer side.
func resizeShorter(w, h, size int) (int, int) {
	if w <= h {
		nh := int(float64(size) * float64(h) / float64(w))
		if nh < size {
			nh = size
		}
		return size, nh
	}
	nw := int(float64(size) * float64(w) / float64(h))
	if nw < size {
		nw = size
	}
	return nw, size
}

// toNRGBA converts img to non-premultiplied RGBA so alpha is dropped rather than
// multiplied into the colour channels.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
