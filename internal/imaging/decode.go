// Package imaging decodes gallery and query images and turns them into the
// fixed-size tensors the encoder consumes.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Extensions lists the file extensions of the registered formats.
var Extensions = []string{".bmp", ".gif", ".jpeg", ".jpg", ".png", ".tif", ".tiff", ".webp"}

// HasImageExt reports whether name carries one of Extensions, ignoring case.
func HasImageExt(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// ErrDecode is returned when bytes cannot be decoded as a supported image.
var ErrDecode = errors.New("cannot decode image")

// Decode reads an image in any registered format (PNG, JPEG, GIF, BMP, TIFF, WebP).
func Decode(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	return img, nil
}

// DecodeBytes decodes an in-memory image.
func DecodeBytes(b []byte) (image.Image, error) {
	return Decode(bytes.NewReader(b))
}

// DecodeFile opens and decodes the image at path.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open image %s: %w", path, err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
