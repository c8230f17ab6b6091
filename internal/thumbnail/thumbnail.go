// Package thumbnail renders bounded previews of visual assets.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"medialib/internal/media/visual"
)

// DefaultMaxDimension bounds the longer side of library thumbnails.
const DefaultMaxDimension = 100

const jpegQuality = 90

// Generator produces thumbnails no larger than MaxDimension on either side.
type Generator struct {
	MaxDimension int
}

// New returns a generator bounded to maxDimension, or DefaultMaxDimension
// when maxDimension is not positive.
func New(maxDimension int) Generator {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return Generator{MaxDimension: maxDimension}
}

// Generate returns a preview of src encoded in the same format. Images that
// already fit are re-encoded unscaled. SVG documents are returned as-is since
// vector art scales without loss.
func (g Generator) Generate(src []byte, ext string) ([]byte, error) {
	if visual.IsVector(ext) {
		if _, err := visual.Probe(src, ext); err != nil {
			return nil, err
		}
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}

	img, format, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", visual.ErrUnsupportedFormat, err)
	}

	bounds := img.Bounds()
	w, h := Fit(bounds.Dx(), bounds.Dy(), g.max())
	if w <= 0 || h <= 0 {
		return nil, errors.New("thumbnail: zero-sized source image")
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	}

	var out bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&out, dst, &jpeg.Options{Quality: jpegQuality})
	case "gif":
		err = gif.Encode(&out, dst, nil)
	default:
		err = png.Encode(&out, dst)
	}
	if err != nil {
		return nil, fmt.Errorf("thumbnail: encode %s: %w", format, err)
	}
	return out.Bytes(), nil
}

func (g Generator) max() int {
	if g.MaxDimension <= 0 {
		return DefaultMaxDimension
	}
	return g.MaxDimension
}

// Fit scales (w, h) down so the longer side is at most max, preserving the
// aspect ratio. Sizes that already fit are returned unchanged and no side is
// reduced below one pixel.
func Fit(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}
