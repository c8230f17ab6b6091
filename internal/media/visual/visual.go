package visual

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ErrUnsupportedFormat reports image bytes that could not be measured.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Info is the measured size of an image.
type Info struct {
	Format string
	Width  int
	Height int
}

// RotationCenter returns half the width and height, truncated, which is the
// default pivot Scratch uses for a costume.
func (i Info) RotationCenter() (int, int) {
	return i.Width / 2, i.Height / 2
}

// IsVector reports whether ext names a vector format.
func IsVector(ext string) bool {
	return strings.EqualFold(ext, ".svg")
}

// Probe measures data. ext selects the SVG path; raster formats are sniffed.
func Probe(data []byte, ext string) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}
	if IsVector(ext) {
		return probeSVG(data)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: zero-sized image", ErrUnsupportedFormat)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func probeSVG(data []byte) (Info, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Info{}, fmt.Errorf("%w: no svg element", ErrUnsupportedFormat)
			}
			return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !strings.EqualFold(start.Name.Local, "svg") {
			return Info{}, fmt.Errorf("%w: root element %q", ErrUnsupportedFormat, start.Name.Local)
		}
		return svgSize(start)
	}
}

func svgSize(start xml.StartElement) (Info, error) {
	var width, height float64
	var viewBox string
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "width":
			width = parseLength(attr.Value)
		case "height":
			height = parseLength(attr.Value)
		case "viewBox":
			viewBox = attr.Value
		}
	}
	if (width <= 0 || height <= 0) && viewBox != "" {
		fields := strings.FieldsFunc(viewBox, func(r rune) bool { return r == ' ' || r == ',' })
		if len(fields) == 4 {
			width = parseLength(fields[2])
			height = parseLength(fields[3])
		}
	}
	if width <= 0 || height <= 0 {
		return Info{}, fmt.Errorf("%w: svg has no usable size", ErrUnsupportedFormat)
	}
	return Info{
		Format: "svg",
		Width:  int(math.Round(width)),
		Height: int(math.Round(height)),
	}, nil
}

// parseLength accepts plain numbers and px lengths; percentages and other
// units are treated as unknown.
func parseLength(value string) float64 {
	value = strings.TrimSpace(value)
	value = strings.TrimSuffix(value, "px")
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
