package thumbnail_test

import (
	"bytes"
	"errors"
	"testing"

	"medialib/internal/media/visual"
	"medialib/internal/testsupport"
	"medialib/internal/thumbnail"
)

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{10, 10, 100, 10, 10},
		{480, 360, 100, 100, 75},
		{360, 480, 100, 75, 100},
		{1000, 5, 100, 100, 1},
		{200, 200, 100, 100, 100},
	}
	for _, tt := range tests {
		gotW, gotH := thumbnail.Fit(tt.w, tt.h, tt.max)
		if gotW != tt.wantW || gotH != tt.wantH {
			t.Fatalf("Fit(%d,%d,%d) = %d,%d want %d,%d", tt.w, tt.h, tt.max, gotW, gotH, tt.wantW, tt.wantH)
		}
	}
}

func TestGenerateBoundsLongerSide(t *testing.T) {
	gen := thumbnail.New(0)
	out, err := gen.Generate(testsupport.JPEGBytes(480, 360), ".jpg")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	info, err := visual.Probe(out, ".jpg")
	if err != nil {
		t.Fatal(err)
	}
	if info.Format != "jpeg" || info.Width != 100 || info.Height != 75 {
		t.Fatalf("unexpected thumbnail: %+v", info)
	}
}

func TestGenerateSmallImageKeepsSize(t *testing.T) {
	gen := thumbnail.New(100)
	out, err := gen.Generate(testsupport.PNGBytes(10, 10), ".png")
	if err != nil {
		t.Fatal(err)
	}
	info, err := visual.Probe(out, ".png")
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 10 || info.Height != 10 {
		t.Fatalf("unexpected size %dx%d", info.Width, info.Height)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	gen := thumbnail.New(50)
	src := testsupport.PNGBytes(300, 120)
	first, err := gen.Generate(src, ".png")
	if err != nil {
		t.Fatal(err)
	}
	second, err := gen.Generate(src, ".png")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected identical output for identical input")
	}
}

func TestGenerateSVGPassthrough(t *testing.T) {
	src := []byte(`<svg width="300" height="200"></svg>`)
	out, err := thumbnail.New(100).Generate(src, ".svg")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Fatalf("svg thumbnail altered: %q", out)
	}
}

func TestGenerateRejectsUndecodable(t *testing.T) {
	_, err := thumbnail.New(100).Generate([]byte("nope"), ".png")
	if !errors.Is(err, visual.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
