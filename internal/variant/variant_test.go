package variant

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func opaqueImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

func transparentImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 128})
		}
	}
	return img
}

func TestRenderOpaqueProducesJPEG(t *testing.T) {
	spec := Spec{Name: "small", Width: 100, Height: 100, Quality: 75, TargetBytes: 50 * 1024}
	out, err := Render(opaqueImage(400, 200), spec, discardLogger())
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if out.Format != "jpg" {
		t.Fatalf("expected jpg for opaque source, got %s", out.Format)
	}
	if out.Width != 100 || out.Height != 50 {
		t.Fatalf("unexpected dimensions %dx%d, want 100x50", out.Width, out.Height)
	}
	if out.OverBudget {
		t.Fatal("tiny thumbnail flagged over budget")
	}
	if len(out.Data) == 0 {
		t.Fatal("no encoded bytes")
	}
}

func TestRenderTransparentProducesPNG(t *testing.T) {
	spec := Spec{Name: "small", Width: 64, Height: 64, Quality: 75}
	out, err := Render(transparentImage(128, 128), spec, discardLogger())
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if out.Format != "png" {
		t.Fatalf("expected png for transparent source, got %s", out.Format)
	}

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("output is not a decodable PNG: %v", err)
	}
	if !anyTransparentPixel(decoded) {
		t.Fatal("transparency was not preserved")
	}
}

func anyTransparentPixel(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}

func TestRenderTransparentUsesPalettePNG(t *testing.T) {
	spec := Spec{Name: "small", Width: 64, Height: 64, Quality: 75}
	out, err := Render(transparentImage(128, 128), spec, discardLogger())
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	p, ok := decoded.(*image.Paletted)
	if !ok {
		t.Fatalf("expected a paletted png, decoded %T", decoded)
	}
	if len(p.Palette) > 256 {
		t.Fatalf("palette has %d entries, want at most 256", len(p.Palette))
	}

	hasTransparentEntry := false
	for _, c := range p.Palette {
		if _, _, _, a := c.RGBA(); a < 0xffff {
			hasTransparentEntry = true
			break
		}
	}
	if !hasTransparentEntry {
		t.Fatal("palette holds no transparent entry")
	}
}

func TestRenderNeverUpscales(t *testing.T) {
	spec := Spec{Name: "large", Width: 1024, Height: 1024, Quality: 85}
	out, err := Render(opaqueImage(300, 200), spec, discardLogger())
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if out.Width > 300 || out.Height > 200 {
		t.Fatalf("thumbnail upscaled to %dx%d beyond 300x200 source", out.Width, out.Height)
	}
}

func TestRenderFlagsBudgetOverflowButStillEncodes(t *testing.T) {
	spec := Spec{Name: "small", Width: 200, Height: 200, Quality: 95, TargetBytes: 10}
	out, err := Render(opaqueImage(400, 400), spec, discardLogger())
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !out.OverBudget {
		t.Fatal("expected over-budget flag for a 10-byte budget")
	}
	if len(out.Data) == 0 {
		t.Fatal("over-budget output was dropped instead of stored")
	}
}

func TestSmallest(t *testing.T) {
	specs := []Spec{
		{Name: "medium", Width: 512, Height: 512},
		{Name: "small", Width: 256, Height: 256},
		{Name: "large", Width: 1024, Height: 1024},
	}
	s, err := Smallest(specs)
	if err != nil {
		t.Fatalf("Smallest returned error: %v", err)
	}
	if s.Name != "small" {
		t.Fatalf("expected small, got %s", s.Name)
	}

	if _, err := Smallest(nil); err == nil {
		t.Fatal("expected error for empty spec list")
	}
}

func TestByName(t *testing.T) {
	specs := []Spec{
		{Name: "small"},
		{Name: "medium"},
	}

	selected, err := ByName(specs, []string{"medium", "small"})
	if err != nil {
		t.Fatalf("ByName returned error: %v", err)
	}
	if len(selected) != 2 || selected[0].Name != "medium" || selected[1].Name != "small" {
		t.Fatalf("unexpected selection: %+v", selected)
	}

	if _, err := ByName(specs, []string{"huge"}); err == nil {
		t.Fatal("expected error for unknown variant name")
	}
}
