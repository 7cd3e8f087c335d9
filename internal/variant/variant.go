// Package variant turns one base raster image into the fixed thumbnail
// size tiers.
package variant

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/png"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
)

// Spec describes one output size tier. TargetBytes is a soft budget: an
// encode that overflows it is flagged, still stored.
type Spec struct {
	Name        string
	Width       int
	Height      int
	Quality     int
	TargetBytes int64
}

// Output is one encoded thumbnail ready for upload.
type Output struct {
	Name           string
	Data           []byte
	Width          int
	Height         int
	Format         string // "jpg" or "png"
	OverBudget     bool
	GenerationTime time.Duration
}

// Render resizes base to fit within the spec's bounds (never upscaling) and
// encodes it. Transparent images are encoded as palette-optimized PNG to
// preserve the alpha channel; opaque images as JPEG at the tier's quality.
func Render(base image.Image, spec Spec, logger *slog.Logger) (Output, error) {
	start := time.Now()

	thumb := imaging.Fit(base, spec.Width, spec.Height, imaging.Lanczos)
	b := thumb.Bounds()

	var buf bytes.Buffer
	format := "jpg"
	if hasTransparency(base) {
		format = "png"
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, palettize(thumb)); err != nil {
			return Output{}, fmt.Errorf("encode png %s: %w", spec.Name, err)
		}
	} else {
		if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(spec.Quality)); err != nil {
			return Output{}, fmt.Errorf("encode jpeg %s: %w", spec.Name, err)
		}
	}

	out := Output{
		Name:           spec.Name,
		Data:           buf.Bytes(),
		Width:          b.Dx(),
		Height:         b.Dy(),
		Format:         format,
		GenerationTime: time.Since(start),
	}

	if spec.TargetBytes > 0 && int64(len(out.Data)) > spec.TargetBytes {
		out.OverBudget = true
		logger.Warn("thumbnail exceeds byte budget",
			"variant", spec.Name,
			"format", format,
			"size_bytes", len(out.Data),
			"target_bytes", spec.TargetBytes)
	}

	return out, nil
}

// palettize dithers onto an 8-bit palette with one transparent slot. A
// paletted PNG is a fraction of the size of the full-RGBA encode, which
// matters when the tier carries a byte budget.
func palettize(src image.Image) *image.Paletted {
	pal := make(color.Palette, 0, 256)
	pal = append(pal, color.Transparent)
	pal = append(pal, palette.Plan9[:255]...)

	dst := image.NewPaletted(src.Bounds(), pal)
	draw.FloydSteinberg.Draw(dst, src.Bounds(), src, src.Bounds().Min)
	return dst
}

// hasTransparency reports whether any pixel carries partial or full alpha.
// Images that implement Opaque (all stdlib formats do) answer cheaply.
func hasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}

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

// Smallest returns the spec with the smallest bounding box, the tier the
// inline fallback renders.
func Smallest(specs []Spec) (Spec, error) {
	if len(specs) == 0 {
		return Spec{}, fmt.Errorf("no variant specs configured")
	}
	min := specs[0]
	for _, s := range specs[1:] {
		if s.Width*s.Height < min.Width*min.Height {
			min = s
		}
	}
	return min, nil
}

// ByName selects the subset of specs matching the requested labels, in
// request order. Unknown labels are an error so a typo cannot silently
// drop a size.
func ByName(specs []Spec, names []string) ([]Spec, error) {
	var selected []Spec
	for _, name := range names {
		found := false
		for _, s := range specs {
			if s.Name == name {
				selected = append(selected, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown variant %q", name)
		}
	}
	return selected, nil
}
