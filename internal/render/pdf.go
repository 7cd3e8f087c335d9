package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
)

// baseRasterSize is the bounding box the first page is rendered into.
// Large enough that the biggest variant never needs upscaling.
const baseRasterSize = 1024

// PDFStrategy rasterizes the first page of a PDF. pdftoppm is tried first;
// if it fails (malformed or encrypted input) mutool gets one attempt before
// the failure is surfaced. Both attempts share the same hard timeout.
type PDFStrategy struct {
	runner  CommandRunner
	timeout time.Duration
	dpi     int
}

var _ Strategy = (*PDFStrategy)(nil)

func NewPDFStrategy(runner CommandRunner, timeout time.Duration) *PDFStrategy {
	return &PDFStrategy{runner: runner, timeout: timeout, dpi: 150}
}

func (p *PDFStrategy) Rasterize(ctx context.Context, src []byte) (image.Image, error) {
	tmpDir, err := os.MkdirTemp("", "thumb-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	// Cleanup runs on every exit path to bound disk usage under load.
	defer os.RemoveAll(tmpDir)

	srcPath := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(srcPath, src, 0o600); err != nil {
		return nil, fmt.Errorf("write source pdf: %w", err)
	}

	outPath := filepath.Join(tmpDir, "page.png")

	primaryErr := p.runPdftoppm(ctx, srcPath, outPath)
	if primaryErr != nil {
		// A timeout killed the process; the fallback tool would face the
		// same input under the same bound, so don't retry within this call.
		if errors.Is(primaryErr, ErrRenderTimeout) {
			return nil, primaryErr
		}
		if fallbackErr := p.runMutool(ctx, srcPath, outPath); fallbackErr != nil {
			return nil, fmt.Errorf("pdftoppm: %v; mutool: %w", primaryErr, fallbackErr)
		}
	}

	return decodeRasterOutput(outPath)
}

func (p *PDFStrategy) runPdftoppm(ctx context.Context, srcPath, outPath string) error {
	// pdftoppm writes <base>.png itself.
	outBase := outPath[:len(outPath)-len(filepath.Ext(outPath))]
	_, err := p.runner.Run(ctx, p.timeout, "pdftoppm",
		"-png",
		"-singlefile",
		"-f", "1",
		"-l", "1",
		"-r", strconv.Itoa(p.dpi),
		"-scale-to", strconv.Itoa(baseRasterSize),
		srcPath,
		outBase,
	)
	return err
}

func (p *PDFStrategy) runMutool(ctx context.Context, srcPath, outPath string) error {
	_, err := p.runner.Run(ctx, p.timeout, "mutool",
		"draw",
		"-F", "png",
		"-o", outPath,
		"-r", strconv.Itoa(p.dpi),
		srcPath,
		"1",
	)
	return err
}

func (p *PDFStrategy) Name() string { return "pdf" }

// decodeRasterOutput loads a converter's output file, treating a missing or
// zero-byte file as a render failure.
func decodeRasterOutput(path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: converter produced no output: %v", ErrRenderFailure, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: converter produced empty output", ErrRenderFailure)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: decode converter output: %v", ErrRenderFailure, err)
	}
	return img, nil
}
