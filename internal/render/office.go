package render

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OfficeStrategy converts office documents to PDF with a headless
// LibreOffice run, then delegates the first-page rasterization to the PDF
// strategy, inheriting its timeout and fallback behavior for that hop.
type OfficeStrategy struct {
	runner  CommandRunner
	timeout time.Duration
	pdf     *PDFStrategy
	ext     string
}

var _ Strategy = (*OfficeStrategy)(nil)

func NewOfficeStrategy(runner CommandRunner, timeout time.Duration, pdf *PDFStrategy, ext string) *OfficeStrategy {
	if ext == "" {
		ext = ".doc"
	}
	return &OfficeStrategy{runner: runner, timeout: timeout, pdf: pdf, ext: ext}
}

func (o *OfficeStrategy) Rasterize(ctx context.Context, src []byte) (image.Image, error) {
	tmpDir, err := os.MkdirTemp("", "thumb-office-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	srcPath := filepath.Join(tmpDir, "source"+o.ext)
	if err := os.WriteFile(srcPath, src, 0o600); err != nil {
		return nil, fmt.Errorf("write source document: %w", err)
	}

	if _, err := o.runner.Run(ctx, o.timeout, "soffice",
		"--headless",
		"--convert-to", "pdf",
		"--outdir", tmpDir,
		srcPath,
	); err != nil {
		return nil, err
	}

	// soffice names its output after the input, extension swapped.
	pdfPath := strings.TrimSuffix(srcPath, o.ext) + ".pdf"
	pdfBytes, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: office converter produced no pdf: %v", ErrRenderFailure, err)
	}
	if len(pdfBytes) == 0 {
		return nil, fmt.Errorf("%w: office converter produced empty pdf", ErrRenderFailure)
	}

	return o.pdf.Rasterize(ctx, pdfBytes)
}

func (o *OfficeStrategy) Name() string { return "office" }
