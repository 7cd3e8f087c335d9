// Package render produces a base raster image from arbitrary source bytes,
// dispatching per MIME type to an image decoder or external converters.
package render

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"
)

// Kind identifies the closed set of rendering strategies. The kind is
// resolved once at job start, not re-examined per call.
type Kind int

const (
	KindImage Kind = iota
	KindPDF
	KindOffice
)

// officeExtensions maps supported office MIME types to the file extension
// the converter expects on its input.
var officeExtensions = map[string]string{
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.oasis.opendocument.text":                                 ".odt",
	"application/rtf":               ".rtf",
	"application/vnd.ms-excel":      ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
	"application/vnd.ms-powerpoint": ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
}

// KindFor resolves the strategy kind for a MIME type, or ErrUnsupportedType.
func KindFor(mimeType string) (Kind, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage, nil
	case mimeType == "application/pdf":
		return KindPDF, nil
	default:
		if _, ok := officeExtensions[mimeType]; ok {
			return KindOffice, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}

// Strategy turns source document bytes into one base raster image.
type Strategy interface {
	Rasterize(ctx context.Context, src []byte) (image.Image, error)
	Name() string
}

// Timeouts bound each strategy's external work. Images decode in-process
// and are cheapest; office conversion is a two-hop pipeline and slowest.
type Timeouts struct {
	PDF    time.Duration
	Office time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		PDF:    20 * time.Second,
		Office: 45 * time.Second,
	}
}

// ForKind builds the strategy for a resolved kind.
func ForKind(kind Kind, mimeType string, runner CommandRunner, timeouts Timeouts) Strategy {
	switch kind {
	case KindPDF:
		return NewPDFStrategy(runner, timeouts.PDF)
	case KindOffice:
		return NewOfficeStrategy(runner, timeouts.Office, NewPDFStrategy(runner, timeouts.PDF), officeExtensions[strings.ToLower(mimeType)])
	default:
		return ImageStrategy{}
	}
}
