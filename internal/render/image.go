package render

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageStrategy handles sources that are already raster images: decode to
// validate the format and hand the pixels straight to the variant
// generator.
type ImageStrategy struct{}

var _ Strategy = ImageStrategy{}

func (ImageStrategy) Rasterize(ctx context.Context, src []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrRenderFailure, err)
	}
	return img, nil
}

func (ImageStrategy) Name() string { return "image" }
