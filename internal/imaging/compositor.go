package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/tslm9/logostamp/internal/assets"
	"github.com/tslm9/logostamp/internal/domain"
)

// DefaultJPEGQuality matches the original bot's export setting.
const DefaultJPEGQuality = 92

// Compositor pastes a logo onto a base image and emits a flattened JPEG
// asset. Implementations must reproduce the PlaceTopLeft geometry exactly.
type Compositor interface {
	Composite(ctx context.Context, base, logo assets.Handle) (out assets.Handle, width, height int, err error)
}

// NewCompositor returns the compositor for the active build: libvips when
// compiled with the govips tag, the stdlib/x-image implementation otherwise.
func NewCompositor(store assets.Store, quality int) Compositor {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return newCompositor(store, quality)
}

type stdCompositor struct {
	store   assets.Store
	quality int
}

func (c stdCompositor) Composite(ctx context.Context, base, logo assets.Handle) (assets.Handle, int, int, error) {
	select {
	case <-ctx.Done():
		return "", 0, 0, ctx.Err()
	default:
	}

	baseImg, err := c.readRaster(ctx, base)
	if err != nil {
		return "", 0, 0, fmt.Errorf("base: %w", err)
	}
	logoImg, err := c.readRaster(ctx, logo)
	if err != nil {
		return "", 0, 0, fmt.Errorf("logo: %w", err)
	}

	canvas := composeTopLeft(baseImg, logoImg)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: c.quality}); err != nil {
		return "", 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}

	out := c.store.Allocate(".jpg")
	if err := c.store.Write(ctx, out, buf.Bytes()); err != nil {
		return "", 0, 0, err
	}

	bounds := canvas.Bounds()
	return out, bounds.Dx(), bounds.Dy(), nil
}

func (c stdCompositor) readRaster(ctx context.Context, h assets.Handle) (*image.NRGBA, error) {
	data, err := c.store.Read(ctx, h)
	if err != nil {
		return nil, err
	}
	img, err := decodeNRGBA(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnreadableImage, err)
	}
	return img, nil
}

// composeTopLeft scales the logo per PlaceTopLeft and pastes it onto a copy
// of the base using the logo's own alpha channel as the mask. Pixels outside
// the placement rectangle are untouched base pixels.
func composeTopLeft(base, logo *image.NRGBA) *image.NRGBA {
	baseW := base.Bounds().Dx()
	baseH := base.Bounds().Dy()
	layout := PlaceTopLeft(baseW, logo.Bounds().Dx(), logo.Bounds().Dy())

	resized := logo
	if logo.Bounds().Dx() != layout.LogoWidth || logo.Bounds().Dy() != layout.LogoHeight {
		resized = image.NewNRGBA(image.Rect(0, 0, layout.LogoWidth, layout.LogoHeight))
		xdraw.CatmullRom.Scale(resized, resized.Bounds(), logo, logo.Bounds(), xdraw.Src, nil)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, baseW, baseH))
	draw.Draw(canvas, canvas.Bounds(), base, base.Bounds().Min, draw.Src)

	target := image.Rect(
		layout.OffsetX,
		layout.OffsetY,
		layout.OffsetX+layout.LogoWidth,
		layout.OffsetY+layout.LogoHeight,
	)
	draw.Draw(canvas, target, resized, resized.Bounds().Min, draw.Over)

	return canvas
}

// decodeNRGBA decodes any registered raster format into non-premultiplied
// RGBA with a zero-origin bounds rectangle.
func decodeNRGBA(data []byte) (*image.NRGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if nrgba, ok := src.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba, nil
	}

	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst, nil
}
