//go:build govips && cgo

package imaging

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/tslm9/logostamp/internal/assets"
	"github.com/tslm9/logostamp/internal/domain"
)

type govipsCompositor struct {
	store   assets.Store
	quality int
}

func (c govipsCompositor) Composite(ctx context.Context, base, logo assets.Handle) (assets.Handle, int, int, error) {
	select {
	case <-ctx.Done():
		return "", 0, 0, ctx.Err()
	default:
	}

	baseData, err := c.store.Read(ctx, base)
	if err != nil {
		return "", 0, 0, fmt.Errorf("base: %w", err)
	}
	baseImg, err := vips.NewImageFromBuffer(baseData)
	if err != nil {
		return "", 0, 0, fmt.Errorf("base: %w: %v", domain.ErrUnreadableImage, err)
	}
	defer baseImg.Close()

	logoData, err := c.store.Read(ctx, logo)
	if err != nil {
		return "", 0, 0, fmt.Errorf("logo: %w", err)
	}
	logoImg, err := vips.NewImageFromBuffer(logoData)
	if err != nil {
		return "", 0, 0, fmt.Errorf("logo: %w: %v", domain.ErrUnreadableImage, err)
	}
	defer logoImg.Close()

	layout := PlaceTopLeft(baseImg.Width(), logoImg.Width(), logoImg.Height())

	hscale := float64(layout.LogoWidth) / float64(logoImg.Width())
	vscale := float64(layout.LogoHeight) / float64(logoImg.Height())
	if err := logoImg.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return "", 0, 0, fmt.Errorf("resize logo: %w", err)
	}

	if err := baseImg.Composite(logoImg, vips.BlendModeOver, layout.OffsetX, layout.OffsetY); err != nil {
		return "", 0, 0, fmt.Errorf("composite logo: %w", err)
	}

	if err := baseImg.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
		return "", 0, 0, fmt.Errorf("flatten canvas: %w", err)
	}

	params := vips.NewJpegExportParams()
	params.Quality = c.quality
	data, _, err := baseImg.ExportJpeg(params)
	if err != nil {
		return "", 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}

	out := c.store.Allocate(".jpg")
	if err := c.store.Write(ctx, out, data); err != nil {
		return "", 0, 0, err
	}
	return out, baseImg.Width(), baseImg.Height(), nil
}
