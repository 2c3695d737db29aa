// Package imaging converts heterogeneous chat inputs into canonical RGBA
// rasters and composites a logo onto base images at a fixed corner position.
package imaging

const (
	// Logo is scaled to this fraction of the base image width.
	logoWidthRatio = 0.12

	// Top-left inset is this fraction of the base width, floored at
	// minPaddingPX pixels.
	paddingRatio = 0.03
	minPaddingPX = 15
)

// Layout is the deterministic placement of a logo on a base image.
type Layout struct {
	LogoWidth  int
	LogoHeight int
	OffsetX    int
	OffsetY    int
}

// PlaceTopLeft computes the logo size and top-left inset for a base image of
// the given width. Both source logo dimensions must be positive.
func PlaceTopLeft(baseWidth, logoWidth, logoHeight int) Layout {
	targetW := int(float64(baseWidth) * logoWidthRatio)
	if targetW < 1 {
		targetW = 1
	}

	ratio := float64(targetW) / float64(logoWidth)
	targetH := int(float64(logoHeight) * ratio)
	if targetH < 1 {
		targetH = 1
	}

	pad := int(float64(baseWidth) * paddingRatio)
	if pad < minPaddingPX {
		pad = minPaddingPX
	}

	return Layout{
		LogoWidth:  targetW,
		LogoHeight: targetH,
		OffsetX:    pad,
		OffsetY:    pad,
	}
}
