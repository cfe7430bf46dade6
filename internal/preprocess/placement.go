package preprocess

import (
	"image"

	"github.com/kozaktomas/facemotion/internal/geometry"
)

// Placement records where the source image landed on the canvas.
type Placement struct {
	OffsetX float64
	OffsetY float64
	ScaleX  float64
	ScaleY  float64
	// Origin is the source image's bounds minimum.
	Origin image.Point
}

// ToSource maps a canvas coordinate back to source pixel coordinates.
func (p Placement) ToSource(pt geometry.Point) geometry.Point {
	if p.ScaleX == 0 || p.ScaleY == 0 {
		return pt
	}
	return geometry.Point{
		X: (pt.X-p.OffsetX)/p.ScaleX + float64(p.Origin.X),
		Y: (pt.Y-p.OffsetY)/p.ScaleY + float64(p.Origin.Y),
	}
}

// ToCanvas maps a source pixel coordinate onto the canvas.
func (p Placement) ToCanvas(pt geometry.Point) geometry.Point {
	return geometry.Point{
		X: (pt.X-float64(p.Origin.X))*p.ScaleX + p.OffsetX,
		Y: (pt.Y-float64(p.Origin.Y))*p.ScaleY + p.OffsetY,
	}
}

