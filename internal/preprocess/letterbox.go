// Package preprocess turns arbitrary input images into the fixed-size square canvas
// every landmark detector sees.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Default canvas geometry.
const (
	DefaultTargetSize = 640
	DefaultPadding    = 0.12
)

// ErrInvalidImage is returned for nil or zero-area images.
var ErrInvalidImage = errors.New("invalid image")

// Options configures the letterbox canvas.
type Options struct {
	// TargetSize is the edge of the square output canvas in pixels.
	TargetSize int
	// Padding is the fraction of TargetSize left as margin, split evenly on both sides.
	Padding float64
}

// DefaultOptions returns a 640px canvas with an 88% inner box.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, Padding: DefaultPadding}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.TargetSize < 32 {
		return fmt.Errorf("target size %d is below the 32px minimum", o.TargetSize)
	}
	if o.Padding < 0 || o.Padding > 0.9 {
		return fmt.Errorf("padding %v outside [0, 0.9]", o.Padding)
	}
	return nil
}

// InnerSize is the largest edge the scaled image may occupy.
func (o Options) InnerSize() float64 {
	return (1 - o.Padding) * float64(o.TargetSize)
}

// Letterbox scales img to fit inside the inner box preserving aspect ratio, centers it
// on a white TargetSize×TargetSize canvas and reports where it was placed. Small images
// are upscaled; nothing is cropped.
func Letterbox(img image.Image, opts Options) (*image.RGBA, Placement, error) {
	if err := opts.Validate(); err != nil {
		return nil, Placement{}, err
	}
	if img == nil {
		return nil, Placement{}, ErrInvalidImage
	}
	src := img.Bounds()
	if src.Dx() <= 0 || src.Dy() <= 0 {
		return nil, Placement{}, fmt.Errorf("%w: %dx%d", ErrInvalidImage, src.Dx(), src.Dy())
	}

	inner := opts.InnerSize()
	scale := min(inner/float64(src.Dx()), inner/float64(src.Dy()))
	w := max(1, int(float64(src.Dx())*scale+0.5))
	h := max(1, int(float64(src.Dy())*scale+0.5))
	offX := (opts.TargetSize - w) / 2
	offY := (opts.TargetSize - h) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, opts.TargetSize, opts.TargetSize))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	dst := image.Rect(offX, offY, offX+w, offY+h)
	draw.CatmullRom.Scale(canvas, dst, img, src, draw.Over, nil)

	return canvas, Placement{
		OffsetX: float64(offX),
		OffsetY: float64(offY),
		ScaleX:  float64(w) / float64(src.Dx()),
		ScaleY:  float64(h) / float64(src.Dy()),
		Origin:  src.Min,
	}, nil
}
