package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/facemotion/internal/detector"
	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/preprocess"
)

// Extraction holds everything derived from one image before scoring.
type Extraction struct {
	Canvas    *image.RGBA
	Placement preprocess.Placement
	Detection detector.Detection
	// Source are the detected landmarks mapped back to source pixel coordinates.
	Source     []geometry.Point
	Normalized geometry.NormalizedSet
	Distances  geometry.DistanceMatrix
}

// Extractor runs the geometric half of the pipeline: letterbox, landmark cascade,
// normalization and pairwise distances. It also feeds the offline corpus builder.
type Extractor struct {
	opts    preprocess.Options
	cascade *detector.Cascade
}

// NewExtractor validates the canvas options.
func NewExtractor(opts preprocess.Options, cascade *detector.Cascade) (*Extractor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if cascade == nil {
		return nil, errors.New("extractor needs a landmark cascade")
	}
	return &Extractor{opts: opts, cascade: cascade}, nil
}

// Cascade returns the landmark cascade.
func (e *Extractor) Cascade() *detector.Cascade { return e.cascade }

// Canvas letterboxes img with the configured options.
func (e *Extractor) Canvas(img image.Image) (*image.RGBA, preprocess.Placement, error) {
	return preprocess.Letterbox(img, e.opts)
}

// Extract letterboxes img and derives its landmark geometry. The returned extraction is
// filled as far as it got, so callers can tell which step failed.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (Extraction, error) {
	var ex Extraction
	canvas, placement, err := e.Canvas(img)
	if err != nil {
		return ex, err
	}
	ex.Canvas, ex.Placement = canvas, placement

	det, err := e.cascade.Detect(ctx, canvas)
	ex.Detection = det
	if err != nil {
		return ex, err
	}

	ex.Source = make([]geometry.Point, det.Landmarks.Len())
	for i := range ex.Source {
		ex.Source[i] = placement.ToSource(det.Landmarks.At(i))
	}
	ex.Normalized = geometry.Normalize(det.Landmarks)
	ex.Distances = geometry.Distances(ex.Normalized)
	return ex, nil
}

// ExtractDistances decodes the image at path and returns its normalized distance matrix.
func (e *Extractor) ExtractDistances(ctx context.Context, path string) (geometry.DistanceMatrix, error) {
	img, err := preprocess.DecodeFile(path)
	if err != nil {
		return geometry.DistanceMatrix{}, err
	}
	ex, err := e.Extract(ctx, img)
	if err != nil {
		return geometry.DistanceMatrix{}, fmt.Errorf("%s: %w", path, err)
	}
	return ex.Distances, nil
}
