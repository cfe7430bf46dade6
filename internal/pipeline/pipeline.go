// Package pipeline drives one image through letterboxing, landmark extraction, geometry
// normalization and scoring, and runs batches of images concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/facemotion/internal/classifier"
	"github.com/kozaktomas/facemotion/internal/corpus"
	"github.com/kozaktomas/facemotion/internal/detector"
	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/logging"
	"github.com/kozaktomas/facemotion/internal/preprocess"
	"github.com/kozaktomas/facemotion/internal/prior"
)

// Outcome is the record of one image. A missing face is an outcome, not an error.
type Outcome struct {
	Path       string             `json:"path,omitempty"`
	Stage      Stage              `json:"stage"`
	Detector   string             `json:"detector,omitempty"`
	Landmarks  []geometry.Point   `json:"landmarks,omitempty"`
	Normalized []geometry.Point   `json:"normalized,omitempty"`
	Result     *classifier.Result `json:"result,omitempty"`
	Prior      string             `json:"prior,omitempty"`
	Duration   time.Duration      `json:"duration_ns"`
	Err        error              `json:"-"`
}

// Options wires the run-scoped components into a Pipeline.
type Options struct {
	Preprocess preprocess.Options
	Cascade    *detector.Cascade
	Scorer     *classifier.Scorer
	// Prior is optional; nil disables the auxiliary prior.
	Prior  prior.Provider
	Logger *zap.SugaredLogger
}

// Pipeline classifies images against one corpus. It is safe for concurrent use.
type Pipeline struct {
	extractor *Extractor
	scorer    *classifier.Scorer
	prior     prior.Provider
	logger    *zap.SugaredLogger
}

// New checks that the cascade and the scorer agree on the landmark count.
func New(opts Options) (*Pipeline, error) {
	if opts.Scorer == nil {
		return nil, errors.New("pipeline needs a scorer")
	}
	ex, err := NewExtractor(opts.Preprocess, opts.Cascade)
	if err != nil {
		return nil, err
	}
	if n := opts.Cascade.Expected(); n != 0 && n != opts.Scorer.N() {
		return nil, fmt.Errorf("%w: detectors configured for %d landmarks, corpus has %d",
			corpus.ErrDimensionMismatch, n, opts.Scorer.N())
	}
	if err := opts.Cascade.CheckLandmarks(opts.Scorer.N()); err != nil {
		return nil, fmt.Errorf("%w: %w", corpus.ErrDimensionMismatch, err)
	}
	return &Pipeline{extractor: ex, scorer: opts.Scorer, prior: opts.Prior, logger: logging.OrNop(opts.Logger)}, nil
}

// Extractor returns the geometric half of the pipeline.
func (p *Pipeline) Extractor() *Extractor { return p.extractor }

// ClassifyImage runs one decoded image through the pipeline.
func (p *Pipeline) ClassifyImage(ctx context.Context, img image.Image) (Outcome, error) {
	start := time.Now()
	out := Outcome{Stage: AwaitingLandmarks}

	ex, err := p.extractor.Extract(ctx, img)
	out.Detector = ex.Detection.Detector
	if err != nil {
		if errors.Is(err, detector.ErrNoFaceDetected) {
			out.Stage = NoFaceDetected
			p.logger.Debugw("no face detected", "attempts", len(ex.Detection.Attempts))
			return p.finish(out, start), nil
		}
		if errors.Is(err, detector.ErrLandmarkCount) {
			err = fmt.Errorf("%w: %w", corpus.ErrDimensionMismatch, err)
		}
		return p.fail(out, start, err)
	}
	out.Stage = LandmarksExtracted
	out.Landmarks = ex.Source

	out.Normalized = ex.Normalized.Points()
	out.Stage = GeometryNormalized

	dist := p.auxiliaryPrior(ctx, ex.Canvas)
	if err := ctx.Err(); err != nil {
		return p.fail(out, start, err)
	}
	if dist != nil {
		out.Prior = p.prior.Name()
	}

	res, err := p.scorer.Score(ex.Distances, dist)
	if err != nil {
		return p.fail(out, start, err)
	}
	out.Result = &res
	out.Stage = Scored

	if res.Overridden() {
		out.Stage = Overridden
	} else {
		out.Stage = Final
	}
	p.logger.Debugw("image classified",
		"label", res.Label,
		"strength", res.Strength,
		"detector", out.Detector,
		"stage", out.Stage,
	)
	return p.finish(out, start), nil
}

// ClassifyFile decodes the image at path and classifies it.
func (p *Pipeline) ClassifyFile(ctx context.Context, path string) (Outcome, error) {
	start := time.Now()
	img, err := preprocess.DecodeFile(path)
	if err != nil {
		return p.fail(Outcome{Path: path, Stage: AwaitingLandmarks}, start, err)
	}
	out, err := p.ClassifyImage(ctx, img)
	out.Path = path
	if err != nil {
		err = fmt.Errorf("%s: %w", path, err)
		out.Err = err
	}
	return out, err
}

// auxiliaryPrior asks the provider for a class distribution. Any failure degrades to no
// prior; the error is only logged.
func (p *Pipeline) auxiliaryPrior(ctx context.Context, canvas image.Image) *prior.Distribution {
	if p.prior == nil {
		return nil
	}
	jpeg, err := preprocess.EncodeJPEG(canvas, prior.MaxImageSize)
	if err != nil {
		p.logger.Warnw("auxiliary prior unavailable", "provider", p.prior.Name(), "error", err)
		return nil
	}
	raw, err := p.prior.Predict(ctx, jpeg)
	if err != nil {
		p.logger.Warnw("auxiliary prior unavailable", "provider", p.prior.Name(), "error", err)
		return nil
	}
	dist, err := p.scorer.Prior(raw)
	if err != nil {
		p.logger.Warnw("auxiliary prior unavailable", "provider", p.prior.Name(), "error", err)
		return nil
	}
	return dist
}

func (p *Pipeline) fail(out Outcome, start time.Time, err error) (Outcome, error) {
	out.Err = err
	return p.finish(out, start), err
}

func (p *Pipeline) finish(out Outcome, start time.Time) Outcome {
	out.Duration = time.Since(start)
	return out
}
