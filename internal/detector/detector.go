// Package detector extracts facial landmarks from a canvas image through an ordered
// cascade of interchangeable backends.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/logging"
)

var (
	// ErrNoFaceDetected is returned when no backend produced a usable landmark set.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrBackendFailure is returned when every backend failed with an error.
	ErrBackendFailure = errors.New("all landmark backends failed")
	// ErrInvalidInput is returned for a nil image.
	ErrInvalidInput = errors.New("invalid detector input")
	// ErrLandmarkCount is returned when faces were found but none had the expected
	// number of landmarks.
	ErrLandmarkCount = errors.New("unexpected landmark count")
)

// Face is one detected face as reported by a backend, in canvas pixel coordinates.
type Face struct {
	Landmarks []geometry.Point `json:"landmarks"`
	Score     float64          `json:"score"`
}

// Detector is a single landmark backend.
type Detector interface {
	Name() string
	// Detect returns the faces found in img, best first. An empty slice means no face.
	Detect(ctx context.Context, img image.Image) ([]Face, error)
	Close() error
}

// FixedLandmarks is implemented by backends whose landmark layout has a known size.
type FixedLandmarks interface {
	Landmarks() int
}

// Attempt records what one backend did for one image.
type Attempt struct {
	Detector string `json:"detector"`
	Faces    int    `json:"faces"`
	Err      error  `json:"-"`
}

// Detection is the cascade outcome for one image.
type Detection struct {
	Landmarks geometry.LandmarkSet
	Detector  string
	Attempts  []Attempt
}

// Cascade tries its backends strictly in order and keeps the first usable face.
type Cascade struct {
	backends []Detector
	expected int
	logger   *zap.SugaredLogger
}

// NewCascade builds a cascade. expected is the landmark count every accepted face must
// have; 0 accepts any count.
func NewCascade(backends []Detector, expected int, logger *zap.SugaredLogger) (*Cascade, error) {
	if len(backends) == 0 {
		return nil, errors.New("cascade needs at least one backend")
	}
	if expected < 0 {
		return nil, fmt.Errorf("expected landmark count %d is negative", expected)
	}
	return &Cascade{backends: backends, expected: expected, logger: logging.OrNop(logger)}, nil
}

// Names returns the backend names in cascade order.
func (c *Cascade) Names() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Expected returns the configured landmark count (0 when unconstrained).
func (c *Cascade) Expected() int { return c.expected }

// CheckLandmarks verifies that every backend with a fixed layout reports n landmarks.
func (c *Cascade) CheckLandmarks(n int) error {
	var errs []error
	for _, b := range c.backends {
		f, ok := b.(FixedLandmarks)
		if !ok || f.Landmarks() == n {
			continue
		}
		errs = append(errs, fmt.Errorf("%w: %s reports %d landmarks, want %d", ErrLandmarkCount, b.Name(), f.Landmarks(), n))
	}
	return errors.Join(errs...)
}

// Detect runs the backends in order until one yields a well-formed landmark set.
func (c *Cascade) Detect(ctx context.Context, img image.Image) (Detection, error) {
	if img == nil {
		return Detection{}, ErrInvalidInput
	}

	var (
		attempts   []Attempt
		errs       []error
		mismatched []error
	)
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return Detection{Attempts: attempts}, err
		}

		faces, err := b.Detect(ctx, img)
		attempt := Attempt{Detector: b.Name(), Faces: len(faces), Err: err}
		attempts = append(attempts, attempt)

		if err != nil {
			if errors.Is(err, ErrNoFaceDetected) {
				c.logger.Debugw("backend found no face", "detector", b.Name())
				continue
			}
			c.logger.Warnw("landmark backend failed", "detector", b.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		if len(faces) == 0 {
			c.logger.Debugw("backend found no face", "detector", b.Name())
			continue
		}

		set, err := c.accept(faces[0])
		if err != nil {
			if errors.Is(err, ErrLandmarkCount) {
				c.logger.Warnw("landmark count mismatch", "detector", b.Name(), "error", err)
				mismatched = append(mismatched, fmt.Errorf("%s: %w", b.Name(), err))
				continue
			}
			c.logger.Debugw("discarding malformed landmarks", "detector", b.Name(), "error", err)
			continue
		}
		return Detection{Landmarks: set, Detector: b.Name(), Attempts: attempts}, nil
	}

	if len(errs) == len(c.backends) {
		return Detection{Attempts: attempts}, fmt.Errorf("%w: %w", ErrBackendFailure, errors.Join(errs...))
	}
	if len(mismatched) > 0 {
		return Detection{Attempts: attempts}, errors.Join(mismatched...)
	}
	return Detection{Attempts: attempts}, ErrNoFaceDetected
}

func (c *Cascade) accept(f Face) (geometry.LandmarkSet, error) {
	if c.expected > 0 && len(f.Landmarks) != c.expected {
		return geometry.LandmarkSet{}, fmt.Errorf("%w: got %d, want %d", ErrLandmarkCount, len(f.Landmarks), c.expected)
	}
	return geometry.NewLandmarkSet(f.Landmarks)
}

// Close closes every backend and joins their errors.
func (c *Cascade) Close() error {
	var errs []error
	for _, b := range c.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Spec describes one backend entry of a cascade definition such as
// "socket:/tmp/mesh.sock,http:http://localhost:8000,pigo".
type Spec struct {
	Kind   string
	Target string
}

// ParseSpecs splits a comma-separated cascade definition.
func ParseSpecs(def string) ([]Spec, error) {
	var specs []Spec
	for _, part := range strings.Split(def, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, target, _ := strings.Cut(part, ":")
		kind = strings.ToLower(strings.TrimSpace(kind))
		switch kind {
		case KindPigo, KindSocket, KindHTTP:
		default:
			return nil, fmt.Errorf("unknown detector backend %q", kind)
		}
		if kind != KindPigo && target == "" {
			return nil, fmt.Errorf("detector backend %q needs a target", kind)
		}
		specs = append(specs, Spec{Kind: kind, Target: strings.TrimSpace(target)})
	}
	if len(specs) == 0 {
		return nil, errors.New("no detector backends configured")
	}
	return specs, nil
}

// Backend kinds understood by ParseSpecs and Open.
const (
	KindPigo   = "pigo"
	KindSocket = "socket"
	KindHTTP   = "http"
)

// OpenOptions carries backend-specific settings for Open.
type OpenOptions struct {
	Pigo PigoOptions
}

// Open instantiates the backends described by specs. Already opened backends are closed
// when a later one fails.
func Open(specs []Spec, opts OpenOptions) ([]Detector, error) {
	var out []Detector
	for _, s := range specs {
		var (
			d   Detector
			err error
		)
		switch s.Kind {
		case KindPigo:
			po := opts.Pigo
			if s.Target != "" {
				po.CascadeDir = s.Target
			}
			d, err = NewPigo(po)
		case KindSocket:
			d = NewSocket(s.Target, 0)
		case KindHTTP:
			d = NewHTTP(s.Target)
		default:
			err = fmt.Errorf("unknown detector backend %q", s.Kind)
		}
		if err != nil {
			for _, o := range out {
				_ = o.Close()
			}
			return nil, fmt.Errorf("failed to open %s backend: %w", s.Kind, err)
		}
		out = append(out, d)
	}
	return out, nil
}
