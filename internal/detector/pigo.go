package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	pigo "github.com/esimov/pigo/core"

	"github.com/kozaktomas/facemotion/internal/geometry"
)

// PigoLandmarks is the number of points the pigo backend reports per face:
// two pupils, ten eye points, five mouth points.
const PigoLandmarks = 17

var (
	pigoEyeCascades   = []string{"lp46", "lp44", "lp42", "lp38", "lp312"}
	pigoMouthCascades = []string{"lp93", "lp84", "lp82", "lp81"}
)

// PigoOptions configures the in-process pigo backend.
type PigoOptions struct {
	// CascadeDir holds facefinder, puploc and the lps/ landmark cascades.
	CascadeDir   string
	MinSize      int
	MaxSize      int
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	MinQuality   float32
	Perturbs     int
}

// DefaultPigoOptions mirrors the settings of the pigo command line tool.
func DefaultPigoOptions() PigoOptions {
	return PigoOptions{
		MinSize:      60,
		MaxSize:      1000,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		MinQuality:   5.0,
		Perturbs:     63,
	}
}

// Pigo detects faces and a fixed 17-point landmark layout with the pure Go pigo cascades.
type Pigo struct {
	opts   PigoOptions
	face   *pigo.Pigo
	puploc *pigo.PuplocCascade
	flpcs  map[string][]*pigo.FlpCascade
}

// NewPigo loads the cascade files from opts.CascadeDir.
func NewPigo(opts PigoOptions) (*Pigo, error) {
	if opts.CascadeDir == "" {
		return nil, errors.New("pigo cascade directory is not set")
	}
	def := DefaultPigoOptions()
	if opts.MinSize <= 0 {
		opts.MinSize = def.MinSize
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = def.MaxSize
	}
	if opts.ShiftFactor <= 0 {
		opts.ShiftFactor = def.ShiftFactor
	}
	if opts.ScaleFactor <= 1 {
		opts.ScaleFactor = def.ScaleFactor
	}
	if opts.IoUThreshold <= 0 {
		opts.IoUThreshold = def.IoUThreshold
	}
	if opts.Perturbs <= 0 {
		opts.Perturbs = def.Perturbs
	}

	faceData, err := os.ReadFile(filepath.Join(opts.CascadeDir, "facefinder"))
	if err != nil {
		return nil, fmt.Errorf("failed to read face cascade: %w", err)
	}
	face, err := pigo.NewPigo().Unpack(faceData)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack face cascade: %w", err)
	}

	puplocData, err := os.ReadFile(filepath.Join(opts.CascadeDir, "puploc"))
	if err != nil {
		return nil, fmt.Errorf("failed to read pupil cascade: %w", err)
	}
	plc := pigo.NewPuplocCascade()
	puploc, err := plc.UnpackCascade(puplocData)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack pupil cascade: %w", err)
	}

	flpcs, err := plc.ReadCascadeDir(filepath.Join(opts.CascadeDir, "lps"))
	if err != nil {
		return nil, fmt.Errorf("failed to read landmark cascades: %w", err)
	}
	for _, name := range append(append([]string{}, pigoEyeCascades...), pigoMouthCascades...) {
		if len(flpcs[name]) == 0 {
			return nil, fmt.Errorf("landmark cascade %s is missing", name)
		}
	}

	return &Pigo{opts: opts, face: face, puploc: puploc, flpcs: flpcs}, nil
}

// Name implements Detector.
func (p *Pigo) Name() string { return KindPigo }

// Close implements Detector.
func (p *Pigo) Close() error { return nil }

// Landmarks implements FixedLandmarks.
func (p *Pigo) Landmarks() int { return PigoLandmarks }

var _ FixedLandmarks = (*Pigo)(nil)

// Detect implements Detector. Faces missing any of the 17 points are skipped.
func (p *Pigo) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if img == nil {
		return nil, ErrInvalidInput
	}
	bounds := img.Bounds()
	params := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(img),
		Rows:   bounds.Dy(),
		Cols:   bounds.Dx(),
		Dim:    bounds.Dx(),
	}

	dets := p.face.RunCascade(pigo.CascadeParams{
		MinSize:     p.opts.MinSize,
		MaxSize:     p.opts.MaxSize,
		ShiftFactor: p.opts.ShiftFactor,
		ScaleFactor: p.opts.ScaleFactor,
		ImageParams: params,
	}, 0.0)
	dets = p.face.ClusterDetections(dets, p.opts.IoUThreshold)
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Q > dets[j].Q })

	var faces []Face
	for _, det := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if det.Q < p.opts.MinQuality {
			continue
		}
		points, ok := p.landmarks(det, params)
		if !ok {
			continue
		}
		faces = append(faces, Face{Landmarks: points, Score: float64(det.Q)})
	}
	return faces, nil
}

func (p *Pigo) landmarks(det pigo.Detection, params pigo.ImageParams) ([]geometry.Point, bool) {
	scale := float32(det.Scale)
	leftEye := p.puploc.RunDetector(pigo.Puploc{
		Row:      det.Row - int(0.075*scale),
		Col:      det.Col - int(0.175*scale),
		Scale:    scale * 0.25,
		Perturbs: p.opts.Perturbs,
	}, params, 0.0, false)
	rightEye := p.puploc.RunDetector(pigo.Puploc{
		Row:      det.Row - int(0.075*scale),
		Col:      det.Col + int(0.185*scale),
		Scale:    scale * 0.25,
		Perturbs: p.opts.Perturbs,
	}, params, 0.0, false)
	if !located(leftEye) || !located(rightEye) {
		return nil, false
	}

	points := make([]geometry.Point, 0, PigoLandmarks)
	points = append(points, puplocPoint(leftEye), puplocPoint(rightEye))

	for _, name := range pigoEyeCascades {
		flpc := p.flpcs[name][0]
		for _, flip := range []bool{false, true} {
			flp := flpc.GetLandmarkPoint(leftEye, rightEye, params, p.opts.Perturbs, flip)
			if !located(flp) {
				return nil, false
			}
			points = append(points, puplocPoint(flp))
		}
	}
	for _, name := range pigoMouthCascades {
		flp := p.flpcs[name][0].GetLandmarkPoint(leftEye, rightEye, params, p.opts.Perturbs, false)
		if !located(flp) {
			return nil, false
		}
		points = append(points, puplocPoint(flp))
	}
	flp := p.flpcs["lp84"][0].GetLandmarkPoint(leftEye, rightEye, params, p.opts.Perturbs, true)
	if !located(flp) {
		return nil, false
	}
	points = append(points, puplocPoint(flp))

	return points, true
}

func located(pl *pigo.Puploc) bool {
	return pl != nil && pl.Row > 0 && pl.Col > 0
}

func puplocPoint(pl *pigo.Puploc) geometry.Point {
	return geometry.Point{X: float64(pl.Col), Y: float64(pl.Row)}
}
