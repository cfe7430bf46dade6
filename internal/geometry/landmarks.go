// Package geometry holds landmark sets, the canonical normalization applied to them,
// and the pairwise distance matrices compared against class prototypes.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// scaleEpsilon floors the normalization radius for degenerate (collapsed) inputs.
const scaleEpsilon = 1e-9

// Point is a 2D landmark position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarkSet is an ordered, immutable set of 2D landmarks. Index i always denotes
// the same facial feature for a given detector model.
type LandmarkSet struct {
	points []Point
}

// NewLandmarkSet copies points into a landmark set. It rejects empty input and
// non-finite coordinates.
func NewLandmarkSet(points []Point) (LandmarkSet, error) {
	if len(points) == 0 {
		return LandmarkSet{}, errors.New("landmark set is empty")
	}
	for i, p := range points {
		if !finite(p.X) || !finite(p.Y) {
			return LandmarkSet{}, fmt.Errorf("landmark %d has non-finite coordinates (%v, %v)", i, p.X, p.Y)
		}
	}
	cp := make([]Point, len(points))
	copy(cp, points)
	return LandmarkSet{points: cp}, nil
}

// Len returns the number of landmarks.
func (s LandmarkSet) Len() int { return len(s.points) }

// At returns landmark i.
func (s LandmarkSet) At(i int) Point { return s.points[i] }

// Points returns a copy of the landmarks.
func (s LandmarkSet) Points() []Point {
	cp := make([]Point, len(s.points))
	copy(cp, s.points)
	return cp
}

// NormalizedSet is a landmark set with its centroid at the origin and a
// root-sum-of-squares radius of 1.
type NormalizedSet struct {
	points []Point
}

// Len returns the number of landmarks.
func (s NormalizedSet) Len() int { return len(s.points) }

// At returns landmark i.
func (s NormalizedSet) At(i int) Point { return s.points[i] }

// Points returns a copy of the normalized landmarks.
func (s NormalizedSet) Points() []Point {
	cp := make([]Point, len(s.points))
	copy(cp, s.points)
	return cp
}

// Normalize translates the set so its centroid is at the origin and divides every
// coordinate by s = sqrt(Σ(x²+y²)) over the translated points. This is the total-energy
// convention the reference prototypes are built with; it is not the per-point RMS.
func Normalize(s LandmarkSet) NormalizedSet {
	n := len(s.points)
	if n == 0 {
		return NormalizedSet{}
	}

	var cx, cy float64
	for _, p := range s.points {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(n)
	cy /= float64(n)

	out := make([]Point, n)
	var energy float64
	for i, p := range s.points {
		x, y := p.X-cx, p.Y-cy
		out[i] = Point{X: x, Y: y}
		energy += x*x + y*y
	}

	scale := math.Max(math.Sqrt(energy), scaleEpsilon)
	for i := range out {
		out[i].X /= scale
		out[i].Y /= scale
	}
	return NormalizedSet{points: out}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
