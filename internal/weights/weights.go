// Package weights derives per landmark pair weights from how much each pair's distance
// varies across the class prototypes.
package weights

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kozaktomas/facemotion/internal/corpus"
	"github.com/kozaktomas/facemotion/internal/geometry"
)

// Mode selects how pair weights are derived.
type Mode string

const (
	// ModeNone weights every pair equally.
	ModeNone Mode = "none"
	// ModeVariance weights pairs by their variance across class prototypes.
	ModeVariance Mode = "variance"
)

// ParseMode parses a weighting mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNone, ModeVariance:
		return m, nil
	case "":
		return ModeVariance, nil
	default:
		return "", fmt.Errorf("unknown weighting mode %q", s)
	}
}

// Options configures Build.
type Options struct {
	Mode Mode
	// Gamma is the amplification exponent applied to mean-normalized variances.
	Gamma float64
	// TopPercent keeps full weight for the top P% of pairs; 0 disables sparsification.
	TopPercent float64
	// Floor is the weight given to pairs outside the top P%.
	Floor float64
}

// DefaultOptions returns the tuned defaults the shipped prototypes were evaluated with.
func DefaultOptions() Options {
	return Options{Mode: ModeVariance, Gamma: 2.0, TopPercent: 0, Floor: 0.05}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.Mode != ModeNone && o.Mode != ModeVariance {
		return fmt.Errorf("unknown weighting mode %q", o.Mode)
	}
	if o.Gamma < 1 || math.IsNaN(o.Gamma) || math.IsInf(o.Gamma, 0) {
		return fmt.Errorf("gamma %v must be a finite value >= 1", o.Gamma)
	}
	if o.TopPercent < 0 || o.TopPercent >= 100 {
		return fmt.Errorf("top percent %v outside [0, 100)", o.TopPercent)
	}
	if o.Floor < 0 {
		return fmt.Errorf("floor weight %v is negative", o.Floor)
	}
	return nil
}

// Matrix is a symmetric, non-negative landmark pair weight matrix. The diagonal is zero.
type Matrix struct {
	m       *mat.SymDense
	uniform bool
}

// Pair is one weighted landmark pair.
type Pair struct {
	I      int     `json:"i"`
	J      int     `json:"j"`
	Weight float64 `json:"weight"`
}

// Uniform returns a matrix with weight 1 for every pair.
func Uniform(n int) Matrix {
	if n == 0 {
		return Matrix{uniform: true}
	}
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.SetSym(i, j, 1)
		}
	}
	return Matrix{m: m, uniform: true}
}

// FromCorpus builds the weight matrix for every prototype of c.
func FromCorpus(c *corpus.Corpus, opts Options) (Matrix, error) {
	prototypes := make([]geometry.DistanceMatrix, 0, c.Len())
	for _, e := range c.Classes() {
		p, _ := c.Prototype(e)
		prototypes = append(prototypes, p)
	}
	return Build(prototypes, c.N(), opts)
}

// Build derives pair weights from n×n prototypes:
//
//  1. fewer than two prototypes or ModeNone: uniform 1.0
//  2. per pair population variance across prototypes
//  3. divide by the upper-triangle mean (all-zero variance: uniform)
//  4. raise to Gamma
//  5. with TopPercent > 0, clamp pairs below the (100-P)th percentile to Floor and
//     rescale the retained pairs to mean 1
func Build(prototypes []geometry.DistanceMatrix, n int, opts Options) (Matrix, error) {
	if err := opts.Validate(); err != nil {
		return Matrix{}, err
	}
	for i, p := range prototypes {
		if p.N() != n {
			return Matrix{}, fmt.Errorf("prototype %d is %dx%d, want %dx%d", i, p.N(), p.N(), n, n)
		}
	}
	if len(prototypes) < 2 || opts.Mode == ModeNone || n < 2 {
		return Uniform(n), nil
	}

	pairs := geometry.PairCount(n)
	values := make([]float64, pairs)
	sample := make([]float64, len(prototypes))
	uppers := make([][]float64, len(prototypes))
	for c, p := range prototypes {
		uppers[c] = p.UpperTriangle()
	}
	for k := range values {
		for c := range uppers {
			sample[c] = uppers[c][k]
		}
		values[k] = stat.PopVariance(sample, nil)
	}

	mean := stat.Mean(values, nil)
	if mean <= 0 {
		return Uniform(n), nil
	}
	for k := range values {
		values[k] /= mean
		if opts.Gamma != 1 {
			values[k] = math.Pow(values[k], opts.Gamma)
		}
	}

	if opts.TopPercent > 0 {
		sparsify(values, opts.TopPercent, opts.Floor)
	}

	m := mat.NewSymDense(n, nil)
	for k, v := range values {
		i, j := geometry.PairIndex(n, k)
		m.SetSym(i, j, v)
	}
	return Matrix{m: m}, nil
}

// sparsify keeps values at or above the (100-topPercent)th percentile, rescales them to
// mean 1 and sets the rest to floor.
func sparsify(values []float64, topPercent, floor float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	threshold := percentile(sorted, 100-topPercent)

	var sum float64
	var kept int
	for _, v := range values {
		if v >= threshold {
			sum += v
			kept++
		}
	}
	scale := 1.0
	if kept > 0 && sum > 0 {
		scale = float64(kept) / sum
	}
	for k, v := range values {
		if v >= threshold {
			values[k] = v * scale
		} else {
			values[k] = floor
		}
	}
}

// percentile linearly interpolates between the closest ranks of sorted, so the top P%
// of n values keeps n·P/100 of them when there are no ties.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	h := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// N returns the matrix dimension.
func (w Matrix) N() int {
	if w.m == nil {
		return 0
	}
	return w.m.SymmetricDim()
}

// At returns the weight of pair (i, j).
func (w Matrix) At(i, j int) float64 { return w.m.At(i, j) }

// IsUniform reports whether every pair has weight 1.
func (w Matrix) IsUniform() bool { return w.uniform }

// Sym exposes the matrix as a read-only gonum symmetric matrix.
func (w Matrix) Sym() mat.Symmetric { return w.m }

// UpperTriangle returns the pair weights in row-major (i<j) order.
func (w Matrix) UpperTriangle() []float64 {
	n := w.N()
	out := make([]float64, 0, geometry.PairCount(n))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, w.m.At(i, j))
		}
	}
	return out
}

// Mean is the mean pair weight over the upper triangle.
func (w Matrix) Mean() float64 {
	upper := w.UpperTriangle()
	if len(upper) == 0 {
		return 0
	}
	return stat.Mean(upper, nil)
}

// TopPairs returns the k highest-weighted pairs, heaviest first. Ties keep row-major order.
func (w Matrix) TopPairs(k int) []Pair {
	n := w.N()
	all := make([]Pair, 0, geometry.PairCount(n))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			all = append(all, Pair{I: i, J: j, Weight: w.m.At(i, j)})
		}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].Weight > all[b].Weight })
	if k >= 0 && k < len(all) {
		all = all[:k]
	}
	return all
}
