package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DistanceMatrix is an N×N symmetric matrix of pairwise landmark distances with a
// zero diagonal. Symmetry holds by construction: only the upper triangle is stored.
type DistanceMatrix struct {
	m *mat.SymDense
}

// Distances computes the pairwise Euclidean distance matrix of a normalized set.
// Each unordered pair is computed once.
func Distances(s NormalizedSet) DistanceMatrix {
	n := s.Len()
	if n == 0 {
		return DistanceMatrix{}
	}
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		pi := s.points[i]
		for j := i + 1; j < n; j++ {
			pj := s.points[j]
			m.SetSym(i, j, math.Hypot(pi.X-pj.X, pi.Y-pj.Y))
		}
	}
	return DistanceMatrix{m: m}
}

// FromRows builds a distance matrix from a square row-major table. The table must be
// finite, symmetric within tol and have a diagonal within tol of zero.
func FromRows(rows [][]float64, tol float64) (DistanceMatrix, error) {
	n := len(rows)
	if n == 0 {
		return DistanceMatrix{}, fmt.Errorf("matrix has no rows")
	}
	for i, row := range rows {
		if len(row) != n {
			return DistanceMatrix{}, fmt.Errorf("row %d has %d columns, want %d", i, len(row), n)
		}
	}

	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if !finite(rows[i][i]) || math.Abs(rows[i][i]) > tol {
			return DistanceMatrix{}, fmt.Errorf("diagonal entry %d is %v, want 0", i, rows[i][i])
		}
		for j := i + 1; j < n; j++ {
			a, b := rows[i][j], rows[j][i]
			if !finite(a) || !finite(b) {
				return DistanceMatrix{}, fmt.Errorf("entry (%d,%d) is not finite", i, j)
			}
			if a < 0 {
				return DistanceMatrix{}, fmt.Errorf("entry (%d,%d) is negative: %v", i, j, a)
			}
			if math.Abs(a-b) > tol {
				return DistanceMatrix{}, fmt.Errorf("entry (%d,%d)=%v differs from (%d,%d)=%v", i, j, a, j, i, b)
			}
			m.SetSym(i, j, a)
		}
	}
	return DistanceMatrix{m: m}, nil
}

// FromSym wraps an existing symmetric matrix. The diagonal is forced to zero.
func FromSym(s mat.Symmetric) DistanceMatrix {
	n := s.SymmetricDim()
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.SetSym(i, j, s.At(i, j))
		}
	}
	return DistanceMatrix{m: m}
}

// N returns the number of landmarks the matrix was built from.
func (d DistanceMatrix) N() int {
	if d.m == nil {
		return 0
	}
	return d.m.SymmetricDim()
}

// At returns the distance between landmarks i and j.
func (d DistanceMatrix) At(i, j int) float64 {
	return d.m.At(i, j)
}

// Sym exposes the matrix as a read-only gonum symmetric matrix.
func (d DistanceMatrix) Sym() mat.Symmetric {
	return d.m
}

// UpperTriangle returns the strictly-upper-triangle entries in row-major (i<j) order.
func (d DistanceMatrix) UpperTriangle() []float64 {
	n := d.N()
	out := make([]float64, 0, PairCount(n))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, d.m.At(i, j))
		}
	}
	return out
}

// Rows returns the full matrix as a row-major table.
func (d DistanceMatrix) Rows() [][]float64 {
	n := d.N()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			rows[i][j] = d.m.At(i, j)
		}
	}
	return rows
}

// PairCount returns the number of unordered landmark pairs for n landmarks.
func PairCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// PairIndex maps the k-th upper-triangle entry (row-major order) back to (i, j).
func PairIndex(n, k int) (int, int) {
	i := 0
	rowLen := n - 1
	for k >= rowLen && rowLen > 0 {
		k -= rowLen
		i++
		rowLen--
	}
	return i, i + 1 + k
}

// IsSymmetric reports whether d(i,j) and d(j,i) agree within tol for every pair.
func (d DistanceMatrix) IsSymmetric(tol float64) bool {
	n := d.N()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.Abs(d.m.At(i, j)-d.m.At(j, i)) > tol {
				return false
			}
		}
	}
	return true
}

// ZeroDiagonal reports whether every diagonal entry is within tol of zero.
func (d DistanceMatrix) ZeroDiagonal(tol float64) bool {
	for i := 0; i < d.N(); i++ {
		if math.Abs(d.m.At(i, i)) > tol {
			return false
		}
	}
	return true
}
