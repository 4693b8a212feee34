// Package bspline represents time-dependent coefficients as cubic
// B-splines over a uniformly spaced, padded knot vector.
package bspline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Degree is the spline degree. Each datum is supported by Degree+1 splines.
const Degree = 3

// knotWiden slightly widens the padded knot span so the first and last
// grid epochs fall strictly inside the support of the boundary splines.
const knotWiden = 1e-12

// Time grid errors.
var (
	ErrGridTooShort     = errors.New("time grid needs more than one epoch")
	ErrGridNotAscending = errors.New("time grid is not strictly ascending")
	ErrGridSpacing      = errors.New("time grid is not equally spaced")
	ErrOutsideKnots     = errors.New("time outside knot range")
)

// Model holds the knot vector derived from an equally spaced time grid.
type Model struct {
	// Knots has len(grid) + 2*Degree entries.
	Knots []float64
	// T0 is the first grid epoch and Step the grid spacing.
	T0   float64
	Step float64
	// Epochs is the number of grid points. Data bind to the Epochs-1
	// primary intervals between them.
	Epochs int
}

// ValidateGrid checks that grid is strictly ascending and equally spaced
// within a relative tolerance of 1e-12 of the first step.
func ValidateGrid(grid []float64) error {
	if len(grid) < 2 {
		return fmt.Errorf("%w: got %d", ErrGridTooShort, len(grid))
	}
	step := grid[1] - grid[0]
	if !(step > 0) {
		return fmt.Errorf("%w: step %g at index 0", ErrGridNotAscending, step)
	}
	for i := 1; i < len(grid)-1; i++ {
		s := grid[i+1] - grid[i]
		if !(s > 0) {
			return fmt.Errorf("%w: step %g at index %d", ErrGridNotAscending, s, i)
		}
		if math.Abs(s-step) > step*1e-12 {
			return fmt.Errorf("%w: difference %g at index %d", ErrGridSpacing, math.Abs(s-step), i)
		}
	}
	return nil
}

// NewModel validates grid and builds the padded knot vector.
func NewModel(grid []float64) (*Model, error) {
	if err := ValidateGrid(grid); err != nil {
		return nil, err
	}
	step := grid[1] - grid[0]
	n := len(grid)
	lo := grid[0] - Degree*step*(1+knotWiden)
	hi := grid[n-1] + Degree*step*(1+knotWiden)
	num := n + 2*Degree
	knots := make([]float64, num)
	for i := range knots {
		knots[i] = lo + (hi-lo)*float64(i)/float64(num-1)
	}
	knots[num-1] = hi
	return &Model{Knots: knots, T0: grid[0], Step: step, Epochs: n}, nil
}

// NumSplines returns len(grid) + Degree - 1.
func (m *Model) NumSplines() int {
	return m.Epochs + Degree - 1
}

// Start and End bound the knot vector.
func (m *Model) Start() float64 { return m.Knots[0] }
func (m *Model) End() float64   { return m.Knots[len(m.Knots)-1] }

// Covers reports whether [first, last] intersects the knot range.
func (m *Model) Covers(first, last float64) bool {
	return !(last < m.Start() || first > m.End())
}

// NumIntervals returns the number of primary intervals, Epochs-1.
func (m *Model) NumIntervals() int { return m.Epochs - 1 }

// Last returns the last grid epoch.
func (m *Model) Last() float64 { return m.T0 + float64(m.Epochs-1)*m.Step }

// Interval returns the primary interval ⌊(t − t₀)/Δt⌋ that t binds to and
// whether t lies on the grid span [t₀, t_last]. The last epoch binds to
// the final interval, whose four splines all exist.
func (m *Model) Interval(t float64) (int, bool) {
	f := math.Floor((t - m.T0) / m.Step)
	if math.IsNaN(f) || f < 0 {
		return -1, false
	}
	if n := m.NumIntervals(); f >= float64(n) {
		if t-m.Last() > m.Step*knotWiden {
			return -1, false
		}
		return n - 1, true
	}
	return int(f), true
}

// Basis returns the value of spline j at t. It is zero outside the
// spline's five-knot support.
func (m *Model) Basis(j int, t float64) float64 {
	return m.BasisDeriv(j, 0, t)
}

// BasisDeriv returns the order-th time derivative of spline j at t.
func (m *Model) BasisDeriv(j, order int, t float64) float64 {
	if j < 0 || j >= m.NumSplines() || order > Degree {
		return 0
	}
	v := deriv(m.Knots, j, Degree, order, t)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Weights fills dst with the basis values of the splines overlapping
// interval tix at time t and returns the index of the first spline.
// dst must have room for Degree+1 values; the number written is
// returned as n (fewer at the upper end of the spline range).
func (m *Model) Weights(tix int, t float64, dst []float64) (first, n int) {
	first = tix
	last := tix + Degree
	if last > m.NumSplines()-1 {
		last = m.NumSplines() - 1
	}
	for j := first; j <= last; j++ {
		dst[j-first] = m.Basis(j, t)
	}
	return first, last - first + 1
}

// Evaluate interpolates coefs (NumSplines × k) at time t into dst
// (length k). Outside [Start, End] dst is filled with NaN and
// ErrOutsideKnots is returned.
func (m *Model) Evaluate(coefs mat.Matrix, t float64, dst []float64) error {
	r, c := coefs.Dims()
	if r != m.NumSplines() {
		return fmt.Errorf("coefficient rows %d do not match %d splines", r, m.NumSplines())
	}
	if len(dst) != c {
		return fmt.Errorf("destination length %d does not match %d columns", len(dst), c)
	}
	if !(t >= m.Start() && t <= m.End()) {
		for i := range dst {
			dst[i] = math.NaN()
		}
		return fmt.Errorf("%w: %g not in [%g, %g]", ErrOutsideKnots, t, m.Start(), m.End())
	}
	for i := range dst {
		dst[i] = 0
	}
	// Knot interval containing t, then the Degree+1 splines over it.
	i := sort.SearchFloat64s(m.Knots, t)
	if i > 0 && (i == len(m.Knots) || m.Knots[i] > t) {
		i--
	}
	for j := i - Degree; j <= i; j++ {
		if j < 0 || j >= r {
			continue
		}
		b := m.Basis(j, t)
		if b == 0 {
			continue
		}
		for k := 0; k < c; k++ {
			dst[k] += b * coefs.At(j, k)
		}
	}
	return nil
}

// EvaluateMany evaluates coefs at every time and returns a
// len(times) × k matrix.
func (m *Model) EvaluateMany(coefs mat.Matrix, times []float64) (*mat.Dense, error) {
	_, c := coefs.Dims()
	out := mat.NewDense(len(times), c, nil)
	row := make([]float64, c)
	for i, t := range times {
		if err := m.Evaluate(coefs, t, row); err != nil {
			return nil, err
		}
		out.SetRow(i, row)
	}
	return out, nil
}

// value is the Cox-de Boor recursion for B_{j,p}(t) with half-open
// support [knots[j], knots[j+p+1]).
func value(knots []float64, j, p int, t float64) float64 {
	if p == 0 {
		if knots[j] <= t && t < knots[j+1] {
			return 1
		}
		return 0
	}
	var v float64
	if d := knots[j+p] - knots[j]; d > 0 {
		v += (t - knots[j]) / d * value(knots, j, p-1, t)
	}
	if d := knots[j+p+1] - knots[j+1]; d > 0 {
		v += (knots[j+p+1] - t) / d * value(knots, j+1, p-1, t)
	}
	return v
}

// deriv returns the order-th derivative of B_{j,p} at t.
func deriv(knots []float64, j, p, order int, t float64) float64 {
	if order == 0 {
		return value(knots, j, p, t)
	}
	var v float64
	if d := knots[j+p] - knots[j]; d > 0 {
		v += deriv(knots, j, p-1, order-1, t) / d
	}
	if d := knots[j+p+1] - knots[j+1]; d > 0 {
		v -= deriv(knots, j+1, p-1, order-1, t) / d
	}
	return float64(p) * v
}
