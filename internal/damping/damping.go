// Package damping builds the regularisation matrices that penalise the
// spatial complexity and temporal roughness of a splined Gauss
// coefficient model.
//
// A damping matrix couples the same coefficient on splines i and j
// (|i−j| ≤ 3) with weight Factor · f(n) · ∫ B_i^(ddt) B_j^(ddt) dt, where
// f(n) depends on the degree n of the coefficient and the damping type,
// and ddt is the order of the time derivative (0 for spatial damping,
// usually 2 for temporal damping).
package damping

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/geomag/internal/bspline"
	"github.com/banshee-data/geomag/internal/shbasis"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
)

// Radii (km) entering the degree-dependent factors.
const (
	EarthRadius = 6371.2
	CoreRadius  = 3485.0
)

// quadPoints is exact for products of two cubic pieces.
const quadPoints = 4

var (
	ErrUnknownType = errors.New("unknown damping type")
	ErrParams      = errors.New("invalid damping parameters")
)

// Type selects the degree-dependent factor f(n).
type Type int

const (
	// Uniform damps every degree equally.
	Uniform Type = iota
	// Gubbins is the Ohmic heating norm at the core-mantle boundary.
	Gubbins
	// Br2cmb is the integrated squared radial field at the core-mantle
	// boundary.
	Br2cmb
	// Power is the geomagnetic power spectrum continued to the core.
	Power
)

var typeNames = map[Type]string{
	Uniform: "Uniform",
	Gubbins: "Gubbins",
	Br2cmb:  "Br2cmb",
	Power:   "Power",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType accepts the names returned by String, case-insensitive.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Params configures one damping matrix.
type Params struct {
	MaxDegree  int
	NumSplines int
	Step       float64 // time grid spacing
	Factor     float64 // overall damping strength, ≥ 0
	Type       Type
	DDT        int // time derivative order, 0..2
	DampDipole bool
}

// Validate checks p for values Build cannot use.
func (p Params) Validate() error {
	switch {
	case p.MaxDegree < 1:
		return fmt.Errorf("%w: max degree %d", ErrParams, p.MaxDegree)
	case p.NumSplines < bspline.Degree+1:
		return fmt.Errorf("%w: %d splines, need at least %d", ErrParams, p.NumSplines, bspline.Degree+1)
	case !(p.Step > 0):
		return fmt.Errorf("%w: step %g", ErrParams, p.Step)
	case p.Factor < 0 || math.IsNaN(p.Factor) || math.IsInf(p.Factor, 0):
		return fmt.Errorf("%w: factor %g", ErrParams, p.Factor)
	case p.DDT < 0 || p.DDT > 2:
		return fmt.Errorf("%w: time derivative order %d", ErrParams, p.DDT)
	}
	if _, ok := typeNames[p.Type]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownType, int(p.Type))
	}
	return nil
}

// Provider builds a damping matrix and its per-coefficient degree
// factors. Build is the default implementation.
type Provider func(Params) (*mat.SymBandDense, []float64, error)

// DegreeFactor returns f(n) for damping type t.
func DegreeFactor(t Type, n int) float64 {
	fn := float64(n)
	ratio := math.Pow(EarthRadius/CoreRadius, 2*fn+4)
	switch t {
	case Gubbins:
		return (fn + 1) * (2*fn + 1) * (2*fn + 3) / fn * ratio
	case Br2cmb:
		return (fn + 1) * (fn + 1) / (2*fn + 1) * ratio
	case Power:
		return (fn + 1) * ratio
	}
	return 1
}

// Factors returns f(n) for every Gauss coefficient column. The dipole
// entries are zero unless dampDipole is set.
func Factors(t Type, maxDegree int, dampDipole bool) []float64 {
	out := make([]float64, shbasis.NumGauss(maxDegree))
	for k := range out {
		n := shbasis.GaussDegree(k)
		if n == 1 && !dampDipole {
			continue
		}
		out[k] = DegreeFactor(t, n)
	}
	return out
}

// Gram returns ∫ B_i^(ddt)(t) B_j^(ddt)(t) dt for a uniform knot vector
// with the given number of splines and spacing, integrated over the fully
// supported range. The result has bandwidth Degree.
func Gram(numSplines, ddt int, step float64) (*mat.SymBandDense, error) {
	if numSplines < bspline.Degree+1 {
		return nil, fmt.Errorf("%w: %d splines, need at least %d", ErrParams, numSplines, bspline.Degree+1)
	}
	epochs := numSplines - bspline.Degree + 1
	grid := make([]float64, epochs)
	for i := range grid {
		grid[i] = float64(i) * step
	}
	model, err := bspline.NewModel(grid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParams, err)
	}

	g := mat.NewSymBandDense(numSplines, bspline.Degree, nil)
	for k := 0; k+1 < epochs; k++ {
		lo, hi := grid[k], grid[k+1]
		for i := k; i <= k+bspline.Degree; i++ {
			for j := i; j <= k+bspline.Degree; j++ {
				f := func(t float64) float64 {
					return model.BasisDeriv(i, ddt, t) * model.BasisDeriv(j, ddt, t)
				}
				v := quad.Fixed(f, lo, hi, quadPoints, quad.Legendre{}, 0)
				g.SetSymBand(i, j, g.At(i, j)+v)
			}
		}
	}
	return g, nil
}

// Build is the default Provider. The returned matrix has dimension
// NumSplines·NumGauss(MaxDegree) and bandwidth Degree·NumGauss(MaxDegree);
// the returned factors are f(n) per coefficient without Factor applied.
func Build(p Params) (*mat.SymBandDense, []float64, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	nm := shbasis.NumGauss(p.MaxDegree)
	factors := Factors(p.Type, p.MaxDegree, p.DampDipole)
	gram, err := Gram(p.NumSplines, p.DDT, p.Step)
	if err != nil {
		return nil, nil, err
	}

	d := mat.NewSymBandDense(p.NumSplines*nm, bspline.Degree*nm, nil)
	if p.Factor == 0 {
		return d, factors, nil
	}
	for i := 0; i < p.NumSplines; i++ {
		for j := i; j <= i+bspline.Degree && j < p.NumSplines; j++ {
			gij := gram.At(i, j)
			if gij == 0 {
				continue
			}
			for c := 0; c < nm; c++ {
				if factors[c] == 0 {
					continue
				}
				d.SetSymBand(i*nm+c, j*nm+c, p.Factor*factors[c]*gij)
			}
		}
	}
	return d, factors, nil
}

// Norm returns Σ_c f_c Σ_ij c_ic G_ij c_jc for a coefficient tensor of
// NumSplines rows and one column per Gauss coefficient. It is the damping
// penalty of the model divided by the damping factor.
func Norm(factors []float64, coefs mat.Matrix, ddt int, step float64) (float64, error) {
	r, c := coefs.Dims()
	if c != len(factors) {
		return 0, fmt.Errorf("%w: %d factors for %d coefficients", ErrParams, len(factors), c)
	}
	if ddt < 0 || ddt > 2 {
		return 0, fmt.Errorf("%w: time derivative order %d", ErrParams, ddt)
	}
	gram, err := Gram(r, ddt, step)
	if err != nil {
		return 0, err
	}
	var norm float64
	for k := 0; k < c; k++ {
		if factors[k] == 0 {
			continue
		}
		var s float64
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				if d := i - j; d > bspline.Degree || d < -bspline.Degree {
					continue
				}
				s += coefs.At(i, k) * gram.At(i, j) * coefs.At(j, k)
			}
		}
		norm += factors[k] * s
	}
	return norm, nil
}
