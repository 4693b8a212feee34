package inversion

import (
	"fmt"

	"github.com/banshee-data/geomag/internal/bspline"
	"github.com/banshee-data/geomag/internal/frechet"
	"gonum.org/v1/gonum/mat"
)

// ResidualRow is the RMS of the uncertainty-weighted residuals of one
// model, per observation type and over all data. Types without data
// report zero.
type ResidualRow struct {
	Iteration int
	RMS       [frechet.NumTypes]float64
	Total     float64
}

// Values returns the per-type RMS followed by the total.
func (r ResidualRow) Values() []float64 {
	out := make([]float64, 0, frechet.NumTypes+1)
	out = append(out, r.RMS[:]...)
	return append(out, r.Total)
}

// Result holds the model after every iteration and the residual history.
type Result struct {
	Grid      []float64
	Spline    *bspline.Model
	MaxDegree int

	// Start is the starting spline tensor; Models[i] the tensor after
	// iteration i+1. Tensors are NumSplines × NumCoefs.
	Start  *mat.Dense
	Models []*mat.Dense

	// Residuals[i] describes the model entering iteration i+1; the last
	// row describes the final model.
	Residuals []ResidualRow
	Converged bool

	// Counts is the number of data per type used in the fit; Outside the
	// number ignored because they lie before the first or after the last
	// grid epoch.
	Counts  [frechet.NumTypes]int
	Outside int

	// SpatialNorm and TemporalNorm are the damping norms of the final
	// model without the damping factors applied.
	SpatialNorm  float64
	TemporalNorm float64

	// NormalBand is the undamped normal-equation matrix of the last
	// solved iteration and DampingBand the summed damping matrix.
	NormalBand  *mat.SymBandDense
	DampingBand *mat.SymBandDense
}

// Iterations returns the number of updates applied.
func (r *Result) Iterations() int { return len(r.Models) }

// Final returns the last spline tensor, or the starting model when no
// update was applied.
func (r *Result) Final() *mat.Dense {
	if len(r.Models) == 0 {
		return r.Start
	}
	return r.Models[len(r.Models)-1]
}

// FinalResidual returns the residual row of the final model.
func (r *Result) FinalResidual() ResidualRow {
	return r.Residuals[len(r.Residuals)-1]
}

// CoefficientsAt evaluates the model of the given iteration (1-based;
// 0 is the starting model, negative selects the final model) at times
// and returns a len(times) × NumCoefs matrix.
func (r *Result) CoefficientsAt(iteration int, times []float64) (*mat.Dense, error) {
	var m *mat.Dense
	switch {
	case iteration < 0:
		m = r.Final()
	case iteration == 0:
		m = r.Start
	case iteration <= len(r.Models):
		m = r.Models[iteration-1]
	default:
		return nil, fmt.Errorf("iteration %d out of range [0, %d]", iteration, len(r.Models))
	}
	return r.Spline.EvaluateMany(m, times)
}

// GridCoefficients evaluates the model of an iteration at the time grid.
func (r *Result) GridCoefficients(iteration int) (*mat.Dense, error) {
	return r.CoefficientsAt(iteration, r.Grid)
}
