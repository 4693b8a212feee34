// Package inversion estimates a time-dependent Gauss coefficient model
// from scattered geomagnetic observations. Coefficients are cubic
// B-splines in time; each iteration linearises the forward problem about
// the current model, assembles damped banded normal equations and solves
// them for an update.
package inversion

import (
	"errors"
	"fmt"

	"github.com/banshee-data/geomag/internal/bspline"
	"github.com/banshee-data/geomag/internal/geodesy"
	"github.com/banshee-data/geomag/internal/monitoring"
	"github.com/banshee-data/geomag/internal/shbasis"
)

var (
	ErrInvalidDegree   = errors.New("maximum degree must be at least 1")
	ErrInvalidOptions  = errors.New("invalid inversion options")
	ErrInvalidRecord   = errors.New("invalid station record")
	ErrNoCoverage      = errors.New("series does not cover any time knot")
	ErrNoData          = errors.New("no station data added")
	ErrNotPrepared     = errors.New("inversion not prepared")
	ErrEmptyInterval   = errors.New("time interval has no data")
	ErrStartModelShape = errors.New("starting model has wrong shape")
	ErrSingularSystem  = errors.New("normal equations are not positive definite")
	ErrIterations      = errors.New("at least one iteration is required")
)

// Defaults applied by Configure to zero-valued Options.
const (
	DefaultRModel  = geodesy.ReferenceRadius
	DefaultWorkers = 4
)

// Options tune an inversion independent of its data.
type Options struct {
	// RModel is the radius (km) the coefficients refer to.
	RModel float64
	// Workers bounds the number of intervals assembled concurrently.
	Workers int
	// Tolerance enables early stopping once the total RMS improves by
	// less than this fraction between iterations. Zero runs the full
	// iteration count.
	Tolerance float64
	// Verbose logs progress through monitoring.Logf.
	Verbose bool
}

// Context holds the sizes derived from the time grid and maximum degree.
// It is immutable once built; changing either input means calling
// Configure again.
type Context struct {
	Grid       []float64
	MaxDegree  int
	NumCoefs   int
	NumSplines int
	Spline     *bspline.Model
	Options    Options
}

// Configure validates the time grid and degree and derives every size the
// inversion needs.
func Configure(grid []float64, maxDegree int, opts Options) (*Context, error) {
	if maxDegree < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDegree, maxDegree)
	}
	g := append([]float64(nil), grid...)
	model, err := bspline.NewModel(g)
	if err != nil {
		return nil, fmt.Errorf("time grid: %w", err)
	}

	if opts.RModel == 0 {
		opts.RModel = DefaultRModel
	}
	if !(opts.RModel > 0) {
		return nil, fmt.Errorf("%w: model radius %g", ErrInvalidOptions, opts.RModel)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Tolerance < 0 {
		return nil, fmt.Errorf("%w: tolerance %g", ErrInvalidOptions, opts.Tolerance)
	}

	return &Context{
		Grid:       g,
		MaxDegree:  maxDegree,
		NumCoefs:   shbasis.NumGauss(maxDegree),
		NumSplines: model.NumSplines(),
		Spline:     model,
		Options:    opts,
	}, nil
}

// Step returns the grid spacing.
func (c *Context) Step() float64 { return c.Spline.Step }

// SystemSize returns the dimension of the normal equations.
func (c *Context) SystemSize() int { return c.NumSplines * c.NumCoefs }

// Bandwidth returns the number of super-diagonals of the normal equations.
func (c *Context) Bandwidth() int { return (bspline.Degree+1)*c.NumCoefs - 1 }

func (c *Context) logf(format string, v ...interface{}) {
	if c.Options.Verbose {
		monitoring.Logf(format, v...)
	}
}
