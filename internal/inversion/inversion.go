package inversion

import (
	"fmt"

	"github.com/banshee-data/geomag/internal/bspline"
	"github.com/banshee-data/geomag/internal/damping"
	"github.com/banshee-data/geomag/internal/frechet"
	"github.com/banshee-data/geomag/internal/monitoring"
	"gonum.org/v1/gonum/mat"
)

// Damping selects one regularisation term. A zero Factor disables it.
type Damping struct {
	Factor     float64
	Type       damping.Type
	DDT        int
	DampDipole bool
}

// DefaultSpatial minimises Ohmic heating at the core-mantle boundary and
// leaves the dipole free.
func DefaultSpatial() Damping {
	return Damping{Type: damping.Gubbins, DDT: 0}
}

// DefaultTemporal minimises the second time derivative of the radial
// field at the core-mantle boundary, dipole included.
func DefaultTemporal() Damping {
	return Damping{Type: damping.Br2cmb, DDT: 2, DampDipole: true}
}

func (d Damping) params(c *Context) damping.Params {
	return damping.Params{
		MaxDegree:  c.MaxDegree,
		NumSplines: c.NumSplines,
		Step:       c.Step(),
		Factor:     d.Factor,
		Type:       d.Type,
		DDT:        d.DDT,
		DampDipole: d.DampDipole,
	}
}

// PrepareOptions configures the damping used by Prepare.
type PrepareOptions struct {
	Spatial  Damping
	Temporal Damping
	// Provider builds each damping matrix; nil uses damping.Build.
	Provider damping.Provider
}

// DefaultPrepareOptions returns the default damping types with zero
// factors.
func DefaultPrepareOptions() PrepareOptions {
	return PrepareOptions{Spatial: DefaultSpatial(), Temporal: DefaultTemporal()}
}

// Inversion accumulates station data, prepares the fixed matrices and
// runs the iterative solve. It is not safe for concurrent use.
type Inversion struct {
	ctx      *Context
	names    []string
	stations []frechet.Station
	data     builder
	prep     *prepared
}

type prepared struct {
	layout          *layout
	design          *mat.Dense
	damp            *mat.SymBandDense
	spatial         Damping
	temporal        Damping
	spatialFactors  []float64
	temporalFactors []float64
}

// New returns an empty inversion over ctx.
func New(ctx *Context) *Inversion {
	return &Inversion{ctx: ctx}
}

// Context returns the configuration the inversion was built with.
func (inv *Inversion) Context() *Context { return inv.ctx }

// NumStations returns the number of accepted stations.
func (inv *Inversion) NumStations() int { return len(inv.stations) }

// Names returns the accepted station names in insertion order.
func (inv *Inversion) Names() []string { return append([]string(nil), inv.names...) }

// AddStation validates rec and queues its data. Every series must reach
// into the knot range; otherwise the whole record is rejected with
// ErrNoCoverage. Adding a station invalidates an earlier Prepare.
func (inv *Inversion) AddStation(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	model := inv.ctx.Spline
	for _, s := range rec.Series {
		lo, hi := timeSpan(s.Times)
		if !model.Covers(lo, hi) {
			return fmt.Errorf("%w: %s of %q spans [%g, %g], knots span [%g, %g]",
				ErrNoCoverage, s.Type, rec.Name, lo, hi, model.Start(), model.End())
		}
	}

	idx := len(inv.stations)
	for _, s := range rec.Series {
		inv.ctx.logf("adding %s data of %q (%d points)", s.Type, rec.Name, len(s.Times))
		inv.data.add(idx, s)
	}
	if rec.Geodetic {
		inv.ctx.logf("coordinates of %q are geodetic, converting to geocentric", rec.Name)
	}
	inv.stations = append(inv.stations, rec.station())
	inv.names = append(inv.names, rec.Name)
	inv.prep = nil
	return nil
}

// Prepare finalises the data layout, computes the Fréchet matrix of every
// station and builds the summed damping matrix.
func (inv *Inversion) Prepare(opts PrepareOptions) error {
	inv.prep = nil
	if len(inv.stations) == 0 {
		return ErrNoData
	}
	c := inv.ctx
	provider := opts.Provider
	if provider == nil {
		provider = damping.Build
	}

	lay := inv.data.finalize(c.Spline)
	if lay.outside > 0 {
		monitoring.Warnf("%d data lie outside the time grid intervals and are ignored", lay.outside)
	}

	c.logf("calculating Schmidt polynomials and Fréchet coefficients")
	design, err := frechet.DesignMatrix(inv.stations, c.MaxDegree, c.Options.RModel)
	if err != nil {
		return fmt.Errorf("design matrix: %w", err)
	}

	p := &prepared{
		layout:   lay,
		design:   design,
		damp:     mat.NewSymBandDense(c.SystemSize(), bspline.Degree*c.NumCoefs, nil),
		spatial:  opts.Spatial,
		temporal: opts.Temporal,
	}
	terms := []struct {
		name    string
		d       Damping
		factors *[]float64
	}{
		{"spatial", opts.Spatial, &p.spatialFactors},
		{"temporal", opts.Temporal, &p.temporalFactors},
	}
	for _, term := range terms {
		if term.d.Factor == 0 {
			continue
		}
		c.logf("calculating %s damping matrix", term.name)
		band, factors, err := provider(term.d.params(c))
		if err != nil {
			return fmt.Errorf("%s damping: %w", term.name, err)
		}
		if err := addBand(p.damp, band); err != nil {
			return fmt.Errorf("%s damping: %w", term.name, err)
		}
		*term.factors = factors
	}

	inv.prep = p
	c.logf("prepared %d stations, %d series", len(inv.stations), len(lay.types))
	return nil
}

// Prepared reports whether Run may be called.
func (inv *Inversion) Prepared() bool { return inv.prep != nil }

// addBand adds src into dst. src must have the same dimension and no
// wider a band.
func addBand(dst, src *mat.SymBandDense) error {
	n, kd := dst.SymBand()
	m, ks := src.SymBand()
	if m != n || ks > kd {
		return fmt.Errorf("band %d/%d does not fit %d/%d", m, ks, n, kd)
	}
	d := dst.RawSymBand()
	s := src.RawSymBand()
	for i := 0; i < n; i++ {
		for off := 0; off <= ks && i+off < n; off++ {
			d.Data[i*d.Stride+off] += s.Data[i*s.Stride+off]
		}
	}
	return nil
}
