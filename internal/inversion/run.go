package inversion

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/geomag/internal/bspline"
	"github.com/banshee-data/geomag/internal/damping"
	"github.com/banshee-data/geomag/internal/frechet"
	"github.com/banshee-data/geomag/internal/monitoring"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// residualStats sums squared weighted residuals per observation type.
type residualStats struct {
	sum   [frechet.NumTypes]float64
	count [frechet.NumTypes]int
}

func (s *residualStats) add(o residualStats) {
	for i := range s.sum {
		s.sum[i] += o.sum[i]
		s.count[i] += o.count[i]
	}
}

func (s residualStats) row(iteration int) ResidualRow {
	r := ResidualRow{Iteration: iteration}
	var sum float64
	var count int
	for i := range s.sum {
		sum += s.sum[i]
		count += s.count[i]
		if s.count[i] > 0 {
			r.RMS[i] = math.Sqrt(s.sum[i] / float64(s.count[i]))
		}
	}
	if count > 0 {
		r.Total = math.Sqrt(sum / float64(count))
	}
	return r
}

// startModel expands x0 into the spline coefficient tensor.
func startModel(x0 []float64, nspl, nm int) (*mat.Dense, error) {
	coefs := mat.NewDense(nspl, nm, nil)
	switch len(x0) {
	case nm:
		for j := 0; j < nspl; j++ {
			coefs.SetRow(j, x0)
		}
	case nspl * nm:
		copy(coefs.RawMatrix().Data, x0)
	default:
		return nil, fmt.Errorf("%w: length %d, want %d or %d×%d",
			ErrStartModelShape, len(x0), nm, nspl, nm)
	}
	return coefs, nil
}

// Run iterates from the starting model x0 for at most maxIter iterations.
// x0 holds either one coefficient vector, used for every spline, or the
// full spline tensor in spline-major order.
func (inv *Inversion) Run(x0 []float64, maxIter int) (*Result, error) {
	if inv.prep == nil {
		return nil, ErrNotPrepared
	}
	if maxIter < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrIterations, maxIter)
	}
	c := inv.ctx
	p := inv.prep
	nm, nspl := c.NumCoefs, c.NumSplines

	c.logf("setting up starting model")
	coefs, err := startModel(x0, nspl, nm)
	if err != nil {
		return nil, err
	}
	for tix, bin := range p.layout.bins {
		if len(bin) == 0 {
			return nil, fmt.Errorf("%w: interval %d [%g, %g), shorten the time grid",
				ErrEmptyInterval, tix, c.Grid[tix], c.Grid[tix]+c.Step())
		}
	}

	res := &Result{
		Grid:        c.Grid,
		Spline:      c.Spline,
		MaxDegree:   c.MaxDegree,
		Start:       mat.DenseCopyOf(coefs),
		Counts:      p.layout.counts,
		Outside:     p.layout.outside,
		DampingBand: p.damp,
	}

	n := c.SystemSize()
	cvec := mat.NewVecDense(n, coefs.RawMatrix().Data)
	var dampRHS mat.VecDense
	final := false
	for it := 0; it < maxIter; it++ {
		c.logf("start iteration %d", it+1)
		normal := mat.NewSymBandDense(n, c.Bandwidth(), nil)
		rhs := make([]float64, n)
		stats, err := inv.sweep(func(tix int, st *residualStats) error {
			return inv.accumulate(tix, coefs, normal.RawSymBand(), rhs, st)
		})
		if err != nil {
			return nil, err
		}
		row := stats.row(it)
		res.Residuals = append(res.Residuals, row)
		c.logf("residual is %.4f", row.Total)

		if c.Options.Tolerance > 0 && it > 0 {
			prev := res.Residuals[it-1].Total
			if prev == 0 || (prev-row.Total)/prev < c.Options.Tolerance {
				c.logf("converged after %d iterations", it)
				res.Converged = true
				final = true
				break
			}
		}

		res.NormalBand = mat.NewSymBandDense(n, c.Bandwidth(), append([]float64(nil), normal.RawSymBand().Data...))
		if err := addBand(normal, p.damp); err != nil {
			return nil, err
		}
		dampRHS.MulVec(p.damp, cvec)
		floats.Sub(rhs, dampRHS.RawVector().Data)

		c.logf("solving %d equations", n)
		var chol mat.BandCholesky
		if ok := chol.Factorize(normal); !ok {
			return nil, fmt.Errorf("%w: iteration %d", ErrSingularSystem, it+1)
		}
		var update mat.VecDense
		if err := chol.SolveVecTo(&update, mat.NewVecDense(n, rhs)); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return nil, fmt.Errorf("iteration %d: %w", it+1, err)
			}
			monitoring.Warnf("iteration %d: %v", it+1, err)
		}
		cvec.AddVec(cvec, &update)
		res.Models = append(res.Models, mat.DenseCopyOf(coefs))
	}

	if !final {
		c.logf("calculating residual of final model")
		stats, err := inv.sweep(func(tix int, st *residualStats) error {
			return inv.residuals(tix, coefs, st)
		})
		if err != nil {
			return nil, err
		}
		res.Residuals = append(res.Residuals, stats.row(len(res.Models)))
	}

	if err := inv.norms(res); err != nil {
		return nil, err
	}
	c.logf("finished inversion")
	return res, nil
}

// sweep visits every interval. Intervals with equal index modulo
// Degree+1 touch disjoint spline rows, so each phase runs them
// concurrently; statistics are merged after each phase.
func (inv *Inversion) sweep(visit func(tix int, st *residualStats) error) (residualStats, error) {
	bins := inv.prep.layout.bins
	per := make([]residualStats, len(bins))
	var total residualStats
	for phase := 0; phase <= bspline.Degree; phase++ {
		var g errgroup.Group
		g.SetLimit(inv.ctx.Options.Workers)
		for tix := phase; tix < len(bins); tix += bspline.Degree + 1 {
			tix := tix
			g.Go(func() error {
				return visit(tix, &per[tix])
			})
		}
		if err := g.Wait(); err != nil {
			return residualStats{}, err
		}
		for tix := phase; tix < len(bins); tix += bspline.Degree + 1 {
			total.add(per[tix])
		}
	}
	return total, nil
}

// prediction is the model evaluated at one datum together with the
// station's component rows.
type prediction struct {
	t, obs, sigma float64
	typ           frechet.ObsType
	x, y, z       float64
	dx, dy, dz    []float64
}

// predict evaluates coefs at datum d into out. gh is scratch space of
// length NumCoefs.
func (inv *Inversion) predict(d datum, coefs *mat.Dense, gh []float64, out *prediction) error {
	lay := inv.prep.layout
	out.t = lay.times.At(d.series, d.index)
	out.obs = lay.values.At(d.series, d.index)
	out.sigma = lay.errs.At(d.series, d.index)
	out.typ = lay.types[d.series]
	if err := inv.ctx.Spline.Evaluate(coefs, out.t, gh); err != nil {
		return err
	}
	ns := len(inv.stations)
	s := lay.station[d.series]
	out.dx = inv.prep.design.RawRowView(s)
	out.dy = inv.prep.design.RawRowView(ns + s)
	out.dz = inv.prep.design.RawRowView(2*ns + s)
	out.x = floats.Dot(out.dx, gh)
	out.y = floats.Dot(out.dy, gh)
	out.z = floats.Dot(out.dz, gh)
	return nil
}

// accumulate adds the contributions of interval tix to the normal
// equations (upper band storage) and right-hand side.
func (inv *Inversion) accumulate(tix int, coefs *mat.Dense, band blas64.SymmetricBand, rhs []float64, st *residualStats) error {
	nm := inv.ctx.NumCoefs
	gh := make([]float64, nm)
	row := make([]float64, nm)
	var w [bspline.Degree + 1]float64
	var pr prediction

	for _, d := range inv.prep.layout.bins[tix] {
		if err := inv.predict(d, coefs, gh, &pr); err != nil {
			return fmt.Errorf("interval %d: %w", tix, err)
		}
		r := frechet.Residual(pr.typ, pr.obs, pr.x, pr.y, pr.z)
		st.sum[pr.typ] += (r / pr.sigma) * (r / pr.sigma)
		st.count[pr.typ]++

		frechet.TypeRow(pr.typ, pr.x, pr.y, pr.z, pr.dx, pr.dy, pr.dz, row)
		first, nw := inv.ctx.Spline.Weights(tix, pr.t, w[:])
		invVar := 1 / (pr.sigma * pr.sigma)

		for a := 0; a < nw; a++ {
			wa := w[a] * invVar
			if wa == 0 {
				continue
			}
			ja := (first + a) * nm
			floats.AddScaled(rhs[ja:ja+nm], wa*r, row)
			for b := a; b < nw; b++ {
				wab := wa * w[b]
				if wab == 0 {
					continue
				}
				jb := (first + b) * nm
				for p := 0; p < nm; p++ {
					rp := wab * row[p]
					if rp == 0 {
						continue
					}
					ri := ja + p
					base := ri*band.Stride - ri
					q0 := 0
					if a == b {
						q0 = p
					}
					for q := q0; q < nm; q++ {
						band.Data[base+jb+q] += rp * row[q]
					}
				}
			}
		}
	}
	return nil
}

// residuals only gathers residual statistics for interval tix.
func (inv *Inversion) residuals(tix int, coefs *mat.Dense, st *residualStats) error {
	gh := make([]float64, inv.ctx.NumCoefs)
	var pr prediction
	for _, d := range inv.prep.layout.bins[tix] {
		if err := inv.predict(d, coefs, gh, &pr); err != nil {
			return fmt.Errorf("interval %d: %w", tix, err)
		}
		r := frechet.Residual(pr.typ, pr.obs, pr.x, pr.y, pr.z) / pr.sigma
		st.sum[pr.typ] += r * r
		st.count[pr.typ]++
	}
	return nil
}

// norms fills the spatial and temporal model norms of the final model.
// Norms are reported for both damping terms even when a factor is zero.
func (inv *Inversion) norms(res *Result) error {
	c := inv.ctx
	p := inv.prep
	final := res.Final()
	terms := []struct {
		d       Damping
		factors []float64
		dst     *float64
	}{
		{p.spatial, p.spatialFactors, &res.SpatialNorm},
		{p.temporal, p.temporalFactors, &res.TemporalNorm},
	}
	for _, term := range terms {
		factors := term.factors
		if factors == nil {
			factors = damping.Factors(term.d.Type, c.MaxDegree, term.d.DampDipole)
		}
		v, err := damping.Norm(factors, final, term.d.DDT, c.Step())
		if err != nil {
			return fmt.Errorf("model norm: %w", err)
		}
		*term.dst = v
	}
	return nil
}
