package inversion

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/banshee-data/geomag/internal/damping"
	"github.com/banshee-data/geomag/internal/frechet"
	"github.com/banshee-data/geomag/internal/shbasis"
	"github.com/banshee-data/geomag/internal/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func grid(start, step float64, n int) []float64 {
	g := make([]float64, n)
	for i := range g {
		g[i] = start + float64(i)*step
	}
	return g
}

// times returns start, start+step, ... up to and including end.
func times(start, step, end float64) []float64 {
	var out []float64
	for i := 0; ; i++ {
		t := start + float64(i)*step
		if t > end+1e-9 {
			return out
		}
		out = append(out, t)
	}
}

func constSeries(typ frechet.ObsType, ts []float64, value, sigma float64) Series {
	s := Series{Type: typ, Times: ts}
	for range ts {
		s.Values = append(s.Values, value)
		s.Errors = append(s.Errors, sigma)
	}
	return s
}

// fieldAt returns the field of coefs (constant in time) at rec's location.
func fieldAt(t *testing.T, rec Record, deg int, coefs []float64) (x, y, z float64) {
	t.Helper()
	nm := shbasis.NumGauss(deg)
	dx, dy, dz := make([]float64, nm), make([]float64, nm), make([]float64, nm)
	require.NoError(t, frechet.Rows(rec.station(), deg, DefaultRModel, dx, dy, dz))
	return floats.Dot(dx, coefs), floats.Dot(dy, coefs), floats.Dot(dz, coefs)
}

// polarStations returns three stations at colatitude 1° observing a
// constant Z.
func polarStations(ts []float64, z func(i int) float64) []Record {
	var recs []Record
	for k, lon := range []float64{0, 90, 180} {
		s := Series{Type: frechet.TypeZ, Times: ts}
		for i := range ts {
			s.Values = append(s.Values, z(i))
			s.Errors = append(s.Errors, 10)
		}
		recs = append(recs, Record{Name: fmt.Sprintf("pole-%d", k), Lat: 89, Lon: lon, Series: []Series{s}})
	}
	return recs
}

func mustInversion(t *testing.T, g []float64, deg int, opts Options, recs []Record) *Inversion {
	t.Helper()
	ctx, err := Configure(g, deg, opts)
	require.NoError(t, err)
	inv := New(ctx)
	for _, r := range recs {
		require.NoError(t, inv.AddStation(r))
	}
	return inv
}

func TestConfigure(t *testing.T) {
	ctx, err := Configure(grid(1900, 10, 11), 3, Options{})
	require.NoError(t, err)
	assert.Equal(t, 15, ctx.NumCoefs)
	assert.Equal(t, 13, ctx.NumSplines)
	assert.Equal(t, 13*15, ctx.SystemSize())
	assert.Equal(t, 4*15-1, ctx.Bandwidth())
	assert.Equal(t, 10.0, ctx.Step())
	assert.Equal(t, DefaultRModel, ctx.Options.RModel)
	assert.Equal(t, DefaultWorkers, ctx.Options.Workers)

	_, err = Configure(grid(1900, 10, 11), 0, Options{})
	assert.ErrorIs(t, err, ErrInvalidDegree)
	_, err = Configure([]float64{1900}, 1, Options{})
	assert.Error(t, err)
	_, err = Configure([]float64{1900, 1910, 1925}, 1, Options{})
	assert.Error(t, err)
	_, err = Configure([]float64{2000, 1990, 1980}, 1, Options{})
	assert.Error(t, err)
	_, err = Configure(grid(1900, 10, 3), 1, Options{Tolerance: -1})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = Configure(grid(1900, 10, 3), 1, Options{RModel: -5})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestRecordValidate(t *testing.T) {
	good := Record{Name: "ok", Lat: 10, Lon: 20, Series: []Series{constSeries(frechet.TypeZ, []float64{2000}, 1, 1)}}
	require.NoError(t, good.Validate())

	tests := map[string]func(r *Record){
		"no series":    func(r *Record) { r.Series = nil },
		"latitude":     func(r *Record) { r.Lat = 95 },
		"nan lon":      func(r *Record) { r.Lon = math.NaN() },
		"empty":        func(r *Record) { r.Series = []Series{{Type: frechet.TypeX}} },
		"lengths":      func(r *Record) { r.Series = []Series{{Type: frechet.TypeX, Times: []float64{1, 2}, Values: []float64{1}, Errors: []float64{1, 1}}} },
		"zero sigma":   func(r *Record) { r.Series = []Series{constSeries(frechet.TypeX, []float64{2000}, 1, 0)} },
		"nan value":    func(r *Record) { r.Series = []Series{constSeries(frechet.TypeX, []float64{2000}, math.NaN(), 1)} },
		"bad type":     func(r *Record) { r.Series = []Series{constSeries(frechet.ObsType(9), []float64{2000}, 1, 1)} },
		"nan time":     func(r *Record) { r.Series = []Series{constSeries(frechet.TypeX, []float64{math.NaN()}, 1, 1)} },
		"inf sigma":    func(r *Record) { r.Series = []Series{constSeries(frechet.TypeX, []float64{2000}, 1, math.Inf(1))} },
		"inf height":   func(r *Record) { r.Height = math.Inf(-1) },
		"nan latitude": func(r *Record) { r.Lat = math.NaN() },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := good
			mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidRecord)
		})
	}
}

func TestAddStation_RejectsOutOfRange(t *testing.T) {
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{}, nil)

	before := Record{Name: "early", Lat: 50, Lon: 5, Series: []Series{
		constSeries(frechet.TypeZ, []float64{1700, 1750, 1800}, 40000, 10),
	}}
	err := inv.AddStation(before)
	assert.ErrorIs(t, err, ErrNoCoverage)
	assert.Equal(t, 0, inv.NumStations())

	// One bad series rejects the whole record.
	mixed := Record{Name: "mixed", Lat: 50, Lon: 5, Series: []Series{
		constSeries(frechet.TypeZ, []float64{1950}, 40000, 10),
		constSeries(frechet.TypeX, []float64{2100}, 20000, 10),
	}}
	assert.ErrorIs(t, inv.AddStation(mixed), ErrNoCoverage)
	assert.Equal(t, 0, inv.NumStations())

	// Partial overlap with the padded knots is accepted.
	edge := Record{Name: "edge", Lat: 50, Lon: 5, Series: []Series{
		constSeries(frechet.TypeZ, []float64{1850, 1880}, 40000, 10),
	}}
	require.NoError(t, inv.AddStation(edge))
	assert.Equal(t, []string{"edge"}, inv.Names())
}

func TestRun_FailsBeforePrepare(t *testing.T) {
	inv := mustInversion(t, grid(1900, 10, 3), 1, Options{}, polarStations(times(1900, 2, 1920), func(int) float64 { return 1 }))
	_, err := inv.Run([]float64{0, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrNotPrepared)

	empty := mustInversion(t, grid(1900, 10, 3), 1, Options{}, nil)
	assert.ErrorIs(t, empty.Prepare(DefaultPrepareOptions()), ErrNoData)

	// Adding data after Prepare requires another Prepare.
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))
	assert.True(t, inv.Prepared())
	require.NoError(t, inv.AddStation(polarStations([]float64{1905}, func(int) float64 { return 1 })[0]))
	assert.False(t, inv.Prepared())
	_, err = inv.Run([]float64{0, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestRun_StartModelShape(t *testing.T) {
	recs := polarStations(times(1900, 2.5, 2000), func(int) float64 { return 50000 })
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))

	_, err := inv.Run([]float64{1, 2}, 1)
	assert.ErrorIs(t, err, ErrStartModelShape)
	_, err = inv.Run(make([]float64, 13*3+1), 1)
	assert.ErrorIs(t, err, ErrStartModelShape)
	_, err = inv.Run([]float64{0, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrIterations)

	full := make([]float64, 13*3)
	for j := 0; j < 13; j++ {
		full[j*3] = -20000 - float64(j)
	}
	res, err := inv.Run(full, 1)
	require.NoError(t, err)
	assert.Equal(t, -20005.0, res.Start.At(5, 0))
	assert.Equal(t, 0.0, res.Start.At(5, 1))
}

func TestStartModel_Broadcast(t *testing.T) {
	m, err := startModel([]float64{1, 2, 3}, 4, 3)
	require.NoError(t, err)
	for j := 0; j < 4; j++ {
		assert.Equal(t, []float64{1, 2, 3}, mat.Row(nil, j, m))
	}
}

func TestRun_EmptyInterval(t *testing.T) {
	recs := polarStations(times(1900, 2, 1950), func(int) float64 { return 50000 })
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))
	_, err := inv.Run([]float64{0, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrEmptyInterval)
}

func TestRun_SingularWithoutDamping(t *testing.T) {
	// A single station at longitude 0 has no sensitivity to h11.
	recs := polarStations(times(1900, 2.5, 2000), func(int) float64 { return 50000 })[:1]
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))
	_, err := inv.Run([]float64{0, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrSingularSystem)
}

func TestRun_PolarZRecoversAxialDipole(t *testing.T) {
	const zObs = 50000.0
	recs := polarStations(times(1900, 2.5, 2000), func(int) float64 { return zObs })
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{Workers: 3}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))

	res, err := inv.Run([]float64{0, 0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations())
	assert.False(t, res.Converged)

	want := -zObs / (2 * math.Cos(units.DegToRad(1)))
	for _, it := range []int{1, 2, -1} {
		gh, err := res.GridCoefficients(it)
		require.NoError(t, err)
		for i := range res.Grid {
			assert.InDeltaf(t, want, gh.At(i, 0), 1e-3, "g10 at %v, iteration %d", res.Grid[i], it)
			assert.InDeltaf(t, 0, gh.At(i, 1), 1e-3, "g11 at %v", res.Grid[i])
			assert.InDeltaf(t, 0, gh.At(i, 2), 1e-3, "h11 at %v", res.Grid[i])
		}
	}

	require.Len(t, res.Residuals, 3)
	first := res.Residuals[0]
	assert.Equal(t, 0, first.Iteration)
	assert.InDelta(t, zObs/10, first.RMS[frechet.TypeZ], 1e-9)
	assert.InDelta(t, zObs/10, first.Total, 1e-9)
	assert.Equal(t, 0.0, first.RMS[frechet.TypeX])
	assert.Less(t, res.Residuals[1].Total, 1e-4)
	assert.Equal(t, 2, res.FinalResidual().Iteration)
	assert.Less(t, res.FinalResidual().Total, 1e-4)
	assert.Len(t, first.Values(), 8)

	assert.Equal(t, 41*3, res.Counts[frechet.TypeZ])
	assert.Equal(t, 0, res.Outside)

	n, k := res.NormalBand.SymBand()
	assert.Equal(t, 39, n)
	assert.Equal(t, 11, k)

	_, err = res.CoefficientsAt(3, res.Grid)
	assert.Error(t, err)
	start, err := res.CoefficientsAt(0, []float64{1950})
	require.NoError(t, err)
	assert.Equal(t, 0.0, start.At(0, 0))
}

func TestRun_TemporalDampingKeepsConstantModel(t *testing.T) {
	const zObs = 50000.0
	recs := polarStations(times(1900, 2.5, 2000), func(int) float64 { return zObs })
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{}, recs)

	opts := DefaultPrepareOptions()
	opts.Temporal.Factor = 1e-2
	opts.Spatial.Factor = 1e-6
	require.NoError(t, inv.Prepare(opts))

	res, err := inv.Run([]float64{0, 0, 0}, 1)
	require.NoError(t, err)
	want := -zObs / (2 * math.Cos(units.DegToRad(1)))
	gh, err := res.GridCoefficients(-1)
	require.NoError(t, err)
	for i := range res.Grid {
		assert.InDelta(t, want, gh.At(i, 0), 1e-2)
	}
	assert.InDelta(t, 0, res.TemporalNorm, 1e-3)
	// Gubbins without the dipole has nothing to damp at degree 1.
	assert.Equal(t, 0.0, res.SpatialNorm)
	assert.NotZero(t, sumBand(res.DampingBand))
}

func sumBand(b *mat.SymBandDense) float64 {
	var s float64
	for _, v := range b.RawSymBand().Data {
		s += math.Abs(v)
	}
	return s
}

func TestRun_ToleranceStopsEarly(t *testing.T) {
	// Inconsistent data leave a residual floor the linear problem reaches
	// in one step.
	recs := polarStations(times(1900, 2.5, 2000), func(i int) float64 {
		return 50000 + 100*float64(1-2*(i%2))
	})
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{Tolerance: 1e-6}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))

	res, err := inv.Run([]float64{0, 0, 0}, 10)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Iterations())
	require.Len(t, res.Residuals, 3)
	assert.Greater(t, res.FinalResidual().Total, 1.0)
	assert.Equal(t, 2, res.FinalResidual().Iteration)
}

func globalStations() []Record {
	var recs []Record
	for _, lat := range []float64{60, 30, 0, -30, -60} {
		for _, lon := range []float64{0, 120, 240} {
			recs = append(recs, Record{
				Name:     fmt.Sprintf("%+.0f/%03.0f", lat, lon),
				Lat:      lat,
				Lon:      lon,
				Height:   100 * float64(len(recs)%3),
				Geodetic: len(recs)%2 == 0,
			})
		}
	}
	return recs
}

func TestRun_SingleHarmonicRecovery(t *testing.T) {
	const deg = 2
	truth := make([]float64, shbasis.NumGauss(deg))
	truth[shbasis.GaussIndex(2, 1, false)] = 800

	ts := times(2000, 1, 2020)
	recs := globalStations()
	for i := range recs {
		x, y, z := fieldAt(t, recs[i], deg, truth)
		recs[i].Series = []Series{
			constSeries(frechet.TypeX, ts, x, 1),
			constSeries(frechet.TypeY, ts, y, 1),
			constSeries(frechet.TypeZ, ts, z, 1),
		}
	}
	inv := mustInversion(t, grid(2000, 5, 5), deg, Options{}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))

	res, err := inv.Run(make([]float64, len(truth)), 1)
	require.NoError(t, err)
	gh, err := res.GridCoefficients(-1)
	require.NoError(t, err)
	for i := range res.Grid {
		for k, want := range truth {
			assert.InDeltaf(t, want, gh.At(i, k), 1e-6, "%s at %v", shbasis.GaussLabel(k), res.Grid[i])
		}
	}
	assert.Less(t, res.FinalResidual().Total, 1e-6)
}

func TestRun_DerivedTypesConverge(t *testing.T) {
	const deg = 2
	truth := []float64{-29000, -1500, 4800, -2400, 3000, -2700, 1650, -500}

	ts := times(2000, 1, 2020)
	recs := globalStations()
	for i := range recs {
		x, y, z := fieldAt(t, recs[i], deg, truth)
		recs[i].Series = []Series{
			constSeries(frechet.TypeIntensity, ts, frechet.Predict(frechet.TypeIntensity, x, y, z), 5),
			constSeries(frechet.TypeHorizontal, ts, frechet.Predict(frechet.TypeHorizontal, x, y, z), 5),
			constSeries(frechet.TypeInclination, ts, units.RadToDeg(frechet.Predict(frechet.TypeInclination, x, y, z)), 0.1),
			constSeries(frechet.TypeDeclination, ts, units.RadToDeg(frechet.Predict(frechet.TypeDeclination, x, y, z)), 0.1),
		}
	}
	inv := mustInversion(t, grid(2000, 5, 5), deg, Options{}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))

	x0 := make([]float64, len(truth))
	for k, v := range truth {
		x0[k] = v * (1 + 0.05*float64(1-2*(k%2)))
	}
	res, err := inv.Run(x0, 6)
	require.NoError(t, err)

	gh, err := res.GridCoefficients(-1)
	require.NoError(t, err)
	for i := range res.Grid {
		for k, want := range truth {
			assert.InDeltaf(t, want, gh.At(i, k), 1e-3, "%s at %v", shbasis.GaussLabel(k), res.Grid[i])
		}
	}
	for i := 1; i < len(res.Residuals); i++ {
		assert.LessOrEqualf(t, res.Residuals[i].Total, res.Residuals[0].Total, "row %d", i)
	}
	assert.Greater(t, res.Residuals[0].RMS[frechet.TypeDeclination], 0.0)
	assert.Less(t, res.FinalResidual().Total, 1e-6)
}

func TestPrepare_Provider(t *testing.T) {
	recs := polarStations(times(1900, 2.5, 2000), func(int) float64 { return 50000 })
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{}, recs)

	var calls []damping.Params
	opts := DefaultPrepareOptions()
	opts.Spatial.Factor = 1e-3
	opts.Provider = func(p damping.Params) (*mat.SymBandDense, []float64, error) {
		calls = append(calls, p)
		return damping.Build(p)
	}
	require.NoError(t, inv.Prepare(opts))
	require.Len(t, calls, 1)
	assert.Equal(t, damping.Gubbins, calls[0].Type)
	assert.Equal(t, 0, calls[0].DDT)
	assert.Equal(t, 13, calls[0].NumSplines)
	assert.Equal(t, 10.0, calls[0].Step)
	assert.Equal(t, 1e-3, calls[0].Factor)

	boom := errors.New("boom")
	opts.Provider = func(damping.Params) (*mat.SymBandDense, []float64, error) { return nil, nil, boom }
	assert.ErrorIs(t, inv.Prepare(opts), boom)
	assert.False(t, inv.Prepared())

	opts.Provider = func(damping.Params) (*mat.SymBandDense, []float64, error) {
		return mat.NewSymBandDense(5, 1, nil), nil, nil
	}
	assert.Error(t, inv.Prepare(opts))
}

func TestLayout_PadsWithNaN(t *testing.T) {
	inv := mustInversion(t, grid(1900, 10, 3), 1, Options{}, []Record{{
		Name: "a", Lat: 10, Series: []Series{
			constSeries(frechet.TypeX, []float64{1900, 1905, 1915, 1925}, 1, 1),
			constSeries(frechet.TypeDeclination, []float64{1912}, 90, 2),
		},
	}})
	lay := inv.data.finalize(inv.ctx.Spline)
	r, c := lay.times.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 4, c)
	assert.True(t, math.IsNaN(lay.times.At(1, 1)))
	assert.InDelta(t, math.Pi/2, lay.values.At(1, 0), 1e-12)
	assert.InDelta(t, units.DegToRad(2), lay.errs.At(1, 0), 1e-12)
	assert.Equal(t, []frechet.ObsType{frechet.TypeX, frechet.TypeDeclination}, lay.types)
	assert.Len(t, lay.bins, 2)
	assert.Len(t, lay.bins[0], 2)
	assert.Len(t, lay.bins[1], 2)
	// 1925 lies after the last epoch.
	assert.Equal(t, 1, lay.outside)
	assert.Equal(t, 3, lay.counts[frechet.TypeX])
}

func TestRun_DataEndingBeforeLastEpoch(t *testing.T) {
	const zObs = 50000.0
	recs := polarStations(times(1900, 2.5, 1997.5), func(int) float64 { return zObs })
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))

	res, err := inv.Run([]float64{0, 0, 0}, 1)
	require.NoError(t, err)
	want := -zObs / (2 * math.Cos(units.DegToRad(1)))
	gh, err := res.GridCoefficients(-1)
	require.NoError(t, err)
	for i := range res.Grid {
		assert.InDeltaf(t, want, gh.At(i, 0), 1e-3, "g10 at %v", res.Grid[i])
	}
	assert.Equal(t, 0, res.Outside)
	assert.Less(t, res.FinalResidual().Total, 1e-4)
}

func TestRun_DataAfterLastEpochIgnored(t *testing.T) {
	const zObs = 50000.0
	recs := polarStations(times(1900, 2.5, 2007.5), func(int) float64 { return zObs })
	inv := mustInversion(t, grid(1900, 10, 11), 1, Options{}, recs)
	require.NoError(t, inv.Prepare(DefaultPrepareOptions()))

	res, err := inv.Run([]float64{0, 0, 0}, 1)
	require.NoError(t, err)
	// 2002.5, 2005 and 2007.5 at each of the three stations.
	assert.Equal(t, 9, res.Outside)
	assert.Equal(t, 41*3, res.Counts[frechet.TypeZ])

	want := -zObs / (2 * math.Cos(units.DegToRad(1)))
	gh, err := res.GridCoefficients(-1)
	require.NoError(t, err)
	for i := range res.Grid {
		assert.InDeltaf(t, want, gh.At(i, 0), 1e-3, "g10 at %v", res.Grid[i])
	}
	assert.Less(t, res.FinalResidual().Total, 1e-4)
}
