// Package testutil provides shared test helpers and synthetic station data.
//
// The builders produce records whose observations follow a known, constant
// Gauss coefficient vector, so packages above the inversion engine can run
// small end-to-end inversions with predictable results.
package testutil

import (
	"fmt"
	"math"
	"testing"

	"github.com/banshee-data/geomag/internal/frechet"
	"github.com/banshee-data/geomag/internal/geodesy"
	"github.com/banshee-data/geomag/internal/inversion"
	"github.com/banshee-data/geomag/internal/shbasis"
	"github.com/banshee-data/geomag/internal/units"
	"gonum.org/v1/gonum/floats"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertClose fails the test if got and want differ by more than tol.
func AssertClose(t testing.TB, name string, got, want, tol float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > tol {
		t.Errorf("%s = %g, want %g ± %g", name, got, want, tol)
	}
}

// Times returns start, start+step, … up to and including end.
func Times(start, step, end float64) []float64 {
	var out []float64
	for i := 0; ; i++ {
		t := start + float64(i)*step
		if t > end+1e-9*step {
			return out
		}
		out = append(out, t)
	}
}

// Grid returns n epochs from start spaced by step.
func Grid(start, step float64, n int) []float64 {
	g := make([]float64, n)
	for i := range g {
		g[i] = start + float64(i)*step
	}
	return g
}

// ConstSeries returns a series holding value at every time.
func ConstSeries(typ frechet.ObsType, ts []float64, value, sigma float64) inversion.Series {
	s := inversion.Series{Type: typ, Times: append([]float64(nil), ts...)}
	for range ts {
		s.Values = append(s.Values, value)
		s.Errors = append(s.Errors, sigma)
	}
	return s
}

// GlobalSites are spherical coordinates (lat, lon in degrees) spread over
// the globe densely enough to resolve degree 2 from vector data.
var GlobalSites = [][2]float64{
	{-60, 0}, {-60, 120}, {-60, 240},
	{-20, 60}, {-20, 180}, {-20, 300},
	{20, 0}, {20, 120}, {20, 240},
	{60, 60}, {60, 180}, {60, 300},
}

// VectorRecords returns one geocentric record per GlobalSites entry with
// X, Y and Z series at times ts, computed from the constant Gauss vector
// coefs of degree maxDegree at the reference radius.
func VectorRecords(coefs []float64, maxDegree int, ts []float64, sigma float64) ([]inversion.Record, error) {
	nm := shbasis.NumGauss(maxDegree)
	if len(coefs) != nm {
		return nil, fmt.Errorf("want %d coefficients, got %d", nm, len(coefs))
	}
	dx, dy, dz := make([]float64, nm), make([]float64, nm), make([]float64, nm)
	recs := make([]inversion.Record, 0, len(GlobalSites))
	for i, site := range GlobalSites {
		st := frechet.Geocentric(math.Pi/2-units.DegToRad(site[0]), units.DegToRad(site[1]), geodesy.ReferenceRadius)
		if err := frechet.Rows(st, maxDegree, geodesy.ReferenceRadius, dx, dy, dz); err != nil {
			return nil, err
		}
		recs = append(recs, inversion.Record{
			Name: fmt.Sprintf("site-%02d", i),
			Lat:  site[0],
			Lon:  site[1],
			Series: []inversion.Series{
				ConstSeries(frechet.TypeX, ts, floats.Dot(dx, coefs), sigma),
				ConstSeries(frechet.TypeY, ts, floats.Dot(dy, coefs), sigma),
				ConstSeries(frechet.TypeZ, ts, floats.Dot(dz, coefs), sigma),
			},
		})
	}
	return recs, nil
}

// AxialDipole returns a degree-maxDegree Gauss vector holding only g10.
func AxialDipole(g10 float64, maxDegree int) []float64 {
	c := make([]float64, shbasis.NumGauss(maxDegree))
	c[0] = g10
	return c
}
