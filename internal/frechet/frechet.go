// Package frechet builds the linear forward operator that maps Gauss
// coefficients to the geomagnetic field components X (north), Y (east)
// and Z (down) at a set of stations, and the nonlinear derived quantities
// observed in practice (H, F, I, D).
package frechet

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/geomag/internal/geodesy"
	"github.com/banshee-data/geomag/internal/shbasis"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidDegree = errors.New("maximum degree must be at least 1")
	ErrNoStations    = errors.New("no stations given")
	ErrBadRadius     = errors.New("station radius must be positive")
	ErrShape         = errors.New("shape mismatch")
)

// Station is a location in the geocentric frame. CD and SD are the cosine
// and sine of the rotation from geocentric to geodetic vertical; a
// geocentric station uses CD=1, SD=0.
type Station struct {
	Colat  float64 // radians
	Lon    float64 // radians
	Radius float64 // km
	CD, SD float64
}

// Geocentric returns a station that needs no frame rotation.
func Geocentric(colat, lon, radius float64) Station {
	return Station{Colat: colat, Lon: lon, Radius: radius, CD: 1}
}

// Rows fills x, y and z (each of length shbasis.NumGauss(maxDegree)) with
// the partial derivatives of the field components at st with respect to
// every Gauss coefficient. The X and Z rows are rotated into the
// station's geodetic frame. Partials are of the field, not the potential,
// so degree n scales as (rModel/r)^(n+2).
func Rows(st Station, maxDegree int, rModel float64, x, y, z []float64) error {
	if err := checkStation(st, maxDegree); err != nil {
		return err
	}
	nm := shbasis.NumGauss(maxDegree)
	if len(x) != nm || len(y) != nm || len(z) != nm {
		return fmt.Errorf("%w: rows need length %d", ErrShape, nm)
	}
	p := make([]float64, shbasis.Count(maxDegree))
	dp := make([]float64, len(p))
	shbasis.Row(maxDegree, st.Colat, p, dp)
	fill(st, maxDegree, rModel, p, dp, x, y, z)
	return nil
}

func checkStation(st Station, maxDegree int) error {
	if maxDegree < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidDegree, maxDegree)
	}
	if !(st.Radius > 0) {
		return fmt.Errorf("%w: got %g", ErrBadRadius, st.Radius)
	}
	return nil
}

// fill writes the rows of st from its Schmidt functions p and dP/dθ dp.
func fill(st Station, maxDegree int, rModel float64, p, dp, x, y, z []float64) {
	sinTheta := math.Sin(st.Colat)
	ratio := rModel / st.Radius
	scale := ratio * ratio
	for n := 1; n <= maxDegree; n++ {
		scale *= ratio // (a/r)^(n+2)
		fn := float64(n + 1)
		for m := 0; m <= n; m++ {
			k := shbasis.Index(n, m)
			cm := math.Cos(float64(m) * st.Lon)
			sm := math.Sin(float64(m) * st.Lon)

			g := shbasis.GaussIndex(n, m, false)
			x[g] = scale * cm * dp[k]
			y[g] = scale * float64(m) * sm * p[k] / sinTheta
			z[g] = -fn * scale * cm * p[k]
			if m == 0 {
				// Y has no m=0 dependence; avoid 0/0 at the poles.
				y[g] = 0
				continue
			}
			h := shbasis.GaussIndex(n, m, true)
			x[h] = scale * sm * dp[k]
			y[h] = -scale * float64(m) * cm * p[k] / sinTheta
			z[h] = -fn * scale * sm * p[k]
		}
	}
	geodesy.RotateRows(x, z, st.CD, st.SD)
}

// DesignMatrix returns the (3·len(stations)) × NumGauss(maxDegree) Fréchet
// matrix. Row s holds ∂X, row S+s ∂Y and row 2S+s ∂Z of station s, with
// partials scaled by (rModel/r)^(n+2).
func DesignMatrix(stations []Station, maxDegree int, rModel float64) (*mat.Dense, error) {
	if len(stations) == 0 {
		return nil, ErrNoStations
	}
	colat := make([]float64, len(stations))
	for s, st := range stations {
		if err := checkStation(st, maxDegree); err != nil {
			return nil, fmt.Errorf("station %d: %w", s, err)
		}
		colat[s] = st.Colat
	}
	p, dp, err := shbasis.Schmidt(maxDegree, colat)
	if err != nil {
		return nil, err
	}

	nm := shbasis.NumGauss(maxDegree)
	ns := len(stations)
	out := mat.NewDense(3*ns, nm, nil)
	for s, st := range stations {
		fill(st, maxDegree, rModel, p.RawRowView(s), dp.RawRowView(s),
			out.RawRowView(s), out.RawRowView(ns+s), out.RawRowView(2*ns+s))
	}
	return out, nil
}

// Forward evaluates the field of coefs at every station of design and
// returns the X, Y and Z components.
func Forward(coefs []float64, design mat.Matrix) (x, y, z []float64, err error) {
	r, c := design.Dims()
	if len(coefs) != c {
		return nil, nil, nil, fmt.Errorf("%w: %d coefficients for %d columns", ErrShape, len(coefs), c)
	}
	if r%3 != 0 {
		return nil, nil, nil, fmt.Errorf("%w: %d rows is not a multiple of 3", ErrShape, r)
	}
	var v mat.VecDense
	v.MulVec(design, mat.NewVecDense(c, coefs))
	raw := v.RawVector().Data
	ns := r / 3
	out := make([]float64, r)
	copy(out, raw)
	return out[:ns:ns], out[ns : 2*ns : 2*ns], out[2*ns:], nil
}
