package frechet

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/geomag/internal/shbasis"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"
)

const a = 6371.2

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestRows_AxialDipole(t *testing.T) {
	st := Geocentric(0.5, 0.3, a)
	nm := shbasis.NumGauss(1)
	x, y, z := make([]float64, nm), make([]float64, nm), make([]float64, nm)
	if err := Rows(st, 1, a, x, y, z); err != nil {
		t.Fatalf("Rows: %v", err)
	}
	g10 := -30000.0
	if got, want := g10*x[0], 30000*math.Sin(0.5); math.Abs(got-want) > 1e-9 {
		t.Errorf("X = %v, want %v", got, want)
	}
	if y[0] != 0 {
		t.Errorf("∂Y/∂g10 = %v, want 0", y[0])
	}
	if got, want := g10*z[0], 60000*math.Cos(0.5); math.Abs(got-want) > 1e-9 {
		t.Errorf("Z = %v, want %v", got, want)
	}
}

func TestRows_RadialScaling(t *testing.T) {
	nm := shbasis.NumGauss(2)
	x1, y1, z1 := make([]float64, nm), make([]float64, nm), make([]float64, nm)
	x2, y2, z2 := make([]float64, nm), make([]float64, nm), make([]float64, nm)
	if err := Rows(Geocentric(1.0, 0.7, a), 2, a, x1, y1, z1); err != nil {
		t.Fatal(err)
	}
	if err := Rows(Geocentric(1.0, 0.7, 2*a), 2, a, x2, y2, z2); err != nil {
		t.Fatal(err)
	}
	for k := 0; k < nm; k++ {
		n := shbasis.GaussDegree(k)
		f := math.Pow(0.5, float64(n+2))
		if math.Abs(z2[k]-f*z1[k]) > 1e-12 {
			t.Errorf("column %s: Z at 2a = %v, want %v", shbasis.GaussLabel(k), z2[k], f*z1[k])
		}
		if math.Abs(y2[k]-f*y1[k]) > 1e-12 {
			t.Errorf("column %s: Y at 2a = %v, want %v", shbasis.GaussLabel(k), y2[k], f*y1[k])
		}
	}
}

func TestRows_GeodeticCorrection(t *testing.T) {
	nm := shbasis.NumGauss(3)
	gx, gy, gz := make([]float64, nm), make([]float64, nm), make([]float64, nm)
	if err := Rows(Geocentric(0.9, -1.2, a), 3, a, gx, gy, gz); err != nil {
		t.Fatal(err)
	}

	// cd=1, sd=0 is the identity.
	ix, iy, iz := make([]float64, nm), make([]float64, nm), make([]float64, nm)
	st := Station{Colat: 0.9, Lon: -1.2, Radius: a, CD: 1, SD: 0}
	if err := Rows(st, 3, a, ix, iy, iz); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(gx, ix); diff != "" {
		t.Errorf("X changed by identity correction (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(gz, iz); diff != "" {
		t.Errorf("Z changed by identity correction (-want +got):\n%s", diff)
	}

	ang := 0.0033
	st.CD, st.SD = math.Cos(ang), math.Sin(ang)
	rx, ry, rz := make([]float64, nm), make([]float64, nm), make([]float64, nm)
	if err := Rows(st, 3, a, rx, ry, rz); err != nil {
		t.Fatal(err)
	}
	wantX := make([]float64, nm)
	wantZ := make([]float64, nm)
	for k := range wantX {
		wantX[k] = st.CD*gx[k] + st.SD*gz[k]
		wantZ[k] = st.CD*gz[k] - st.SD*gx[k]
	}
	if diff := cmp.Diff(wantX, rx, approx); diff != "" {
		t.Errorf("rotated X (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantZ, rz, approx); diff != "" {
		t.Errorf("rotated Z (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(gy, ry); diff != "" {
		t.Errorf("Y must not rotate (-want +got):\n%s", diff)
	}
}

func TestRows_Errors(t *testing.T) {
	x := make([]float64, 3)
	if err := Rows(Geocentric(1, 0, a), 0, a, x, x, x); !errors.Is(err, ErrInvalidDegree) {
		t.Errorf("degree 0: got %v", err)
	}
	if err := Rows(Geocentric(1, 0, 0), 1, a, x, x, x); !errors.Is(err, ErrBadRadius) {
		t.Errorf("zero radius: got %v", err)
	}
	if err := Rows(Geocentric(1, 0, a), 2, a, x, x, x); !errors.Is(err, ErrShape) {
		t.Errorf("short rows: got %v", err)
	}
	if _, err := DesignMatrix(nil, 1, a); !errors.Is(err, ErrNoStations) {
		t.Errorf("no stations: got %v", err)
	}
	if _, err := DesignMatrix([]Station{Geocentric(1, 0, a)}, 0, a); !errors.Is(err, ErrInvalidDegree) {
		t.Errorf("design degree 0: got %v", err)
	}
	if _, err := DesignMatrix([]Station{Geocentric(1, 0, a), Geocentric(1, 0, -1)}, 1, a); !errors.Is(err, ErrBadRadius) {
		t.Errorf("design negative radius: got %v", err)
	}
}

func TestDesignMatrix_Layout(t *testing.T) {
	tilted := Station{Colat: 0.9, Lon: -0.5, Radius: a + 2, CD: math.Cos(0.003), SD: math.Sin(0.003)}
	stations := []Station{Geocentric(0.4, 0.1, a), Geocentric(1.3, 2.0, a), tilted}
	d, err := DesignMatrix(stations, 2, a)
	if err != nil {
		t.Fatal(err)
	}
	r, c := d.Dims()
	if r != 9 || c != 8 {
		t.Fatalf("dims = %d×%d, want 9×8", r, c)
	}
	nm := shbasis.NumGauss(2)
	for s, st := range stations {
		x, y, z := make([]float64, nm), make([]float64, nm), make([]float64, nm)
		if err := Rows(st, 2, a, x, y, z); err != nil {
			t.Fatal(err)
		}
		for comp, want := range [][]float64{x, y, z} {
			got := mat.Row(nil, comp*3+s, d)
			if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
				t.Errorf("component %d row of station %d (-want +got):\n%s", comp, s, diff)
			}
		}
	}
}

func TestForward_SingleHarmonicRecovery(t *testing.T) {
	var stations []Station
	for _, colat := range []float64{0.3, 0.9, 1.5, 2.1, 2.7} {
		for _, lon := range []float64{-2.5, 0.2, 1.9} {
			stations = append(stations, Geocentric(colat, lon, a+float64(len(stations))))
		}
	}
	d, err := DesignMatrix(stations, 2, a)
	if err != nil {
		t.Fatal(err)
	}
	coefs := make([]float64, shbasis.NumGauss(2))
	coefs[shbasis.GaussIndex(2, 1, true)] = 750

	x, y, z, err := Forward(coefs, d)
	if err != nil {
		t.Fatal(err)
	}
	obs := append(append(append([]float64{}, x...), y...), z...)

	var got mat.VecDense
	if err := got.SolveVec(d, mat.NewVecDense(len(obs), obs)); err != nil {
		t.Fatalf("least squares: %v", err)
	}
	if diff := cmp.Diff(coefs, got.RawVector().Data, cmpopts.EquateApprox(0, 1e-8)); diff != "" {
		t.Errorf("recovered coefficients (-want +got):\n%s", diff)
	}
}

func TestForward_Shape(t *testing.T) {
	d := mat.NewDense(6, 3, nil)
	if _, _, _, err := Forward([]float64{1, 2}, d); !errors.Is(err, ErrShape) {
		t.Errorf("short coefficients: got %v", err)
	}
	if _, _, _, err := Forward([]float64{1, 2, 3}, mat.NewDense(4, 3, nil)); !errors.Is(err, ErrShape) {
		t.Errorf("rows not multiple of 3: got %v", err)
	}
	x, y, z, err := Forward([]float64{1, 2, 3}, d)
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 2 || len(y) != 2 || len(z) != 2 {
		t.Errorf("component lengths %d %d %d, want 2", len(x), len(y), len(z))
	}
}
