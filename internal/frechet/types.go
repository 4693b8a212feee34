package frechet

import (
	"fmt"
	"math"
	"strings"
)

// ObsType identifies the observed quantity of a datum.
type ObsType int

const (
	// TypeX is the northward component (nT).
	TypeX ObsType = iota
	// TypeY is the eastward component (nT).
	TypeY
	// TypeZ is the downward component (nT).
	TypeZ
	// TypeHorizontal is the horizontal intensity √(X²+Y²) (nT).
	TypeHorizontal
	// TypeIntensity is the total intensity √(X²+Y²+Z²) (nT).
	TypeIntensity
	// TypeInclination is atan2(Z, H) in radians.
	TypeInclination
	// TypeDeclination is atan2(Y, X) in radians.
	TypeDeclination
)

// NumTypes is the number of observation types.
const NumTypes = 7

var typeNames = [NumTypes]string{"x", "y", "z", "hor", "int", "inc", "dec"}

func (t ObsType) String() string {
	if t < 0 || int(t) >= NumTypes {
		return fmt.Sprintf("ObsType(%d)", int(t))
	}
	return typeNames[t]
}

// Angular reports whether values of t are angles.
func (t ObsType) Angular() bool {
	return t == TypeInclination || t == TypeDeclination
}

// ParseType accepts the short names used in data files: x, y, z, hor/h,
// int/f, inc/i, dec/d (case-insensitive).
func ParseType(s string) (ObsType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return TypeX, nil
	case "y":
		return TypeY, nil
	case "z":
		return TypeZ, nil
	case "hor", "h":
		return TypeHorizontal, nil
	case "int", "f":
		return TypeIntensity, nil
	case "inc", "i":
		return TypeInclination, nil
	case "dec", "d":
		return TypeDeclination, nil
	}
	return 0, fmt.Errorf("unknown observation type %q", s)
}

// Predict returns the value of type t for field components x, y, z.
func Predict(t ObsType, x, y, z float64) float64 {
	switch t {
	case TypeX:
		return x
	case TypeY:
		return y
	case TypeZ:
		return z
	case TypeHorizontal:
		return math.Hypot(x, y)
	case TypeIntensity:
		return math.Sqrt(x*x + y*y + z*z)
	case TypeInclination:
		return math.Atan2(z, math.Hypot(x, y))
	case TypeDeclination:
		return math.Atan2(y, x)
	}
	return math.NaN()
}

// Residual returns observed minus the prediction of type t from x, y, z.
// Declination residuals are wrapped into (−π, π].
func Residual(t ObsType, observed, x, y, z float64) float64 {
	r := observed - Predict(t, x, y, z)
	if t == TypeDeclination {
		r = WrapAngle(r)
	}
	return r
}

// WrapAngle maps a into (−π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// TypeRow writes into dst the linearised sensitivity of type t to the
// coefficients, given the current field x, y, z and the component rows
// dx, dy, dz. Rows that are undefined for a vanishing field (H = 0 or
// F = 0) are zero.
func TypeRow(t ObsType, x, y, z float64, dx, dy, dz, dst []float64) {
	switch t {
	case TypeX:
		copy(dst, dx)
		return
	case TypeY:
		copy(dst, dy)
		return
	case TypeZ:
		copy(dst, dz)
		return
	}

	h2 := x*x + y*y
	f2 := h2 + z*z
	h := math.Sqrt(h2)
	f := math.Sqrt(f2)
	for k := range dst {
		switch t {
		case TypeHorizontal:
			if h == 0 {
				dst[k] = 0
				continue
			}
			dst[k] = (x*dx[k] + y*dy[k]) / h
		case TypeIntensity:
			if f == 0 {
				dst[k] = 0
				continue
			}
			dst[k] = (x*dx[k] + y*dy[k] + z*dz[k]) / f
		case TypeInclination:
			if h == 0 || f == 0 {
				dst[k] = 0
				continue
			}
			dh := (x*dx[k] + y*dy[k]) / h
			dst[k] = (h*dz[k] - z*dh) / f2
		case TypeDeclination:
			if h == 0 {
				dst[k] = 0
				continue
			}
			dst[k] = (x*dy[k] - y*dx[k]) / h2
		default:
			dst[k] = 0
		}
	}
}
