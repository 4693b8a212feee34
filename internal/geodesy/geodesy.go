// Package geodesy converts between geodetic (ellipsoidal) and geocentric
// (spherical) station coordinates and rotates field components between
// the two frames.
package geodesy

import "math"

// WGS84 ellipsoid semi-axes in km.
const (
	EquatorialRadius = 6378.137
	PolarRadius      = 6356.752
)

// ReferenceRadius is the mean radius (km) used for geocentric stations
// given as a height above the sphere.
const ReferenceRadius = 6371.2

// GeodeticToGeocentric converts a geodetic latitude (radians) and height
// above the ellipsoid (metres) to geocentric colatitude (radians) and
// radius (km).
//
// cd and sd are the cosine and sine of the angle between the two frames'
// vertical axes. The geocentric colatitude equals the geodetic colatitude
// plus that angle.
func GeodeticToGeocentric(lat, height float64) (colat, radius, cd, sd float64) {
	h := height * 1e-3
	a2 := EquatorialRadius * EquatorialRadius
	b2 := PolarRadius * PolarRadius

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	one := a2 * cosLat * cosLat
	two := b2 * sinLat * sinLat
	three := one + two
	rho := math.Sqrt(three)

	radius = math.Sqrt(h*(h+2*rho) + (a2*one+b2*two)/three)
	cd = (h + rho) / radius
	sd = (a2 - b2) / rho * cosLat * sinLat / radius

	// cos/sin of the geodetic colatitude are sin/cos of the latitude.
	ct := sinLat*cd - cosLat*sd
	st := cosLat*cd + sinLat*sd
	colat = math.Atan2(st, ct)
	return colat, radius, cd, sd
}

// GeocentricToGeodetic rotates geocentric north (x) and downward (z)
// components into the geodetic frame of a station with factors cd, sd.
// With cd=1, sd=0 the components pass through unchanged.
func GeocentricToGeodetic(x, z, cd, sd float64) (xg, zg float64) {
	return cd*x + sd*z, cd*z - sd*x
}

// RotateRows applies GeocentricToGeodetic element-wise to two rows of
// partial derivatives in place.
func RotateRows(dx, dz []float64, cd, sd float64) {
	for i := range dx {
		dx[i], dz[i] = GeocentricToGeodetic(dx[i], dz[i], cd, sd)
	}
}
