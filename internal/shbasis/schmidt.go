// Package shbasis computes Schmidt quasi-normalised associated Legendre
// functions, the spherical-harmonic basis used by geomagnetic field models.
//
// The normalisation is the classic geomagnetic one (no Condon-Shortley
// phase, P_n^m scaled so that the squared integral over the sphere is
// 4π/(2n+1)). Fully normalised conventions are not interchangeable with it.
package shbasis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidDegree is returned for a negative maximum degree.
var ErrInvalidDegree = errors.New("maximum degree must be non-negative")

// Index returns the linear position of (n, m) in the basis arrays.
func Index(n, m int) int {
	return n*(n+1)/2 + m
}

// Count returns the number of (n, m) pairs with 0 <= m <= n <= maxDegree.
func Count(maxDegree int) int {
	return (maxDegree + 1) * (maxDegree + 2) / 2
}

// Schmidt evaluates P_n^m(cos θ) and dP_n^m/dθ for every colatitude θ
// (radians) and every 0 <= m <= n <= maxDegree.
//
// The returned matrices have one row per colatitude and Count(maxDegree)
// columns, ordered by Index. At θ = 0 or π the values are finite but
// callers dividing by sin θ will see Inf/NaN.
func Schmidt(maxDegree int, colat []float64) (p, dp *mat.Dense, err error) {
	if maxDegree < 0 {
		return nil, nil, fmt.Errorf("%w: got %d", ErrInvalidDegree, maxDegree)
	}
	if len(colat) == 0 {
		return nil, nil, fmt.Errorf("no colatitudes given")
	}
	cols := Count(maxDegree)
	p = mat.NewDense(len(colat), cols, nil)
	dp = mat.NewDense(len(colat), cols, nil)

	prow := make([]float64, cols)
	dprow := make([]float64, cols)
	for i, theta := range colat {
		Row(maxDegree, theta, prow, dprow)
		p.SetRow(i, prow)
		dp.SetRow(i, dprow)
	}
	return p, dp, nil
}

// Row fills p and dp (each of length Count(maxDegree)) for one colatitude.
func Row(maxDegree int, theta float64, p, dp []float64) {
	c := math.Cos(theta)
	s := math.Sin(theta)

	p[0] = 1
	dp[0] = 0
	if maxDegree == 0 {
		return
	}

	// Sectoral terms P_n^n.
	p[Index(1, 1)] = s
	dp[Index(1, 1)] = c
	for n := 2; n <= maxDegree; n++ {
		f := math.Sqrt(float64(2*n-1) / float64(2*n))
		prev := Index(n-1, n-1)
		p[Index(n, n)] = f * s * p[prev]
		dp[Index(n, n)] = f * (c*p[prev] + s*dp[prev])
	}

	// Upward recursion in degree for every order.
	for m := 0; m < maxDegree; m++ {
		for n := m + 1; n <= maxDegree; n++ {
			k := Index(n, m)
			k1 := Index(n-1, m)
			norm := math.Sqrt(float64(n*n - m*m))
			a := float64(2*n - 1)
			val := a * c * p[k1]
			der := a * (c*dp[k1] - s*p[k1])
			if n-2 >= m {
				k2 := Index(n-2, m)
				b := math.Sqrt(float64((n-1)*(n-1) - m*m))
				val -= b * p[k2]
				der -= b * dp[k2]
			}
			p[k] = val / norm
			dp[k] = der / norm
		}
	}
}
