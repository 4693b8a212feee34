package shbasis

import "fmt"

// Gauss coefficients are laid out without the monopole: g10, g11, h11,
// g20, g21, h21, g22, h22, ... so degree n starts at column n²−1.

// NumGauss returns the number of Gauss coefficients up to maxDegree,
// (maxDegree+1)² − 1.
func NumGauss(maxDegree int) int {
	return (maxDegree+1)*(maxDegree+1) - 1
}

// GaussIndex returns the column of g_n^m, or of h_n^m when sine is true.
// h_n^0 does not exist and returns -1.
func GaussIndex(n, m int, sine bool) int {
	if m == 0 {
		if sine {
			return -1
		}
		return n*n - 1
	}
	k := n*n + 2*m - 2
	if sine {
		k++
	}
	return k
}

// GaussDegree returns the degree n of coefficient column k.
func GaussDegree(k int) int {
	n := 1
	for NumGauss(n) <= k {
		n++
	}
	return n
}

// GaussLabel returns the conventional name of column k, e.g. "g10" or "h21".
func GaussLabel(k int) string {
	n := GaussDegree(k)
	off := k - (n*n - 1)
	if off == 0 {
		return label('g', n, 0)
	}
	m := (off + 1) / 2
	if off%2 == 0 {
		return label('h', n, m)
	}
	return label('g', n, m)
}

func label(kind byte, n, m int) string {
	return fmt.Sprintf("%c%d%d", kind, n, m)
}
