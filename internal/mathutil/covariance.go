// Package mathutil implements the statistical primitives shared by the
// detectors and the profile store: covariance inversion for the
// behavioral detector's multivariate test (spec §4.3), and Shannon
// entropy for both the behavioral event-type-entropy feature and the
// temporal detector's timing-distribution test.
package mathutil

import "math"

// MahalanobisSquared computes (x-μ)ᵀ Σ⁻¹ (x-μ) given the deviation
// vector diff = x-μ and the precomputed inverse covariance matrix.
func MahalanobisSquared(diff []float64, invCov [][]float64) float64 {
	n := len(diff)
	Mv := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			Mv[i] += invCov[i][j] * diff[j]
		}
	}
	var result float64
	for i := 0; i < n; i++ {
		result += diff[i] * Mv[i]
	}
	return result
}

// InvertCovariance computes the inverse of a symmetric positive-definite
// matrix using Cholesky decomposition (LLᵀ = Σ). Returns nil if the
// matrix is singular or not positive-definite.
//
// Complexity: O(n³); callers should only invoke this on baseline update,
// not per-event.
func InvertCovariance(cov [][]float64) [][]float64 {
	n := len(cov)
	if n == 0 {
		return nil
	}

	L := choleskyDecompose(cov)
	if L == nil {
		return nil
	}

	Linv := invertLowerTriangular(L)
	if Linv == nil {
		return nil
	}

	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				inv[i][j] += Linv[k][i] * Linv[k][j]
			}
		}
	}
	return inv
}

func choleskyDecompose(A [][]float64) [][]float64 {
	n := len(A)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil
				}
				L[i][j] = math.Sqrt(sum)
			} else {
				if L[j][j] == 0 {
					return nil
				}
				L[i][j] = sum / L[j][j]
			}
		}
	}
	return L
}

func invertLowerTriangular(L [][]float64) [][]float64 {
	n := len(L)
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
	}

	for j := 0; j < n; j++ {
		if L[j][j] == 0 {
			return nil
		}
		inv[j][j] = 1.0 / L[j][j]
		for i := j + 1; i < n; i++ {
			var sum float64
			for k := j; k < i; k++ {
				sum -= L[i][k] * inv[k][j]
			}
			inv[i][j] = sum / L[i][i]
		}
	}
	return inv
}

// SampleCovariance computes the n×n sample covariance matrix of the
// given feature-vector samples around mean.
func SampleCovariance(samples [][]float64, mean []float64) [][]float64 {
	n := len(mean)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	if len(samples) < 2 {
		return cov
	}
	for _, s := range samples {
		for i := 0; i < n; i++ {
			di := s[i] - mean[i]
			for j := 0; j < n; j++ {
				dj := s[j] - mean[j]
				cov[i][j] += di * dj
			}
		}
	}
	denom := float64(len(samples) - 1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cov[i][j] /= denom
		}
	}
	return cov
}
