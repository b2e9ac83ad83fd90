// Package mathutil — entropy.go
//
// Shannon entropy over an arbitrary category distribution, used by the
// behavioral detector's event_type_entropy feature (spec §4.3 dim 7) and
// the temporal detector's chi-square timing test (spec §4.4).

package mathutil

import "math"

// ShannonEntropy computes H = -Σ p(cᵢ) log(p(cᵢ)) in nats over the given
// category counts. Returns 0 for an empty or degenerate distribution.
func ShannonEntropy(counts map[string]uint64) float64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0.0
	}
	fTotal := float64(total)
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / fTotal
		h -= p * math.Log(p)
	}
	return h
}

// ChiSquareGoodnessOfFit computes the chi-square statistic for observed
// counts against a uniform expected distribution, and returns an
// approximate p-value via the upper-tail of the chi-square CDF using
// Wilson-Hilferty's cube-root normal approximation (sufficiently accurate
// for the df in play here; avoids pulling in a stats library the pack
// does not otherwise use).
func ChiSquareGoodnessOfFit(observed []uint64) (statistic float64, pValue float64) {
	k := len(observed)
	if k < 2 {
		return 0, 1
	}
	var total uint64
	for _, o := range observed {
		total += o
	}
	if total == 0 {
		return 0, 1
	}
	expected := float64(total) / float64(k)
	for _, o := range observed {
		d := float64(o) - expected
		statistic += d * d / expected
	}
	df := float64(k - 1)
	pValue = chiSquareUpperTail(statistic, df)
	return statistic, pValue
}

// chiSquareUpperTail approximates P(X > x) for X ~ chi-square(df) using
// the Wilson-Hilferty transformation to a standard normal.
func chiSquareUpperTail(x, df float64) float64 {
	if x <= 0 {
		return 1
	}
	h := 2.0 / (9.0 * df)
	z := (math.Pow(x/df, 1.0/3.0) - (1 - h)) / math.Sqrt(h)
	return normalUpperTail(z)
}

// normalUpperTail approximates P(Z > z) for the standard normal using the
// Abramowitz & Stegun 7.1.26 erf approximation.
func normalUpperTail(z float64) float64 {
	if z < 0 {
		return 1 - normalUpperTail(-z)
	}
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	x := z / math.Sqrt2
	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return 0.5 * (1 - y)
}
