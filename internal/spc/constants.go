package spc

import "fmt"

// Control-chart constants tabulated by subgroup size, per the ASTM /
// Western Electric tables. Each table is indexed by n-2 covering
// n = 2..25. Lookups above the tabulated range clamp to n=25 rather than
// extrapolate; lookups below n=2 return ErrInvalidSubgroupSize because the
// range and stddev chart factors are undefined for a single measurement.

// MaxTabulatedN is the largest subgroup size with tabulated constants.
// Larger subgroups reuse the n=25 row.
const MaxTabulatedN = 25

// E2 is the factor applied to the mean moving range on a moving-range
// chart (D4 at n=2). Moving ranges always span two consecutive points, so
// this is a single constant rather than a table.
const E2 = 3.267

// d2: mean of the relative range, used to estimate sigma from R-bar.
var d2Table = [...]float64{
	1.128, 1.693, 2.059, 2.326, 2.534, 2.704, 2.847, 2.970,
	3.078, 3.173, 3.258, 3.336, 3.407, 3.472, 3.532, 3.588,
	3.640, 3.689, 3.735, 3.778, 3.819, 3.858, 3.895, 3.931,
}

// D3: lower control limit factor for the R chart. Zero through n=6; small
// subgroups have no meaningful lower range limit and a nonzero value here
// is a classic source of false positives.
var d3Table = [...]float64{
	0, 0, 0, 0, 0, 0.076, 0.136, 0.184,
	0.223, 0.256, 0.283, 0.307, 0.328, 0.347, 0.363, 0.378,
	0.391, 0.403, 0.415, 0.425, 0.434, 0.443, 0.451, 0.459,
}

// D4: upper control limit factor for the R chart.
var d4Table = [...]float64{
	3.267, 2.574, 2.282, 2.114, 2.004, 1.924, 1.864, 1.816,
	1.777, 1.744, 1.717, 1.693, 1.672, 1.653, 1.637, 1.622,
	1.608, 1.597, 1.585, 1.575, 1.566, 1.557, 1.548, 1.541,
}

// B3: lower control limit factor for the S chart. Zero through n=5.
var b3Table = [...]float64{
	0, 0, 0, 0, 0.030, 0.118, 0.185, 0.239,
	0.284, 0.321, 0.354, 0.382, 0.406, 0.428, 0.448, 0.466,
	0.482, 0.497, 0.510, 0.523, 0.534, 0.545, 0.555, 0.565,
}

// B4: upper control limit factor for the S chart.
var b4Table = [...]float64{
	3.267, 2.568, 2.266, 2.089, 1.970, 1.882, 1.815, 1.761,
	1.716, 1.679, 1.646, 1.618, 1.594, 1.572, 1.552, 1.534,
	1.518, 1.503, 1.490, 1.477, 1.466, 1.455, 1.445, 1.435,
}

// c4: bias correction for the sample standard deviation, used to estimate
// sigma from S-bar.
var c4Table = [...]float64{
	0.7979, 0.8862, 0.9213, 0.9400, 0.9515, 0.9594, 0.9650, 0.9693,
	0.9727, 0.9754, 0.9776, 0.9794, 0.9810, 0.9823, 0.9835, 0.9845,
	0.9854, 0.9862, 0.9869, 0.9876, 0.9882, 0.9887, 0.9892, 0.9896,
}

func lookupConstant(table []float64, n int) (float64, error) {
	if n < 2 {
		return 0, fmt.Errorf("%w: n=%d", ErrInvalidSubgroupSize, n)
	}
	if n > MaxTabulatedN {
		n = MaxTabulatedN
	}
	return table[n-2], nil
}

// D2 returns the d2 bias factor for subgroup size n.
func D2(n int) (float64, error) { return lookupConstant(d2Table[:], n) }

// D3 returns the R-chart lower limit factor for subgroup size n.
func D3(n int) (float64, error) { return lookupConstant(d3Table[:], n) }

// D4 returns the R-chart upper limit factor for subgroup size n.
func D4(n int) (float64, error) { return lookupConstant(d4Table[:], n) }

// B3 returns the S-chart lower limit factor for subgroup size n.
func B3(n int) (float64, error) { return lookupConstant(b3Table[:], n) }

// B4 returns the S-chart upper limit factor for subgroup size n.
func B4(n int) (float64, error) { return lookupConstant(b4Table[:], n) }

// C4 returns the c4 bias factor for subgroup size n.
func C4(n int) (float64, error) { return lookupConstant(c4Table[:], n) }
