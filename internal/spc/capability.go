package spc

import (
	"fmt"
	"math"
)

// SpecLimits are a characteristic's specification limits. All three are
// optional; capability is only defined when both USL and LSL are set.
type SpecLimits struct {
	USL    *float64
	LSL    *float64
	Target *float64
}

// CapabilityResult holds the four capability indices and the inputs they
// were derived from. Cp/Cpk use the within-subgroup sigma, Pp/Ppk the
// overall sigma across all pooled measurements.
type CapabilityResult struct {
	Cp           float64
	Cpk          float64
	Pp           float64
	Ppk          float64
	SigmaWithin  float64
	SigmaOverall float64
	Mean         float64
	N            int
}

// ComputeCapability computes Cp/Cpk/Pp/Ppk for a characteristic from its
// subgroup history. It returns (nil, nil) when either specification limit
// is missing, since capability is undefined without both.
//
// The overall sigma is the n-1 standard deviation of every individual
// measurement pooled across subgroups, reconstructed from the per-subgroup
// count, mean and stddev. The within sigma reuses the control-limit
// estimate when limits are supplied and falls back to the overall sigma
// otherwise.
//
// A zero sigma makes the corresponding ratios +Inf by convention: a
// process with no measured spread is reported as capable without a
// numeric ratio rather than failing on the division. Callers render that
// case specially.
func ComputeCapability(history []SubgroupStat, limits *ControlLimits, spec SpecLimits) (*CapabilityResult, error) {
	if spec.USL == nil || spec.LSL == nil {
		return nil, nil
	}

	totalN := 0
	for _, s := range history {
		totalN += s.N
	}
	if totalN < 2 {
		return nil, fmt.Errorf("%w: have %d, need 2", ErrInsufficientData, totalN)
	}

	var weightedSum float64
	for _, s := range history {
		weightedSum += float64(s.N) * s.Mean
	}
	mean := weightedSum / float64(totalN)

	// Total sum of squares about the grand mean, from the within-subgroup
	// and between-subgroup contributions of each subgroup.
	var ss float64
	for _, s := range history {
		n := float64(s.N)
		ss += (n-1)*s.StdDev*s.StdDev + n*(s.Mean-mean)*(s.Mean-mean)
	}
	sigmaOverall := math.Sqrt(ss / float64(totalN-1))

	sigmaWithin := sigmaOverall
	if limits != nil {
		sigmaWithin = limits.SigmaEstimate
	}

	usl, lsl := *spec.USL, *spec.LSL
	out := &CapabilityResult{
		SigmaWithin:  sigmaWithin,
		SigmaOverall: sigmaOverall,
		Mean:         mean,
		N:            totalN,
	}
	out.Cp, out.Cpk = capabilityPair(usl, lsl, mean, sigmaWithin)
	out.Pp, out.Ppk = capabilityPair(usl, lsl, mean, sigmaOverall)
	return out, nil
}

func capabilityPair(usl, lsl, mean, sigma float64) (index, k float64) {
	if sigma == 0 {
		return math.Inf(1), math.Inf(1)
	}
	index = (usl - lsl) / (6 * sigma)
	upper := (usl - mean) / (3 * sigma)
	lower := (mean - lsl) / (3 * sigma)
	return index, math.Min(upper, lower)
}
