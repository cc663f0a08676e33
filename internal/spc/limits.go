package spc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mode selects how a characteristic handles subgroup sizes that differ
// from the nominal size. It is a closed enum: every switch over Mode in
// this package carries a default arm returning ErrInvalidMode so an
// unknown value can never be silently treated as nominal.
type Mode int

const (
	// ModeNominal uses the nominal subgroup size for all constant lookups
	// and fixed limits for every point.
	ModeNominal Mode = iota
	// ModeVariable keeps the nominal center line and sigma but derives
	// per-point limits from each subgroup's actual size, narrowing for
	// larger subgroups and widening for smaller ones.
	ModeVariable
	// ModeStandardized charts Z = (mean - CL) / (sigma / sqrt(n)) against
	// fixed limits of +/-3.
	ModeStandardized
)

// ParseMode maps a stored mode string onto the enum.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "nominal":
		return ModeNominal, nil
	case "variable":
		return ModeVariable, nil
	case "standardized":
		return ModeStandardized, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeNominal:
		return "nominal"
	case ModeVariable:
		return "variable"
	case ModeStandardized:
		return "standardized"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ChartFamily selects which dispersion statistic estimates sigma.
type ChartFamily int

const (
	// FamilyRange estimates sigma as R-bar / d2 (X-bar and R charts).
	FamilyRange ChartFamily = iota
	// FamilyStdDev estimates sigma as S-bar / c4 (X-bar and S charts).
	FamilyStdDev
)

// ParseFamily maps a stored family string onto the enum.
func ParseFamily(s string) (ChartFamily, error) {
	switch s {
	case "range":
		return FamilyRange, nil
	case "stddev":
		return FamilyStdDev, nil
	default:
		return 0, fmt.Errorf("unknown chart family %q", s)
	}
}

func (f ChartFamily) String() string {
	switch f {
	case FamilyRange:
		return "range"
	case FamilyStdDev:
		return "stddev"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// RecommendedFamily returns the conventional chart family for a nominal
// subgroup size: range-based through n=10, stddev-based above that, where
// the range loses efficiency.
func RecommendedFamily(nominalN int) ChartFamily {
	if nominalN > 10 {
		return FamilyStdDev
	}
	return FamilyRange
}

// ControlLimits is one immutable limit estimate for a characteristic.
// Recalculation produces a new value; it is never edited in place.
//
// Under ModeVariable the stored UCL/LCL are the limits at the nominal
// subgroup size; per-point limits are derived by PointLimits and never
// stored. Under ModeStandardized UCL/LCL are fixed at +/-3 in Z units
// while CenterLine and SigmaEstimate stay in native units.
type ControlLimits struct {
	CenterLine    float64
	UCL           float64
	LCL           float64
	SigmaEstimate float64
	Method        ChartFamily
	Mode          Mode
	NominalN      int
	BasisN        int // subgroups the estimate was computed from
}

// EstimateParams configures a control-limit estimation run.
type EstimateParams struct {
	NominalN int
	Mode     Mode
	Family   ChartFamily

	// MinSubgroupN drops subgroups with fewer measurements from the
	// estimation history. Dropped subgroups can still be classified
	// against the resulting limits later. Zero means no floor.
	MinSubgroupN int
}

// EstimateLimits computes a control-limit estimate from an ordered history
// of subgroup statistics. The center line is the mean of subgroup means;
// sigma comes from the mean range or mean stddev corrected by the
// constant table at the nominal subgroup size. At least two usable
// subgroups are required; twenty or more give meaningful limits, but that
// judgement is left to the caller via BasisN.
//
// A nominal size of 1 is the individuals case: sigma is estimated from
// the mean moving range of consecutive subgroup means using d2 at n=2,
// since a lone measurement has no within-subgroup dispersion.
func EstimateLimits(history []SubgroupStat, p EstimateParams) (ControlLimits, error) {
	switch p.Mode {
	case ModeNominal, ModeVariable, ModeStandardized:
	default:
		return ControlLimits{}, fmt.Errorf("%w: %d", ErrInvalidMode, int(p.Mode))
	}

	usable := history
	if p.MinSubgroupN > 0 {
		usable = make([]SubgroupStat, 0, len(history))
		for _, s := range history {
			if s.N >= p.MinSubgroupN {
				usable = append(usable, s)
			}
		}
	}
	if len(usable) < 2 {
		return ControlLimits{}, fmt.Errorf("%w: have %d, need 2", ErrInsufficientHistory, len(usable))
	}

	means := make([]float64, len(usable))
	for i, s := range usable {
		means[i] = s.Mean
	}
	center := stat.Mean(means, nil)

	sigma, err := estimateSigma(usable, means, p)
	if err != nil {
		return ControlLimits{}, err
	}

	limits := ControlLimits{
		CenterLine:    center,
		SigmaEstimate: sigma,
		Method:        p.Family,
		Mode:          p.Mode,
		NominalN:      p.NominalN,
		BasisN:        len(usable),
	}
	switch p.Mode {
	case ModeNominal, ModeVariable:
		limits.UCL = center + 3*sigma
		limits.LCL = center - 3*sigma
	case ModeStandardized:
		limits.UCL = 3
		limits.LCL = -3
	}
	return limits, nil
}

func estimateSigma(usable []SubgroupStat, means []float64, p EstimateParams) (float64, error) {
	if p.NominalN == 1 && p.Family == FamilyRange {
		return movingRangeSigma(means)
	}

	switch p.Family {
	case FamilyRange:
		d2, err := D2(p.NominalN)
		if err != nil {
			return 0, err
		}
		ranges := make([]float64, len(usable))
		for i, s := range usable {
			ranges[i] = s.Range
		}
		return stat.Mean(ranges, nil) / d2, nil
	case FamilyStdDev:
		c4, err := C4(p.NominalN)
		if err != nil {
			return 0, err
		}
		stddevs := make([]float64, len(usable))
		for i, s := range usable {
			stddevs[i] = s.StdDev
		}
		return stat.Mean(stddevs, nil) / c4, nil
	default:
		return 0, fmt.Errorf("unknown chart family %d", int(p.Family))
	}
}

// movingRangeSigma estimates sigma for individuals from the mean absolute
// difference of consecutive values, corrected by d2 at n=2.
func movingRangeSigma(values []float64) (float64, error) {
	d2, err := D2(2)
	if err != nil {
		return 0, err
	}
	ranges := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		ranges[i-1] = math.Abs(values[i] - values[i-1])
	}
	return stat.Mean(ranges, nil) / d2, nil
}
