package spc

import (
	"fmt"
	"math"
)

// Zone is the sigma band a charted point falls in, ordered from below the
// lower control limit to above the upper. Zone C spans the center line to
// 1 sigma, B spans 1 to 2 sigma, A spans 2 to 3 sigma.
type Zone int

const (
	ZoneBelowLCL Zone = iota
	ZoneALower
	ZoneBLower
	ZoneCLower
	ZoneCUpper
	ZoneBUpper
	ZoneAUpper
	ZoneAboveUCL
)

func (z Zone) String() string {
	switch z {
	case ZoneBelowLCL:
		return "below_lcl"
	case ZoneALower:
		return "zone_a_lower"
	case ZoneBLower:
		return "zone_b_lower"
	case ZoneCLower:
		return "zone_c_lower"
	case ZoneCUpper:
		return "zone_c_upper"
	case ZoneBUpper:
		return "zone_b_upper"
	case ZoneAUpper:
		return "zone_a_upper"
	case ZoneAboveUCL:
		return "above_ucl"
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

// ParseZone maps a stored zone string onto the enum.
func ParseZone(s string) (Zone, error) {
	for z := ZoneBelowLCL; z <= ZoneAboveUCL; z++ {
		if z.String() == s {
			return z, nil
		}
	}
	return 0, fmt.Errorf("unknown zone %q", s)
}

// Upper reports whether the zone is on or above the center line. A value
// exactly on the center line classifies as upper Zone C.
func (z Zone) Upper() bool { return z >= ZoneCUpper }

// Beyond reports whether the zone is outside the control limits.
func (z Zone) Beyond() bool { return z == ZoneBelowLCL || z == ZoneAboveUCL }

// WithinOneSigma reports whether the zone is Zone C on either side.
func (z Zone) WithinOneSigma() bool { return z == ZoneCLower || z == ZoneCUpper }

// BeyondOneSigma reports whether the zone is Zone B or further out.
func (z Zone) BeyondOneSigma() bool { return !z.WithinOneSigma() }

// BeyondTwoSigma reports whether the zone is Zone A or further out.
func (z Zone) BeyondTwoSigma() bool {
	return z <= ZoneALower || z >= ZoneAUpper
}

// Classify maps a subgroup statistic to its sigma zone under the given
// limits. The function is total over real inputs: every value lands in
// exactly one zone, and a value exactly on a 1/2/3 sigma boundary belongs
// to the inner zone (a point at exactly 2 sigma is Zone B, not A). That
// tie-break feeds directly into the two-of-three and four-of-five rule
// counts, so it must hold at boundaries.
//
// Under ModeVariable the zone widths come from the per-point limits for
// the subgroup's actual size. Under ModeStandardized classification runs
// on the Z score with unit sigma.
func Classify(s SubgroupStat, limits ControlLimits) (Zone, error) {
	switch limits.Mode {
	case ModeNominal:
		return classifyValue(s.Mean, limits.CenterLine, (limits.UCL-limits.CenterLine)/3), nil
	case ModeVariable:
		ucl, _ := PointLimits(limits, s.N)
		return classifyValue(s.Mean, limits.CenterLine, (ucl-limits.CenterLine)/3), nil
	case ModeStandardized:
		return classifyValue(ZScore(s, limits), 0, 1), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidMode, int(limits.Mode))
	}
}

func classifyValue(v, center, step float64) Zone {
	dev := v - center
	mag := math.Abs(dev)
	upper := dev >= 0
	switch {
	case mag <= step:
		if upper {
			return ZoneCUpper
		}
		return ZoneCLower
	case mag <= 2*step:
		if upper {
			return ZoneBUpper
		}
		return ZoneBLower
	case mag <= 3*step:
		if upper {
			return ZoneAUpper
		}
		return ZoneALower
	default:
		if upper {
			return ZoneAboveUCL
		}
		return ZoneBelowLCL
	}
}

// PointLimits returns the control limits in effect for a subgroup of the
// given actual size. Under ModeVariable the half-width scales by
// 1/sqrt(actualN/nominalN), so limits funnel inward as subgroups grow.
// Other modes return the stored limits unchanged.
func PointLimits(limits ControlLimits, actualN int) (ucl, lcl float64) {
	if limits.Mode != ModeVariable || actualN == limits.NominalN || actualN < 1 || limits.NominalN < 1 {
		return limits.UCL, limits.LCL
	}
	half := 3 * limits.SigmaEstimate / math.Sqrt(float64(actualN)/float64(limits.NominalN))
	return limits.CenterLine + half, limits.CenterLine - half
}

// ZScore standardizes a subgroup mean by the sigma of the mean at the
// subgroup's actual size. A zero sigma yields 0 on the center line and
// +/-Inf off it, which classifies beyond the limits.
func ZScore(s SubgroupStat, limits ControlLimits) float64 {
	dev := s.Mean - limits.CenterLine
	n := s.N
	if n < 1 {
		n = 1
	}
	se := limits.SigmaEstimate / math.Sqrt(float64(n))
	if se == 0 {
		if dev == 0 {
			return 0
		}
		return math.Copysign(math.Inf(1), dev)
	}
	return dev / se
}

// ChartValue returns the value a point plots at and the run and trend
// rules compare: the raw subgroup mean, or the Z score under
// ModeStandardized.
func ChartValue(s SubgroupStat, limits ControlLimits) (float64, error) {
	switch limits.Mode {
	case ModeNominal, ModeVariable:
		return s.Mean, nil
	case ModeStandardized:
		return ZScore(s, limits), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidMode, int(limits.Mode))
	}
}
