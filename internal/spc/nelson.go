package spc

import "fmt"

// Severity ranks a rule violation for alerting. Info findings do not
// require acknowledgement; everything else does.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity maps a stored severity string onto the enum.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// RequiresAcknowledgement reports whether an operator must acknowledge a
// violation of this severity.
func (s Severity) RequiresAcknowledgement() bool { return s != SeverityInfo }

// The eight Nelson rules, numbered as canonically published.
const (
	RuleBeyondLimits   = 1 // one point outside the control limits
	RuleShift          = 2 // nine consecutive points on one side of center
	RuleTrend          = 3 // six consecutive strictly rising or falling points
	RuleAlternating    = 4 // fourteen consecutive points alternating up and down
	RuleTwoOfThree     = 5 // two of three consecutive points beyond 2 sigma, same side
	RuleFourOfFive     = 6 // four of five consecutive points beyond 1 sigma, same side
	RuleStratification = 7 // fifteen consecutive points within 1 sigma of center
	RuleMixture        = 8 // eight consecutive points beyond 1 sigma, both sides represented
)

// Rule window lengths. A sequence shorter than a rule's window simply
// never fires that rule.
const (
	shiftWindow          = 9
	trendWindow          = 6
	alternatingWindow    = 14
	twoOfThreeWindow     = 3
	fourOfFiveWindow     = 5
	stratificationWindow = 15
	mixtureWindow        = 8
)

// RuleSeverity returns the alert severity for a rule: a point beyond the
// limits is critical, stratification is informational, every other
// pattern is a warning.
func RuleSeverity(rule int) Severity {
	switch rule {
	case RuleBeyondLimits:
		return SeverityCritical
	case RuleStratification:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// Point is one zone-classified chart point in sequence order.
type Point struct {
	SampleID int64
	Value    float64
	Zone     Zone
}

// Violation records one matched rule window. SampleID is the last point
// of the window; overlapping windows for the same rule each produce their
// own violation.
type Violation struct {
	Rule     int
	SampleID int64
	Severity Severity
}

// BuildPoints classifies an ordered history of subgroup statistics into
// the chart point sequence the rule engine evaluates. Callers pass only
// non-excluded subgroups; an excluded sample is removed from the sequence
// entirely and never breaks a streak.
func BuildPoints(history []SubgroupStat, limits ControlLimits) ([]Point, error) {
	points := make([]Point, len(history))
	for i, s := range history {
		value, err := ChartValue(s, limits)
		if err != nil {
			return nil, err
		}
		zone, err := Classify(s, limits)
		if err != nil {
			return nil, err
		}
		points[i] = Point{SampleID: s.SampleID, Value: value, Zone: zone}
	}
	return points, nil
}

// Evaluate runs all eight rules over the full point sequence and returns
// every matched window. Each rule slides independently, so one point can
// trigger several rules at once. The result is deterministic for a given
// input: evaluating the same sequence twice yields the same violations in
// the same order.
func Evaluate(points []Point) []Violation {
	var out []Violation
	out = append(out, ruleBeyondLimits(points)...)
	out = append(out, ruleShift(points)...)
	out = append(out, ruleTrend(points)...)
	out = append(out, ruleAlternating(points)...)
	out = append(out, ruleTwoOfThree(points)...)
	out = append(out, ruleFourOfFive(points)...)
	out = append(out, ruleStratification(points)...)
	out = append(out, ruleMixture(points)...)
	return out
}

func violationAt(rule int, p Point) Violation {
	return Violation{Rule: rule, SampleID: p.SampleID, Severity: RuleSeverity(rule)}
}

func ruleBeyondLimits(points []Point) []Violation {
	var out []Violation
	for _, p := range points {
		if p.Zone.Beyond() {
			out = append(out, violationAt(RuleBeyondLimits, p))
		}
	}
	return out
}

func ruleShift(points []Point) []Violation {
	var out []Violation
	for i := 0; i+shiftWindow <= len(points); i++ {
		w := points[i : i+shiftWindow]
		upper := w[0].Zone.Upper()
		matched := true
		for _, p := range w[1:] {
			if p.Zone.Upper() != upper {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, violationAt(RuleShift, w[shiftWindow-1]))
		}
	}
	return out
}

func ruleTrend(points []Point) []Violation {
	var out []Violation
	for i := 0; i+trendWindow <= len(points); i++ {
		w := points[i : i+trendWindow]
		rising, falling := true, true
		for j := 1; j < len(w); j++ {
			if w[j].Value <= w[j-1].Value {
				rising = false
			}
			if w[j].Value >= w[j-1].Value {
				falling = false
			}
		}
		if rising || falling {
			out = append(out, violationAt(RuleTrend, w[trendWindow-1]))
		}
	}
	return out
}

func ruleAlternating(points []Point) []Violation {
	var out []Violation
	for i := 0; i+alternatingWindow <= len(points); i++ {
		w := points[i : i+alternatingWindow]
		matched := true
		prevUp := false
		for j := 1; j < len(w); j++ {
			up := w[j].Value > w[j-1].Value
			down := w[j].Value < w[j-1].Value
			if !up && !down {
				// equal neighbours are neither a rise nor a fall
				matched = false
				break
			}
			if j > 1 && up == prevUp {
				matched = false
				break
			}
			prevUp = up
		}
		if matched {
			out = append(out, violationAt(RuleAlternating, w[alternatingWindow-1]))
		}
	}
	return out
}

func ruleTwoOfThree(points []Point) []Violation {
	var out []Violation
	for i := 0; i+twoOfThreeWindow <= len(points); i++ {
		w := points[i : i+twoOfThreeWindow]
		upper, lower := 0, 0
		for _, p := range w {
			if !p.Zone.BeyondTwoSigma() {
				continue
			}
			if p.Zone.Upper() {
				upper++
			} else {
				lower++
			}
		}
		if upper >= 2 || lower >= 2 {
			out = append(out, violationAt(RuleTwoOfThree, w[twoOfThreeWindow-1]))
		}
	}
	return out
}

func ruleFourOfFive(points []Point) []Violation {
	var out []Violation
	for i := 0; i+fourOfFiveWindow <= len(points); i++ {
		w := points[i : i+fourOfFiveWindow]
		upper, lower := 0, 0
		for _, p := range w {
			if !p.Zone.BeyondOneSigma() {
				continue
			}
			if p.Zone.Upper() {
				upper++
			} else {
				lower++
			}
		}
		if upper >= 4 || lower >= 4 {
			out = append(out, violationAt(RuleFourOfFive, w[fourOfFiveWindow-1]))
		}
	}
	return out
}

func ruleStratification(points []Point) []Violation {
	var out []Violation
	for i := 0; i+stratificationWindow <= len(points); i++ {
		w := points[i : i+stratificationWindow]
		matched := true
		for _, p := range w {
			if !p.Zone.WithinOneSigma() {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, violationAt(RuleStratification, w[stratificationWindow-1]))
		}
	}
	return out
}

func ruleMixture(points []Point) []Violation {
	var out []Violation
	for i := 0; i+mixtureWindow <= len(points); i++ {
		w := points[i : i+mixtureWindow]
		matched := true
		sawUpper, sawLower := false, false
		for _, p := range w {
			if p.Zone.WithinOneSigma() {
				matched = false
				break
			}
			if p.Zone.Upper() {
				sawUpper = true
			} else {
				sawLower = true
			}
		}
		if matched && sawUpper && sawLower {
			out = append(out, violationAt(RuleMixture, w[mixtureWindow-1]))
		}
	}
	return out
}
