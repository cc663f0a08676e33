// Package units provides shared constants and validation for measurement
// display units.
package units

// Unit constants
const (
	MM   = "mm"
	IN   = "in"
	UM   = "um"
	THOU = "thou"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MM, IN, UM, THOU}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mm, in, um, thou"
}

// ConvertLength converts a length from millimetres to the target units.
// Database stores all measurements in mm.
func ConvertLength(valueMM float64, targetUnits string) float64 {
	switch targetUnits {
	case IN:
		return valueMM / 25.4 // mm to inches
	case UM:
		return valueMM * 1000 // mm to micrometres
	case THOU:
		return valueMM / 0.0254 // mm to thousandths of an inch
	case MM:
		return valueMM // no conversion needed
	default:
		return valueMM // default to mm if unknown unit
	}
}
