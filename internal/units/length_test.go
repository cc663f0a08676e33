package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit string
		want bool
	}{
		{MM, true},
		{IN, true},
		{UM, true},
		{THOU, true},
		{"", false},
		{"cm", false},
		{"inches", false},
		{"MM", false}, // case sensitive
	}

	for _, tc := range tests {
		if got := IsValid(tc.unit); got != tc.want {
			t.Errorf("IsValid(%q) = %v, want %v", tc.unit, got, tc.want)
		}
	}
}

func TestConvertLength(t *testing.T) {
	const tolerance = 0.0001

	tests := []struct {
		name    string
		valueMM float64
		units   string
		want    float64
	}{
		{"mm to inches", 25.4, IN, 1.0},
		{"mm to micrometres", 1.5, UM, 1500.0},
		{"mm to thou", 0.0254, THOU, 1.0},
		{"mm unchanged", 12.7, MM, 12.7},
		{"unknown unit defaults to mm", 12.7, "furlongs", 12.7},
		{"zero value", 0, IN, 0},
		{"negative deviation", -2.54, IN, -0.1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ConvertLength(tc.valueMM, tc.units)
			if math.Abs(got-tc.want) > tolerance {
				t.Errorf("ConvertLength(%v, %q) = %v, want %v", tc.valueMM, tc.units, got, tc.want)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "mm, in, um, thou" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}
