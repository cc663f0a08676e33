package gaugemux

import (
	"math"
	"testing"
)

func TestParseReading(t *testing.T) {
	cases := []struct {
		in          string
		wantChannel int
		wantValue   float64
	}{
		{"01,10.001", 1, 10.001},
		{"+01,+0012.345", 1, 12.345},
		{"4,-0.004", 4, -0.004},
		{" 02 , 4.998 ", 2, 4.998},
		{"1,25", 1, 25},
	}

	for _, c := range cases {
		got, err := ParseReading(c.in)
		if err != nil {
			t.Fatalf("ParseReading(%q) returned error: %v", c.in, err)
		}
		if got.Channel != c.wantChannel {
			t.Errorf("ParseReading(%q).Channel = %d; want %d", c.in, got.Channel, c.wantChannel)
		}
		if math.Abs(got.Value-c.wantValue) > 1e-9 {
			t.Errorf("ParseReading(%q).Value = %v; want %v", c.in, got.Value, c.wantValue)
		}
	}
}

func TestParseReading_Invalid(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"no comma", "nocomma"},
		{"empty", ""},
		{"bad channel", "x,1.0"},
		{"bad value", "1,x"},
		{"only comma", ","},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := ParseReading(c.in); err == nil {
				t.Errorf("ParseReading(%q) should have failed", c.in)
			}
		})
	}
}

func TestClassifyPayload(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"channels":4,"units":"mm"}`, EventTypeStatus},
		{"OK", EventTypeAck},
		{"ER,02", EventTypeAck},
		{"01,10.001", EventTypeReading},
		{"plain text line", EventTypeUnknown},
	}

	for _, c := range cases {
		got := ClassifyPayload(c.in)
		if got != c.want {
			t.Fatalf("ClassifyPayload(%q) = %q; want %q", c.in, got, c.want)
		}
	}
}

func TestClassifyPayload_EdgeCases(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"status with whitespace", `  {"battery":"low"}  `, EventTypeStatus},
		{"ack with trailing newline spaces", "OK ", EventTypeAck},
		{"reading with sign", "+02,-1.25", EventTypeReading},
		{"command echo", "CT", EventTypeUnknown},
		{"empty string", "", EventTypeUnknown},
		{"array JSON", "[1, 2, 3]", EventTypeUnknown},
		{"reading with bad value", "01,abc", EventTypeUnknown},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ClassifyPayload(c.in)
			if got != c.want {
				t.Errorf("ClassifyPayload(%q) = %q; want %q", c.in, got, c.want)
			}
		})
	}
}
