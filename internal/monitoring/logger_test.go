package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger_Redirect(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var captured []string
	SetLogger(func(format string, v ...interface{}) {
		captured = append(captured, fmt.Sprintf(format, v...))
	})

	Logf("evaluated %d characteristics", 3)

	if len(captured) != 1 {
		t.Fatalf("expected 1 captured line, got %d", len(captured))
	}
	if captured[0] != "evaluated 3 characteristics" {
		t.Errorf("captured %q, want formatted message", captured[0])
	}
}

func TestSetLogger_NilMutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	Logf("warm up")
	if !called {
		t.Fatal("replacement logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("should go nowhere")
	if called {
		t.Error("nil logger should mute output, not call the previous logger")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
}
