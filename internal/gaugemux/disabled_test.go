package gaugemux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledGaugeMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledGaugeMux()
	id, ch := d.Subscribe()

	done := make(chan struct{})
	go func() {
		_, ok := <-ch
		if ok {
			t.Errorf("expected channel to be closed on unsubscribe")
		}
		close(done)
	}()

	// Give goroutine a moment to start and block on read
	time.Sleep(10 * time.Millisecond)

	d.Unsubscribe(id)

	select {
	case <-done:
		// success
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for subscriber to be unblocked after Unsubscribe")
	}
}

func TestDisabledGaugeMux_CloseClosesAllChannels(t *testing.T) {
	d := NewDisabledGaugeMux()
	id1, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	done1 := make(chan struct{})
	done2 := make(chan struct{})

	go func() {
		_, ok := <-ch1
		if ok {
			t.Errorf("expected ch1 to be closed on Close")
		}
		close(done1)
	}()

	go func() {
		_, ok := <-ch2
		if ok {
			t.Errorf("expected ch2 to be closed on Close")
		}
		close(done2)
	}()

	// Give goroutines a moment to start and block on read
	time.Sleep(10 * time.Millisecond)

	if err := d.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case <-done1:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for ch1 to be closed after Close")
	}

	select {
	case <-done2:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for ch2 to be closed after Close")
	}

	// Ensure unsubscribing a non-existent id is a no-op (should not panic)
	d.Unsubscribe(id1)
}

func TestDisabledGaugeMux_SubscribeAfterClose(t *testing.T) {
	d := NewDisabledGaugeMux()
	if err := d.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	// Subscribing after Close should return an already-closed channel so
	// readers never block
	_, ch := d.Subscribe()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel from Subscribe after Close")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout reading from post-Close subscription channel")
	}
}

func TestDisabledGaugeMux_NoOps(t *testing.T) {
	d := NewDisabledGaugeMux()

	if err := d.SendCommand("UM"); err != nil {
		t.Errorf("SendCommand returned error: %v", err)
	}
	if err := d.Initialize(); err != nil {
		t.Errorf("Initialize returned error: %v", err)
	}
}

func TestDisabledGaugeMux_MonitorBlocksUntilCancel(t *testing.T) {
	d := NewDisabledGaugeMux()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- d.Monitor(ctx)
	}()

	// Monitor should still be blocked
	select {
	case err := <-done:
		t.Fatalf("Monitor returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Monitor did not return after context cancellation")
	}
}

func TestDisabledGaugeMux_AttachAdminRoutes(t *testing.T) {
	d := NewDisabledGaugeMux()

	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)

	req := httptest.NewRequest(http.MethodGet, "/debug/gauges-disabled", nil)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code == http.StatusNotFound {
		t.Errorf("Route /debug/gauges-disabled should be registered, got 404")
	}
}
