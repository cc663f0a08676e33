package gaugemux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledGaugeMux is a no-op GaugeMux implementation used when no gauge
// hardware is attached (for --disable-gauges). It allows the server and admin
// routes to run without a real device. Subscribers are tracked so their
// channels can be deterministically closed on Unsubscribe() or Close(),
// allowing readers to unblock predictably during shutdown.
type DisabledGaugeMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

func NewDisabledGaugeMux() *DisabledGaugeMux {
	return &DisabledGaugeMux{
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledGaugeMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		d.mu.Unlock()
		return id, ch
	}
	d.subscribers[id] = ch
	d.mu.Unlock()
	return id, ch
}

func (d *DisabledGaugeMux) Unsubscribe(id string) {
	d.mu.Lock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
}

func (d *DisabledGaugeMux) SendCommand(string) error { return nil }

func (d *DisabledGaugeMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledGaugeMux) Close() error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	// Close all subscriber channels
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
	return nil
}

func (d *DisabledGaugeMux) Initialize() error { return nil }

func (d *DisabledGaugeMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/gauges-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("gauges disabled"))
	})
}
