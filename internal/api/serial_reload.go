package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/gaugemux"
	"github.com/banshee-data/process.report/internal/httputil"
)

// GaugeMuxFactory constructs a gaugemux.GaugeMuxInterface for a port path
// and options. It is injected so the manager can be tested and so
// different runtime modes (real, mock, disabled) can supply their own
// constructors.
type GaugeMuxFactory func(path string, opts gaugemux.PortOptions) (gaugemux.GaugeMuxInterface, error)

// SerialConfigSnapshot describes the configuration currently applied to
// the running gauge mux, mirroring the stored serial configuration so API
// responses can report the active settings.
type SerialConfigSnapshot struct {
	ConfigID int64                `json:"config_id,omitempty"`
	Name     string               `json:"name,omitempty"`
	PortPath string               `json:"port_path"`
	Source   string               `json:"source"`
	Options  gaugemux.PortOptions `json:"options"`
}

// SerialReloadResult is returned to API clients when a reload request is
// processed.
type SerialReloadResult struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Config  *SerialConfigSnapshot `json:"config,omitempty"`
}

// GaugePortManager wraps a GaugeMuxInterface and supports hot-reloading
// the underlying serial configuration. It implements GaugeMuxInterface
// itself so call sites (reading routers, admin routes, monitor routines)
// delegate to the active mux without extra wiring.
//
// Subscriptions survive reloads: Subscribe hands out channels from an
// internal fanout, and a background goroutine subscribes to whichever mux
// is current and forwards its lines into the fanout. Swapping the mux
// only tears down the internal subscription; the goroutine reattaches to
// the new mux on its next pass.
//
// Close is for shutdown only. After Close, SendCommand and Initialize
// return an error and Subscribe returns a closed channel.
type GaugePortManager struct {
	mu       sync.RWMutex
	current  gaugemux.GaugeMuxInterface
	snapshot *SerialConfigSnapshot
	closed   bool

	db      *db.DB
	factory GaugeMuxFactory

	reloadMu sync.Mutex

	fanoutDone  chan struct{}
	fanoutMu    sync.RWMutex
	subscribers map[string]chan string
}

// NewGaugePortManager constructs a manager around an initial mux. The
// snapshot is optional; an empty port path means no configuration has
// been applied yet. The internal fanout goroutine runs until Close.
func NewGaugePortManager(database *db.DB, initial gaugemux.GaugeMuxInterface, snapshot SerialConfigSnapshot, factory GaugeMuxFactory) *GaugePortManager {
	mgr := &GaugePortManager{
		current:     initial,
		db:          database,
		factory:     factory,
		fanoutDone:  make(chan struct{}),
		subscribers: make(map[string]chan string),
	}

	if snapshot.PortPath != "" {
		snap := snapshot
		mgr.snapshot = &snap
	}

	go mgr.runFanout()

	return mgr
}

// CurrentMux returns the mux currently in use. Callers must treat it as
// read-only; reconfiguration goes through ReloadConfig.
func (m *GaugePortManager) CurrentMux() gaugemux.GaugeMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the active configuration snapshot.
func (m *GaugePortManager) Snapshot() SerialConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return SerialConfigSnapshot{}
	}
	return *m.snapshot
}

// runFanout bridges subscriptions across mux reloads. It subscribes to
// the current mux and forwards every line to the persistent subscriber
// channels, reattaching whenever its mux-side subscription closes.
func (m *GaugePortManager) runFanout() {
	var subID string
	var subCh chan string

	defer func() {
		if subID != "" {
			m.mu.RLock()
			mux := m.current
			m.mu.RUnlock()
			if mux != nil {
				mux.Unsubscribe(subID)
			}
		}

		m.fanoutMu.Lock()
		for _, ch := range m.subscribers {
			close(ch)
		}
		m.subscribers = make(map[string]chan string)
		m.fanoutMu.Unlock()
	}()

	for {
		if subID == "" {
			m.mu.RLock()
			mux := m.current
			closed := m.closed
			m.mu.RUnlock()

			if closed {
				return
			}
			if mux == nil {
				select {
				case <-m.fanoutDone:
					return
				case <-time.After(250 * time.Millisecond):
				}
				continue
			}
			subID, subCh = mux.Subscribe()
			if subID == "" {
				time.Sleep(250 * time.Millisecond)
				continue
			}
		}

		select {
		case <-m.fanoutDone:
			return

		case line, ok := <-subCh:
			if !ok {
				// Mux-side subscription closed, most likely a reload.
				// Reattach on the next pass.
				subID = ""
				subCh = nil
				time.Sleep(50 * time.Millisecond)
				continue
			}

			m.fanoutMu.RLock()
			targets := make([]chan string, 0, len(m.subscribers))
			for _, ch := range m.subscribers {
				targets = append(targets, ch)
			}
			m.fanoutMu.RUnlock()

			for _, ch := range targets {
				select {
				case ch <- line:
				default:
					log.Printf("gauge fanout: subscriber channel full, dropping line")
				}
			}
		}
	}
}

// Subscribe returns a persistent channel from the fanout. The channel
// stays valid across mux reloads. After Close it returns a closed
// channel.
func (m *GaugePortManager) Subscribe() (string, chan string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		ch := make(chan string)
		close(ch)
		return "", ch
	}

	id := fmt.Sprintf("subscriber-%d", time.Now().UnixNano())
	ch := make(chan string, 10)

	m.fanoutMu.Lock()
	m.subscribers[id] = ch
	m.fanoutMu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber from the fanout and closes its channel.
func (m *GaugePortManager) Unsubscribe(id string) {
	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()

	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// SendCommand delegates to the current mux.
func (m *GaugePortManager) SendCommand(command string) error {
	m.mu.RLock()
	mux := m.current
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return errors.New("gauge port manager is closed")
	}
	if mux == nil {
		return errors.New("gauge mux unavailable")
	}
	return mux.SendCommand(command)
}

// Monitor proxies Monitor calls to the active mux. When the mux is
// swapped by a reload the loop attaches to the new one automatically.
func (m *GaugePortManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("gauge monitor terminated with error: %v", err)
			time.Sleep(500 * time.Millisecond)
		} else if err == nil {
			// Clean exit, likely a reload. Loop back for the new mux.
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Close closes the active mux and marks the manager closed. Shutdown
// only; callers must ensure no concurrent operations are in flight.
func (m *GaugePortManager) Close() error {
	m.mu.Lock()
	m.closed = true
	if m.current != nil {
		if err := m.current.Close(); err != nil {
			log.Printf("Warning: failed to close current gauge mux during shutdown: %v", err)
		}
	}
	m.current = nil
	m.mu.Unlock()

	close(m.fanoutDone)

	return nil
}

// Initialize delegates to the active mux.
func (m *GaugePortManager) Initialize() error {
	m.mu.RLock()
	mux := m.current
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return errors.New("gauge port manager is closed")
	}
	if mux == nil {
		return errors.New("gauge mux unavailable")
	}
	return mux.Initialize()
}

// AttachAdminRoutes reuses the generic helper so the gauge debug console
// calls through the manager.
func (m *GaugePortManager) AttachAdminRoutes(mux *http.ServeMux) {
	gaugemux.AttachAdminRoutesForMux(mux, m)
}

// ReloadConfig reloads the first enabled serial configuration from the
// database and swaps the active mux. Fanout subscribers keep their
// channels; monitor loops reattach on their own.
func (m *GaugePortManager) ReloadConfig(ctx context.Context) (*SerialReloadResult, error) {
	if m.factory == nil {
		return nil, errors.New("gauge mux factory not configured")
	}
	if m.db == nil {
		return nil, errors.New("database not configured")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	configs, err := m.db.GetEnabledSerialConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to load serial configurations: %w", err)
	}
	if len(configs) == 0 {
		return nil, errors.New("no enabled serial configurations found")
	}

	cfg := configs[0]
	opts := gaugemux.PortOptions{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
	}
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid serial configuration: %w", err)
	}

	currentSnap := m.Snapshot()
	if currentSnap.PortPath == cfg.PortPath && currentSnap.Options.Equal(normalized) {
		return &SerialReloadResult{
			Success: true,
			Message: fmt.Sprintf("Serial configuration %q already active", cfg.Name),
			Config: &SerialConfigSnapshot{
				ConfigID: cfg.ID,
				Name:     cfg.Name,
				PortPath: cfg.PortPath,
				Source:   "database",
				Options:  normalized,
			},
		}, nil
	}

	// Serial ports cannot be opened twice. When the new configuration
	// reuses the current port with different settings the port has to be
	// released before the factory can reopen it, so close first.
	m.mu.Lock()
	oldMux := m.current
	m.current = nil
	m.mu.Unlock()

	if oldMux != nil {
		log.Printf("Closing current gauge mux before reload...")
		if err := oldMux.Close(); err != nil {
			log.Printf("warning: failed to close previous gauge mux: %v", err)
		}
	}

	newMux, err := m.factory(cfg.PortPath, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.PortPath, err)
	}

	if err := newMux.Initialize(); err != nil {
		newMux.Close()
		return nil, fmt.Errorf("failed to initialize serial port: %w", err)
	}

	m.mu.Lock()
	snap := SerialConfigSnapshot{
		ConfigID: cfg.ID,
		Name:     cfg.Name,
		PortPath: cfg.PortPath,
		Source:   "database",
		Options:  normalized,
	}
	m.current = newMux
	m.snapshot = &snap
	m.mu.Unlock()

	return &SerialReloadResult{
		Success: true,
		Message: fmt.Sprintf("Reloaded serial configuration %q", cfg.Name),
		Config:  &snap,
	}, nil
}

// SerialStatusResponse reports whether the station runs a reloadable
// gauge port and, when it does, the active configuration.
type SerialStatusResponse struct {
	Managed bool                  `json:"managed"`
	Config  *SerialConfigSnapshot `json:"config,omitempty"`
}

// handleSerialReload handles POST /api/serial/reload: re-read the enabled
// serial configuration and swap the running gauge mux onto it.
func (s *Server) handleSerialReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	mgr, ok := s.m.(*GaugePortManager)
	if !ok {
		httputil.Conflict(w, "Serial runtime reload not available on this station")
		return
	}

	result, err := mgr.ReloadConfig(r.Context())
	if err != nil {
		log.Printf("Serial reload failed: %v", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, SerialReloadResult{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	httputil.WriteJSONOK(w, result)
}

// handleSerialStatus handles GET /api/serial/status.
func (s *Server) handleSerialStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	mgr, ok := s.m.(*GaugePortManager)
	if !ok {
		httputil.WriteJSONOK(w, SerialStatusResponse{Managed: false})
		return
	}

	resp := SerialStatusResponse{Managed: true}
	if snap := mgr.Snapshot(); snap.PortPath != "" {
		resp.Config = &snap
	}
	httputil.WriteJSONOK(w, resp)
}
