// Gaugemux provides an abstraction over a serial-attached gauge
// interface with the ability for multiple clients to subscribe to
// reading lines from the port and send commands to a single device.
package gaugemux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to gauge port")

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// GaugeMux is a generic serial port multiplexer that allows multiple
// clients to subscribe to lines from a single gauge interface.
type GaugeMux[T GaugePorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// GaugeMuxInterface defines the interface for the GaugeMux type.
type GaugeMuxInterface interface {
	// Subscribe creates a new channel for receiving line events from the
	// gauge port. The channel ID is used to identify the unique channel
	// when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the gauge port.
	SendCommand(string) error
	// Monitor reads lines from the gauge port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the gauge port.
	Close() error

	Initialize() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given
	// HTTP mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewGaugeMux creates a GaugeMux instance backed by a gauge port.
func NewGaugeMux[T GaugePorter](port T) *GaugeMux[T] {
	return &GaugeMux[T]{
		port:         port,
		subscribers:  make(map[string]chan string),
		subscriberMu: sync.Mutex{},
		commandMu:    sync.Mutex{},
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (g *GaugeMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	g.subscriberMu.Lock()
	defer g.subscriberMu.Unlock()
	g.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the gauge mux.
func (g *GaugeMux[T]) Unsubscribe(id string) {
	g.subscriberMu.Lock()
	defer g.subscriberMu.Unlock()
	if ch, ok := g.subscribers[id]; ok {
		close(ch)
		delete(g.subscribers, id)
	}
}

// Initialize puts the gauge interface into the output mode the parser
// expects: metric values, continuous transmission, and an initial status
// report so the admin pages have state to show.
func (g *GaugeMux[T]) Initialize() error {
	for _, command := range DefaultInitCommands {
		if err := g.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send init command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand sends a command to the gauge port.
func (g *GaugeMux[T]) SendCommand(command string) error {
	g.commandMu.Lock()
	defer g.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n" // ensure command ends with a newline
	}
	n, err := g.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor monitors the gauge port for lines and sends them to subscribers
func (g *GaugeMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(g.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// start a goroutine to read from the gauge port & send any lines that
	// are scanned to lineChan, and any errors to the scanErrChan
	//
	// the blocking scan.Scan will not interfere with our outer loop
	// awaiting lines & context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		// check if the context is done
		// and exit the loop if so
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			// if the channel is closed, we're done reading from the port
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			// Check if we're closing
			g.closingMu.Lock()
			if g.closing {
				g.closingMu.Unlock()
				return nil
			}
			g.closingMu.Unlock()

			// otherwise take a lock on the subscriber map
			g.subscriberMu.Lock()
			for _, ch := range g.subscribers {
				select {
				case ch <- line:
				default:
					// if the channel is full/blocking skip so as not to block the outer loop
				}
			}
			g.subscriberMu.Unlock()
		}
	}
}

func (g *GaugeMux[T]) Close() error {
	g.closingMu.Lock()
	g.closing = true
	g.closingMu.Unlock()

	g.subscriberMu.Lock()
	defer g.subscriberMu.Unlock()
	for id, ch := range g.subscribers {
		close(ch)
		delete(g.subscribers, id)
	}
	return g.port.Close()
}

func (g *GaugeMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutesForMux(mux, g)
}

// AttachAdminRoutesForMux mounts the gauge debug console for any mux
// implementation. Wrappers that delegate to an inner mux (the runtime
// reload manager) reuse this instead of reimplementing the routes.
func AttachAdminRoutesForMux(mux *http.ServeMux, g GaugeMuxInterface) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail monitor interface using the below two API endpoints.
	debug.HandleFunc("send-command", "send a command to the gauge port", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to write command to the gauge port
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := g.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to gauge port", command))
	})
	// API endpoint to issue Server-Side Events (SSE) in response to lines coming from the gauge port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := g.Subscribe()
		defer g.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// serve tail.js from adminTemplateFS
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
