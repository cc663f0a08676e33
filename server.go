package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/process.report/internal/api"
	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/gaugemux"
)

// buildRootMux assembles the station's HTTP surface: the JSON API, the
// admin debugging routes (accessible only in dev mode or over Tailscale)
// and the dashboard static files. In dev mode static files come from the
// local ./static directory for easier iteration without restarting the
// server; production serves the embedded copy.
func buildRootMux(apiServer *api.Server, gauge gaugemux.GaugeMuxInterface, database *db.DB, dev bool) *http.ServeMux {
	mux := apiServer.ServeMux()

	gauge.AttachAdminRoutes(mux)
	database.AttachAdminRoutes(mux)
	apiServer.AttachDebugRoutes(mux)

	var staticHandler http.Handler
	if dev {
		staticHandler = http.FileServer(http.Dir("./static"))
	} else {
		sub, err := fs.Sub(staticFiles, "static")
		if err != nil {
			log.Fatalf("failed to load embedded static files: %v", err)
		}
		staticHandler = http.FileServer(http.FS(sub))
	}
	mux.Handle("/", staticHandler)

	return mux
}

// runHTTPServer serves h until ctx is cancelled, then shuts down,
// forcing the server closed when a graceful shutdown stalls.
func runHTTPServer(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}
