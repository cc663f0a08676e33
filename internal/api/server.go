package api

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/gaugemux"
	"github.com/banshee-data/process.report/internal/httputil"
)

// ANSI escape codes for request log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the station's JSON API. It ties the HTTP surface to the
// database, the SPC worker (for recalculation and immediate re-evaluation
// after sample edits) and the gauge mux (for the command endpoint).
type Server struct {
	m      gaugemux.GaugeMuxInterface
	db     *db.DB
	worker *db.SPCWorker
	units  string
}

// NewServer constructs a Server. units is the station default display unit
// reported by /api/config; per-characteristic units override it on chart
// and capability responses.
func NewServer(m gaugemux.GaugeMuxInterface, database *db.DB, worker *db.SPCWorker, units string) *Server {
	return &Server{
		m:      m,
		db:     database,
		worker: worker,
		units:  units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the route table for the JSON API. Debug routes attach
// separately via AttachDebugRoutes and the gauge mux admin pages.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sites", s.handleSites)
	mux.HandleFunc("/api/sites/", s.handleSites)
	mux.HandleFunc("/api/characteristics", s.handleCharacteristics)
	mux.HandleFunc("/api/characteristics/", s.handleCharacteristics)
	mux.HandleFunc("/api/samples/", s.handleSampleByID)
	mux.HandleFunc("/api/violations/", s.handleViolationByID)
	mux.HandleFunc("/api/brokers", s.handleBrokers)
	mux.HandleFunc("/api/brokers/", s.handleBrokers)
	mux.HandleFunc("/api/serial/configs", s.handleSerialConfigsOrCreate)
	mux.HandleFunc("/api/serial/configs/", s.handleSerialConfigByID)
	mux.HandleFunc("/api/serial/models", s.handleGaugeModels)
	mux.HandleFunc("/api/serial/reload", s.handleSerialReload)
	mux.HandleFunc("/api/serial/status", s.handleSerialStatus)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/command", s.sendCommandHandler)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	command := r.FormValue("command")

	if err := s.m.SendCommand(command); err != nil {
		httputil.InternalServerError(w, "Failed to send command")
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	config := map[string]interface{}{
		"units": s.units,
	}
	if s.worker != nil {
		config["history_window"] = s.worker.HistoryWindow
		config["min_subgroup_n"] = s.worker.MinSubgroupN
		config["evaluation_interval_seconds"] = int(s.worker.Interval.Seconds())
	}

	httputil.WriteJSONOK(w, config)
}

// pathID extracts a numeric ID from a URL path after the given prefix.
// Remaining path segments after the ID are returned for subresource
// dispatch ("/api/characteristics/3/chart" yields 3, ["chart"]). When the
// first segment is not numeric, ok is false and rest holds all segments
// so callers can tell a malformed ID from a bare collection path.
func pathID(path, prefix string) (id int64, rest []string, ok bool) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return 0, nil, false
	}
	parts := strings.Split(trimmed, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, parts, false
	}
	return id, parts[1:], true
}
