// Package monitoring holds the swappable diagnostic logger used by the
// chattier subsystems (the SPC worker and the ingestion pipeline) so their
// per-reading and per-run output can be redirected or muted without
// touching the stdlib default logger the rest of the station uses.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger, which is how tests silence worker and ingest chatter.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
