// Package monitoring holds the process-wide diagnostic logger and the
// Prometheus collectors shared by the engine, the scanner and the API.
package monitoring

import (
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger so tests can capture or mute output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Writer adapts Logf to an io.Writer so packages with their own log streams
// (tracking.SetLogWriters, scanner.SetLogWriters) can be routed through it.
// Each write is emitted as one Logf call with the trailing newline removed.
func Writer(prefix string) io.Writer {
	return logfWriter{prefix: prefix}
}

type logfWriter struct {
	prefix string
}

func (w logfWriter) Write(p []byte) (int, error) {
	Logf("%s%s", w.prefix, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
