package tracking

import (
	"io"
	"log"
	"sync/atomic"
)

type logStreams struct {
	ops, diag, trace *log.Logger
}

var streams atomic.Pointer[logStreams]

func init() {
	streams.Store(&logStreams{})
}

// SetLogWriters configures the package's three log streams. A nil writer
// disables that stream; all three are disabled by default.
//
//   - ops: actionable problems (storage failures, rejected sightings)
//   - diag: recomputations, ignore toggles, worker passes
//   - trace: per-sighting and per-evaluation telemetry
func SetLogWriters(ops, diag, trace io.Writer) {
	streams.Store(&logStreams{
		ops:   newStreamLogger(ops),
		diag:  newStreamLogger(diag),
		trace: newStreamLogger(trace),
	})
}

func newStreamLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[tracking] ", log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...interface{}) {
	if l := streams.Load().ops; l != nil {
		l.Printf(format, args...)
	}
}

func diagf(format string, args ...interface{}) {
	if l := streams.Load().diag; l != nil {
		l.Printf(format, args...)
	}
}

func tracef(format string, args ...interface{}) {
	if l := streams.Load().trace; l != nil {
		l.Printf(format, args...)
	}
}
