package scanner

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

// SetLogWriters routes the scanner's log streams. A nil writer silences a
// stream. ops carries storage failures, diag rejected lines, trace every
// skipped line.
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
	return log.New(w, "[scanner] ", log.LstdFlags|log.Lmicroseconds)
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
