// Package scanner reads advertisement reports from a BLE receiver, feeds
// them to the event log in batches, and fans the raw line stream out to
// debugging observers.
package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/trackwatch/internal/monitoring"
	"github.com/banshee-data/trackwatch/internal/timeutil"
	"github.com/banshee-data/trackwatch/internal/tracking"
)

var ErrWriteFailed = errors.New("failed to write to receiver")

// Sink accepts parsed sightings. *tracking.EventLog satisfies it.
type Sink interface {
	AppendBatch(ctx context.Context, batch []tracking.Sighting) tracking.BatchResult
}

// Stats counts lines by how Monitor handled them.
type Stats struct {
	Parsed   int64 `json:"parsed"`
	Rejected int64 `json:"rejected"`
	Skipped  int64 `json:"skipped"`
	Stored   int64 `json:"stored"`
	Failed   int64 `json:"failed"`
}

// Scanner owns one receiver port.
type Scanner struct {
	// BatchSize caps how many sightings are appended per call.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits.
	FlushInterval time.Duration

	port  Port
	sink  Sink
	clock timeutil.Clock
	lines *tracking.Hub[string]

	commandMu sync.Mutex
	scanning  atomic.Bool
	closing   atomic.Bool

	parsed, rejected, skipped, stored, failed atomic.Int64
}

// NewScanner reads from port and appends to sink. A nil clock uses
// wall-clock time.
func NewScanner(port Port, sink Sink, clock timeutil.Clock) *Scanner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scanner{
		BatchSize:     64,
		FlushInterval: time.Second,
		port:          port,
		sink:          sink,
		clock:         clock,
		lines:         tracking.NewHub[string](256),
	}
}

// IsScanning reports whether Monitor is currently reading.
func (s *Scanner) IsScanning() bool { return s.scanning.Load() }

// Stats returns a snapshot of the line counters.
func (s *Scanner) Stats() Stats {
	return Stats{
		Parsed:   s.parsed.Load(),
		Rejected: s.rejected.Load(),
		Skipped:  s.skipped.Load(),
		Stored:   s.stored.Load(),
		Failed:   s.failed.Load(),
	}
}

// SubscribeRaw streams every line read from the port, sightings or not.
func (s *Scanner) SubscribeRaw() *tracking.Subscription[string] {
	return s.lines.Subscribe(nil)
}

func (s *Scanner) UnsubscribeRaw(sub *tracking.Subscription[string]) {
	s.lines.Unsubscribe(sub)
}

// SendCommand writes a newline-terminated control command to the receiver.
func (s *Scanner) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines until ctx ends, the port reaches EOF, or Close is
// called. Parsed sightings are appended in batches; a pending batch is
// flushed before Monitor returns.
func (s *Scanner) Monitor(ctx context.Context) error {
	if !s.scanning.CompareAndSwap(false, true) {
		return fmt.Errorf("scanner already monitoring")
	}
	defer s.scanning.Store(false)

	scan := bufio.NewScanner(s.port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs on its own goroutine so the loop below can
	// still observe cancellation and flush deadlines.
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
			scanErrChan <- err
		}
	}()

	ticker := s.clock.NewTicker(s.FlushInterval)
	defer ticker.Stop()

	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batch := make([]tracking.Sighting, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Flush with a detached context so a cancelled monitor still
		// persists what it already read.
		res := s.sink.AppendBatch(context.WithoutCancel(ctx), batch)
		s.stored.Add(int64(len(res.Inserted)))
		s.failed.Add(int64(len(res.Failures)))
		for _, f := range res.Failures {
			opsf("append %s failed: %v", f.Address, f.Err)
		}
		batch = batch[:0]
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.closing.Load() {
				return nil
			}
			return err

		case <-ticker.C():
			flush()

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.closing.Load() {
						return err
					}
				default:
				}
				return nil
			}
			s.lines.Publish(line)
			sighting, err := ParseLine([]byte(line), s.clock.Now())
			switch {
			case errors.Is(err, ErrNotSighting):
				s.skipped.Add(1)
				monitoring.ScannerLines.WithLabelValues("skipped").Inc()
				tracef("skip %q", line)
			case err != nil:
				s.rejected.Add(1)
				monitoring.ScannerLines.WithLabelValues("rejected").Inc()
				diagf("rejected line %q: %v", line, err)
			default:
				s.parsed.Add(1)
				monitoring.ScannerLines.WithLabelValues("parsed").Inc()
				batch = append(batch, sighting)
				if len(batch) >= batchSize {
					flush()
				}
			}
		}
	}
}

// Close ends raw-line subscriptions and closes the port, which unblocks a
// running Monitor.
func (s *Scanner) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.lines.Close()
	return s.port.Close()
}

// AttachAdminRoutes mounts a command endpoint and a live tail of receiver
// output under /debug/ on mux.
func (s *Scanner) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("scanner-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write command: %v", err), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to receiver", command)
	})

	debug.HandleSilentFunc("scanner-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		sub := s.SubscribeRaw()
		defer s.UnsubscribeRaw(sub)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()
		for {
			select {
			case line, ok := <-sub.C:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleFunc("scanner-stats", "receiver line counters", func(w http.ResponseWriter, r *http.Request) {
		st := s.Stats()
		fmt.Fprintf(w, "scanning=%v parsed=%d rejected=%d skipped=%d stored=%d failed=%d\n",
			s.IsScanning(), st.Parsed, st.Rejected, st.Skipped, st.Stored, st.Failed)
	})
}
