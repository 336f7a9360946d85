package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/trackwatch/internal/httputil"
	"github.com/banshee-data/trackwatch/internal/scanner"
	"github.com/banshee-data/trackwatch/internal/timeutil"
	"github.com/banshee-data/trackwatch/internal/tracking"
	"github.com/banshee-data/trackwatch/internal/units"
	"github.com/banshee-data/trackwatch/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ScannerStatus is the part of the scanner the status endpoint reports.
type ScannerStatus interface {
	IsScanning() bool
	Stats() scanner.Stats
}

// Options configure a Server. Zero values select defaults.
type Options struct {
	// Scanner is reported by /api/status; nil means no receiver attached.
	Scanner ScannerStatus
	Clock   timeutil.Clock
	// Proximity maps RSSI to [0,1] in summaries. Defaults to
	// units.DBMToProximity.
	Proximity tracking.ProximityFunc
	// Units is the default distance unit for accuracy values.
	Units string
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

type Server struct {
	engine    *tracking.Engine
	scanner   ScannerStatus
	clock     timeutil.Clock
	proximity tracking.ProximityFunc
	units     string
	gatherer  prometheus.Gatherer
}

func NewServer(engine *tracking.Engine, opts Options) *Server {
	s := &Server{
		engine:    engine,
		scanner:   opts.Scanner,
		clock:     opts.Clock,
		proximity: opts.Proximity,
		units:     opts.Units,
		gatherer:  opts.Gatherer,
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.proximity == nil {
		s.proximity = units.DBMToProximity
	}
	if !units.IsValid(s.units) {
		s.units = units.Metres
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	return s
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

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying connection.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
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

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/devices/ignored", s.listIgnoredDevices)
	mux.HandleFunc("/api/devices/", s.handleDeviceByAddress)
	mux.HandleFunc("/api/sightings", s.handleSightings)
	mux.HandleFunc("/api/tracking", s.showTracking)
	mux.HandleFunc("/api/tracking/events", s.streamTrackingEvents)
	mux.HandleFunc("/api/tracking/ws", s.serveTrackingWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// writeError maps engine errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracking.ErrUnknownDevice):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, tracking.ErrInvalidTimestampFormat),
		errors.Is(err, tracking.ErrMalformedSighting):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, tracking.ErrStorageUnavailable):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

// windowStart is the default lower bound for listing queries.
func (s *Server) windowStart() time.Time {
	return tracking.Canonical(s.clock.Now()).Add(-s.engine.Evaluator.Config().RelevanceWindow)
}

// sinceParam parses ?since=, falling back to the start of the relevance
// window when absent.
func (s *Server) sinceParam(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return s.windowStart(), nil
	}
	return tracking.ParseTimestamp(raw)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	status := map[string]interface{}{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
		"units":      s.units,
		"scanning":   false,
	}
	if s.scanner != nil {
		status["scanning"] = s.scanner.IsScanning()
		status["scanner"] = s.scanner.Stats()
	}
	if last, ok := s.engine.Session.Last(); ok {
		status["last_tracking_update"] = last.At
	}
	httputil.WriteJSONOK(w, status)
}
