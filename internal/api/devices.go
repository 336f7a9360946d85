package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/trackwatch/internal/httputil"
	"github.com/banshee-data/trackwatch/internal/monitoring"
	"github.com/banshee-data/trackwatch/internal/report"
	"github.com/banshee-data/trackwatch/internal/tracking"
	"github.com/banshee-data/trackwatch/internal/units"
)

// maxIngestBody bounds POST /api/sightings.
const maxIngestBody = 4 << 20

// SightingAPI is a sighting as served to clients: the timestamp rendered in
// the requested zone and accuracy in the requested distance unit.
type SightingAPI struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	RSSI      *int      `json:"rssi,omitempty"`
	Units     string    `json:"units,omitempty"`
}

// displayOptions reads ?units= and ?tz=.
func (s *Server) displayOptions(r *http.Request) (unit, tz string, err error) {
	unit = s.units
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValid(u) {
			return "", "", fmt.Errorf("invalid 'units' parameter, expected one of: %s", units.GetValidUnitsString())
		}
		unit = u
	}
	tz = r.URL.Query().Get("tz")
	if tz != "" && !units.IsTimezoneValid(tz) {
		return "", "", fmt.Errorf("invalid 'tz' parameter %q", tz)
	}
	return unit, tz, nil
}

func toSightingAPI(in []tracking.Sighting, unit, tz string) []SightingAPI {
	out := make([]SightingAPI, len(in))
	for i, sg := range in {
		ts, _ := units.ConvertTime(sg.Timestamp, tz)
		a := SightingAPI{ID: sg.ID, Address: sg.Address, Timestamp: ts, RSSI: sg.RSSI}
		if sg.Location != nil {
			lat, lon := sg.Location.Latitude, sg.Location.Longitude
			acc := units.ConvertDistance(sg.Location.Accuracy, unit)
			a.Latitude, a.Longitude, a.Accuracy = &lat, &lon, &acc
			a.Units = unit
		}
		out[i] = a
	}
	return out
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var (
		devices []tracking.Device
		err     error
	)
	if r.URL.Query().Get("since") == "" {
		devices, err = s.engine.Registry.List(r.Context())
	} else {
		since, perr := s.sinceParam(r)
		if perr != nil {
			s.writeError(w, perr)
			return
		}
		devices, err = s.engine.Registry.ListActive(r.Context(), since)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, devices)
}

func (s *Server) listIgnoredDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	devices, err := s.engine.Registry.ListIgnored(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, devices)
}

// handleDeviceByAddress routes /api/devices/{address}[/sub].
func (s *Server) handleDeviceByAddress(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/devices/"
	remainder := strings.TrimPrefix(r.URL.Path, prefix)
	address, subPath := remainder, ""
	if idx := strings.Index(remainder, "/"); idx != -1 {
		address, subPath = remainder[:idx], remainder[idx+1:]
	}
	if address == "" {
		httputil.BadRequest(w, "missing device address")
		return
	}

	switch {
	case subPath == "" && r.Method == http.MethodGet:
		s.showDevice(w, r, address)
	case subPath == "sightings" && r.Method == http.MethodGet:
		s.listDeviceSightings(w, r, address)
	case subPath == "risk" && r.Method == http.MethodGet:
		s.showRisk(w, r, address)
	case subPath == "risk" && r.Method == http.MethodPost:
		s.recomputeRisk(w, r, address)
	case subPath == "ignore" && (r.Method == http.MethodPost || r.Method == http.MethodDelete):
		s.setIgnored(w, r, address, r.Method == http.MethodPost)
	case subPath == "summary" && r.Method == http.MethodGet:
		s.showSummary(w, r, address)
	case subPath == "timeline.png" && r.Method == http.MethodGet:
		s.renderTimeline(w, r, address)
	case subPath == "map" && r.Method == http.MethodGet:
		s.renderSightingMap(w, r, address)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showDevice(w http.ResponseWriter, r *http.Request, address string) {
	d, err := s.engine.Registry.Get(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, d)
}

func (s *Server) listDeviceSightings(w http.ResponseWriter, r *http.Request, address string) {
	since, err := s.sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	unit, tz, err := s.displayOptions(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sightings, err := s.engine.Log.QuerySince(r.Context(), address, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, toSightingAPI(sightings, unit, tz))
}

type riskResponse struct {
	Address    string             `json:"address"`
	RiskLevel  tracking.RiskLevel `json:"risk_level"`
	Tracking   bool               `json:"tracking"`
	ComputedAt *time.Time         `json:"computed_at,omitempty"`
}

// showRisk evaluates through the cache, recomputing only when stale.
func (s *Server) showRisk(w http.ResponseWriter, r *http.Request, address string) {
	level, err := s.engine.Evaluator.Evaluate(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	_, at, err := s.engine.Registry.GetCachedRisk(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, riskResponse{Address: address, RiskLevel: level, Tracking: level.IsTracking(), ComputedAt: at})
}

// recomputeRisk bypasses the cache and returns the window statistics too.
func (s *Server) recomputeRisk(w http.ResponseWriter, r *http.Request, address string) {
	update, err := s.engine.Evaluator.Recompute(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, update)
}

func (s *Server) setIgnored(w http.ResponseWriter, r *http.Request, address string, ignored bool) {
	if err := s.engine.Registry.SetIgnoreFlag(r.Context(), address, ignored); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.engine.Registry.Get(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, d)
}

type summaryResponse struct {
	Address string             `json:"address"`
	Since   time.Time          `json:"since"`
	RSSI    report.RSSISummary `json:"rssi"`
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request, address string) {
	since, err := s.sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sightings, err := s.engine.Log.QuerySince(r.Context(), address, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sum, err := report.SummariseRSSI(sightings, s.proximity)
	if err != nil && !errors.Is(err, report.ErrNoData) {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, summaryResponse{Address: address, Since: since, RSSI: sum})
}

func (s *Server) renderTimeline(w http.ResponseWriter, r *http.Request, address string) {
	since, err := s.sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sightings, err := s.engine.Log.QuerySince(r.Context(), address, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.PlotTimeline(&buf, address, sightings); err != nil {
		if errors.Is(err, report.ErrNoData) {
			httputil.NotFound(w, "no sightings in range")
			return
		}
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// handleSightings lists every sighting since ?since= (GET) or ingests a
// JSON array of sightings (POST).
func (s *Server) handleSightings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSightings(w, r)
	case http.MethodPost:
		s.ingestSightings(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listSightings(w http.ResponseWriter, r *http.Request) {
	unit, tz, err := s.displayOptions(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var since *string
	if raw := r.URL.Query().Get("since"); raw != "" {
		since = &raw
	} else {
		def := s.windowStart().Format(time.RFC3339)
		since = &def
	}
	sightings, err := s.engine.Log.QueryAllSinceString(r.Context(), since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, toSightingAPI(sightings, unit, tz))
}

type ingestFailure struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
	Error   string `json:"error"`
}

type ingestResponse struct {
	Inserted int             `json:"inserted"`
	Failures []ingestFailure `json:"failures,omitempty"`
}

// ingestSighting is one POST /api/sightings entry. The timestamp stays a
// string so every entry is parsed on its own and one bad value only fails
// its own entry. RFC 3339 and the zone-less local form are accepted.
type ingestSighting struct {
	Address   string             `json:"address"`
	Timestamp *string            `json:"timestamp"`
	Location  *tracking.Location `json:"location"`
	RSSI      *int               `json:"rssi"`
	Type      string             `json:"type"`
}

// decodeIngest turns one raw entry into a sighting. IDs are assigned by
// the log, so any client ID is ignored.
func decodeIngest(raw json.RawMessage) (tracking.Sighting, error) {
	var in ingestSighting
	if err := json.Unmarshal(raw, &in); err != nil {
		return tracking.Sighting{}, fmt.Errorf("%w: %v", tracking.ErrMalformedSighting, err)
	}
	sg := tracking.Sighting{Address: in.Address, Location: in.Location, RSSI: in.RSSI}
	if in.Type != "" {
		sg.Type = tracking.ParseDeviceType(in.Type)
	}
	if in.Timestamp != nil {
		ts, err := tracking.ParseTimestamp(*in.Timestamp)
		if err != nil {
			return tracking.Sighting{Address: in.Address}, err
		}
		sg.Timestamp = ts
	}
	return sg, nil
}

func (s *Server) ingestSightings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody+1))
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	if len(body) > maxIngestBody {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var (
		failures []tracking.BatchFailure
		batch    = make([]tracking.Sighting, 0, len(entries))
		origin   = make([]int, 0, len(entries)) // batch position -> request index
	)
	for i, raw := range entries {
		sg, err := decodeIngest(raw)
		if err != nil {
			monitoring.SightingsIngested.WithLabelValues("malformed").Inc()
			failures = append(failures, tracking.BatchFailure{Index: i, Address: sg.Address, Err: err})
			continue
		}
		batch = append(batch, sg)
		origin = append(origin, i)
	}

	res := s.engine.Log.AppendBatch(r.Context(), batch)
	for _, f := range res.Failures {
		f.Index = origin[f.Index]
		failures = append(failures, f)
	}
	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })

	resp := ingestResponse{Inserted: len(res.Inserted)}
	status := http.StatusOK
	for _, f := range failures {
		resp.Failures = append(resp.Failures, ingestFailure{Index: f.Index, Address: f.Address, Error: f.Err.Error()})
		if errors.Is(f.Err, tracking.ErrStorageUnavailable) {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusOK && len(resp.Failures) > 0 && resp.Inserted == 0 {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resp)
}

type trackingResponse struct {
	Since   time.Time         `json:"since"`
	Count   int               `json:"count"`
	Devices []tracking.Device `json:"devices"`
}

func (s *Server) showTracking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	since, err := s.sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	devices, err := s.engine.Session.ActiveTrackingDevices(r.Context(), since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if devices == nil {
		devices = []tracking.Device{}
	}
	httputil.WriteJSONOK(w, trackingResponse{Since: since, Count: len(devices), Devices: devices})
}

type statsResponse struct {
	Since       time.Time                   `json:"since"`
	Total       int                         `json:"total"`
	Ignored     int                         `json:"ignored"`
	SeenSince   int                         `json:"seen_since"`
	Tracking    int                         `json:"tracking"`
	NotTracking int                         `json:"not_tracking"`
	ByType      map[tracking.DeviceType]int `json:"by_type"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	since, err := s.sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ctx := r.Context()
	resp := statsResponse{Since: since, ByType: make(map[tracking.DeviceType]int)}
	reg := s.engine.Registry
	if resp.Total, err = reg.TotalCount(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.Ignored, err = reg.CountIgnored(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.SeenSince, err = reg.CountSeenSince(ctx, since); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.Tracking, err = s.engine.Session.ActiveTrackingCount(ctx, since); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.NotTracking, err = s.engine.Session.CountNotTracking(ctx, since); err != nil {
		s.writeError(w, err)
		return
	}
	for _, t := range append([]tracking.DeviceType{tracking.DeviceTypeUnknown}, tracking.KnownDeviceTypes()...) {
		n, err := reg.CountForType(ctx, t, since)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if n > 0 {
			resp.ByType[t] = n
		}
	}
	httputil.WriteJSONOK(w, resp)
}
