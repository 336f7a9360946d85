package scanner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/trackwatch/internal/tracking"
)

// ErrNotSighting marks receiver output that is not an advertisement report:
// blank lines, comments and status chatter. Such lines are skipped.
var ErrNotSighting = errors.New("not a sighting line")

// wireSighting is one advertisement report as emitted by the receiver
// firmware, one JSON object per line:
//
//	{"address":"C4:7C:8D:6A:12:9F","type":"airtag","time":"2026-04-10T12:00:05Z",
//	 "lat":52.52,"lon":13.40,"acc":12.5,"rssi":-67}
//
// time may also be unix seconds. lat, lon and acc come from the paired
// phone's last fix and are omitted when there is none. Addresses are
// upper-cased so one radio maps to one device.
type wireSighting struct {
	Address string          `json:"address"`
	Type    string          `json:"type"`
	Time    json.RawMessage `json:"time"`
	Lat     *float64        `json:"lat"`
	Lon     *float64        `json:"lon"`
	Acc     *float64        `json:"acc"`
	RSSI    *int            `json:"rssi"`
}

// ParseLine decodes one receiver line. A report without a time is stamped
// with now. Reports that fail validation return errors wrapping
// tracking.ErrMalformedSighting or tracking.ErrInvalidTimestampFormat.
func ParseLine(line []byte, now time.Time) (tracking.Sighting, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return tracking.Sighting{}, ErrNotSighting
	}
	var w wireSighting
	if err := json.Unmarshal(line, &w); err != nil {
		return tracking.Sighting{}, fmt.Errorf("%w: %v", tracking.ErrMalformedSighting, err)
	}

	ts, err := parseWireTime(w.Time, now)
	if err != nil {
		return tracking.Sighting{}, err
	}
	s := tracking.Sighting{
		Address:   strings.ToUpper(strings.TrimSpace(w.Address)),
		Timestamp: ts,
		RSSI:      w.RSSI,
		Type:      tracking.ParseDeviceType(w.Type),
	}
	// A fix without an accuracy radius cannot be weighed against the
	// accuracy limit, so the sighting is kept without it.
	if w.Lat != nil && w.Lon != nil && w.Acc != nil {
		s.Location = &tracking.Location{Latitude: *w.Lat, Longitude: *w.Lon, Accuracy: *w.Acc}
	}
	if err := tracking.ValidateSighting(s); err != nil {
		return tracking.Sighting{}, err
	}
	return s, nil
}

func parseWireTime(raw json.RawMessage, now time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return tracking.Canonical(now), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %s", tracking.ErrInvalidTimestampFormat, raw)
		}
		return tracking.ParseTimestamp(s)
	}
	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || secs <= 0 {
		return time.Time{}, fmt.Errorf("%w: %s", tracking.ErrInvalidTimestampFormat, raw)
	}
	return tracking.Canonical(time.Unix(int64(secs), 0)), nil
}
