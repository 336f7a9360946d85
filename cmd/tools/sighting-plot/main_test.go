package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/trackwatch/internal/httputil"
	"github.com/banshee-data/trackwatch/internal/tracking"
)

func TestSightingsURL(t *testing.T) {
	got := sightingsURL("http://localhost:8080/", "C4:7C:8D:6A:12:9F", "2026-04-10T00:00:00Z")
	want := "http://localhost:8080/api/devices/C4:7C:8D:6A:12:9F/sightings?since=2026-04-10T00%3A00%3A00Z&units=m"
	if got != want {
		t.Errorf("sightingsURL = %q, want %q", got, want)
	}
}

func TestFetchSightings(t *testing.T) {
	body := `[
		{"id":"a","address":"TAG","timestamp":"2026-04-10T14:00:00+02:00","latitude":52.5,"longitude":13.4,"accuracy":10,"rssi":-60,"units":"m"},
		{"id":"b","address":"TAG","timestamp":"2026-04-10T12:05:00Z"}
	]`
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, body)

	got, err := fetchSightings(context.Background(), mock, "http://trackwatch.local", "TAG", "")
	if err != nil {
		t.Fatalf("fetchSightings: %v", err)
	}
	rssi := -60
	want := []tracking.Sighting{
		{
			ID:        "a",
			Address:   "TAG",
			Timestamp: time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC),
			Location:  &tracking.Location{Latitude: 52.5, Longitude: 13.4, Accuracy: 10},
			RSSI:      &rssi,
		},
		{ID: "b", Address: "TAG", Timestamp: time.Date(2026, 4, 10, 12, 5, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sightings mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchSightingsUnknownDevice(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusNotFound, `{"error":"unknown device"}`)
	if _, err := fetchSightings(context.Background(), mock, "http://trackwatch.local", "NOPE", ""); err == nil {
		t.Fatal("expected error for unknown device")
	}
}
