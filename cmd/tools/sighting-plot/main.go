// Command sighting-plot fetches one device's sightings from a running
// trackwatch server and renders its RSSI timeline as a PNG.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/trackwatch/internal/api"
	"github.com/banshee-data/trackwatch/internal/httputil"
	"github.com/banshee-data/trackwatch/internal/report"
	"github.com/banshee-data/trackwatch/internal/tracking"
	"github.com/banshee-data/trackwatch/internal/units"
)

// sightingsURL builds the device sightings endpoint. Accuracy is requested
// in metres and timestamps in UTC so the result maps straight back onto
// tracking.Sighting.
func sightingsURL(base, address, since string) string {
	q := url.Values{}
	q.Set("units", units.Metres)
	if since != "" {
		q.Set("since", since)
	}
	return fmt.Sprintf("%s/api/devices/%s/sightings?%s",
		strings.TrimRight(base, "/"), url.PathEscape(address), q.Encode())
}

func fetchSightings(ctx context.Context, client httputil.HTTPClient, base, address, since string) ([]tracking.Sighting, error) {
	var in []api.SightingAPI
	if err := httputil.GetJSON(ctx, client, sightingsURL(base, address, since), &in); err != nil {
		return nil, err
	}
	out := make([]tracking.Sighting, len(in))
	for i, a := range in {
		s := tracking.Sighting{ID: a.ID, Address: a.Address, Timestamp: tracking.Canonical(a.Timestamp), RSSI: a.RSSI}
		if a.Latitude != nil && a.Longitude != nil && a.Accuracy != nil {
			s.Location = &tracking.Location{Latitude: *a.Latitude, Longitude: *a.Longitude, Accuracy: *a.Accuracy}
		}
		out[i] = s
	}
	return out, nil
}

func main() {
	server := flag.String("server", "http://localhost:8080", "trackwatch base URL")
	address := flag.String("address", "", "device address to plot")
	since := flag.String("since", "", "lower bound (RFC3339); defaults to the server's relevance window")
	output := flag.String("o", "", "output PNG path (default <address>.png)")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Parse()

	if *address == "" {
		log.Fatal("-address is required")
	}
	if *output == "" {
		*output = strings.ReplaceAll(*address, ":", "") + ".png"
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sightings, err := fetchSightings(ctx, nil, *server, *address, *since)
	if err != nil {
		log.Fatalf("failed to fetch sightings: %v", err)
	}

	summary, err := report.SummariseRSSI(sightings, units.DBMToProximity)
	if err != nil {
		log.Fatalf("failed to summarise: %v", err)
	}
	log.Printf("%s: %d sightings, %d RSSI samples, mean %.1f dBm (sd %.1f), median %.1f dBm",
		*address, summary.Sightings, summary.Samples, summary.Mean, summary.StdDev, summary.Median)

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *output, err)
	}
	if err := report.PlotTimeline(f, *address, sightings); err != nil {
		f.Close()
		log.Fatalf("failed to plot: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("failed to write %s: %v", *output, err)
	}
	log.Printf("✓ Created: %s", *output)
}
