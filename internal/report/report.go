// Package report summarises and plots a device's sighting history for
// offline review.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trackwatch/internal/tracking"
)

// ErrNoData is returned when there is nothing to summarise or plot.
var ErrNoData = errors.New("no sightings to report")

// RSSISummary describes the signal strength samples of a set of sightings.
// Sightings without an RSSI sample are counted in Sightings only.
type RSSISummary struct {
	Sightings     int     `json:"sightings"`
	Samples       int     `json:"samples"`
	Mean          float64 `json:"mean_dbm"`
	StdDev        float64 `json:"stddev_dbm"`
	Median        float64 `json:"median_dbm"`
	Min           float64 `json:"min_dbm"`
	Max           float64 `json:"max_dbm"`
	MeanProximity float64 `json:"mean_proximity"`
}

// SummariseRSSI computes signal statistics. proximity maps each sample to
// [0,1]; a nil proximity leaves MeanProximity at zero.
func SummariseRSSI(sightings []tracking.Sighting, proximity tracking.ProximityFunc) (RSSISummary, error) {
	sum := RSSISummary{Sightings: len(sightings)}
	var dbm, prox []float64
	for _, s := range sightings {
		if s.RSSI == nil {
			continue
		}
		dbm = append(dbm, float64(*s.RSSI))
		if p, ok := s.Proximity(proximity); ok {
			prox = append(prox, p)
		}
	}
	if len(dbm) == 0 {
		return sum, ErrNoData
	}
	sort.Float64s(dbm)

	sum.Samples = len(dbm)
	sum.Mean, sum.StdDev = stat.MeanStdDev(dbm, nil)
	if len(dbm) == 1 {
		sum.StdDev = 0
	}
	sum.Median = stat.Quantile(0.5, stat.Empirical, dbm, nil)
	sum.Min = dbm[0]
	sum.Max = dbm[len(dbm)-1]
	if len(prox) > 0 {
		sum.MeanProximity = stat.Mean(prox, nil)
	}
	return sum, nil
}

// PlotTimeline renders RSSI over time as a PNG. Sightings without a signal
// sample are drawn on the floor of the chart so gaps in reception still
// show up.
func PlotTimeline(w io.Writer, address string, sightings []tracking.Sighting) error {
	if len(sightings) == 0 {
		return ErrNoData
	}

	floor := 0.0
	for _, s := range sightings {
		if s.RSSI != nil && float64(*s.RSSI) < floor {
			floor = float64(*s.RSSI)
		}
	}
	floor -= 5

	withSignal := make(plotter.XYs, 0, len(sightings))
	without := make(plotter.XYs, 0)
	for _, s := range sightings {
		x := float64(s.Timestamp.Unix())
		if s.RSSI == nil {
			without = append(without, plotter.XY{X: x, Y: floor})
			continue
		}
		withSignal = append(withSignal, plotter.XY{X: x, Y: float64(*s.RSSI)})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%d sightings)", address, len(sightings))
	p.X.Label.Text = "time (UTC)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}
	p.Y.Label.Text = "RSSI (dBm)"
	p.Add(plotter.NewGrid())

	if len(withSignal) > 0 {
		sc, err := plotter.NewScatter(withSignal)
		if err != nil {
			return fmt.Errorf("failed to build RSSI series: %w", err)
		}
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("rssi", sc)
	}
	if len(without) > 0 {
		sc, err := plotter.NewScatter(without)
		if err != nil {
			return fmt.Errorf("failed to build no-signal series: %w", err)
		}
		sc.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("no rssi", sc)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render timeline: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
