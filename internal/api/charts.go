package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/trackwatch/internal/httputil"
)

// renderSightingMap plots a device's located sightings as a lon/lat scatter,
// coloured by age, using go-echarts. Fixes less precise than the accuracy
// limit are omitted since the engine ignores them too.
func (s *Server) renderSightingMap(w http.ResponseWriter, r *http.Request, address string) {
	since, err := s.sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cfg := s.engine.Evaluator.Config()
	sightings, err := s.engine.Log.QuerySinceWithAccuracyLimit(r.Context(), address, since, cfg.MaxAccuracy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(sightings) == 0 {
		httputil.NotFound(w, "no located sightings in range")
		return
	}

	now := s.clock.Now()
	data := make([]opts.ScatterData, 0, len(sightings))
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	maxAge := 0.0
	for _, sg := range sightings {
		loc := sg.Location
		age := now.Sub(sg.Timestamp).Minutes()
		if age > maxAge {
			maxAge = age
		}
		minLat, maxLat = math.Min(minLat, loc.Latitude), math.Max(maxLat, loc.Latitude)
		minLon, maxLon = math.Min(minLon, loc.Longitude), math.Max(maxLon, loc.Longitude)
		data = append(data, opts.ScatterData{
			Name:  sg.Timestamp.Format(time.RFC3339),
			Value: []interface{}{loc.Longitude, loc.Latitude, age},
		})
	}
	if maxAge == 0 {
		maxAge = 1
	}
	padLat := math.Max((maxLat-minLat)*0.1, 0.001)
	padLon := math.Max((maxLon-minLon)*0.1, 0.001)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sightings " + address, Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: address, Subtitle: fmt.Sprintf("%d located sightings since %s", len(data), since.Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "longitude", Min: minLon - padLon, Max: maxLon + padLon}),
		charts.WithYAxisOpts(opts.YAxis{Name: "latitude", Min: minLat - padLat, Max: maxLat + padLat}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxAge),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#d73027", "#fee08b", "#4575b4"}},
		}),
	)
	scatter.AddSeries("sightings", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
