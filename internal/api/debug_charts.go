package api

import (
	"bytes"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/process.report/internal/httputil"
	"github.com/banshee-data/process.report/internal/spc"
	"github.com/banshee-data/process.report/internal/units"
)

// echartsAssetsPrefix is where the debug chart pages load the ECharts
// runtime from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachDebugRoutes registers the chart preview pages under /debug/spc.
// These are debugging-only endpoints (no auth) to eyeball a control chart
// without the operator UI, intended for localhost or tailnet access like
// the gauge admin console.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/spc", s.handleDebugIndex)
	mux.HandleFunc("/debug/spc/chart", s.handleDebugControlChart)
	mux.HandleFunc("/debug/spc/zones", s.handleDebugZoneScatter)
	mux.HandleFunc("/debug/spc/capability.png", s.handleDebugCapabilityHistogram)
}

// debugChartTarget resolves the ?id= and ?window= query parameters and
// loads the chart payload the JSON API would serve.
func (s *Server) debugChartTarget(w http.ResponseWriter, r *http.Request) (*ChartResponse, string, bool) {
	idParam := r.URL.Query().Get("id")
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		httputil.BadRequest(w, "Missing or invalid 'id' parameter")
		return nil, "", false
	}

	char, err := s.db.GetCharacteristic(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Characteristic not found")
			return nil, "", false
		}
		httputil.InternalServerError(w, "Failed to fetch characteristic")
		return nil, "", false
	}

	window, ok := s.windowParam(w, r)
	if !ok {
		return nil, "", false
	}

	resp, err := s.buildChart(r, char, window)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to build chart: %v", err))
		return nil, "", false
	}
	return resp, char.Name, true
}

// handleDebugControlChart renders the control chart as an ECharts line
// plot: subgroup values with the center line and limits. Variable-size
// charts draw the per-point limits so the funnel is visible.
func (s *Server) handleDebugControlChart(w http.ResponseWriter, r *http.Request) {
	resp, name, ok := s.debugChartTarget(w, r)
	if !ok {
		return
	}
	if resp.Limits == nil {
		httputil.NotFound(w, "No control limits estimated yet")
		return
	}

	x := make([]string, 0, len(resp.Points))
	values := make([]opts.LineData, 0, len(resp.Points))
	center := make([]opts.LineData, 0, len(resp.Points))
	upper := make([]opts.LineData, 0, len(resp.Points))
	lower := make([]opts.LineData, 0, len(resp.Points))
	for _, p := range resp.Points {
		x = append(x, strconv.FormatInt(p.SampleID, 10))
		values = append(values, opts.LineData{Value: p.Value})
		center = append(center, opts.LineData{Value: resp.Limits.CenterLine})
		ucl, lcl := resp.Limits.UCL, resp.Limits.LCL
		if p.UCL != nil && p.LCL != nil {
			ucl, lcl = *p.UCL, *p.LCL
		}
		upper = append(upper, opts.LineData{Value: ucl})
		lower = append(lower, opts.LineData{Value: lcl})
	}

	open := 0
	for _, v := range resp.Violations {
		if !v.Acknowledged {
			open++
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Control Chart", Theme: "dark", Width: "1400px", Height: "640px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s (%s, %s chart)", name, resp.ChartMode, resp.ChartFamily),
			Subtitle: fmt.Sprintf("rev=%d points=%d open violations=%d units=%s", resp.Limits.Revision, len(resp.Points), open, resp.Units),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Sample"}),
		charts.WithYAxisOpts(opts.YAxis{Name: resp.Units, Scale: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("subgroups", values, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)})).
		AddSeries("center", center).
		AddSeries("UCL", upper).
		AddSeries("LCL", lower)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDebugZoneScatter renders the charted points as a scatter coloured
// by sigma zone, from below the LCL (0) to above the UCL (7).
func (s *Server) handleDebugZoneScatter(w http.ResponseWriter, r *http.Request) {
	resp, name, ok := s.debugChartTarget(w, r)
	if !ok {
		return
	}

	data := make([]opts.ScatterData, 0, len(resp.Points))
	for i, p := range resp.Points {
		rank := 0
		if z, err := spc.ParseZone(p.Zone); err == nil {
			rank = int(z)
		}
		data = append(data, opts.ScatterData{Value: []interface{}{i, p.Value, rank}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sigma Zones", Theme: "dark", Width: "1400px", Height: "640px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s sigma zones", name), Subtitle: fmt.Sprintf("points=%d units=%s", len(data), resp.Units)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Index"}),
		charts.WithYAxisOpts(opts.YAxis{Name: resp.Units, Scale: opts.Bool(true)}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        7,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#d73027", "#fc8d59", "#fee090", "#e0f3f8", "#e0f3f8", "#fee090", "#fc8d59", "#d73027"}},
		}),
	)
	scatter.AddSeries("zones", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(scatter)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDebugCapabilityHistogram renders a PNG histogram of the pooled
// individual measurements in the window, in the characteristic's display
// units. Spec limits, when set, appear in the title since the operator UI
// owns the pretty rendering.
func (s *Server) handleDebugCapabilityHistogram(w http.ResponseWriter, r *http.Request) {
	idParam := r.URL.Query().Get("id")
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		httputil.BadRequest(w, "Missing or invalid 'id' parameter")
		return
	}

	char, err := s.db.GetCharacteristic(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Characteristic not found")
			return
		}
		httputil.InternalServerError(w, "Failed to fetch characteristic")
		return
	}

	window, ok := s.windowParam(w, r)
	if !ok {
		return
	}

	samples, err := s.db.ListSamplesWithMeasurements(id, window)
	if err != nil {
		httputil.InternalServerError(w, "Failed to fetch samples")
		return
	}

	var vals plotter.Values
	for _, sample := range samples {
		if sample.Excluded {
			continue
		}
		for _, m := range sample.Measurements {
			if m.Excluded {
				continue
			}
			vals = append(vals, units.ConvertLength(m.Value, char.Units))
		}
	}
	if len(vals) == 0 {
		httputil.NotFound(w, "No measurements in window")
		return
	}

	title := fmt.Sprintf("%s (%d measurements, %s)", char.Name, len(vals), char.Units)
	spec := char.SpecLimits()
	if spec.LSL != nil && spec.USL != nil {
		title = fmt.Sprintf("%s  LSL=%.4g USL=%.4g",
			title,
			units.ConvertLength(*spec.LSL, char.Units),
			units.ConvertLength(*spec.USL, char.Units))
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = char.Units
	p.Y.Label.Text = "Count"

	hist, err := plotter.NewHist(vals, 32)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build histogram: %v", err))
		return
	}
	p.Add(hist)

	wt, err := p.WriterTo(10*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render histogram: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}

const debugIndexHTML = `<!DOCTYPE html>
<html>
<head>
<title>SPC Debug Charts</title>
<style>
body { background: #111; color: #ddd; font-family: monospace; padding: 2em; }
a { color: #6cf; }
table { border-collapse: collapse; }
td, th { border: 1px solid #444; padding: 4px 12px; text-align: left; }
</style>
</head>
<body>
<h1>SPC debug charts</h1>
<table>
<tr><th>ID</th><th>Characteristic</th><th>Mode</th><th>Links</th></tr>
%s
</table>
</body>
</html>`

// handleDebugIndex lists every characteristic with links to its debug
// charts.
func (s *Server) handleDebugIndex(w http.ResponseWriter, r *http.Request) {
	chars, err := s.db.GetAllCharacteristics()
	if err != nil {
		httputil.InternalServerError(w, "Failed to fetch characteristics")
		return
	}

	var rows strings.Builder
	for _, c := range chars {
		fmt.Fprintf(&rows,
			`<tr><td>%d</td><td>%s</td><td>%s</td><td><a href="/debug/spc/chart?id=%d">chart</a> <a href="/debug/spc/zones?id=%d">zones</a> <a href="/debug/spc/capability.png?id=%d">capability</a></td></tr>`+"\n",
			c.ID, html.EscapeString(c.Name), c.ChartMode, c.ID, c.ID, c.ID)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, debugIndexHTML, rows.String())
}
