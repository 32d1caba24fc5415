package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/httputil"
)

// defaultChartTicks is the history window drawn by /charts/comfort.
const defaultChartTicks = 900

// comfortChart renders the recent comfort history and the latest constraint
// proximities as an HTML page.
// Query params:
//   - n (optional; default 900) number of recent ticks to draw
func (s *Server) comfortChart(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", defaultChartTicks)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	history := s.src.History(n)

	ticks := make([]string, len(history))
	effective := make([]opts.LineData, len(history))
	raw := make([]opts.LineData, len(history))
	gain := make([]opts.LineData, len(history))
	for i, t := range history {
		ticks[i] = strconv.FormatUint(t.Tick, 10)
		effective[i] = opts.LineData{Value: t.EffectiveComfort}
		raw[i] = opts.LineData{Value: t.RawComfort}
		gain[i] = opts.LineData{Value: t.Gain}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Comfort", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Comfort", Subtitle: fmt.Sprintf("last %d ticks", len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(ticks).
		AddSeries("effective", effective).
		AddSeries("raw", raw).
		AddSeries("gain", gain).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	latest := s.src.Latest()
	names := make([]string, crown.NumConstraints)
	prox := make([]opts.BarData, crown.NumConstraints)
	for i := range crown.NumConstraints {
		names[i] = crown.Constraint(i).String()
		prox[i] = opts.BarData{Value: latest.Proximities[i]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Constraint proximity", Subtitle: fmt.Sprintf("tick %d", latest.Tick)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(names).
		AddSeries("proximity", prox,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
