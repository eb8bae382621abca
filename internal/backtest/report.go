package backtest

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	reportWidthPx       = 1400
	reportChartHeightPx = 420

	colorEquity   = "#3b82f6"
	colorDrawdown = "#f87171"
	colorAxisText = "#9ca3af"
)

// RenderReport writes a standalone HTML report for a finished run: the equity
// curve and the drawdown profile derived from it.
func RenderReport(w io.Writer, rec RunRecord) error {
	if len(rec.Curve) == 0 {
		return fmt.Errorf("run %s has no equity curve to render", rec.ID)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s backtest", strings.ToUpper(rec.Symbol), rec.Strategy)

	xAxis := make([]string, len(rec.Curve))
	equity := make([]opts.LineData, len(rec.Curve))
	drawdown := make([]opts.LineData, len(rec.Curve))
	runMax := rec.Curve[0].Equity
	for i, pt := range rec.Curve {
		if pt.Equity > runMax {
			runMax = pt.Equity
		}
		xAxis[i] = pt.Date.Format("2006-01-02")
		equity[i] = opts.LineData{Value: round2(pt.Equity)}
		dd := 0.0
		if runMax > 0 {
			dd = (pt.Equity/runMax - 1) * 100
		}
		drawdown[i] = opts.LineData{Value: round2(dd)}
	}

	page.AddCharts(
		equityChart(rec, xAxis, equity),
		drawdownChart(rec, xAxis, drawdown),
	)
	return page.Render(w)
}

func equityChart(rec RunRecord, xAxis []string, data []opts.LineData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  fmt.Sprintf("%dpx", reportWidthPx),
			Height: fmt.Sprintf("%dpx", reportChartHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Equity: %s %s", strings.ToUpper(rec.Symbol), rec.Strategy),
			Subtitle: fmt.Sprintf("CAGR %.2f%% | Sharpe %.2f | MaxDD %.2f%% | trades %d",
				rec.Metrics.CAGR*100, rec.Metrics.Sharpe, rec.Metrics.MaxDD*100, rec.Metrics.TotalTrades),
			Left: "left",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorAxisText},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorAxisText},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func drawdownChart(rec RunRecord, xAxis []string, data []opts.LineData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  fmt.Sprintf("%dpx", reportWidthPx),
			Height: fmt.Sprintf("%dpx", reportChartHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %", Left: "left"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorAxisText},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorAxisText},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.25)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
