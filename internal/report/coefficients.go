package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/geomag/internal/inversion"
	"github.com/banshee-data/geomag/internal/shbasis"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// CoefficientChart returns a line chart with one series per Gauss
// coefficient of the final model, sampled at opts.Times.
func CoefficientChart(res *inversion.Result, o Options) (*charts.Line, error) {
	times := o.Times
	if times == nil {
		times = res.Grid
	}
	gh, err := res.CoefficientsAt(-1, times)
	if err != nil {
		return nil, err
	}
	ncoef := shbasis.NumGauss(res.MaxDegree)
	if o.MaxDegree > 0 && o.MaxDegree < res.MaxDegree {
		ncoef = shbasis.NumGauss(o.MaxDegree)
	}

	x := make([]string, len(times))
	for i, t := range times {
		x[i] = strconv.FormatFloat(t, 'f', -1, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gauss coefficients", Width: "1200px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Gauss coefficients",
			Subtitle: fmt.Sprintf("degree %d, %d iterations, rms %.4g", res.MaxDegree, res.Iterations(), res.FinalResidual().Total),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Year", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "nT", NameLocation: "middle", NameGap: 50}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x)
	for k := 0; k < ncoef; k++ {
		data := make([]opts.LineData, len(times))
		for i := range times {
			data[i] = opts.LineData{Value: gh.At(i, k)}
		}
		line.AddSeries(shbasis.GaussLabel(k), data)
	}
	return line, nil
}

// WriteCoefficientHTML renders CoefficientChart as a standalone HTML page.
func WriteCoefficientHTML(w io.Writer, res *inversion.Result, o Options) error {
	line, err := CoefficientChart(res, o)
	if err != nil {
		return err
	}
	return line.Render(w)
}
