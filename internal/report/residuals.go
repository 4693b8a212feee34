package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/banshee-data/geomag/internal/frechet"
	"github.com/banshee-data/geomag/internal/inversion"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrNoResiduals is returned when there is nothing to plot.
var ErrNoResiduals = errors.New("no residual rows")

// Relative returns, per observation type, the RMS of every row divided by
// the RMS of the first row. Types whose first RMS is zero are omitted.
// The total is keyed "total".
func Relative(rows []inversion.ResidualRow) map[string][]float64 {
	out := make(map[string][]float64)
	if len(rows) == 0 {
		return out
	}
	add := func(key string, first float64, get func(inversion.ResidualRow) float64) {
		if first == 0 {
			return
		}
		v := make([]float64, len(rows))
		for i, r := range rows {
			v[i] = get(r) / first
		}
		out[key] = v
	}
	for t := 0; t < frechet.NumTypes; t++ {
		add(frechet.ObsType(t).String(), rows[0].RMS[t], func(r inversion.ResidualRow) float64 { return r.RMS[t] })
	}
	add("total", rows[0].Total, func(r inversion.ResidualRow) float64 { return r.Total })
	return out
}

// ResidualPlot draws the relative RMS of each observation type against
// the iteration number.
func ResidualPlot(rows []inversion.ResidualRow) (*plot.Plot, error) {
	if len(rows) == 0 {
		return nil, ErrNoResiduals
	}
	rel := Relative(rows)

	p := plot.New()
	p.Title.Text = "Residual convergence"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "RMS / initial RMS"

	keys := make([]string, 0, frechet.NumTypes+1)
	for t := 0; t < frechet.NumTypes; t++ {
		keys = append(keys, frechet.ObsType(t).String())
	}
	keys = append(keys, "total")

	for i, key := range keys {
		v, ok := rel[key]
		if !ok {
			continue
		}
		pts := make(plotter.XYs, len(v))
		for j := range v {
			pts[j] = plotter.XY{X: float64(rows[j].Iteration), Y: v[j]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", key, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		if key == "total" {
			line.Color = color.Black
			line.Width = vg.Points(2)
		}
		p.Add(line)
		p.Legend.Add(key, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteResidualPNG renders ResidualPlot as a PNG to w.
func WriteResidualPNG(w io.Writer, rows []inversion.ResidualRow) error {
	p, err := ResidualPlot(rows)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
