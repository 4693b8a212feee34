// Package report renders diagnostics of an inversion: the residual
// convergence as a PNG plot and the Gauss coefficients through time as
// an interactive HTML chart.
package report

import (
	"io"

	"github.com/banshee-data/geomag/internal/export"
	"github.com/banshee-data/geomag/internal/fsutil"
	"github.com/banshee-data/geomag/internal/inversion"
)

// File name suffixes appended to a run name.
const (
	SuffixResidualPlot     = "_residuals.png"
	SuffixCoefficientChart = "_gauss.html"
)

// Options tune Save.
type Options struct {
	// Times at which coefficients are charted; nil uses the time grid.
	Times []float64
	// MaxDegree limits the charted coefficients; zero charts all.
	MaxDegree int
}

// Save writes both reports of res next to the exported model and returns
// the paths written.
func Save(w *export.Writer, name string, res *inversion.Result, opts Options) ([]string, error) {
	if res == nil {
		return nil, export.ErrNoResult
	}
	if err := w.FS.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, err
	}

	outputs := []struct {
		suffix string
		write  func(io.Writer) error
	}{
		{SuffixResidualPlot, func(out io.Writer) error {
			return WriteResidualPNG(out, res.Residuals)
		}},
		{SuffixCoefficientChart, func(out io.Writer) error {
			return WriteCoefficientHTML(out, res, opts)
		}},
	}

	var written []string
	for _, o := range outputs {
		p, err := w.Path(name, o.suffix)
		if err != nil {
			return written, err
		}
		if err := fsutil.WriteFileAtomic(w.FS, p, o.write); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}
