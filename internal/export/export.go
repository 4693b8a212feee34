// Package export writes inversion results to an output directory: spline
// coefficient tensors and band matrices as NumPy .npy files and the
// residual history as a semicolon-separated table. Every file is written
// atomically.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/geomag/internal/fsutil"
	"github.com/banshee-data/geomag/internal/inversion"
	"github.com/banshee-data/geomag/internal/security"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// File name suffixes appended to a run name.
const (
	SuffixFinal       = "_final.npy"
	SuffixResidual    = "_residual.csv"
	SuffixForwardBand = "_forward_band.npy"
	SuffixDampBand    = "_damp_band.npy"
)

// ResidualHeader is the header row of the residual table.
var ResidualHeader = []string{
	"iteration", "res x", "res y", "res z", "res hor", "res int", "res incl", "res decl", "res total",
}

// ErrNoResult is returned when Save is given a nil result.
var ErrNoResult = errors.New("no result to export")

// Options selects the optional outputs.
type Options struct {
	// AllIterations also writes the tensor of every iteration.
	AllIterations bool
	// DumpMatrices writes the normal-equation and damping bands in LAPACK
	// upper band layout, one row per unknown.
	DumpMatrices bool
}

// Writer writes results below Dir.
type Writer struct {
	FS  fsutil.FileSystem
	Dir string
}

// NewWriter returns a Writer on the OS filesystem.
func NewWriter(dir string) *Writer {
	return &Writer{FS: fsutil.OSFileSystem{}, Dir: dir}
}

// DampingName is the run name used for a pair of damping factors.
func DampingName(spatial, temporal float64) string {
	return fmt.Sprintf("%.2es+%.2et", spatial, temporal)
}

// IterationSuffix is the file suffix of the tensor after iteration it.
func IterationSuffix(it int) string {
	return fmt.Sprintf("_iter%03d.npy", it)
}

// Path returns the output path of name+suffix.
func (w *Writer) Path(name, suffix string) (string, error) {
	return security.OutputPath(w.Dir, security.SanitizeFilename(name)+suffix)
}

// Exists reports whether the final model of name has been written.
func (w *Writer) Exists(name string) bool {
	p, err := w.Path(name, SuffixFinal)
	if err != nil {
		return false
	}
	return w.FS.Exists(p)
}

// Save writes res under name and returns the paths written.
func (w *Writer) Save(name string, res *inversion.Result, opts Options) ([]string, error) {
	if res == nil {
		return nil, ErrNoResult
	}
	if err := w.FS.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var written []string
	put := func(suffix string, write func(io.Writer) error) error {
		p, err := w.Path(name, suffix)
		if err != nil {
			return err
		}
		if err := fsutil.WriteFileAtomic(w.FS, p, write); err != nil {
			return err
		}
		written = append(written, p)
		return nil
	}

	if opts.AllIterations {
		for i, m := range res.Models {
			if err := put(IterationSuffix(i+1), npyWriter(m)); err != nil {
				return written, err
			}
		}
	}
	if err := put(SuffixFinal, npyWriter(res.Final())); err != nil {
		return written, err
	}
	if err := put(SuffixResidual, func(out io.Writer) error {
		return WriteResiduals(out, res.Residuals)
	}); err != nil {
		return written, err
	}

	if opts.DumpMatrices {
		bands := []struct {
			suffix string
			band   *mat.SymBandDense
		}{
			{SuffixForwardBand, res.NormalBand},
			{SuffixDampBand, res.DampingBand},
		}
		for _, b := range bands {
			if b.band == nil {
				continue
			}
			if err := put(b.suffix, npyWriter(BandRows(b.band))); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func npyWriter(m *mat.Dense) func(io.Writer) error {
	return func(w io.Writer) error {
		return npyio.Write(w, m)
	}
}

// BandRows views the upper band storage of b as an n × (k+1) matrix whose
// row i holds b[i, i], b[i, i+1], …, b[i, i+k].
func BandRows(b *mat.SymBandDense) *mat.Dense {
	raw := b.RawSymBand()
	return mat.NewDense(raw.N, raw.K+1, raw.Data[:raw.N*raw.Stride])
}

// WriteResiduals writes the residual history as a ';'-separated table.
func WriteResiduals(w io.Writer, rows []inversion.ResidualRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(ResidualHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{strconv.Itoa(r.Iteration)}
		for _, v := range r.Values() {
			rec = append(rec, strconv.FormatFloat(v, 'g', 10, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCoefficients reads a coefficient tensor written by Save, for use as
// a starting model.
func ReadCoefficients(fsys fsutil.FileSystem, path string) (*mat.Dense, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &m, nil
}
