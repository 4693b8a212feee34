// Package pipeline assembles an inversion from an InversionConfig: it
// expands the time grid, reads the GEOMAGIA data files, adds one station
// per site and wires the sweep runner that prepares, solves and saves.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/geomag/internal/config"
	"github.com/banshee-data/geomag/internal/dataprep"
	"github.com/banshee-data/geomag/internal/export"
	"github.com/banshee-data/geomag/internal/fsutil"
	"github.com/banshee-data/geomag/internal/inversion"
	"github.com/banshee-data/geomag/internal/monitoring"
	"github.com/banshee-data/geomag/internal/shbasis"
	"github.com/banshee-data/geomag/internal/sweep"
)

// DefaultG10 is the axial dipole (nT) of the default starting model.
const DefaultG10 = -30000

var (
	ErrNoGrid     = errors.New("time_grid is required")
	ErrNoData     = errors.New("no data files given")
	ErrNoStations = errors.New("no station covers the time grid")
)

// Context configures the inversion sizes from cfg.
func Context(cfg *config.InversionConfig) (*inversion.Context, error) {
	if cfg.Grid == nil {
		return nil, ErrNoGrid
	}
	grid, err := cfg.Grid.Epochs()
	if err != nil {
		return nil, fmt.Errorf("time_grid: %w", err)
	}
	return inversion.Configure(grid, cfg.GetMaxDegree(), inversion.Options{
		RModel:    cfg.GetRModel(),
		Workers:   cfg.GetWorkers(),
		Tolerance: cfg.GetTolerance(),
		Verbose:   cfg.GetVerbose(),
	})
}

// LoadData reads and merges every data file of cfg.
func LoadData(fsys fsutil.FileSystem, cfg *config.InversionConfig) (*dataprep.Dataset, error) {
	if len(cfg.Data) == 0 {
		return nil, ErrNoData
	}
	all := &dataprep.Dataset{}
	for _, path := range cfg.Data {
		ds, layout, err := dataprep.ReadFile(fsys, path, dataprep.DefaultOptions())
		if err != nil {
			return nil, err
		}
		monitoring.Logf("read %d %s samples from %s (%d dropped)", len(ds.Samples), layout, path, ds.Dropped)
		all.Merge(ds)
	}
	return all, nil
}

// Build returns an inversion holding every site of ds dated within the
// time grid. Sites whose data do not reach a knot interval are skipped
// with a warning.
func Build(ctx *inversion.Context, ds *dataprep.Dataset) (*inversion.Inversion, error) {
	inv := inversion.New(ctx)
	windowed := ds.Window(ctx.Grid[0], ctx.Grid[len(ctx.Grid)-1])
	for _, rec := range windowed.Records() {
		err := inv.AddStation(rec)
		switch {
		case errors.Is(err, inversion.ErrNoCoverage):
			monitoring.Warnf("skipping station %s: %v", rec.Name, err)
		case err != nil:
			return nil, fmt.Errorf("station %s: %w", rec.Name, err)
		}
	}
	if inv.NumStations() == 0 {
		return nil, ErrNoStations
	}
	monitoring.Logf("using %d stations, %d samples", inv.NumStations(), len(windowed.Samples))
	return inv, nil
}

// Damping converts a resolved config damping term.
func Damping(d config.Damping) inversion.Damping {
	return inversion.Damping{Factor: d.Factor, Type: d.Type, DDT: d.DDT, DampDipole: d.DampDipole}
}

// StartModel returns the starting model of cfg: the tensor in the
// configured .npy file, or an axial dipole of DefaultG10.
func StartModel(fsys fsutil.FileSystem, cfg *config.InversionConfig, ctx *inversion.Context) ([]float64, error) {
	path := cfg.GetStartModel()
	if path == "" {
		x0 := make([]float64, shbasis.NumGauss(ctx.MaxDegree))
		x0[0] = DefaultG10
		return x0, nil
	}
	m, err := export.ReadCoefficients(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("start model: %w", err)
	}
	r, c := m.Dims()
	if c != ctx.NumCoefs || (r != 1 && r != ctx.NumSplines) {
		return nil, fmt.Errorf("%w: %s is %d×%d, want 1×%d or %d×%d",
			inversion.ErrStartModelShape, path, r, c, ctx.NumCoefs, ctx.NumSplines, ctx.NumCoefs)
	}
	x0 := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x0 = append(x0, m.At(i, j))
		}
	}
	return x0, nil
}

// Runner wires a sweep runner over inv with the damping types, outputs
// and start model of cfg. catalogue may be nil.
func Runner(fsys fsutil.FileSystem, cfg *config.InversionConfig, inv *inversion.Inversion, catalogue sweep.Catalogue) (*sweep.Runner, error) {
	x0, err := StartModel(fsys, cfg, inv.Context())
	if err != nil {
		return nil, err
	}
	r := &sweep.Runner{
		Inversion: inv,
		Writer:    &export.Writer{FS: fsys, Dir: cfg.GetOutputDir()},
		Export: export.Options{
			AllIterations: cfg.GetAllIterations(),
			DumpMatrices:  cfg.GetDumpMatrices(),
		},
		Plot:      cfg.GetPlot(),
		Spatial:   Damping(cfg.GetSpatial()),
		Temporal:  Damping(cfg.GetTemporal()),
		Start:     x0,
		MaxIter:   cfg.GetMaxIterations(),
		Overwrite: cfg.GetOverwrite(),
		Catalogue: catalogue,
	}
	return r, nil
}
