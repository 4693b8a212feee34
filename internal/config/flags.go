package config

import (
	"flag"
	"strings"
)

// Flags holds the command-line overrides shared by the inversion
// binaries. Only flags given on the command line override the file.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath string
	Version    bool

	data          string
	start         float64
	end           float64
	step          float64
	degree        int
	rModel        float64
	iterations    int
	tolerance     float64
	workers       int
	spatial       float64
	temporal      float64
	spatialType   string
	temporalType  string
	startModel    string
	outputDir     string
	name          string
	overwrite     bool
	allIterations bool
	dumpMatrices  bool
	plot          bool
	database      string
	verbose       bool
}

// RegisterFlags defines the shared flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "JSON configuration file (see "+ExampleConfigPath+")")
	fs.BoolVar(&f.Version, "version", false, "Print version and exit")

	fs.StringVar(&f.data, "data", "", "Comma-separated GEOMAGIA CSV files")
	fs.Float64Var(&f.start, "start", 0, "First epoch of the time grid (yr)")
	fs.Float64Var(&f.end, "end", 0, "Last epoch of the time grid (yr)")
	fs.Float64Var(&f.step, "step", 0, "Time grid spacing (yr)")
	fs.IntVar(&f.degree, "degree", 0, "Maximum spherical harmonic degree")
	fs.Float64Var(&f.rModel, "r-model", 0, "Reference radius of the coefficients (km)")
	fs.IntVar(&f.iterations, "iter", 0, "Maximum number of iterations")
	fs.Float64Var(&f.tolerance, "tolerance", 0, "Stop once the RMS improves by less than this fraction")
	fs.IntVar(&f.workers, "workers", 0, "Intervals assembled concurrently")
	fs.Float64Var(&f.spatial, "spatial", 0, "Spatial damping factor")
	fs.Float64Var(&f.temporal, "temporal", 0, "Temporal damping factor")
	fs.StringVar(&f.spatialType, "spatial-type", "", "Spatial damping type (Uniform, Gubbins, Br2cmb, Power)")
	fs.StringVar(&f.temporalType, "temporal-type", "", "Temporal damping type (Uniform, Gubbins, Br2cmb, Power)")
	fs.StringVar(&f.startModel, "start-model", "", "Starting model .npy file")
	fs.StringVar(&f.outputDir, "out", "", "Output directory")
	fs.StringVar(&f.name, "name", "", "Output file name prefix")
	fs.BoolVar(&f.overwrite, "overwrite", true, "Overwrite existing results")
	fs.BoolVar(&f.allIterations, "all-iterations", false, "Save the model of every iteration")
	fs.BoolVar(&f.dumpMatrices, "dump-matrices", false, "Save the normal-equation and damping bands")
	fs.BoolVar(&f.plot, "plot", false, "Write the residual plot and coefficient chart")
	fs.StringVar(&f.database, "db", "", "sqlite run catalogue")
	fs.BoolVar(&f.verbose, "verbose", false, "Log inversion progress")
	return f
}

// Load reads the -config file, if any, applies the flags that were set
// and validates the result. Call after parsing.
func (f *Flags) Load() (*InversionConfig, error) {
	cfg := EmptyInversionConfig()
	if f.ConfigPath != "" {
		var err error
		if cfg, err = LoadInversionConfig(f.ConfigPath); err != nil {
			return nil, err
		}
	}
	f.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply copies every flag set on the command line into cfg.
func (f *Flags) Apply(cfg *InversionConfig) {
	damp := func(d **DampingConfig) *DampingConfig {
		if *d == nil {
			*d = &DampingConfig{}
		}
		return *d
	}
	grid := func() *GridConfig {
		if cfg.Grid == nil {
			cfg.Grid = &GridConfig{}
		}
		return cfg.Grid
	}

	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "data":
			cfg.Data = nil
			for _, p := range strings.Split(f.data, ",") {
				if p = strings.TrimSpace(p); p != "" {
					cfg.Data = append(cfg.Data, p)
				}
			}
		case "start":
			grid().Start = ptrFloat64(f.start)
		case "end":
			grid().End = ptrFloat64(f.end)
		case "step":
			grid().Step = ptrFloat64(f.step)
		case "degree":
			cfg.MaxDegree = ptrInt(f.degree)
		case "r-model":
			cfg.RModel = ptrFloat64(f.rModel)
		case "iter":
			cfg.MaxIterations = ptrInt(f.iterations)
		case "tolerance":
			cfg.Tolerance = ptrFloat64(f.tolerance)
		case "workers":
			cfg.Workers = ptrInt(f.workers)
		case "spatial":
			damp(&cfg.Spatial).Factor = ptrFloat64(f.spatial)
		case "temporal":
			damp(&cfg.Temporal).Factor = ptrFloat64(f.temporal)
		case "spatial-type":
			damp(&cfg.Spatial).Type = ptrString(f.spatialType)
		case "temporal-type":
			damp(&cfg.Temporal).Type = ptrString(f.temporalType)
		case "start-model":
			cfg.StartModel = ptrString(f.startModel)
		case "out":
			cfg.OutputDir = ptrString(f.outputDir)
		case "name":
			cfg.Name = ptrString(f.name)
		case "overwrite":
			cfg.Overwrite = ptrBool(f.overwrite)
		case "all-iterations":
			cfg.AllIterations = ptrBool(f.allIterations)
		case "dump-matrices":
			cfg.DumpMatrices = ptrBool(f.dumpMatrices)
		case "plot":
			cfg.Plot = ptrBool(f.plot)
		case "db":
			cfg.Database = ptrString(f.database)
		case "verbose":
			cfg.Verbose = ptrBool(f.verbose)
		}
	})
}
