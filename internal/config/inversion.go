package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/geomag/internal/damping"
)

// ExampleConfigPath is the annotated example shipped with the repository.
const ExampleConfigPath = "config/inversion.example.json"

// maxFileSize caps configuration files at 1 MB.
const maxFileSize = 1 * 1024 * 1024

// InversionConfig is the root configuration of an inversion or damping
// sweep. Every field is optional; the Get* accessors supply defaults, and
// command-line flags override whatever the file sets.
type InversionConfig struct {
	// Model
	MaxDegree     *int     `json:"max_degree,omitempty"`
	RModel        *float64 `json:"r_model,omitempty"` // km
	MaxIterations *int     `json:"max_iterations,omitempty"`
	Tolerance     *float64 `json:"tolerance,omitempty"`
	Workers       *int     `json:"workers,omitempty"`

	// Grid is the knot epoch grid.
	Grid *GridConfig `json:"time_grid,omitempty"`

	// Damping
	Spatial  *DampingConfig `json:"spatial_damping,omitempty"`
	Temporal *DampingConfig `json:"temporal_damping,omitempty"`

	// Input. StartModel is a .npy coefficient file; unset starts from
	// an axial dipole.
	Data       []string `json:"data,omitempty"`
	StartModel *string  `json:"start_model,omitempty"`

	// Output
	OutputDir     *string `json:"output_dir,omitempty"`
	Name          *string `json:"name,omitempty"`
	Overwrite     *bool   `json:"overwrite,omitempty"`
	AllIterations *bool   `json:"all_iterations,omitempty"`
	DumpMatrices  *bool   `json:"dump_matrices,omitempty"`
	Plot          *bool   `json:"plot,omitempty"`
	Database      *string `json:"database,omitempty"`
	Verbose       *bool   `json:"verbose,omitempty"`

	// Sweep
	Sweep *SweepConfig `json:"sweep,omitempty"`
}

// GridConfig is an equally spaced time grid in years.
type GridConfig struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
	Step  *float64 `json:"step,omitempty"`
}

// DampingConfig describes one regularisation term.
type DampingConfig struct {
	Factor     *float64 `json:"factor,omitempty"`
	Type       *string  `json:"type,omitempty"`
	DDT        *int     `json:"ddt,omitempty"`
	DampDipole *bool    `json:"damp_dipole,omitempty"`
}

// SweepConfig holds the damping factor ranges of a sweep, each a
// "min:max:step" spec or a comma-separated list.
type SweepConfig struct {
	Spatial  *string `json:"spatial,omitempty"`
	Temporal *string `json:"temporal,omitempty"`
	// Log reads the step of a range spec in decades.
	Log *bool `json:"log,omitempty"`
}

// Damping is a resolved DampingConfig.
type Damping struct {
	Factor     float64
	Type       damping.Type
	DDT        int
	DampDipole bool
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyInversionConfig returns a config with every field unset.
func EmptyInversionConfig() *InversionConfig {
	return &InversionConfig{}
}

// LoadInversionConfig loads an InversionConfig from a JSON file. The file
// must have a .json extension and be at most 1 MB. Fields omitted from the
// file keep their defaults, so partial configs are safe.
func LoadInversionConfig(path string) (*InversionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyInversionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *InversionConfig) Validate() error {
	if c.MaxDegree != nil && *c.MaxDegree < 1 {
		return fmt.Errorf("max_degree must be at least 1, got %d", *c.MaxDegree)
	}
	if c.RModel != nil && !(*c.RModel > 0) {
		return fmt.Errorf("r_model must be positive, got %g", *c.RModel)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.Tolerance != nil && !(*c.Tolerance >= 0) {
		return fmt.Errorf("tolerance must be non-negative, got %g", *c.Tolerance)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.Grid != nil {
		if _, err := c.Grid.Epochs(); err != nil {
			return fmt.Errorf("time_grid: %w", err)
		}
	}
	if err := c.Spatial.validate(); err != nil {
		return fmt.Errorf("spatial_damping: %w", err)
	}
	if err := c.Temporal.validate(); err != nil {
		return fmt.Errorf("temporal_damping: %w", err)
	}
	return nil
}

func (d *DampingConfig) validate() error {
	if d == nil {
		return nil
	}
	if d.Factor != nil && !(*d.Factor >= 0) {
		return fmt.Errorf("factor must be non-negative, got %g", *d.Factor)
	}
	if d.Type != nil {
		if _, err := damping.ParseType(*d.Type); err != nil {
			return err
		}
	}
	if d.DDT != nil && (*d.DDT < 0 || *d.DDT > 2) {
		return fmt.Errorf("ddt must be 0, 1 or 2, got %d", *d.DDT)
	}
	return nil
}

// Epochs expands the grid. The span must be a whole number of steps.
func (g *GridConfig) Epochs() ([]float64, error) {
	if g == nil || g.Start == nil || g.End == nil || g.Step == nil {
		return nil, fmt.Errorf("start, end and step are required")
	}
	start, end, step := *g.Start, *g.End, *g.Step
	if !(step > 0) || !(end > start) {
		return nil, fmt.Errorf("need end > start and step > 0, got %g:%g:%g", start, end, step)
	}
	n := (end - start) / step
	count := math.Round(n)
	if math.Abs(n-count) > 1e-9*math.Max(1, count) {
		return nil, fmt.Errorf("span %g is not a multiple of step %g", end-start, step)
	}
	epochs := make([]float64, int(count)+1)
	for i := range epochs {
		epochs[i] = start + float64(i)*step
	}
	return epochs, nil
}

// GetMaxDegree returns the max_degree value or the default.
func (c *InversionConfig) GetMaxDegree() int {
	if c.MaxDegree == nil {
		return 3
	}
	return *c.MaxDegree
}

// GetRModel returns the r_model value in km or the default.
func (c *InversionConfig) GetRModel() float64 {
	if c.RModel == nil {
		return 6371.2
	}
	return *c.RModel
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *InversionConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 10
	}
	return *c.MaxIterations
}

// GetTolerance returns the tolerance value or the default (disabled).
func (c *InversionConfig) GetTolerance() float64 {
	if c.Tolerance == nil {
		return 0
	}
	return *c.Tolerance
}

// GetWorkers returns the workers value or the default.
func (c *InversionConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetSpatial returns the spatial damping with defaults filled in.
func (c *InversionConfig) GetSpatial() Damping {
	return c.Spatial.resolve(Damping{Type: damping.Gubbins})
}

// GetTemporal returns the temporal damping with defaults filled in.
func (c *InversionConfig) GetTemporal() Damping {
	return c.Temporal.resolve(Damping{Type: damping.Br2cmb, DDT: 2, DampDipole: true})
}

func (d *DampingConfig) resolve(def Damping) Damping {
	if d == nil {
		return def
	}
	if d.Factor != nil {
		def.Factor = *d.Factor
	}
	if d.Type != nil {
		if t, err := damping.ParseType(*d.Type); err == nil {
			def.Type = t
		}
	}
	if d.DDT != nil {
		def.DDT = *d.DDT
	}
	if d.DampDipole != nil {
		def.DampDipole = *d.DampDipole
	}
	return def
}

// GetOutputDir returns the output_dir value or the default.
func (c *InversionConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "."
	}
	return *c.OutputDir
}

// GetName returns the output name, or "" so that the caller derives one
// from the damping factors.
func (c *InversionConfig) GetName() string {
	if c.Name == nil {
		return ""
	}
	return *c.Name
}

// GetStartModel returns the starting model path, empty when unset.
func (c *InversionConfig) GetStartModel() string {
	if c.StartModel == nil {
		return ""
	}
	return *c.StartModel
}

// GetOverwrite returns the overwrite value or the default.
func (c *InversionConfig) GetOverwrite() bool {
	if c.Overwrite == nil {
		return true
	}
	return *c.Overwrite
}

// GetAllIterations returns the all_iterations value or the default.
func (c *InversionConfig) GetAllIterations() bool {
	return c.AllIterations != nil && *c.AllIterations
}

// GetDumpMatrices returns the dump_matrices value or the default.
func (c *InversionConfig) GetDumpMatrices() bool {
	return c.DumpMatrices != nil && *c.DumpMatrices
}

// GetPlot returns the plot value or the default.
func (c *InversionConfig) GetPlot() bool {
	return c.Plot != nil && *c.Plot
}

// GetDatabase returns the run catalogue path, empty when disabled.
func (c *InversionConfig) GetDatabase() string {
	if c.Database == nil {
		return ""
	}
	return *c.Database
}

// GetVerbose returns the verbose value or the default.
func (c *InversionConfig) GetVerbose() bool {
	return c.Verbose != nil && *c.Verbose
}

// GetSweepSpatial returns the spatial factor range spec of a sweep.
func (c *InversionConfig) GetSweepSpatial() string {
	if c.Sweep == nil || c.Sweep.Spatial == nil {
		return ""
	}
	return *c.Sweep.Spatial
}

// GetSweepTemporal returns the temporal factor range spec of a sweep.
func (c *InversionConfig) GetSweepTemporal() string {
	if c.Sweep == nil || c.Sweep.Temporal == nil {
		return ""
	}
	return *c.Sweep.Temporal
}

// GetSweepLog reports whether sweep ranges are log10 spaced.
func (c *InversionConfig) GetSweepLog() bool {
	return c.Sweep != nil && c.Sweep.Log != nil && *c.Sweep.Log
}
