package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/geomag/internal/damping"
	"github.com/banshee-data/geomag/internal/export"
	"github.com/banshee-data/geomag/internal/inversion"
	"github.com/banshee-data/geomag/internal/monitoring"
	"github.com/banshee-data/geomag/internal/report"
	"github.com/banshee-data/geomag/internal/timeutil"
)

// ErrNoCombos is returned by Run when given no combinations.
var ErrNoCombos = errors.New("no damping combinations to sweep")

// Catalogue records sweep runs. *db.DB satisfies it.
type Catalogue interface {
	StartRun(name string, params any) (string, error)
	FinishRun(id string, res *inversion.Result) error
	FailRun(id string, cause error) error
}

// Params is what the catalogue stores for each combination.
type Params struct {
	Spatial       float64   `json:"spatial"`
	Temporal      float64   `json:"temporal"`
	SpatialType   string    `json:"spatial_type"`
	TemporalType  string    `json:"temporal_type"`
	SpatialDDT    int       `json:"spatial_ddt"`
	TemporalDDT   int       `json:"temporal_ddt"`
	MaxDegree     int       `json:"max_degree"`
	MaxIterations int       `json:"max_iterations"`
	Grid          []float64 `json:"grid"`
}

// Runner runs one inversion per damping combination. Stations must have
// been added to Inversion beforehand.
type Runner struct {
	Inversion *inversion.Inversion
	Writer    *export.Writer
	Export    export.Options

	// Name replaces the damping-derived output name of every
	// combination. Meant for single runs.
	Name string
	// Plot also writes the residual plot and coefficient chart.
	Plot bool

	// Spatial and Temporal give the damping types; their factors are
	// replaced by each combination.
	Spatial  inversion.Damping
	Temporal inversion.Damping
	Provider damping.Provider

	Start   []float64
	MaxIter int

	// Overwrite reruns combinations whose final model already exists.
	Overwrite bool

	// Optional.
	Catalogue Catalogue
	Summary   *SummaryWriter
	Clock     timeutil.Clock
}

// Run sweeps combos in order. A combination that fails numerically is
// reported in its Outcome and the sweep continues; Run itself fails only
// on cancellation, output or catalogue errors.
func (r *Runner) Run(ctx context.Context, combos []Combo) ([]Outcome, error) {
	if len(combos) == 0 {
		return nil, ErrNoCombos
	}
	if r.Inversion == nil || r.Writer == nil {
		return nil, fmt.Errorf("sweep runner needs an inversion and a writer")
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	out := make([]Outcome, 0, len(combos))
	for i, c := range combos {
		select {
		case <-ctx.Done():
			return out, fmt.Errorf("sweep stopped at combination %d/%d: %w", i+1, len(combos), ctx.Err())
		default:
		}

		o, err := r.runOne(c, clock)
		if err != nil {
			return out, err
		}
		monitoring.Logf("sweep %d/%d %s: %s", i+1, len(combos), o.Name, o.Status)
		out = append(out, o)
		if r.Summary != nil {
			if err := r.Summary.Write(o); err != nil {
				return out, fmt.Errorf("write summary: %w", err)
			}
		}
	}
	return out, nil
}

func (r *Runner) runOne(c Combo, clock timeutil.Clock) (Outcome, error) {
	o := Outcome{Combo: c, Name: r.Name}
	if o.Name == "" {
		o.Name = export.DampingName(c.Spatial, c.Temporal)
	}
	if !r.Overwrite && r.Writer.Exists(o.Name) {
		o.Status = StatusSkipped
		return o, nil
	}

	if r.Catalogue != nil {
		id, err := r.Catalogue.StartRun(o.Name, r.params(c))
		if err != nil {
			return o, fmt.Errorf("catalogue: %w", err)
		}
		o.RunID = id
	}

	began := clock.Now()
	res, err := r.invert(c)
	o.Duration = clock.Since(began)
	if err != nil {
		o.Status = StatusFailed
		o.Err = err
		monitoring.Warnf("%s failed: %v", o.Name, err)
		if r.Catalogue != nil {
			if cerr := r.Catalogue.FailRun(o.RunID, err); cerr != nil {
				return o, fmt.Errorf("catalogue: %w", cerr)
			}
		}
		return o, nil
	}

	if _, err := r.Writer.Save(o.Name, res, r.Export); err != nil {
		return o, fmt.Errorf("save %s: %w", o.Name, err)
	}
	if r.Plot {
		if _, err := report.Save(r.Writer, o.Name, res, report.Options{}); err != nil {
			return o, fmt.Errorf("report %s: %w", o.Name, err)
		}
	}
	if r.Catalogue != nil {
		if err := r.Catalogue.FinishRun(o.RunID, res); err != nil {
			return o, fmt.Errorf("catalogue: %w", err)
		}
	}

	o.Status = StatusDone
	o.Iterations = res.Iterations()
	o.Converged = res.Converged
	o.ResTotal = res.FinalResidual().Total
	o.SpatialNorm = res.SpatialNorm
	o.TemporalNorm = res.TemporalNorm
	return o, nil
}

func (r *Runner) invert(c Combo) (*inversion.Result, error) {
	spatial, temporal := r.Spatial, r.Temporal
	spatial.Factor = c.Spatial
	temporal.Factor = c.Temporal
	err := r.Inversion.Prepare(inversion.PrepareOptions{
		Spatial:  spatial,
		Temporal: temporal,
		Provider: r.Provider,
	})
	if err != nil {
		return nil, err
	}
	return r.Inversion.Run(r.Start, r.MaxIter)
}

func (r *Runner) params(c Combo) Params {
	ctx := r.Inversion.Context()
	return Params{
		Spatial:       c.Spatial,
		Temporal:      c.Temporal,
		SpatialType:   r.Spatial.Type.String(),
		TemporalType:  r.Temporal.Type.String(),
		SpatialDDT:    r.Spatial.DDT,
		TemporalDDT:   r.Temporal.DDT,
		MaxDegree:     ctx.MaxDegree,
		MaxIterations: r.MaxIter,
		Grid:          ctx.Grid,
	}
}
