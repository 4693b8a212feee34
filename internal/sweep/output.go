package sweep

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// SummaryHeader is the header row of the sweep summary table.
var SummaryHeader = []string{
	"spatial", "temporal", "name", "run_id", "status", "iterations", "converged",
	"res_total", "spatial_norm", "temporal_norm", "duration_s",
}

// Outcome statuses.
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Outcome describes one damping combination of a sweep.
type Outcome struct {
	Combo
	Name   string
	RunID  string
	Status string
	Err    error

	Iterations   int
	Converged    bool
	ResTotal     float64
	SpatialNorm  float64
	TemporalNorm float64
	Duration     time.Duration
}

// SummaryWriter writes one CSV row per Outcome, flushing after each so a
// long sweep can be followed while it runs.
type SummaryWriter struct {
	w       *csv.Writer
	started bool
}

// NewSummaryWriter returns a SummaryWriter on w.
func NewSummaryWriter(w io.Writer) *SummaryWriter {
	return &SummaryWriter{w: csv.NewWriter(w)}
}

// Write appends o, writing the header first if needed.
func (s *SummaryWriter) Write(o Outcome) error {
	if !s.started {
		if err := s.w.Write(SummaryHeader); err != nil {
			return err
		}
		s.started = true
	}
	if err := s.w.Write(o.row()); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (o Outcome) row() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', 10, 64) }
	return []string{
		strconv.FormatFloat(o.Spatial, 'e', 2, 64),
		strconv.FormatFloat(o.Temporal, 'e', 2, 64),
		o.Name,
		o.RunID,
		o.Status,
		strconv.Itoa(o.Iterations),
		strconv.FormatBool(o.Converged),
		f(o.ResTotal),
		f(o.SpatialNorm),
		f(o.TemporalNorm),
		strconv.FormatFloat(o.Duration.Seconds(), 'f', 3, 64),
	}
}
