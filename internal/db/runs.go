package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/geomag/internal/frechet"
	"github.com/banshee-data/geomag/internal/inversion"
	"github.com/google/uuid"
)

// Run states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one catalogued inversion.
type Run struct {
	RunID         string          `json:"run_id"`
	Name          string          `json:"name"`
	ParamsJSON    json.RawMessage `json:"params_json,omitempty"`
	Status        string          `json:"status"`
	StartedAt     int64           `json:"started_at"`
	FinishedAt    int64           `json:"finished_at,omitempty"`
	Iterations    int             `json:"iterations"`
	Converged     bool            `json:"converged"`
	ResidualTotal float64         `json:"residual_total"`
	SpatialNorm   float64         `json:"spatial_norm"`
	TemporalNorm  float64         `json:"temporal_norm"`
	Error         string          `json:"error,omitempty"`
}

// StartRun inserts a running entry for name and returns its ID. params is
// stored as JSON.
func (db *DB) StartRun(name string, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode run parameters: %w", err)
	}
	id := uuid.New().String()
	started := db.clock.Now().UnixNano()

	err = retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO inversion_runs (run_id, name, params_json, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			id, name, string(raw), StatusRunning, started,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcome of a run and its residual history.
func (db *DB) FinishRun(id string, res *inversion.Result) error {
	finished := db.clock.Now().UnixNano()
	final := res.FinalResidual()

	return retryOnBusy(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		out, err := tx.Exec(`
			UPDATE inversion_runs
			SET status = ?, finished_at = ?, iterations = ?, converged = ?,
			    residual_total = ?, spatial_norm = ?, temporal_norm = ?
			WHERE run_id = ?`,
			StatusCompleted, finished, res.Iterations(), res.Converged,
			final.Total, res.SpatialNorm, res.TemporalNorm, id,
		)
		if err != nil {
			return err
		}
		if n, _ := out.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO inversion_iterations (
				run_id, iteration, res_x, res_y, res_z, res_hor, res_int, res_incl, res_decl, res_total
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, row := range res.Residuals {
			args := []any{id, row.Iteration}
			for _, v := range row.Values() {
				args = append(args, v)
			}
			if _, err := stmt.Exec(args...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// FailRun marks a run as failed with cause.
func (db *DB) FailRun(id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	finished := db.clock.Now().UnixNano()
	return retryOnBusy(func() error {
		out, err := db.Exec(`
			UPDATE inversion_runs SET status = ?, finished_at = ?, error = ?
			WHERE run_id = ?`,
			StatusFailed, finished, msg, id,
		)
		if err != nil {
			return err
		}
		if n, _ := out.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil
	})
}

const runColumns = `run_id, name, params_json, status, started_at, finished_at,
	iterations, converged, residual_total, spatial_norm, temporal_norm, error`

// GetRun returns one run.
func (db *DB) GetRun(id string) (*Run, error) {
	rows, err := db.Query(`SELECT `+runColumns+` FROM inversion_runs WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return scanRun(rows)
}

// ListRuns returns the runs of name, or all runs when name is empty,
// most recent first.
func (db *DB) ListRuns(name string) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM inversion_runs`
	var args []any
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Residuals returns the residual history of a run in iteration order.
func (db *DB) Residuals(id string) ([]inversion.ResidualRow, error) {
	rows, err := db.Query(`
		SELECT iteration, res_x, res_y, res_z, res_hor, res_int, res_incl, res_decl, res_total
		FROM inversion_iterations WHERE run_id = ? ORDER BY iteration`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query residuals: %w", err)
	}
	defer rows.Close()

	var out []inversion.ResidualRow
	for rows.Next() {
		var r inversion.ResidualRow
		dst := []any{&r.Iteration}
		for i := 0; i < frechet.NumTypes; i++ {
			dst = append(dst, &r.RMS[i])
		}
		dst = append(dst, &r.Total)
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		r                   Run
		params, errMsg      sql.NullString
		finished            sql.NullInt64
		total, sNorm, tNorm sql.NullFloat64
	)
	if err := rows.Scan(&r.RunID, &r.Name, &params, &r.Status, &r.StartedAt, &finished,
		&r.Iterations, &r.Converged, &total, &sNorm, &tNorm, &errMsg); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	r.FinishedAt = finished.Int64
	r.ResidualTotal = total.Float64
	r.SpatialNorm = sNorm.Float64
	r.TemporalNorm = tNorm.Float64
	r.Error = errMsg.String
	return &r, nil
}

// IsNotFound reports whether err is ErrRunNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
