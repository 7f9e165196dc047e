package registration

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// RunStore keeps the history of registration runs in SQLite: one row per run,
// its pair statistics and the registrations it produced.
type RunStore struct {
	DB *sql.DB
}

// RunRecord is one stored run.
type RunRecord struct {
	ID            int64
	Label         string
	Method        string
	Model         ModelType
	Started       time.Time
	Duration      time.Duration
	Views         int
	Subsets       int
	FailedSubsets int
	Cancelled     bool
}

// OpenRunStore opens (or creates) the database at path and ensures the schema.
func OpenRunStore(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	s := &RunStore{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            label TEXT NOT NULL,
            method TEXT NOT NULL,
            model TEXT NOT NULL,
            started_unix_ms INTEGER NOT NULL,
            duration_ms INTEGER NOT NULL,
            views INTEGER,
            subsets INTEGER,
            failed_subsets INTEGER,
            cancelled BOOLEAN DEFAULT FALSE,
            report_json TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS pair_stats (
            run_id INTEGER NOT NULL,
            subset INTEGER,
            group_a TEXT NOT NULL,
            group_b TEXT NOT NULL,
            candidates INTEGER,
            inliers INTEGER,
            avg_error REAL,
            max_error REAL,
            failed BOOLEAN DEFAULT FALSE,
            reason TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS registrations (
            run_id INTEGER NOT NULL,
            timepoint INTEGER NOT NULL,
            setup INTEGER NOT NULL,
            transforms_json TEXT NOT NULL,
            PRIMARY KEY (run_id, timepoint, setup)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_pair_stats_run ON pair_stats(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return errors.Wrap(err, "creating schema")
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *RunStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// SaveRun stores a report and the registrations after the run in one
// transaction and returns the run id.
func (s *RunStore) SaveRun(ctx context.Context, report *Report, regs []ViewRegistration) (int64, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return 0, errors.Wrap(err, "marshaling report")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `INSERT INTO runs (label, method, model, started_unix_ms, duration_ms, views, subsets, failed_subsets, cancelled, report_json) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		report.Label, report.Method, string(report.Model), report.Started.UnixMilli(), report.Duration.Milliseconds(),
		report.Views, len(report.Subsets), report.Failed, report.Cancelled, string(reportJSON))
	if err != nil {
		return 0, errors.Wrap(err, "inserting run")
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "reading run id")
	}

	for _, ps := range report.Pairs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO pair_stats (run_id, subset, group_a, group_b, candidates, inliers, avg_error, max_error, failed, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			runID, ps.Subset, ps.A.Key(), ps.B.Key(), ps.Candidates, ps.Inliers, ps.AvgError, ps.MaxError, ps.Failed, ps.Reason); err != nil {
			return 0, errors.Wrapf(err, "inserting pair %s", GroupPair{A: ps.A, B: ps.B})
		}
	}
	for _, r := range regs {
		data, err := json.Marshal(r.Transforms)
		if err != nil {
			return 0, errors.Wrapf(err, "marshaling transforms of %s", r.View)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO registrations (run_id, timepoint, setup, transforms_json) VALUES (?, ?, ?, ?);`,
			runID, r.View.Timepoint, r.View.Setup, string(data)); err != nil {
			return 0, errors.Wrapf(err, "inserting registration of %s", r.View)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing run")
	}
	return runID, nil
}

// Runs returns the latest runs, newest first, up to limit.
func (s *RunStore) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, label, method, model, started_unix_ms, duration_ms, views, subsets, failed_subsets, cancelled FROM runs ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying runs")
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var model string
		var startedMs, durationMs int64
		if err := rows.Scan(&rec.ID, &rec.Label, &rec.Method, &model, &startedMs, &durationMs,
			&rec.Views, &rec.Subsets, &rec.FailedSubsets, &rec.Cancelled); err != nil {
			return nil, errors.Wrap(err, "scanning run")
		}
		rec.Model = ModelType(model)
		rec.Started = time.UnixMilli(startedMs)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		recs = append(recs, rec)
	}
	return recs, errors.Wrap(rows.Err(), "iterating runs")
}

// Report returns the full stored report of a run.
func (s *RunStore) Report(ctx context.Context, runID int64) (*Report, error) {
	var data string
	err := s.DB.QueryRowContext(ctx, `SELECT report_json FROM runs WHERE id = ?;`, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("run %d not found", runID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading run %d", runID)
	}
	var report Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, errors.Wrapf(err, "parsing report of run %d", runID)
	}
	return &report, nil
}

// LoadRegistrations returns the registrations stored with a run, sorted by view.
func (s *RunStore) LoadRegistrations(ctx context.Context, runID int64) ([]ViewRegistration, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT timepoint, setup, transforms_json FROM registrations WHERE run_id = ? ORDER BY timepoint, setup;`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "querying registrations")
	}
	defer rows.Close()

	var out []ViewRegistration
	for rows.Next() {
		var r ViewRegistration
		var data string
		if err := rows.Scan(&r.View.Timepoint, &r.View.Setup, &data); err != nil {
			return nil, errors.Wrap(err, "scanning registration")
		}
		if err := json.Unmarshal([]byte(data), &r.Transforms); err != nil {
			return nil, errors.Wrapf(err, "parsing transforms of %s", r.View)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterating registrations")
}
