package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/smartdoor/bench"
	"github.com/weiihann/smartdoor/stats"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

const defaultListLimit = 20

// RunSummary is one row of the run history.
type RunSummary struct {
	ID         uuid.UUID     `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Backend    string        `json:"backend"`
	Account    string        `json:"account"`
	Confirm    bench.Confirm `json:"confirm"`
	Requests   int           `json:"requests"`
	Methods    int           `json:"methods"`
	Failures   int           `json:"failures"`
	TimedOut   int           `json:"timed_out"`
	All        stats.Summary `json:"all"`
}

// Runs persists benchmark reports.
type Runs struct {
	db *sql.DB
}

func NewRuns(db *sql.DB) *Runs {
	return &Runs{db: db}
}

// Save stores report and its per-method results in one transaction.
func (s *Runs) Save(ctx context.Context, report *bench.Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("Save encode: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Save begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertRun(ctx, tx, report, string(raw)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Save commit: %w", err)
	}

	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, report *bench.Report, raw string) error {
	all := report.Totals.All

	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs(
  id, started_at_ms, finished_at_ms, backend, account, confirm, requests,
  all_count, all_min, all_max, all_mean, report_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		report.ID.String(),
		report.StartedAt.UTC().UnixMilli(),
		report.FinishedAt.UTC().UnixMilli(),
		report.Backend, report.Account, string(report.Confirm), report.Requests,
		all.Count, all.Min, all.Max, all.Mean,
		raw,
	); err != nil {
		return fmt.Errorf("Save insert run: %w", err)
	}

	for i, res := range report.Results {
		var mean any
		if !res.Summary.NoData() {
			mean = res.Summary.Mean
		}

		var timedOut int
		if res.TimedOut {
			timedOut = 1
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_results(
  run_id, position, method, mutability, requests, failures, timed_out, samples, mean
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			report.ID.String(), i, res.Method, res.Mutability,
			res.Requests, res.Failures, timedOut, len(res.Samples), mean,
		); err != nil {
			return fmt.Errorf("Save insert result %s: %w", res.Method, err)
		}
	}

	return nil
}

// List returns the most recent runs first. A non-positive limit uses a
// default.
func (s *Runs) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT
  r.id, r.started_at_ms, r.finished_at_ms, r.backend, r.account, r.confirm,
  r.requests, r.all_count, r.all_min, r.all_max, r.all_mean,
  COUNT(x.position), COALESCE(SUM(x.failures), 0), COALESCE(SUM(x.timed_out), 0)
FROM runs r
LEFT JOIN run_results x ON x.run_id = r.id
GROUP BY r.id
ORDER BY r.started_at_ms DESC, r.id
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("List query: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			rs                  RunSummary
			id, confirm         string
			startedMs, finishMs int64
		)

		if err := rows.Scan(
			&id, &startedMs, &finishMs, &rs.Backend, &rs.Account, &confirm,
			&rs.Requests, &rs.All.Count, &rs.All.Min, &rs.All.Max, &rs.All.Mean,
			&rs.Methods, &rs.Failures, &rs.TimedOut,
		); err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}

		rs.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("List parse id %q: %w", id, err)
		}

		rs.Confirm = bench.Confirm(confirm)
		rs.StartedAt = time.UnixMilli(startedMs).UTC()
		rs.FinishedAt = time.UnixMilli(finishMs).UTC()
		out = append(out, rs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List rows: %w", err)
	}

	return out, nil
}

// Get loads the full report of run id.
func (s *Runs) Get(ctx context.Context, id uuid.UUID) (*bench.Report, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT report_json FROM runs WHERE id = ?;`, id.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("Get query: %w", err)
	}

	var report bench.Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("Get decode %s: %w", id, err)
	}

	return &report, nil
}
