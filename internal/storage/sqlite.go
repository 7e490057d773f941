package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"wikitool/internal/model"
	"wikitool/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run, assigning its ID and StartedAt when unset.
func (s *SQLite) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	started := run.StartedAt.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, host, target, items, failures, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Host, run.Target, run.Items, run.Failures, started,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	run.StartedAt, _ = time.Parse(timeLayout, started)
	return nil
}

// FinishRun stores the counters of run and marks it finished now.
func (s *SQLite) FinishRun(ctx context.Context, run *model.Run) error {
	now := time.Now().UTC()
	finished := now.Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET items = ?, failures = ?, finished_at = ? WHERE id = ?`,
		run.Items, run.Failures, finished, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, ErrNotFound)
	}
	t, _ := time.Parse(timeLayout, finished)
	run.FinishedAt = &t
	return nil
}

// GetRun returns a single run by its ID.
func (s *SQLite) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, host, target, items, failures, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, host, target, items, failures, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// SaveNamespaceCounts stores the team ranking of a run in rank order.
func (s *SQLite) SaveNamespaceCounts(ctx context.Context, runID string, rows []model.RankedNamespace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, r := range rows {
		c := r.Stats
		_, err := tx.ExecContext(ctx,
			`INSERT INTO namespace_counts
			 (run_id, rank, name, count, last_month_add, last_month_change, last_week_add, last_week_change, ord)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i+1, r.Name, c.Count, c.LastMonthAdd, c.LastMonthChange, c.LastWeekAdd, c.LastWeekChange, c.Order,
		)
		if err != nil {
			return fmt.Errorf("insert namespace count %s: %w", r.Name, err)
		}
	}
	return tx.Commit()
}

// ListNamespaceCounts returns the team ranking of a run.
func (s *SQLite) ListNamespaceCounts(ctx context.Context, runID string) ([]model.RankedNamespace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, count, last_month_add, last_month_change, last_week_add, last_week_change, ord
		 FROM namespace_counts WHERE run_id = ? ORDER BY rank`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query namespace counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RankedNamespace
	for rows.Next() {
		var r model.RankedNamespace
		c := &r.Stats
		if err := rows.Scan(&r.Name, &c.Count, &c.LastMonthAdd, &c.LastMonthChange, &c.LastWeekAdd, &c.LastWeekChange, &c.Order); err != nil {
			return nil, fmt.Errorf("scan namespace count: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveUserStats stores the user statistics of a run.
func (s *SQLite) SaveUserStats(ctx context.Context, runID string, rows []model.RankedUser) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rows {
		u := r.Stats
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_stats
			 (run_id, name, total_add, total_change, total_score,
			  last_month_add, last_month_change, last_month_score,
			  last_week_add, last_week_change, last_week_score)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Name, u.TotalAdd, u.TotalChange, u.TotalScore,
			u.LastMonthAdd, u.LastMonthChange, u.LastMonthScore,
			u.LastWeekAdd, u.LastWeekChange, u.LastWeekScore,
		)
		if err != nil {
			return fmt.Errorf("insert user stat %s: %w", r.Name, err)
		}
	}
	return tx.Commit()
}

// ListUserStats returns the user statistics of a run by descending total
// score.
func (s *SQLite) ListUserStats(ctx context.Context, runID string) ([]model.RankedUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, total_add, total_change, total_score,
		        last_month_add, last_month_change, last_month_score,
		        last_week_add, last_week_change, last_week_score
		 FROM user_stats WHERE run_id = ? ORDER BY total_score DESC, name`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RankedUser
	for rows.Next() {
		var r model.RankedUser
		u := &r.Stats
		err := rows.Scan(&r.Name, &u.TotalAdd, &u.TotalChange, &u.TotalScore,
			&u.LastMonthAdd, &u.LastMonthChange, &u.LastMonthScore,
			&u.LastWeekAdd, &u.LastWeekChange, &u.LastWeekScore)
		if err != nil {
			return nil, fmt.Errorf("scan user stat: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var kind, started string
	var finished sql.NullString
	err := row.Scan(&r.ID, &kind, &r.Host, &r.Target, &r.Items, &r.Failures, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Kind = model.RunKind(kind)
	r.StartedAt, _ = time.Parse(timeLayout, started)
	if finished.Valid {
		t, _ := time.Parse(timeLayout, finished.String)
		r.FinishedAt = &t
	}
	return &r, nil
}
