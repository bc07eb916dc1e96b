// Package repository persists collection-run history in SQLite so past
// runs and their per-job outcomes can be reported on later.
package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"loghaul/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

type Repository struct {
	db *sql.DB
}

func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000&_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := r.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// CreateRun records the start of a collection run.
func (r *Repository) CreateRun(run *models.CollectionRun) error {
	_, err := r.db.Exec(
		`INSERT INTO runs (id, mode, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Mode, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the run's final totals and its per-job outcomes in one
// transaction.
func (r *Repository) FinishRun(run *models.CollectionRun, outcomes []models.JobOutcome) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE runs SET finished_at = ?, total = ?, successful = ?, failed = ? WHERE id = ?`,
		run.FinishedAt, run.Total, run.Successful, run.Failed, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO outcomes (run_id, host, application, remote_path, success,
			exit_code, attempts, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for _, outcome := range outcomes {
		var errMsg string
		if !outcome.Success {
			errMsg = outcome.Stderr
		}
		_, err := stmt.Exec(run.ID, outcome.Job.Host, outcome.Job.Application,
			outcome.Job.RemotePath, outcome.Success, outcome.ExitCode,
			outcome.Attempts, outcome.Duration.Milliseconds(), errMsg)
		if err != nil {
			return fmt.Errorf("failed to insert outcome: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun returns one run by id.
func (r *Repository) GetRun(id string) (*models.CollectionRun, error) {
	row := r.db.QueryRow(
		`SELECT id, mode, started_at, finished_at, total, successful, failed FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRecentRuns returns up to limit runs, newest first.
func (r *Repository) GetRecentRuns(limit int) ([]*models.CollectionRun, error) {
	rows, err := r.db.Query(
		`SELECT id, mode, started_at, finished_at, total, successful, failed
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.CollectionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.CollectionRun, error) {
	var run models.CollectionRun
	var finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Mode, &run.StartedAt, &finishedAt,
		&run.Total, &run.Successful, &run.Failed)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// GetRunOutcomes returns every recorded outcome for one run.
func (r *Repository) GetRunOutcomes(runID string) ([]models.OutcomeRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, host, application, remote_path, success, exit_code,
			attempts, duration_ms, error_message
		 FROM outcomes WHERE run_id = ? ORDER BY host, application`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var records []models.OutcomeRecord
	for rows.Next() {
		var record models.OutcomeRecord
		var durationMs int64
		var errMsg sql.NullString

		err := rows.Scan(&record.ID, &record.RunID, &record.Host,
			&record.Application, &record.RemotePath, &record.Success,
			&record.ExitCode, &record.Attempts, &durationMs, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}

		record.Duration = time.Duration(durationMs) * time.Millisecond
		if errMsg.Valid {
			record.ErrorMessage = errMsg.String
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetSummary aggregates totals over every recorded run.
func (r *Repository) GetSummary() (*models.Summary, error) {
	row := r.db.QueryRow(
		`SELECT COALESCE(SUM(total), 0), COALESCE(SUM(successful), 0), COALESCE(SUM(failed), 0) FROM runs`)

	var summary models.Summary
	if err := row.Scan(&summary.Total, &summary.Successful, &summary.Failed); err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return &summary, nil
}
