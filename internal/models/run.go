package models

import "time"

// RunMode distinguishes what a recorded collection run did.
type RunMode string

const (
	RunModeCollect RunMode = "collect"
	RunModeDryRun  RunMode = "dry-run"
	RunModeJournal RunMode = "journal"
)

// CollectionRun is one recorded invocation of the execution engine.
type CollectionRun struct {
	ID         string     `json:"id"`
	Mode       RunMode    `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
}

// OutcomeRecord is the persisted form of a JobOutcome, attached to a run.
type OutcomeRecord struct {
	ID           int64         `json:"id"`
	RunID        string        `json:"run_id"`
	Host         string        `json:"host"`
	Application  string        `json:"application"`
	RemotePath   string        `json:"remote_path"`
	Success      bool          `json:"success"`
	ExitCode     int           `json:"exit_code"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
