// Package engine runs batches of remote-to-local copy jobs as rsync
// subprocesses under a bounded concurrency gate, with fixed-delay retries
// and per-job timeouts. Its read-only sibling, the Inspector, lists remote
// files without copying.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"loghaul/internal/execute"
	"loghaul/internal/models"
)

// Options are the tunables shared by the engine and the inspector. All
// retries use a single fixed delay, no exponential backoff and no jitter;
// many jobs failing together will retry in synchronized bursts, which is a
// known trade-off.
type Options struct {
	MaxParallel   int
	RetryCount    int
	RetryDelay    time.Duration
	Timeout       time.Duration
	StrictHostKey bool
}

func (o *Options) normalize() {
	if o.MaxParallel < 1 {
		o.MaxParallel = 1
	}
	if o.RetryCount < 1 {
		o.RetryCount = 1
	}
}

// Engine executes JobDescriptors and accumulates their outcomes for the
// lifetime of the instance.
type Engine struct {
	runner execute.Runner
	opts   Options

	mu       sync.Mutex
	outcomes []models.JobOutcome
}

func New(runner execute.Runner, opts Options) *Engine {
	opts.normalize()
	return &Engine{runner: runner, opts: opts}
}

// Run executes every job in the batch and returns one outcome per
// descriptor, in input order. At most MaxParallel jobs are in flight at any
// moment: a permit is taken from the admission gate before a job starts and
// returned when it finishes, success or not. Run does not return until all
// jobs have reached a terminal outcome. Outcomes are also appended to the
// engine's accumulator so Summary covers every batch run on this instance.
func (e *Engine) Run(ctx context.Context, jobs []models.JobDescriptor, dryRun bool) []models.JobOutcome {
	slog.Info("executing jobs", "count", len(jobs), "max_parallel", e.opts.MaxParallel, "dry_run", dryRun)

	results := make([]models.JobOutcome, len(jobs))
	gate := make(chan struct{}, e.opts.MaxParallel)
	var wg sync.WaitGroup

	for i := range jobs {
		wg.Add(1)
		go func(i int, job models.JobDescriptor) {
			defer wg.Done()

			gate <- struct{}{}
			defer func() { <-gate }()

			results[i] = e.executeJob(ctx, job, dryRun)
		}(i, jobs[i])
	}

	wg.Wait()

	e.mu.Lock()
	e.outcomes = append(e.outcomes, results...)
	e.mu.Unlock()

	return results
}

// executeJob runs one job to a terminal outcome, retrying failed attempts
// up to the configured cap with the fixed delay in between. A timeout kills
// the process and consumes an attempt like any other failure.
func (e *Engine) executeJob(ctx context.Context, job models.JobDescriptor, dryRun bool) models.JobOutcome {
	start := time.Now()
	var last execute.Result

	for attempt := 1; attempt <= e.opts.RetryCount; attempt++ {
		// The destination must exist before rsync writes into it.
		if err := os.MkdirAll(job.LocalPath, 0755); err != nil {
			last = execute.Result{Err: err, ExitCode: -1}
			slog.Error("failed to create destination", "job", job.Label(), "error", err)
		} else {
			args := buildRsyncArgs(job, e.opts.StrictHostKey, dryRun)
			slog.Info("running rsync", "job", job.Label(), "attempt", attempt, "retry_count", e.opts.RetryCount)

			attemptCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
			last = e.runner.Run(attemptCtx, "rsync", args...)
			cancel()

			if last.Ok() {
				slog.Info("job succeeded", "job", job.Label(), "duration", time.Since(start))
				return models.JobOutcome{
					Job:      job,
					Success:  true,
					Stdout:   last.Stdout,
					Stderr:   last.Stderr,
					ExitCode: last.ExitCode,
					Duration: time.Since(start),
					Attempts: attempt,
				}
			}

			switch {
			case last.TimedOut:
				slog.Error("job timed out", "job", job.Label(), "timeout", e.opts.Timeout, "attempt", attempt)
			case last.Err != nil:
				slog.Error("job failed to start", "job", job.Label(), "error", last.Err)
			default:
				slog.Warn("job failed", "job", job.Label(), "exit_code", last.ExitCode, "attempt", attempt)
			}
		}

		if attempt < e.opts.RetryCount {
			slog.Info("retrying", "job", job.Label(), "delay", e.opts.RetryDelay)
			select {
			case <-time.After(e.opts.RetryDelay):
			case <-ctx.Done():
				attempt = e.opts.RetryCount // stop retrying, report what we have
			}
		}
	}

	stderr := last.Stderr
	switch {
	case last.TimedOut:
		stderr = fmt.Sprintf("timeout after %s", e.opts.Timeout)
	case last.Err != nil:
		stderr = last.Err.Error()
	case stderr == "":
		stderr = "max retries exceeded"
	}

	return models.JobOutcome{
		Job:      job,
		Success:  false,
		Stdout:   last.Stdout,
		Stderr:   stderr,
		ExitCode: last.ExitCode,
		Duration: time.Since(start),
		Attempts: e.opts.RetryCount,
	}
}

// Summary aggregates every outcome accumulated by this engine instance,
// across all batches.
func (e *Engine) Summary() models.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	summary := models.Summary{Total: len(e.outcomes)}
	for _, outcome := range e.outcomes {
		if outcome.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// Outcomes returns a copy of every accumulated outcome.
func (e *Engine) Outcomes() []models.JobOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.JobOutcome, len(e.outcomes))
	copy(out, e.outcomes)
	return out
}

// WriteFailureLog appends one human-readable block per failed outcome to
// the shared failure log, creating parent directories as needed. It is a
// no-op when every outcome succeeded.
func (e *Engine) WriteFailureLog(path string) error {
	e.mu.Lock()
	var failed []models.JobOutcome
	for _, outcome := range e.outcomes {
		if !outcome.Success {
			failed = append(failed, outcome)
		}
	}
	e.mu.Unlock()

	if len(failed) == 0 {
		slog.Info("no failures to log")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create failure log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open failure log: %w", err)
	}
	defer f.Close()

	divider := strings.Repeat("=", 80)
	fmt.Fprintf(f, "\n%s\nLog collection failures - %s\n%s\n\n", divider, time.Now().Format(time.RFC3339), divider)

	for _, outcome := range failed {
		fmt.Fprintf(f, "Host: %s\n", outcome.Job.Host)
		fmt.Fprintf(f, "Application: %s\n", outcome.Job.Application)
		fmt.Fprintf(f, "Remote path: %s\n", outcome.Job.RemotePath)
		fmt.Fprintf(f, "Attempts: %d\n", outcome.Attempts)
		fmt.Fprintf(f, "Exit code: %d\n", outcome.ExitCode)
		fmt.Fprintf(f, "STDERR:\n%s\n", outcome.Stderr)
		fmt.Fprintf(f, "%s\n\n", strings.Repeat("-", 80))
	}

	slog.Info("failure log written", "path", path, "failures", len(failed))
	return nil
}
