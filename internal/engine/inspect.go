package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"loghaul/internal/execute"
	"loghaul/internal/models"
)

// connectivityIndicators mark a failure as a transport problem rather than
// a legitimately missing path. Matched case-insensitively against the
// combined output of a failed listing.
var connectivityIndicators = []string{
	"connection refused",
	"connection timed out",
	"timed out",
	"connection reset",
	"host key verification failed",
	"no route to host",
	"network is unreachable",
	"could not resolve hostname",
	"name or service not known",
}

func isConnectivityError(text string) bool {
	lower := strings.ToLower(text)
	for _, indicator := range connectivityIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// Inspector lists and measures remote files without copying them. It uses
// its own admission gate with the same bounded-concurrency semantics as the
// execution engine.
type Inspector struct {
	runner execute.Runner
	opts   Options
}

func NewInspector(runner execute.Runner, opts Options) *Inspector {
	opts.normalize()
	return &Inspector{runner: runner, opts: opts}
}

// Inspect resolves every descriptor to an InspectionResult, keyed by host
// then application. Connectivity failures are retried up to the cap with
// the fixed delay; a path that simply does not exist is terminal on the
// first attempt and is never retried.
func (ins *Inspector) Inspect(ctx context.Context, jobs []models.JobDescriptor) models.InspectionReport {
	slog.Info("inspecting remote paths", "count", len(jobs), "max_parallel", ins.opts.MaxParallel)

	report := make(models.InspectionReport)
	gate := make(chan struct{}, ins.opts.MaxParallel)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range jobs {
		wg.Add(1)
		go func(job models.JobDescriptor) {
			defer wg.Done()

			gate <- struct{}{}
			defer func() { <-gate }()

			result := ins.inspectJob(ctx, job)

			mu.Lock()
			if report[job.Host] == nil {
				report[job.Host] = make(map[string]models.InspectionResult)
			}
			report[job.Host][job.Application] = result
			mu.Unlock()
		}(jobs[i])
	}

	wg.Wait()
	return report
}

func (ins *Inspector) inspectJob(ctx context.Context, job models.JobDescriptor) models.InspectionResult {
	// find-then-list so nested subdirectories are included; the shell on
	// the remote side expands any glob in the configured path first.
	remoteCmd := fmt.Sprintf("find %s -type f -exec ls -la {} + 2>&1", job.RemotePath)
	args := SSHArgs(job.Credentials, job.Host, remoteCmd, ins.opts.StrictHostKey)

	var last execute.Result

	for attempt := 1; attempt <= ins.opts.RetryCount; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, ins.opts.Timeout)
		last = ins.runner.Run(attemptCtx, "ssh", args...)
		cancel()

		if last.Ok() {
			files := parseListing(last.Stdout)
			result := models.InspectionResult{
				RemotePath: job.RemotePath,
				Exists:     true,
				Files:      files,
			}
			for _, f := range files {
				result.FileCount++
				result.TotalSize += f.SizeBytes
			}
			slog.Info("remote path inspected", "job", job.Label(),
				"files", result.FileCount, "size", models.HumanSize(result.TotalSize))
			return result
		}

		combined := last.Stderr + "\n" + last.Stdout
		connectivity := last.TimedOut || last.Err != nil || isConnectivityError(combined)

		if !connectivity {
			// Legitimate absence: terminal immediately, never retried and
			// not an error from the caller's perspective.
			slog.Info("remote path not found", "job", job.Label(), "exit_code", last.ExitCode)
			return models.InspectionResult{
				RemotePath: job.RemotePath,
				Exists:     false,
				Error:      strings.TrimSpace(combined),
			}
		}

		slog.Warn("connectivity failure during inspection", "job", job.Label(), "attempt", attempt)
		if attempt < ins.opts.RetryCount {
			select {
			case <-time.After(ins.opts.RetryDelay):
			case <-ctx.Done():
				attempt = ins.opts.RetryCount
			}
		}
	}

	errText := strings.TrimSpace(last.Stderr)
	switch {
	case last.TimedOut:
		errText = fmt.Sprintf("timeout after %s", ins.opts.Timeout)
	case last.Err != nil:
		errText = last.Err.Error()
	case errText == "":
		errText = "max retries exceeded"
	}

	return models.InspectionResult{
		RemotePath:        job.RemotePath,
		Exists:            false,
		Error:             errText,
		ConnectivityError: true,
	}
}

// parseListing extracts file records from `ls -la` output. Summary lines,
// directory entries, error lines and anything malformed are skipped; a bad
// line never aborts the parse. Filenames containing spaces are preserved.
func parseListing(text string) []models.RemoteFileRecord {
	var files []models.RemoteFileRecord

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}

		perms := fields[0]
		if !looksLikeMode(perms) {
			continue
		}

		size, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}

		record := models.RemoteFileRecord{
			Name:        strings.Join(fields[8:], " "),
			SizeBytes:   size,
			Permissions: perms,
			IsDir:       perms[0] == 'd',
			ModTime:     strings.Join(fields[5:8], " "),
		}

		// Count files only.
		if record.IsDir {
			continue
		}

		files = append(files, record)
	}

	return files
}

func looksLikeMode(s string) bool {
	if len(s) < 10 {
		return false
	}
	switch s[0] {
	case '-', 'd', 'l', 'b', 'c', 's', 'p':
		return true
	}
	return false
}
