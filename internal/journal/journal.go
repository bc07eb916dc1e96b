// Package journal exports the system journal of remote hosts, one
// journalctl invocation per host, storing the output next to the host's
// collected logs.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"loghaul/internal/engine"
	"loghaul/internal/execute"
	"loghaul/internal/models"
)

type Exporter struct {
	runner        execute.Runner
	timeout       time.Duration
	strictHostKey bool
}

func NewExporter(runner execute.Runner, timeout time.Duration, strictHostKey bool) *Exporter {
	return &Exporter{
		runner:        runner,
		timeout:       timeout,
		strictHostKey: strictHostKey,
	}
}

// Export pulls the host's journal since the given specifier (journalctl
// --since syntax) and writes it under <destDir>/<host>/journal/. Returns
// the written file path.
func (e *Exporter) Export(ctx context.Context, host string, cred models.Credentials, destDir, since string) (string, error) {
	remoteCmd := "journalctl --no-pager"
	if since != "" {
		remoteCmd = fmt.Sprintf("journalctl --no-pager --since '%s'", since)
	}

	args := engine.SSHArgs(cred, host, remoteCmd, e.strictHostKey)

	exportCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result := e.runner.Run(exportCtx, "ssh", args...)
	if !result.Ok() {
		if result.TimedOut {
			return "", fmt.Errorf("journal export timed out after %s", e.timeout)
		}
		if result.Err != nil {
			return "", fmt.Errorf("journal export failed: %w", result.Err)
		}
		return "", fmt.Errorf("journal export failed (exit %d): %s", result.ExitCode, result.Stderr)
	}

	outDir := filepath.Join(destDir, host, "journal")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create journal directory: %w", err)
	}

	outPath := filepath.Join(outDir, fmt.Sprintf("journal_%s.log", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(outPath, []byte(result.Stdout), 0644); err != nil {
		return "", fmt.Errorf("failed to write journal export: %w", err)
	}

	slog.Info("journal exported", "host", host, "path", outPath, "size", models.HumanSize(int64(len(result.Stdout))))
	return outPath, nil
}
