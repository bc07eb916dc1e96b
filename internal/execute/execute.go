package execute

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result is the terminal outcome of one external command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Err      error
	Duration time.Duration
}

// Ok reports whether the command ran to completion and exited zero.
func (r Result) Ok() bool {
	return r.Err == nil && !r.TimedOut && r.ExitCode == 0
}

// Runner runs one external command and captures its output. The context
// deadline bounds the whole invocation; on expiry the process is killed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// CommandRunner is the os/exec backed Runner used outside of tests.
type CommandRunner struct{}

func NewRunner() *CommandRunner {
	return &CommandRunner{}
}

func (CommandRunner) Run(ctx context.Context, name string, args ...string) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Command never started (missing binary, bad path).
			result.ExitCode = -1
			result.Err = err
		}
	}

	return result
}
