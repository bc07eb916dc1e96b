package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"loghaul/internal/execute"
	"loghaul/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records invocations and answers from a scripted function,
// tracking how many invocations are in flight at once.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	inFlight int
	maxSeen  int
	delay    time.Duration
	respond  func(name string, args []string) execute.Result
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) execute.Result {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(name, args)
	}
	return execute.Result{ExitCode: 0}
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testJob(t *testing.T, host, app string) models.JobDescriptor {
	t.Helper()
	return models.JobDescriptor{
		Host:        host,
		Application: app,
		RemotePath:  "/var/log/" + app,
		LocalPath:   filepath.Join(t.TempDir(), host, app),
		Credentials: models.Credentials{User: "root", Port: 22},
		Flags:       []string{"-a"},
	}
}

func testOptions() Options {
	return Options{
		MaxParallel: 3,
		RetryCount:  3,
		RetryDelay:  5 * time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestRun_OneOutcomePerJob(t *testing.T) {
	runner := &fakeRunner{}
	eng := New(runner, testOptions())

	jobs := []models.JobDescriptor{
		testJob(t, "host1", "nginx"),
		testJob(t, "host2", "nginx"),
		testJob(t, "host3", "postgres"),
	}

	outcomes := eng.Run(context.Background(), jobs, false)

	require.Len(t, outcomes, 3)
	for i, outcome := range outcomes {
		assert.True(t, outcome.Success)
		assert.Equal(t, jobs[i].Host, outcome.Job.Host, "outcomes keep input order")
		assert.Equal(t, 1, outcome.Attempts)
	}
}

func TestRun_SummaryAccumulatesAcrossBatches(t *testing.T) {
	runner := &fakeRunner{
		respond: func(name string, args []string) execute.Result {
			// Fail anything targeting host-bad.
			for _, arg := range args {
				if strings.Contains(arg, "host-bad") {
					return execute.Result{ExitCode: 12, Stderr: "rsync error"}
				}
			}
			return execute.Result{ExitCode: 0}
		},
	}
	eng := New(runner, testOptions())

	eng.Run(context.Background(), []models.JobDescriptor{
		testJob(t, "host-ok", "nginx"),
		testJob(t, "host-bad", "nginx"),
	}, false)
	eng.Run(context.Background(), []models.JobDescriptor{
		testJob(t, "host-ok", "postgres"),
	}, false)

	summary := eng.Summary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	opts := testOptions()
	opts.MaxParallel = 3
	eng := New(runner, opts)

	var jobs []models.JobDescriptor
	for i := 0; i < 12; i++ {
		jobs = append(jobs, testJob(t, "host"+string(rune('a'+i)), "nginx"))
	}

	outcomes := eng.Run(context.Background(), jobs, false)

	require.Len(t, outcomes, 12)
	assert.LessOrEqual(t, runner.maxSeen, 3, "never more than max_parallel jobs in flight")
}

func TestRun_RetriesExactlyRetryCountTimes(t *testing.T) {
	runner := &fakeRunner{
		respond: func(string, []string) execute.Result {
			return execute.Result{ExitCode: 1, Stderr: "permission denied"}
		},
	}
	eng := New(runner, testOptions())

	outcomes := eng.Run(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")}, false)

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, 3, outcomes[0].Attempts)
	assert.Equal(t, 3, runner.callCount(), "exactly retry_count attempts, never more")
	assert.Equal(t, 1, outcomes[0].ExitCode)
	assert.Contains(t, outcomes[0].Stderr, "permission denied")
}

func TestRun_TimeoutProducesSyntheticError(t *testing.T) {
	runner := &fakeRunner{
		respond: func(string, []string) execute.Result {
			return execute.Result{TimedOut: true, ExitCode: -1}
		},
	}
	eng := New(runner, testOptions())

	outcomes := eng.Run(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")}, false)

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, 3, outcomes[0].Attempts, "a timeout consumes an attempt")
	assert.Contains(t, outcomes[0].Stderr, "timeout after")
}

func TestRun_DryRunAddsFlag(t *testing.T) {
	runner := &fakeRunner{}
	eng := New(runner, testOptions())

	eng.Run(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")}, true)

	require.Equal(t, 1, runner.callCount())
	assert.Contains(t, runner.calls[0], "--dry-run")
}

func TestRun_CreatesDestinationDirectory(t *testing.T) {
	runner := &fakeRunner{}
	eng := New(runner, testOptions())

	job := testJob(t, "host1", "nginx")
	eng.Run(context.Background(), []models.JobDescriptor{job}, false)

	assert.DirExists(t, job.LocalPath)
}

func TestWriteFailureLog(t *testing.T) {
	runner := &fakeRunner{
		respond: func(string, []string) execute.Result {
			return execute.Result{ExitCode: 23, Stderr: "No such file or directory"}
		},
	}
	eng := New(runner, testOptions())
	eng.Run(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")}, false)

	logPath := filepath.Join(t.TempDir(), "sub", "failures.log")
	require.NoError(t, eng.WriteFailureLog(logPath))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "Host: host1")
	assert.Contains(t, content, "Application: nginx")
	assert.Contains(t, content, "Attempts: 3")
	assert.Contains(t, content, "No such file or directory")

	// Appending a second time grows the file rather than truncating it.
	require.NoError(t, eng.WriteFailureLog(logPath))
	data2, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Greater(t, len(data2), len(data))
}

func TestWriteFailureLog_NoFailuresIsNoop(t *testing.T) {
	eng := New(&fakeRunner{}, testOptions())
	eng.Run(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")}, false)

	logPath := filepath.Join(t.TempDir(), "failures.log")
	require.NoError(t, eng.WriteFailureLog(logPath))

	_, err := os.Stat(logPath)
	assert.True(t, os.IsNotExist(err), "no log file should be created without failures")
}

func TestBuildRsyncArgs(t *testing.T) {
	job := models.JobDescriptor{
		Host:        "node1.example.com",
		Application: "nginx",
		RemotePath:  "/var/log/nginx/*.log",
		LocalPath:   "/data/logs/node1.example.com/nginx",
		Credentials: models.Credentials{
			User:    "collector",
			Port:    2222,
			KeyFile: "/keys/id_ed25519",
			Gateways: []models.Gateway{
				{Host: "bastion", User: "jump", Port: 22},
			},
		},
		Flags: []string{"-a", "--progress"},
	}

	args := buildRsyncArgs(job, false, false)

	assert.Equal(t, "-a", args[0])
	assert.Contains(t, args, "-v", "verbose added when absent from flags")
	assert.Contains(t, args, "collector@node1.example.com:/var/log/nginx/*.log")
	assert.Equal(t, "/data/logs/node1.example.com/nginx/", args[len(args)-1])

	var sshCmd string
	for i, a := range args {
		if a == "-e" {
			sshCmd = args[i+1]
		}
	}
	require.NotEmpty(t, sshCmd)
	assert.Contains(t, sshCmd, "-p 2222")
	assert.Contains(t, sshCmd, "-i /keys/id_ed25519")
	assert.Contains(t, sshCmd, "ProxyJump=jump@bastion:22")
	assert.Contains(t, sshCmd, "StrictHostKeyChecking=no")

	strictArgs := buildRsyncArgs(job, true, false)
	for i, a := range strictArgs {
		if a == "-e" {
			assert.NotContains(t, strictArgs[i+1], "StrictHostKeyChecking=no")
		}
	}
}
