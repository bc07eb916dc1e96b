package engine

import (
	"context"
	"testing"

	"loghaul/internal/execute"
	"loghaul/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleListing = `total 48
drwxr-xr-x 2 root root 4096 Mar 10 09:15 archive
this line is malformed
-rw-r--r-- 1 root root 4096 Mar 10 09:15 app one.log
`

func TestParseListing(t *testing.T) {
	files := parseListing(sampleListing)

	require.Len(t, files, 1, "directory and malformed lines are skipped")
	assert.Equal(t, "app one.log", files[0].Name)
	assert.Equal(t, int64(4096), files[0].SizeBytes)
	assert.Equal(t, "-rw-r--r--", files[0].Permissions)
	assert.False(t, files[0].IsDir)
}

func TestParseListing_SkipsErrorLines(t *testing.T) {
	text := `find: '/var/log/gone': No such file or directory
ls: cannot access '/var/log/x': Permission denied
-rw------- 1 postgres postgres 1024 Jan  2 03:04 postgresql.log
`
	files := parseListing(text)

	require.Len(t, files, 1)
	assert.Equal(t, "postgresql.log", files[0].Name)
	assert.Equal(t, int64(1024), files[0].SizeBytes)
}

func TestParseListing_Empty(t *testing.T) {
	assert.Empty(t, parseListing(""))
	assert.Empty(t, parseListing("total 0\n"))
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1099511627776, "1.0 TB"},
		{1125899906842624, "1.0 PB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, models.HumanSize(tt.in), "HumanSize(%d)", tt.in)
	}
}

func TestIsConnectivityError(t *testing.T) {
	assert.True(t, isConnectivityError("ssh: connect to host node1 port 22: Connection refused"))
	assert.True(t, isConnectivityError("ssh: connect to host node1 port 22: Connection timed out"))
	assert.True(t, isConnectivityError("Host key verification failed."))
	assert.True(t, isConnectivityError("ssh: Could not resolve hostname node1: Name or service not known"))
	assert.False(t, isConnectivityError("find: '/var/log/nginx': No such file or directory"))
	assert.False(t, isConnectivityError(""))
}

func TestInspect_ExistingPath(t *testing.T) {
	runner := &fakeRunner{
		respond: func(string, []string) execute.Result {
			return execute.Result{ExitCode: 0, Stdout: sampleListing}
		},
	}
	ins := NewInspector(runner, testOptions())

	report := ins.Inspect(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")})

	result := report["host1"]["nginx"]
	assert.True(t, result.Exists)
	assert.Equal(t, 1, result.FileCount)
	assert.Equal(t, int64(4096), result.TotalSize)
	assert.Equal(t, 1, runner.callCount(), "success is not retried")
}

func TestInspect_AbsenceIsTerminalWithoutRetry(t *testing.T) {
	runner := &fakeRunner{
		respond: func(string, []string) execute.Result {
			return execute.Result{ExitCode: 1, Stderr: "No such file or directory"}
		},
	}
	ins := NewInspector(runner, testOptions())

	report := ins.Inspect(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")})

	result := report["host1"]["nginx"]
	assert.False(t, result.Exists)
	assert.False(t, result.ConnectivityError)
	assert.Contains(t, result.Error, "No such file or directory")
	assert.Equal(t, 1, runner.callCount(), "absence must not be retried")
}

func TestInspect_ConnectivityFailureRetriesToExhaustion(t *testing.T) {
	runner := &fakeRunner{
		respond: func(string, []string) execute.Result {
			return execute.Result{ExitCode: 255, Stderr: "Connection refused"}
		},
	}
	ins := NewInspector(runner, testOptions())

	report := ins.Inspect(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")})

	result := report["host1"]["nginx"]
	assert.False(t, result.Exists)
	assert.True(t, result.ConnectivityError)
	assert.Equal(t, 3, runner.callCount(), "connectivity failures retry up to the cap")
}

func TestInspect_GroupsByHostAndApplication(t *testing.T) {
	runner := &fakeRunner{}
	ins := NewInspector(runner, testOptions())

	jobs := []models.JobDescriptor{
		testJob(t, "host1", "nginx"),
		testJob(t, "host1", "postgres"),
		testJob(t, "host2", "nginx"),
	}

	report := ins.Inspect(context.Background(), jobs)

	require.Len(t, report, 2)
	assert.Len(t, report["host1"], 2)
	assert.Len(t, report["host2"], 1)
}

func TestInspect_ListingCommandIsRecursiveFind(t *testing.T) {
	runner := &fakeRunner{}
	ins := NewInspector(runner, testOptions())

	ins.Inspect(context.Background(), []models.JobDescriptor{testJob(t, "host1", "nginx")})

	require.Equal(t, 1, runner.callCount())
	call := runner.calls[0]
	assert.Equal(t, "ssh", call[0])
	remoteCmd := call[len(call)-1]
	assert.Contains(t, remoteCmd, "find /var/log/nginx -type f")
	assert.Contains(t, remoteCmd, "ls -la")
}
