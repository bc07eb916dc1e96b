// Package probe checks network and SSH reachability of remote hosts before
// a collection run. Probes are lightweight: one quick ping first, a short
// burst only if it answers.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"loghaul/internal/engine"
	"loghaul/internal/execute"
	"loghaul/internal/models"
)

// Result is the reachability report for one host.
type Result struct {
	Host      string  `json:"host"`
	PingOK    bool    `json:"ping_ok"`
	PingAvgMs float64 `json:"ping_avg_ms,omitempty"`
	SSHOK     bool    `json:"ssh_ok"`
	SSHError  string  `json:"ssh_error,omitempty"`
}

type Prober struct {
	runner        execute.Runner
	cred          models.Credentials
	maxParallel   int
	timeout       time.Duration
	strictHostKey bool
}

func New(runner execute.Runner, cred models.Credentials, maxParallel int, timeout time.Duration, strictHostKey bool) *Prober {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Prober{
		runner:        runner,
		cred:          cred,
		maxParallel:   maxParallel,
		timeout:       timeout,
		strictHostKey: strictHostKey,
	}
}

// ProbeHosts probes every host under the usual admission gate and returns
// results in input order.
func (p *Prober) ProbeHosts(ctx context.Context, hosts []string) []Result {
	slog.Info("probing hosts", "count", len(hosts))

	results := make([]Result, len(hosts))
	gate := make(chan struct{}, p.maxParallel)
	var wg sync.WaitGroup

	for i := range hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()

			gate <- struct{}{}
			defer func() { <-gate }()

			results[i] = p.probeHost(ctx, host)
		}(i, hosts[i])
	}

	wg.Wait()
	return results
}

func (p *Prober) probeHost(ctx context.Context, host string) Result {
	result := Result{Host: host}

	result.PingOK, result.PingAvgMs = p.testPing(ctx, host)
	result.SSHOK, result.SSHError = p.testSSH(ctx, host)

	return result
}

// testPing sends one quick ping and bails if the host is silent; only a
// responsive host gets the 4-packet burst used for the average.
func (p *Prober) testPing(ctx context.Context, host string) (bool, float64) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if len(p.cred.Gateways) > 0 {
		return p.testPingThroughGateway(probeCtx, host)
	}

	first := p.runner.Run(probeCtx, "ping", "-c", "1", "-W", "2", host)
	if !first.Ok() {
		return false, 0
	}

	burst := p.runner.Run(probeCtx, "ping", "-c", "4", "-i", "1", "-W", "2", host)
	if !burst.Ok() {
		return false, 0
	}

	avg, _ := parsePingAvg(burst.Stdout)
	return true, avg
}

// testPingThroughGateway runs the ping on the first gateway hop, since the
// target may only be reachable from inside.
func (p *Prober) testPingThroughGateway(ctx context.Context, host string) (bool, float64) {
	gw := p.cred.Gateways[0]
	gwCred := models.Credentials{User: gw.User, Port: gw.Port, KeyFile: p.cred.KeyFile}

	remoteCmd := fmt.Sprintf("ping -c 4 -i 1 -W 2 %s", host)
	args := engine.SSHArgs(gwCred, gw.Host, remoteCmd, p.strictHostKey)

	result := p.runner.Run(ctx, "ssh", args...)
	if !result.Ok() {
		return false, 0
	}

	avg, _ := parsePingAvg(result.Stdout)
	return true, avg
}

func (p *Prober) testSSH(ctx context.Context, host string) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := engine.SSHArgs(p.cred, host, "echo SSH_OK", p.strictHostKey)
	result := p.runner.Run(probeCtx, "ssh", args...)

	if result.Ok() && strings.Contains(result.Stdout, "SSH_OK") {
		return true, ""
	}

	errMsg := strings.TrimSpace(result.Stderr)
	if errMsg == "" {
		if result.Err != nil {
			errMsg = result.Err.Error()
		} else {
			errMsg = fmt.Sprintf("exit code %d", result.ExitCode)
		}
	}
	return false, errMsg
}

// parsePingAvg pulls the average round-trip time from ping's summary line:
// rtt min/avg/max/mdev = 0.123/0.456/0.789/0.012 ms
func parsePingAvg(output string) (float64, bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "rtt min/avg/max") && !strings.Contains(line, "round-trip") {
			continue
		}
		_, values, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		parts := strings.Split(strings.Fields(strings.TrimSpace(values))[0], "/")
		if len(parts) < 2 {
			continue
		}
		avg, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		return avg, true
	}
	return 0, false
}
