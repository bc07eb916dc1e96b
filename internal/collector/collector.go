// Package collector ties inventory, configuration, the execution engine
// and the archiver together into the collect/explore/archive operations the
// CLI exposes.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"loghaul/internal/archive"
	"loghaul/internal/config"
	"loghaul/internal/engine"
	"loghaul/internal/execute"
	"loghaul/internal/inventory"
	"loghaul/internal/journal"
	"loghaul/internal/models"
	"loghaul/internal/repository"
)

// allNodesGroup is the pseudo-group whose applications are collected from
// every host regardless of group membership.
const allNodesGroup = "_all_nodes"

type Collector struct {
	cfg    *config.Config
	inv    *inventory.Inventory
	engine *engine.Engine
	runner execute.Runner
	repo   *repository.Repository // nil when no database is configured
}

func New(cfg *config.Config, inv *inventory.Inventory, runner execute.Runner, repo *repository.Repository) *Collector {
	rsync := cfg.GetRsync()

	return &Collector{
		cfg:    cfg,
		inv:    inv,
		runner: runner,
		repo:   repo,
		engine: engine.New(runner, engine.Options{
			MaxParallel:   rsync.MaxParallel,
			RetryCount:    rsync.RetryCount,
			RetryDelay:    rsync.RetryDelay,
			Timeout:       rsync.Timeout,
			StrictHostKey: rsync.StrictHostKeyCheck,
		}),
	}
}

func (c *Collector) credentials() models.Credentials {
	rsync := c.cfg.GetRsync()

	cred := models.Credentials{
		User:    rsync.SSHUser,
		Port:    rsync.SSHPort,
		KeyFile: rsync.SSHKeyFile,
	}
	for _, gw := range rsync.Gateways {
		cred.Gateways = append(cred.Gateways, models.Gateway{
			Host: gw.Host,
			User: gw.User,
			Port: gw.Port,
		})
	}
	return cred
}

// applicationsForHost collects the applications configured for a host from
// the _all_nodes pseudo-group plus every group the host belongs to.
func (c *Collector) applicationsForHost(host string) []string {
	seen := make(map[string]struct{})
	for _, app := range c.cfg.ApplicationsForGroup(allNodesGroup) {
		seen[app] = struct{}{}
	}
	for _, group := range c.inv.GroupsForHost(host) {
		for _, app := range c.cfg.ApplicationsForGroup(group) {
			seen[app] = struct{}{}
		}
	}

	apps := make([]string, 0, len(seen))
	for app := range seen {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// BuildJobs creates one JobDescriptor per (host, application, log path)
// triple, in deterministic order. Optional host filtering keeps only the
// named hosts.
func (c *Collector) BuildJobs(hostFilter []string) []models.JobDescriptor {
	cred := c.credentials()
	flags := c.cfg.GetRsync().Flags

	keep := make(map[string]struct{}, len(hostFilter))
	for _, h := range hostFilter {
		keep[h] = struct{}{}
	}

	var jobs []models.JobDescriptor
	for _, host := range c.inv.Hosts() {
		if len(keep) > 0 {
			if _, ok := keep[host]; !ok {
				continue
			}
		}

		apps := c.applicationsForHost(host)
		if len(apps) == 0 {
			slog.Warn("no applications configured for host", "host", host, "groups", c.inv.GroupsForHost(host))
			continue
		}

		for _, app := range apps {
			for _, remotePath := range c.cfg.LogPathsForApplication(app) {
				jobs = append(jobs, models.JobDescriptor{
					Host:        host,
					Application: app,
					RemotePath:  remotePath,
					LocalPath:   c.cfg.AppStoragePath(host, app),
					Credentials: cred,
					Flags:       flags,
				})
			}
		}
	}

	slog.Info("built jobs", "count", len(jobs))
	return jobs
}

// Collect runs every built job through the execution engine, records the
// run, and writes the failure log when anything failed. The returned
// summary covers this call only.
func (c *Collector) Collect(ctx context.Context, hostFilter []string, dryRun bool) (models.Summary, []models.JobOutcome, error) {
	jobs := c.BuildJobs(hostFilter)
	if len(jobs) == 0 {
		slog.Warn("no jobs to execute")
		return models.Summary{}, nil, nil
	}

	mode := models.RunModeCollect
	if dryRun {
		mode = models.RunModeDryRun
	}

	run := &models.CollectionRun{
		ID:        uuid.New().String(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	if c.repo != nil {
		if err := c.repo.CreateRun(run); err != nil {
			return models.Summary{}, nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	outcomes := c.engine.Run(ctx, jobs, dryRun)

	summary := models.Summary{Total: len(outcomes)}
	for _, outcome := range outcomes {
		if outcome.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	slog.Info("collection complete", "run_id", run.ID,
		"successful", summary.Successful, "total", summary.Total)

	if summary.Failed > 0 {
		if err := c.engine.WriteFailureLog(c.cfg.GetStorage().FailureLog); err != nil {
			slog.Error("failed to write failure log", "error", err)
		}
	}

	if c.repo != nil {
		finished := time.Now().UTC()
		run.FinishedAt = &finished
		run.Total = summary.Total
		run.Successful = summary.Successful
		run.Failed = summary.Failed
		if err := c.repo.FinishRun(run, outcomes); err != nil {
			slog.Error("failed to record run outcomes", "run_id", run.ID, "error", err)
		}
	}

	return summary, outcomes, nil
}

// Explore inspects every remote path without copying anything.
func (c *Collector) Explore(ctx context.Context, hostFilter []string) models.InspectionReport {
	jobs := c.BuildJobs(hostFilter)

	rsync := c.cfg.GetRsync()
	inspector := engine.NewInspector(c.runner, engine.Options{
		MaxParallel:   rsync.MaxParallel,
		RetryCount:    rsync.RetryCount,
		RetryDelay:    rsync.RetryDelay,
		Timeout:       rsync.ListTimeout,
		StrictHostKey: rsync.StrictHostKeyCheck,
	})

	return inspector.Inspect(ctx, jobs)
}

// Journal exports the systemd journal from every host, one journalctl
// invocation per host, and records the pass like a collection run.
func (c *Collector) Journal(ctx context.Context, hostFilter []string, since string) (models.Summary, error) {
	hosts := c.inv.Hosts()
	if len(hostFilter) > 0 {
		keep := make(map[string]struct{}, len(hostFilter))
		for _, h := range hostFilter {
			keep[h] = struct{}{}
		}
		filtered := hosts[:0]
		for _, host := range hosts {
			if _, ok := keep[host]; ok {
				filtered = append(filtered, host)
			}
		}
		hosts = filtered
	}
	if len(hosts) == 0 {
		slog.Warn("no hosts to export journals from")
		return models.Summary{}, nil
	}

	rsync := c.cfg.GetRsync()
	storage := c.cfg.GetStorage()
	cred := c.credentials()
	exporter := journal.NewExporter(c.runner, rsync.Timeout, rsync.StrictHostKeyCheck)

	run := &models.CollectionRun{
		ID:        uuid.New().String(),
		Mode:      models.RunModeJournal,
		StartedAt: time.Now().UTC(),
	}
	if c.repo != nil {
		if err := c.repo.CreateRun(run); err != nil {
			return models.Summary{}, fmt.Errorf("failed to record run: %w", err)
		}
	}

	outcomes := make([]models.JobOutcome, 0, len(hosts))
	summary := models.Summary{Total: len(hosts)}
	for _, host := range hosts {
		start := time.Now()
		outPath, err := exporter.Export(ctx, host, cred, storage.BaseDir, since)

		outcome := models.JobOutcome{
			Job: models.JobDescriptor{
				Host:        host,
				Application: "journal",
				RemotePath:  "journalctl",
				Credentials: cred,
			},
			Success:  err == nil,
			Attempts: 1,
			Duration: time.Since(start),
		}
		if err != nil {
			outcome.Stderr = err.Error()
			outcome.ExitCode = -1
			summary.Failed++
			slog.Error("journal export failed", "host", host, "error", err)
		} else {
			summary.Successful++
			slog.Info("journal exported", "host", host, "path", outPath)
		}
		outcomes = append(outcomes, outcome)
	}

	if c.repo != nil {
		finished := time.Now().UTC()
		run.FinishedAt = &finished
		run.Total = summary.Total
		run.Successful = summary.Successful
		run.Failed = summary.Failed
		if err := c.repo.FinishRun(run, outcomes); err != nil {
			slog.Error("failed to record run outcomes", "run_id", run.ID, "error", err)
		}
	}

	return summary, nil
}

// Archive runs one incremental archiving pass over every endpoint found
// under the storage base directory.
func (c *Collector) Archive(force bool) []models.EndpointReport {
	storage := c.cfg.GetStorage()
	archiver := archive.New(storage.BaseDir, storage.ArchiveDir, storage.MinFreeBytes)
	return archiver.ArchiveAll(force)
}
