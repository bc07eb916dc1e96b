package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"loghaul/internal/api"
	"loghaul/internal/archive"
	"loghaul/internal/collector"
	"loghaul/internal/config"
	"loghaul/internal/execute"
	"loghaul/internal/inventory"
	"loghaul/internal/models"
	"loghaul/internal/probe"
	"loghaul/internal/repository"

	"github.com/gorilla/mux"
)

func main() {
	// Setup logging; replaced once the configured level/format is known
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "collect":
		err = runCollect(args)
	case "explore":
		err = runExplore(args)
	case "probe":
		err = runProbe(args)
	case "archive":
		err = runArchive(args)
	case "archives":
		err = runArchives(args)
	case "runs":
		err = runRuns(args)
	case "journal":
		err = runJournal(args)
	case "serve":
		err = runServe(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: loghaul <command> [flags]

Commands:
  collect   copy configured remote log paths to local storage, then archive
  explore   list remote log files without copying anything
  probe     check ping and ssh reachability of every inventory host
  archive   run one incremental archiving pass over local storage
  archives  list produced archives grouped by endpoint
  runs      show recorded collection runs
  journal   export the systemd journal from every host
  serve     run the status HTTP API

Run 'loghaul <command> -h' for command flags.
`)
}

type commonOpts struct {
	configPath    string
	inventoryPath string
}

func (o *commonOpts) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "path to config file")
	fs.StringVar(&o.inventoryPath, "inventory", "", "path to inventory file")
}

func (o *commonOpts) load() (*config.Config, *inventory.Inventory, error) {
	cfg, err := config.Load(resolveConfigPath(o.configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.GetLogging())

	inv, err := inventory.Parse(resolveInventoryPath(o.inventoryPath))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	return cfg, inv, nil
}

func splitHosts(hosts string) []string {
	if hosts == "" {
		return nil
	}
	var out []string
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// openRepo returns nil without error when no database is configured.
func openRepo(cfg *config.Config) (*repository.Repository, error) {
	dbPath := cfg.GetDatabase().Path
	if dbPath == "" {
		return nil, nil
	}
	return repository.New(dbPath)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCollect(args []string) error {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	var opts commonOpts
	opts.register(fs)
	hosts := fs.String("host", "", "only collect from these hosts (comma separated)")
	dryRun := fs.Bool("dry-run", false, "pass --dry-run to rsync, copy nothing")
	skipArchive := fs.Bool("skip-archive", false, "skip the archiving pass after collection")
	fs.Parse(args)

	cfg, inv, err := opts.load()
	if err != nil {
		return err
	}

	repo, err := openRepo(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if repo != nil {
		defer repo.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	coll := collector.New(cfg, inv, execute.NewRunner(), repo)
	summary, _, err := coll.Collect(ctx, splitHosts(*hosts), *dryRun)
	if err != nil {
		return err
	}

	fmt.Printf("collection finished: %d/%d succeeded\n", summary.Successful, summary.Total)
	if summary.Failed > 0 {
		fmt.Printf("failures written to %s\n", cfg.GetStorage().FailureLog)
	}

	if !*dryRun && !*skipArchive && summary.Successful > 0 {
		printEndpointReports(coll.Archive(false))
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", summary.Failed, summary.Total)
	}
	return nil
}

func runExplore(args []string) error {
	fs := flag.NewFlagSet("explore", flag.ExitOnError)
	var opts commonOpts
	opts.register(fs)
	hosts := fs.String("host", "", "only inspect these hosts (comma separated)")
	fs.Parse(args)

	cfg, inv, err := opts.load()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	coll := collector.New(cfg, inv, execute.NewRunner(), nil)
	report := coll.Explore(ctx, splitHosts(*hosts))

	unreachable := 0
	hostNames := make([]string, 0, len(report))
	for host := range report {
		hostNames = append(hostNames, host)
	}
	sort.Strings(hostNames)

	for _, host := range hostNames {
		fmt.Printf("%s:\n", host)

		apps := make([]string, 0, len(report[host]))
		for app := range report[host] {
			apps = append(apps, app)
		}
		sort.Strings(apps)

		for _, app := range apps {
			result := report[host][app]
			switch {
			case result.ConnectivityError:
				unreachable++
				fmt.Printf("  %-20s unreachable: %s\n", app, result.Error)
			case !result.Exists:
				fmt.Printf("  %-20s absent (%s)\n", app, result.RemotePath)
			default:
				fmt.Printf("  %-20s %d files, %s\n", app, result.FileCount, models.HumanSize(result.TotalSize))
			}
		}
	}

	if unreachable > 0 {
		return fmt.Errorf("%d remote paths unreachable", unreachable)
	}
	return nil
}

func runProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	var opts commonOpts
	opts.register(fs)
	hosts := fs.String("host", "", "only probe these hosts (comma separated)")
	fs.Parse(args)

	cfg, inv, err := opts.load()
	if err != nil {
		return err
	}

	targets := inv.Hosts()
	if filter := splitHosts(*hosts); len(filter) > 0 {
		targets = filter
	}

	rsync := cfg.GetRsync()
	cred := models.Credentials{
		User:    rsync.SSHUser,
		Port:    rsync.SSHPort,
		KeyFile: rsync.SSHKeyFile,
	}
	for _, gw := range rsync.Gateways {
		cred.Gateways = append(cred.Gateways, models.Gateway{Host: gw.Host, User: gw.User, Port: gw.Port})
	}

	ctx, cancel := signalContext()
	defer cancel()

	prober := probe.New(execute.NewRunner(), cred, rsync.MaxParallel, rsync.ListTimeout, rsync.StrictHostKeyCheck)
	results := prober.ProbeHosts(ctx, targets)

	failed := 0
	for _, result := range results {
		ping := "FAIL"
		if result.PingOK {
			ping = fmt.Sprintf("%.1fms", result.PingAvgMs)
		}
		ssh := "ok"
		if !result.SSHOK {
			ssh = "FAIL: " + result.SSHError
			failed++
		}
		fmt.Printf("%-30s ping %-10s ssh %s\n", result.Host, ping, ssh)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d hosts unreachable over ssh", failed, len(results))
	}
	return nil
}

func runArchive(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	var opts commonOpts
	opts.register(fs)
	force := fs.Bool("force", false, "archive every file, including already archived ones")
	fs.Parse(args)

	cfg, err := config.Load(resolveConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.GetLogging())

	storage := cfg.GetStorage()
	archiver := archive.New(storage.BaseDir, storage.ArchiveDir, storage.MinFreeBytes)
	reports := archiver.ArchiveAll(*force)
	printEndpointReports(reports)

	failed := 0
	for _, report := range reports {
		if !report.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d endpoints failed to archive", failed)
	}
	return nil
}

func printEndpointReports(reports []models.EndpointReport) {
	for _, report := range reports {
		switch {
		case !report.Success:
			fmt.Printf("%-30s archive failed: %s\n", report.Endpoint, report.Error)
		case report.ArchivePath == "":
			fmt.Printf("%-30s nothing new to archive\n", report.Endpoint)
		default:
			fmt.Printf("%-30s %d files -> %s\n", report.Endpoint, report.FileCount, report.ArchivePath)
		}
	}
}

func runArchives(args []string) error {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	var opts commonOpts
	opts.register(fs)
	endpoint := fs.String("endpoint", "", "only show archives for endpoints with this prefix")
	recent := fs.Int("recent", 5, "how many recent archives to show per endpoint")
	fs.Parse(args)

	cfg, err := config.Load(resolveConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.GetLogging())

	catalog := archive.NewCatalog(cfg.GetStorage().ArchiveDir)

	if *endpoint != "" {
		archives, err := catalog.List(*endpoint)
		if err != nil {
			return err
		}
		for _, a := range archives {
			fmt.Printf("%-50s %10s  %s\n", a.Name, models.HumanSize(a.SizeBytes),
				a.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	summary, err := catalog.Summary(*recent)
	if err != nil {
		return err
	}
	for _, group := range summary {
		fmt.Printf("%s: %d archives, %s\n", group.Endpoint, group.Count, models.HumanSize(group.TotalSize))
		for _, a := range group.Recent {
			fmt.Printf("  %-50s %10s\n", a.Name, models.HumanSize(a.SizeBytes))
		}
	}
	return nil
}

func runRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	var opts commonOpts
	opts.register(fs)
	limit := fs.Int("limit", 20, "how many runs to show")
	runID := fs.String("id", "", "show the per-job outcomes of one run")
	fs.Parse(args)

	cfg, err := config.Load(resolveConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.GetLogging())

	repo, err := openRepo(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if repo == nil {
		return fmt.Errorf("no database configured")
	}
	defer repo.Close()

	if *runID != "" {
		outcomes, err := repo.GetRunOutcomes(*runID)
		if err != nil {
			return err
		}
		for _, outcome := range outcomes {
			status := "ok"
			if !outcome.Success {
				status = fmt.Sprintf("FAIL (exit %d): %s", outcome.ExitCode, outcome.ErrorMessage)
			}
			fmt.Printf("%-20s %-15s attempts=%d %-10s %s\n",
				outcome.Host, outcome.Application, outcome.Attempts,
				outcome.Duration.Round(time.Millisecond), status)
		}
		return nil
	}

	runs, err := repo.GetRecentRuns(*limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s  %-8s %s  %d/%d succeeded\n",
			run.ID, run.Mode, run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Successful, run.Total)
	}
	return nil
}

func runJournal(args []string) error {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	var opts commonOpts
	opts.register(fs)
	hosts := fs.String("host", "", "only export from these hosts (comma separated)")
	since := fs.String("since", "", "journalctl --since expression, e.g. '2 days ago'")
	fs.Parse(args)

	cfg, inv, err := opts.load()
	if err != nil {
		return err
	}

	repo, err := openRepo(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if repo != nil {
		defer repo.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	coll := collector.New(cfg, inv, execute.NewRunner(), repo)
	summary, err := coll.Journal(ctx, splitHosts(*hosts), *since)
	if err != nil {
		return err
	}

	fmt.Printf("journal export finished: %d/%d succeeded\n", summary.Successful, summary.Total)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d journal exports failed", summary.Failed, summary.Total)
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var opts commonOpts
	opts.register(fs)
	fs.Parse(args)

	cfg, err := config.Load(resolveConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.GetLogging())

	repo, err := openRepo(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if repo == nil {
		return fmt.Errorf("no database configured")
	}
	defer repo.Close()

	catalog := archive.NewCatalog(cfg.GetStorage().ArchiveDir)

	router := mux.NewRouter()
	handlers := api.NewHandlers(repo, catalog, cfg)
	handlers.RegisterRoutes(router)

	serverConfig := cfg.GetServer()
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		slog.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Re-apply logging settings when the config file changes on disk
	go func() {
		configChanges := cfg.WatchForChanges()
		for {
			select {
			case <-ctx.Done():
				return
			case <-configChanges:
				slog.Info("configuration changed, updating logging")
				setupLogging(cfg.GetLogging())
			}
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("shutdown completed")
	return nil
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if configPath := os.Getenv("LOGHAUL_CONFIG"); configPath != "" {
		return configPath
	}

	candidates := []string{
		"/config/config.yaml",
		"./config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	slog.Error("no configuration file found")
	return ""
}

func resolveInventoryPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if inventoryPath := os.Getenv("LOGHAUL_INVENTORY"); inventoryPath != "" {
		return inventoryPath
	}

	candidates := []string{
		"/config/inventory.ini",
		"./inventory.ini",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	slog.Error("no inventory file found")
	return ""
}

func setupLogging(logConfig config.LoggingConfig) {
	var level slog.Level
	switch logConfig.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if logConfig.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
