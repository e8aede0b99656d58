package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ralcott/rota"
	"github.com/ralcott/rota/internal/config"
	"github.com/ralcott/rota/internal/daemon"
	"github.com/ralcott/rota/internal/db"
	"github.com/ralcott/rota/jobs"
	"github.com/ralcott/rota/tools/migrator"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	daemonMode := flag.Bool("daemon", false, "Run the tick loop until interrupted")
	force := flag.Bool("force", false, "One-shot mode: run jobs regardless of their schedules")
	stats := flag.Bool("stats", false, "Print per-job run summaries and exit")
	history := flag.String("history", "", "Print the last 20 runs for a job code and exit")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Override log format (text, json)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger. Diagnostics go to stderr so the stats
	// and history output stays clean on stdout.
	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting rota", "config_file", *configFile)
	slog.Info("database configuration",
		"driver", cfg.Database.Driver,
		"migrations_dir", cfg.Database.MigrationsDir)

	// Open database connection with pool settings
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer database.Close()

	// Run migrations
	if !cfg.Database.SkipMigrations {
		if err := migrator.RunMigrations(database.DB.DB, cfg.Database.Driver, cfg.Database.MigrationsDir); err != nil {
			slog.Error("failed to run migrations", "error", err, "migrations_dir", cfg.Database.MigrationsDir)
			os.Exit(1)
		}

		version, err := migrator.GetCurrentVersion(database.DB.DB)
		if err != nil {
			slog.Error("failed to get schema version", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema ready", "version", version)
	} else {
		slog.Info("skipping migrations", "reason", "configured to skip")
	}

	runLog := db.NewRunLog(database)

	// Register the built-in maintenance jobs the configuration enables.
	// Embedders register their own jobs here.
	registry := rota.NewRegistry()
	if err := jobs.Register(registry, cfg.Maintenance, runLog, logger); err != nil {
		slog.Error("failed to register maintenance jobs", "error", err)
		os.Exit(1)
	}

	switch {
	case *stats:
		err = printStats(runLog)
	case *history != "":
		err = printHistory(runLog, *history)
	case *daemonMode:
		err = runDaemon(cfg.Daemon, registry, runLog, logger)
	default:
		err = runOnce(registry, runLog, logger, *force, flag.Args())
	}
	if err != nil {
		slog.Error("rota failed", "error", err)
		os.Exit(1)
	}
}

// buildLogger constructs the slog logger the configuration asks for.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// runOnce gives every selected job one runner invocation, the way a system
// cron entry firing rota would. Jobs decide for themselves whether they are
// due; unrunnable definitions are logged and skipped.
func runOnce(registry *rota.Registry, runLog rota.RunLog, logger *slog.Logger, force bool, codes []string) error {
	selected, err := selectJobs(registry, codes)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		logger.Warn("no jobs registered, nothing to run")
		return nil
	}

	for _, job := range selected {
		if err := rota.Run(job, runLog, force, rota.WithLogger(logger)); err != nil {
			logger.Error("job is unrunnable", "code", job.Code(), "error", err)
		}
	}
	return nil
}

// selectJobs resolves positional code arguments against the registry; with
// no arguments every registered job is selected.
func selectJobs(registry *rota.Registry, codes []string) ([]rota.Job, error) {
	if len(codes) == 0 {
		return registry.Jobs(), nil
	}

	selected := make([]rota.Job, 0, len(codes))
	for _, code := range codes {
		job, ok := registry.Get(code)
		if !ok {
			return nil, fmt.Errorf("unknown job code: %s", code)
		}
		selected = append(selected, job)
	}
	return selected, nil
}

// runDaemon runs the tick loop until SIGINT or SIGTERM.
func runDaemon(cfg daemon.Config, registry *rota.Registry, runLog rota.RunLog, logger *slog.Logger) error {
	d, err := daemon.New(cfg, registry, runLog, logger)
	if err != nil {
		return err
	}
	d.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	slog.Info("shutting down gracefully", "signal", sig.String())
	d.Stop()
	return nil
}

// printStats writes one summary line per job code.
func printStats(runLog *db.RunLog) error {
	summaries, err := runLog.Summaries()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tRUNS\tFAILURES\tAVG DURATION\tLAST RUN\tLAST STATUS")
	for _, s := range summaries {
		lastRun, lastStatus := "-", "-"
		if s.LastRun != nil {
			lastRun = s.LastRun.StartTime.Local().Format("2006-01-02 15:04:05")
			if s.LastRun.Succeeded {
				lastStatus = "ok"
			} else {
				lastStatus = "failed"
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
			s.Code, s.Runs, s.Failures, s.AvgDuration.Round(time.Millisecond), lastRun, lastStatus)
	}
	return w.Flush()
}

// printHistory writes the most recent runs for one job code, newest first.
func printHistory(runLog *db.RunLog, code string) error {
	runs, err := runLog.Runs(code, 20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Printf("no recorded runs for %s\n", code)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tSTATUS\tSLOT\tMESSAGE")
	for _, rec := range runs {
		status := "ok"
		if !rec.Succeeded {
			status = "failed"
		}
		slot := "-"
		if rec.RanAt != nil {
			slot = rec.RanAt.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.StartTime.Local().Format("2006-01-02 15:04:05"),
			rec.EndTime.Sub(rec.StartTime).Round(time.Millisecond),
			status, slot, firstLine(rec.Message))
	}
	return w.Flush()
}

// firstLine trims a message to its first line; failure messages can carry a
// multi-line tail.
func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
