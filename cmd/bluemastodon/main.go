package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelp/bluemastodon/internal/config"
	"github.com/kelp/bluemastodon/internal/destination/mastodon"
	"github.com/kelp/bluemastodon/internal/notify"
	"github.com/kelp/bluemastodon/internal/scheduler"
	"github.com/kelp/bluemastodon/internal/service"
	"github.com/kelp/bluemastodon/internal/source/bluesky"
	"github.com/kelp/bluemastodon/internal/storage/statefile"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	statePath := flag.String("state", "", "override state file path")
	debug := flag.Bool("debug", false, "enable debug logging")
	dryRun := flag.Bool("dry-run", false, "simulate syncing without posting")
	interval := flag.Duration("interval", 0, "run continuously at this interval (0 runs once)")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	logger = setupLogger(cfg.LogLevel)

	if *statePath != "" {
		cfg.StateFile = *statePath
	}
	if *dryRun {
		cfg.Sync.DryRun = true
	}
	if *interval > 0 {
		cfg.Sync.Interval = *interval
	}

	source := bluesky.New(bluesky.Config{
		Host:           cfg.Bluesky.Host,
		Identifier:     cfg.Bluesky.Identifier,
		AppPassword:    cfg.Bluesky.AppPassword,
		Timeout:        cfg.Bluesky.Timeout,
		MaxAttempts:    cfg.Bluesky.Retry.MaxAttempts,
		InitialBackoff: cfg.Bluesky.Retry.InitialBackoff,
		MaxBackoff:     cfg.Bluesky.Retry.MaxBackoff,
	}, logger)

	destination := mastodon.New(mastodon.Config{
		InstanceURL:        cfg.Mastodon.InstanceURL,
		AccessToken:        cfg.Mastodon.AccessToken,
		Timeout:            cfg.Mastodon.Timeout,
		CharacterLimit:     cfg.Mastodon.CharacterLimit,
		DuplicateWindow:    cfg.Mastodon.Duplicate.Window,
		DuplicateThreshold: cfg.Mastodon.Duplicate.Threshold,
		IncludeMedia:       cfg.Sync.IncludeMedia,
		IncludeLinks:       cfg.Sync.IncludeLinks,
	}, logger)

	store := statefile.New(cfg.StateFile, cfg.Sync.Retention, logger)

	var notifier service.Notifier
	if cfg.Notify.URL != "" {
		mq, err := notify.NewRabbitMQ(notify.Config{
			URL:        cfg.Notify.URL,
			Exchange:   cfg.Notify.Exchange,
			RoutingKey: cfg.Notify.RoutingKey,
			QueueName:  cfg.Notify.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return 1
		}
		defer mq.Close()
		notifier = mq
	}

	svc := service.NewService(source, destination, store, notifier, logger, cfg.Sync)

	if cfg.Sync.Interval > 0 {
		return runScheduled(svc, cfg.Sync.Interval, logger)
	}

	result, err := svc.Run(context.Background())
	if err != nil {
		logger.Error("sync failed", "error", err)
		return 1
	}

	logger.Info("run summary",
		"fetched", result.Fetched,
		"published", result.Published,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"dry_run", cfg.Sync.DryRun,
	)
	return 0
}

func runScheduled(svc *service.Service, interval time.Duration, logger *slog.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	sched := scheduler.NewScheduler(svc, interval, logger)
	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		return 1
	}
	return 0
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
