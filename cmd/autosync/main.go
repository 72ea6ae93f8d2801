package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/timmy/leadsync/internal/config"
	"github.com/timmy/leadsync/internal/logger"
	"github.com/timmy/leadsync/internal/repository"
	"github.com/timmy/leadsync/internal/service"
	"github.com/timmy/leadsync/internal/source/facebook"
	"github.com/timmy/leadsync/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "leadsync-autosync",
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	configPath := flag.String("config", "", "Path to config file")
	loop := flag.Bool("loop", false, "Keep running and trigger batches on a schedule")
	schedule := flag.String("schedule", "", "Cron spec with seconds field; defaults to sync.schedule")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if cfg.Log.Level != "" {
		appLogger = logger.New(&logger.Config{
			Level:       cfg.Log.Level,
			Format:      cfg.Log.Format,
			File:        cfg.Log.File,
			ServiceName: "leadsync-autosync",
		})
		logger.SetDefaultLogger(appLogger)
	}

	ctx, cancel := context.WithCancel(appLogger.WithContext(context.Background()))
	defer cancel()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	archive := storage.Archive(storage.NoopArchive{})
	if cfg.Sync.ArchiveRaw {
		archive, err = storage.NewArchive(ctx, &cfg.Storage)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize raw lead archive")
		}
	}

	autoSync := service.NewAutoSyncService(
		repository.NewPageConfigRepository(db).WithStaleFactor(cfg.Sync.StaleFactor),
		repository.NewSyncJobRepository(db),
		repository.NewLeadRepository(db),
		repository.NewLeadFormRepository(db),
		facebook.NewClientFromConfig(&cfg.Facebook),
		archive,
		appLogger,
		&service.AutoSyncConfig{BatchTimeout: cfg.Sync.BatchTimeout},
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if !*loop {
		if err := runOnce(ctx, autoSync); err != nil {
			appLogger.WithError(err).Fatal("Auto-sync failed")
		}
		return
	}

	spec := *schedule
	if spec == "" {
		spec = cfg.Sync.Schedule
	}

	cronLogger := cron.PrintfLogger(appLogger)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if err := runOnce(ctx, autoSync); err != nil {
			appLogger.WithError(err).Error("Auto-sync failed")
		}
	}); err != nil {
		appLogger.WithError(err).WithField("schedule", spec).Fatal("Invalid schedule")
	}

	appLogger.WithField("schedule", spec).Info("Auto-sync scheduler started")
	c.Start()

	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		appLogger.Warn("Timed out waiting for running batch")
	}
	appLogger.Info("Auto-sync scheduler stopped")
}

func runOnce(ctx context.Context, autoSync *service.AutoSyncService) error {
	result, err := autoSync.RunBatch(ctx, time.Now())
	if err != nil {
		return err
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		"synced":  result.SyncedConfigs,
		"failed":  result.FailedConfigs,
		"skipped": result.SkippedConfigs,
		"leads":   result.TotalLeadsFetched,
	}).Info("Auto-sync run finished")
	return nil
}
