package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/leadsync/internal/api"
	"github.com/timmy/leadsync/internal/api/handler"
	"github.com/timmy/leadsync/internal/api/middleware"
	"github.com/timmy/leadsync/internal/config"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/logger"
	"github.com/timmy/leadsync/internal/repository"
	"github.com/timmy/leadsync/internal/service"
	"github.com/timmy/leadsync/internal/source/facebook"
	"github.com/timmy/leadsync/internal/storage"
	"gorm.io/gorm"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.GetDefault().WithError(err).Fatal("Failed to load config")
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		File:        cfg.Log.File,
		ServiceName: cfg.Log.ServiceName,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx := appLogger.WithContext(context.Background())

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Repositories
	configRepo := repository.NewPageConfigRepository(db).WithStaleFactor(cfg.Sync.StaleFactor)
	jobRepo := repository.NewSyncJobRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	formRepo := repository.NewLeadFormRepository(db)

	userRepo, fallback := service.SelectUserRepository(ctx, repository.NewGormUserRepository(db), cfg.Auth.AllowFallback)

	archive := storage.Archive(storage.NoopArchive{})
	if cfg.Sync.ArchiveRaw {
		archive, err = storage.NewArchive(ctx, &cfg.Storage)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize raw lead archive")
		}
	}

	// Services
	graph := facebook.NewClientFromConfig(&cfg.Facebook)
	autoSync := service.NewAutoSyncService(
		configRepo, jobRepo, leadRepo, formRepo, graph, archive, appLogger,
		&service.AutoSyncConfig{BatchTimeout: cfg.Sync.BatchTimeout},
	)
	pages := service.NewPageService(configRepo, graph, autoSync).WithDefaultInterval(cfg.Sync.DefaultInterval)
	intake := service.NewLeadIntakeService(leadRepo)
	auth := service.NewAuthService(userRepo, cfg.Auth.SessionTTL)

	if fallback && cfg.Server.Mode == "debug" {
		seedDemoAccount(ctx, auth, cfg.Auth)
	}
	if purged, err := auth.PurgeExpiredSessions(ctx); err != nil {
		appLogger.WithError(err).Warn("Failed to purge expired sessions")
	} else if purged > 0 {
		appLogger.WithField("count", purged).Info("Purged expired sessions")
	}

	router := api.SetupRouter(&api.Handlers{
		Health:   handler.NewHealthHandler(pinger(db)),
		Cron:     handler.NewCronHandler(autoSync),
		Leads:    handler.NewLeadHandler(intake, leadRepo),
		Pages:    handler.NewPageHandler(pages, autoSync),
		SyncJobs: handler.NewSyncJobHandler(jobRepo),
		Auth:     handler.NewAuthHandler(auth, cfg.Auth.CookieName, cfg.Auth.SecureCookie),
	}, auth, api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		CronSecret: cfg.Cron.Secret,
		CookieName: cfg.Auth.CookieName,
		Logger:     appLogger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

func pinger(db *gorm.DB) handler.Pinger {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// seedDemoAccount creates the demo account in the in-memory store.
func seedDemoAccount(ctx context.Context, auth *service.AuthService, cfg config.AuthConfig) {
	if cfg.DemoPassword == "" {
		logger.CtxInfo(ctx, "No demo password configured, skipping demo account")
		return
	}
	_, err := auth.SignUp(ctx, service.SignUpInput{
		Email:    cfg.DemoEmail,
		Password: cfg.DemoPassword,
		FullName: "Demo User",
	})
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		logger.CtxWarn(ctx, "Failed to seed demo account: %v", err)
		return
	}
	logger.CtxInfo(ctx, "Demo account %s available", cfg.DemoEmail)
}
