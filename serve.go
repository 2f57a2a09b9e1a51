package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"attachflow/internal/api"
	"attachflow/internal/auth"
	"attachflow/internal/config"
	"attachflow/internal/dialog"
	"attachflow/internal/drafts"
	"attachflow/internal/extract"
	"attachflow/internal/ingest"
	"attachflow/internal/logger"
	"attachflow/internal/redis"
	"attachflow/internal/storage"
	"attachflow/internal/upload"
	"attachflow/internal/worker"
)

const shutdownTimeout = 15 * time.Second

type loader func() (*config.Config, logger.Logger, error)

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the attachment HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	var rdb *redis.Client
	if cfg.Drafts.Backend == "redis" || cfg.Dialog.Enabled {
		var err error
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
	}

	store, db, err := openDraftStore(cfg, rdb)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:        cfg.Worker.MinWorkers,
		MaxWorkers:        cfg.Worker.MaxWorkers,
		QueueSize:         cfg.Worker.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.Worker.WorkerIdleSeconds) * time.Second,
		Logger:            log,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Shutdown(ctx); err != nil {
			log.Warn("stop upload workers", "err", err)
		}
	}()

	backend := upload.NewHTTPBackend(upload.HTTPConfig{
		BaseURL:           cfg.Upload.BaseURL,
		AuthenticatedPath: cfg.Upload.AuthenticatedPath,
		UnloggedPath:      cfg.Upload.UnloggedPath,
		RatePerSecond:     cfg.Upload.RatePerSecond,
	})
	uploadTimeout := time.Duration(cfg.Upload.TimeoutSeconds) * time.Second
	if uploadTimeout > 0 {
		backend.SetTimeout(uploadTimeout)
	}
	uploader := upload.NewUploader(backend, upload.Options{
		Timeout: uploadTimeout,
		Logger:  log,
	})

	var hooks []ingest.PostCommitHook
	if cfg.Dialog.Enabled {
		hooks = append(hooks, dialog.Hook{Sink: dialog.NewRedisSink(rdb, cfg.Dialog.Channel, log)})
	}

	manager := ingest.NewManager(ingest.ManagerOptions{
		Template: ingest.Options{
			Limits:         ingest.LimitsFromConfig(cfg.Limits),
			ExtendedImages: cfg.Limits.ExtendedImages,
			Extractor:      extract.NewExtractor(extract.NewEngines(), log),
			Uploader:       uploader,
			Scheduler:      dispatcher,
			Hooks:          hooks,
			Logger:         log,
		},
		MediaAccepted: cfg.MediaAcceptedByDefault(),
		Store:         store,
		Logger:        log,
	})

	router := gin.Default()
	api.NewHandler(manager, auth.NewService(), log).RegisterRoutes(router)
	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "drafts", cfg.Drafts.Backend, "dialog", cfg.Dialog.Enabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := manager.Close(shutdownCtx); err != nil {
		log.Warn("flush drafts", "err", err)
	}
	log.Info("stopped")
	return nil
}

// openDraftStore returns the configured store and, for SQL backends, the
// database handle the caller must close.
func openDraftStore(cfg *config.Config, rdb *redis.Client) (ingest.DraftStore, *sql.DB, error) {
	ttl := time.Duration(cfg.Drafts.TTLMinutes) * time.Minute
	switch cfg.Drafts.Backend {
	case "redis":
		return drafts.NewRedis(rdb, ttl), nil, nil
	case "sqlite3", "mysql":
		db, err := storage.Open(cfg.Drafts.Backend, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := storage.Migrate(db, cfg.Drafts.Backend); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		return drafts.NewSQL(db), db, nil
	default:
		return drafts.NewMemory(), nil, nil
	}
}
