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

	"github.com/gofrs/flock"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	mediaapp "github.com/albert775f/myteamberlin/internal/application/media"
	"github.com/albert775f/myteamberlin/internal/config"
	"github.com/albert775f/myteamberlin/internal/infrastructure/ffmpeg"
	"github.com/albert775f/myteamberlin/internal/infrastructure/filesystem"
	"github.com/albert775f/myteamberlin/internal/infrastructure/sqlite"
	"github.com/albert775f/myteamberlin/internal/logging"
	httptransport "github.com/albert775f/myteamberlin/internal/transport/http"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and merge workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(os.Stderr)
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(runCtx, cfg, logger)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another teamberlin server is already running for this data directory")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn().Err(err).Msg("failed to release server lock")
		}
	}()

	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	files := filesystem.NewStore(cfg.UploadsDir, cfg.OutputsDir)
	if err := files.EnsureDirs(); err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}

	prober := ffmpeg.NewProber(cfg.FFprobeBinary)
	merger := ffmpeg.NewMerger(cfg.FFmpegBinary, prober)

	assets := mediaapp.NewAssetService(store, store, files, prober, logger, cfg.MaxUploadBytes())
	jobs := mediaapp.NewJobManager(store, store, files, prober, merger, logger, mediaapp.ManagerOptions{
		Workers:   cfg.MergeWorkers,
		QueueSize: cfg.MergeQueueSize,
		Timeout:   cfg.MergeTimeout(),
		MaxInputs: cfg.MergeMaxInputs,
	})
	if err := jobs.Start(ctx); err != nil {
		return err
	}
	defer jobs.Stop()
	if err := jobs.Recover(ctx); err != nil {
		return fmt.Errorf("recover merge jobs: %w", err)
	}

	janitor := mediaapp.NewJanitor(store, files, jobs.ActiveOutputs, cfg.JanitorGrace(), logger)
	if err := janitor.Start(cfg.JanitorSchedule); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	defer janitor.Stop()

	handler := httptransport.NewHandler(assets, jobs, files, logger, cfg.MaxUploadBytes())
	router := httptransport.NewRouter(handler, logger)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Range", "X-Request-ID", httptransport.UserHeader},
		ExposedHeaders: []string{"Content-Range", "Content-Length", "X-Request-ID"},
	})

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("data_dir", cfg.DataDir).Msg("server started")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return nil
}
