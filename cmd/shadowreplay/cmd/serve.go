package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Xinrea/shadowreplay/internal/clip"
	"github.com/Xinrea/shadowreplay/internal/database"
	internalhttp "github.com/Xinrea/shadowreplay/internal/http"
	"github.com/Xinrea/shadowreplay/internal/observability"
	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/internal/recorder"
	"github.com/Xinrea/shadowreplay/internal/repository"
	"github.com/Xinrea/shadowreplay/internal/service/progress"
	"github.com/Xinrea/shadowreplay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shadowreplay recorder and API server",
	Long: `Start the recorder fleet and the HTTP API.

The server provides:
- REST API for managing recorded rooms, archives and clips
- Server-sent progress events at /api/events
- Health check endpoint at /healthz`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 8686, "Port to listen on")
	serveCmd.Flags().String("database", "shadowreplay.db", "Database file path")
	serveCmd.Flags().String("cache", "./cache", "Session cache directory")
	serveCmd.Flags().String("output", "./output", "Clip output directory")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("recording.cache_path", serveCmd.Flags().Lookup("cache"))
	mustBindPFlag("recording.output_path", serveCmd.Flags().Lookup("output"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
	logger.Info("starting shadowreplay",
		slog.String("version", version.Short()),
		slog.String("cache", cfg.Recording.CachePath),
	)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	recRepo := repository.NewRecorderRepository(db.DB)
	archiveRepo := repository.NewArchiveRepository(db.DB)
	videoRepo := repository.NewVideoRepository(db.DB)

	events := progress.NewService(logger)

	assembler := clip.New(clip.Options{
		CachePath:  cfg.Recording.CachePath,
		OutputPath: cfg.Recording.OutputPath,
		FFmpegPath: cfg.FFmpeg.BinaryPath,
		NameFormat: cfg.Recording.ClipNameFormat,
		Archives:   archiveRepo,
		Videos:     videoRepo,
		Events:     events,
		Logger:     logger,
	})

	manager := recorder.NewManager(
		cfg.Recording,
		platform.Options{Logger: logger},
		recRepo,
		archiveRepo,
		videoRepo,
		events,
		assembler,
		logger,
	)

	server := internalhttp.NewServer(cfg.Server, manager, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", slog.String("error", err.Error()))
		}

		manager.Stop()
		return nil
	})

	return g.Wait()
}
