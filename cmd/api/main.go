package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"clownify/internal/download"
	"clownify/internal/http/handlers"
	httpapi "clownify/internal/http/httpapi"
	"clownify/internal/infra"
	"clownify/internal/pipeline"
	"clownify/internal/render"
	"clownify/internal/storage"
	"clownify/internal/uploader"
	"clownify/internal/ws"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewFileStore(cfg.DownloadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare download directory")
	}

	uploadClient := uploader.NewClient(uploader.Options{
		CoreBaseURL:  cfg.CoreBaseURL,
		AssetBaseURL: cfg.AssetBaseURL,
		ProjectID:    cfg.ProjectID,
		Logger:       &logger,
	})
	renderClient := render.NewClient(render.Options{
		BaseURL:      cfg.RenderBaseURL,
		UserID:       cfg.UserID,
		Preset:       render.DefaultPreset(cfg.EffectID),
		PollInterval: cfg.PollInterval,
		PollBudget:   cfg.PollBudget,
		Logger:       &logger,
	})
	downloads := download.NewPipeline(download.Options{
		Store:      store,
		FilePrefix: cfg.DownloadPrefix,
		Logger:     &logger,
	})

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	ctrl := pipeline.NewController(pipeline.Options{
		Uploader:   uploadClient,
		Renderer:   renderClient,
		Downloader: downloads,
		Notifier:   hub,
		Logger:     &logger,
	})

	app := handlers.NewApp(cfg, logger, ctrl, store)
	router := httpapi.NewRouter(app, hub)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
