package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/shopledger/internal/api"
	"github.com/andresuchdata/shopledger/internal/app"
	"github.com/andresuchdata/shopledger/internal/config"
	"github.com/andresuchdata/shopledger/pkg/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	logger.SetLevel(cfg.Server.LogLevel)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialise application")
	}
	defer application.Close()

	stopWatch, err := application.Analytics.Watch(ctx)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Store change feed unavailable, analytics cache relies on TTL")
	} else {
		defer stopWatch()
	}

	router := api.NewRouter(&api.Services{
		Catalog:   application.Catalog,
		Analytics: application.Analytics,
		Migration: application.Migration,
		Drive:     application.Drive,
	}, cfg.Server.AllowedOrigins)

	// WriteTimeout 0 keeps event streams open.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
