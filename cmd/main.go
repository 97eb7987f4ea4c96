package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"dialogflow-intent-stream/internal/app"
	"dialogflow-intent-stream/internal/config"
	apihttp "dialogflow-intent-stream/internal/http"
	"dialogflow-intent-stream/internal/observability"
	"dialogflow-intent-stream/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, metrics.DefaultMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Metrics and health on a separate port
	obsServer := observability.NewServer(":" + cfg.Service.MetricsPort)
	obsServer.Start()

	server := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           apihttp.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Dialogflow intent stream service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Stream.MaxDuration+5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	application.Shutdown()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown error")
	}
}
