package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/tts-gateway/internal/api"
	"github.com/lexiqai/tts-gateway/internal/config"
	"github.com/lexiqai/tts-gateway/internal/observability"
	"github.com/lexiqai/tts-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	observability.Version = config.GetEnv("SERVICE_VERSION", observability.Version)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("edge_endpoint", cfg.EdgeEndpoint).
		Str("male_voice", cfg.MaleVoice).
		Str("female_voice", cfg.FemaleVoice).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("TTS Gateway starting")

	edge := tts.NewEdgeClient(cfg, logger)
	synth := tts.NewSynthesizer(cfg, edge)

	mux := api.NewMux(cfg, api.Routes{
		Synthesizer: synth,
		Checks: map[string]observability.HealthCheckFunc{
			"edge_tts":        edge.CheckConfig,
			"circuit_breaker": synth.Ready,
		},
	})
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// The whole synthesis is buffered before the response is written
	synthesisTimeout := time.Duration(cfg.SynthesisTimeout) * time.Second
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: synthesisTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/tts", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// In-flight syntheses get their full deadline to finish
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout+5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
