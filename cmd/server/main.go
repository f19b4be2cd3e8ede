package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23331a4722/voice-ed-exams/internal/config"
	"github.com/23331a4722/voice-ed-exams/internal/exam"
	"github.com/23331a4722/voice-ed-exams/internal/gateway"
	"github.com/23331a4722/voice-ed-exams/internal/observability"
	"github.com/23331a4722/voice-ed-exams/internal/stt"
	"github.com/23331a4722/voice-ed-exams/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before the logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("session_api_url", cfg.SessionAPIURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Exam Voice Gateway starting")

	provider, err := buildExamProvider(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build exam provider")
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/streams/exam", gateway.HandleExamWS(cfg, provider))

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"deepgram": func(ctx context.Context) (bool, error) {
			// Validates configuration only; no billable call is made.
			if client := stt.NewDeepgramClient(cfg); client == nil {
				return false, fmt.Errorf("failed to create Deepgram client")
			}
			return true, nil
		},
		"speech_synthesis": func(ctx context.Context) (bool, error) {
			if client := tts.NewCartesiaClient(cfg); client == nil {
				return false, fmt.Errorf("failed to create synthesis client")
			}
			return true, nil
		},
		"exam_provider": func(ctx context.Context) (bool, error) {
			if provider == nil {
				return false, fmt.Errorf("exam provider not configured")
			}
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/exam", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// buildExamProvider chooses between the YAML fixture provider and the REST
// provider. A configured exam file wins, which keeps local development and
// tests independent of the exam service.
func buildExamProvider(cfg *config.Config) (exam.Provider, error) {
	if cfg.ExamFile != "" {
		return exam.NewFileProvider(cfg.ExamFile)
	}
	return exam.NewHTTPProvider(cfg), nil
}
