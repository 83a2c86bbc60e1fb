package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	utils "s3pipe/internal"
	"s3pipe/internal/api"
	"s3pipe/internal/auth"
	"s3pipe/internal/config"
	"s3pipe/internal/metrics"
	"s3pipe/internal/response"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger := log.NewLogger()
	logger.EnableDebugLog(cfg.Debug)

	if err := cfg.Validate(); err != nil {
		utils.Shutdown(logger, fmt.Sprintf("Invalid configuration: %v", err))
	}
	streamConfig, err := config.LoadStreamConfig(cfg.StreamConfigPath)
	if err != nil {
		utils.Shutdown(logger, fmt.Sprintf("Failed to load stream config: %v", err))
	}

	store, err := api.NewStore(ctx, cfg)
	if err != nil {
		utils.Shutdown(logger, fmt.Sprintf("Failed to create %s client: %v", cfg.StorageBackend, err))
	}

	recorder := metrics.NewRecorder()
	objectAPI := api.NewObjectAPI(store, cfg.S3Bucket, streamConfig, logger, recorder.Observe)

	mux := http.NewServeMux()

	// APIs
	objectAPI.Register(mux, auth.APIKeyMiddleware(&auth.Config{APIKey: cfg.APIKey}))
	mux.Handle("GET /metrics", recorder.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		response.Plain("OK").Write(w)
	})

	// No WriteTimeout: uploads stream for as long as the client sends.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           recorder.Instrument(mux),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s with %s backend, part size %s 🚀", cfg.Port, cfg.StorageBackend, streamConfig.PartSize)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.GracefulExit(logger, fmt.Sprintf("Server failed to start: %v", err))
		}
	}()

	signal.Notify(utils.QuitChan, syscall.SIGINT, syscall.SIGTERM)
	<-utils.QuitChan

	logger.Infof("Shutting down server... 🛑")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Shutdown(logger, fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	logger.Donef("Server exited")
}
