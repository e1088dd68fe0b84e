// Package main provides the entry point for the slack-video-frames bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/slack-video-frames/internal/bootstrap"
	"github.com/maauso/slack-video-frames/internal/config"
	"github.com/maauso/slack-video-frames/internal/server"
)

const (
	shutdownTimeout = 30 * time.Second
	shutdownGrace   = 20 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting slack-video-frames",
		slog.Int("port", cfg.Port),
		slog.String("event_mode", cfg.SlackEventMode),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.Int("frame_interval", cfg.FrameInterval),
		slog.Int("max_frames", cfg.MaxFrames),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("dedup_enabled", cfg.DedupEnabled()),
	)

	// Initialize dependencies using bootstrap
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	deps, err := bootstrap.NewDependencies(initCtx, cfg, logger)
	initCancel()
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	// Initialize HTTP handlers and router
	routerCfg := server.DefaultConfig()
	routerCfg.Events = deps.Events
	router := server.NewRouter(server.NewHandlers(cfg.ServiceName, logger), logger, routerCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 3)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsPort > 0 {
		metricsSrv = &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:     server.NewMetricsRouter(logger),
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening",
				slog.String("addr", metricsSrv.Addr),
			)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	listenCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	if deps.Listener != nil {
		go func() {
			if err := deps.Listener.Run(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("socket listener failed: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down...")
	stopListener()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}

	// In-flight events get a grace period, then are cancelled and given the
	// rest of the shutdown window to post their failure status and clean up.
	if err := deps.Service.Shutdown(ctx, shutdownGrace); err != nil {
		logger.Warn("in-flight events did not finish before shutdown",
			slog.String("error", err.Error()),
		)
	}

	logger.Info("bot stopped gracefully")
	return nil
}
