// skeind is the skein control-plane daemon: HTTP surface, sync worker, and
// event subscribers in one process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skeinhq/skein/pkg/config"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg := config.Load()

	if name := os.Getenv("PROFILE"); name != "" {
		profile, err := config.LoadProfile(os.Getenv("PROFILES_DIR"), name)
		if err != nil {
			slog.Error("failed to load profile", "profile", name, "error", err)
			os.Exit(1)
		}
		if err := profile.Apply(cfg); err != nil {
			slog.Error("failed to apply profile", "profile", name, "error", err)
			os.Exit(1)
		}
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           container.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", cfg.Port, "store", cfg.StoreBackend, "cache", cfg.CacheBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// Stop accepting events, deliver the backlog, then flush usage so the
	// ledger sees every metered batch.
	container.Bus.Close()
	container.Close(shutdownCtx)
	logger.Info("bye")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
