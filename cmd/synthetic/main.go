package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokensweep/tokensweep/internal/config"
	"github.com/tokensweep/tokensweep/internal/logging"
	"github.com/tokensweep/tokensweep/internal/synthetic"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	server := synthetic.New(synthetic.Defaults{
		Frames:        cfg.Synthetic.Frames,
		DelayMs:       cfg.Synthetic.DelayMs,
		BytesPerFrame: cfg.Synthetic.BytesPerFrame,
		CPUSpinMs:     cfg.Synthetic.CPUSpinMs,
		Fanout:        cfg.Synthetic.Fanout,
		FanoutDelayMs: cfg.Synthetic.FanoutDelayMs,
		Gzip:          cfg.Synthetic.Gzip,
	},
		synthetic.WithLogger(logger),
		synthetic.WithHost(cfg.Synthetic.Host),
		synthetic.WithPort(cfg.Synthetic.Port),
		synthetic.WithFanoutHTTP(cfg.Synthetic.FanoutHTTP),
	)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
