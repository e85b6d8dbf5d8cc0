package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"messenger/config"
	"messenger/db"
	"messenger/metrics"
	"messenger/server"
	"messenger/session"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.Load()

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		slog.Error("failed to open log file", "path", cfg.LogFile, "err", err)
		os.Exit(1)
	}
	defer closeLog()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer database.Close()

	registry := session.New()
	metrics.RegisterOnlineUsers(registry.Len)

	srv := server.New(database, registry, &server.Config{
		Addr:         cfg.Addr,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}, logger)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutting down", "signal", sig.String())
		srv.Close()
	}()

	if err := srv.Start(); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger the rest of the server receives
// explicitly: a text handler writing timestamped lines to stdout or, when
// configured, to the log file the status viewer tails.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	sink := os.Stdout
	closeLog := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, err
		}
		sink = f
		closeLog = func() { f.Close() }
	}

	handler := slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeLog, nil
}
