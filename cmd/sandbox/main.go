package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/provisioner/internal/config"
	"github.com/JonMunkholm/provisioner/internal/logging"
	"github.com/JonMunkholm/provisioner/internal/sandbox"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadSandbox()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	faults, err := cfg.Sandbox.ParseFaults()
	if err != nil {
		slog.Error("invalid sandbox faults", "error", err)
		os.Exit(1)
	}

	dir := sandbox.NewDirectory()
	for key, status := range faults {
		dir.Fail(key, status)
		slog.Info("fault injected", "key", key, "status", status)
	}

	server := sandbox.NewServer(dir, cfg.Sandbox.Token)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sandbox.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		calls := dir.Calls()
		slog.Info("sandbox totals",
			"locations", len(dir.Locations()),
			"people", len(dir.People()),
			"workspaces", len(dir.Workspaces()),
			"requests", calls,
		)
	}()

	if err := server.Start(cfg.Sandbox.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("sandbox stopped", "error", err)
		os.Exit(1)
	}
	<-done
}
