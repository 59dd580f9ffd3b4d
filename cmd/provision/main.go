package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/provisioner/internal/archive"
	"github.com/JonMunkholm/provisioner/internal/config"
	"github.com/JonMunkholm/provisioner/internal/executor"
	"github.com/JonMunkholm/provisioner/internal/history"
	"github.com/JonMunkholm/provisioner/internal/logging"
	"github.com/JonMunkholm/provisioner/internal/provisioning"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"environment", cfg.Environment,
		"input_dir", cfg.Run.InputDir,
		"output_dir", cfg.Run.OutputDir,
		"batch_size", cfg.Run.BatchSize,
		"max_rows", cfg.Run.MaxRows,
		"history_enabled", cfg.Database.Enabled(),
		"archive_enabled", cfg.Archive.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	// SIGINT/SIGTERM stop the run between rows; the checkpoint and logs
	// stay consistent.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := provisioning.NewClient(provisioning.ClientConfig{
		BaseURL:      cfg.API.BaseURL,
		Token:        cfg.API.Token,
		Timeout:      cfg.API.Timeout,
		MaxRetries:   cfg.API.MaxRetries,
		RetryBackoff: cfg.API.RetryBackoff,
	})
	if err != nil {
		slog.Error("failed to create provisioning client", "error", err)
		os.Exit(1)
	}
	client.WithLogger(slog.Default().With("component", "provisioning"))

	opts := []executor.Option{executor.WithLogger(slog.Default())}

	if cfg.Database.Enabled() {
		pool, err := connectDatabase(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := history.New(pool, cfg.Environment)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare run history", "error", err)
			os.Exit(1)
		}
		if last, err := store.Latest(ctx); err == nil {
			slog.Info("previous run",
				"run_id", last.RunID,
				"status", last.Status,
				"started_at", last.StartedAt,
				"pending", last.Pending,
			)
		}
		opts = append(opts, executor.WithRecorder(store))
	}

	exec := executor.New(executor.Config{
		InputDir:              cfg.Run.InputDir,
		OutputDir:             cfg.Run.OutputDir,
		BatchSize:             cfg.Run.BatchSize,
		MaxRows:               cfg.Run.MaxRows,
		WriteSafeCompensation: cfg.Run.WriteSafeCompensation,
	}, client, opts...)

	summary, runErr := exec.Run(ctx)
	if runErr != nil {
		slog.Error("run failed", "error", runErr)
	}

	// An interrupted run still has logs worth keeping.
	if cfg.Archive.Enabled && summary.RunID != "" {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Archive.Timeout)
		if err := archiveRun(archiveCtx, cfg.Archive, summary.RunID, cfg.Run.OutputDir); err != nil {
			slog.Error("failed to archive run outputs", "error", err)
		}
		cancel()
	}

	if runErr != nil {
		os.Exit(1)
	}
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

func archiveRun(ctx context.Context, cfg config.ArchiveConfig, runID, dir string) error {
	acfg := archive.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Prefix:    cfg.Prefix,
	}
	client, err := archive.NewMinIOClient(acfg)
	if err != nil {
		return err
	}
	_, err = archive.New(client, acfg).
		WithLogger(slog.Default().With("component", "archive")).
		Upload(ctx, runID, dir)
	return err
}
