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

	"github.com/JonMunkholm/doorgraph/internal/config"
	"github.com/JonMunkholm/doorgraph/internal/core"
	"github.com/JonMunkholm/doorgraph/internal/logging"
	"github.com/JonMunkholm/doorgraph/internal/metrics"
	"github.com/JonMunkholm/doorgraph/internal/store"
	_ "github.com/JonMunkholm/doorgraph/internal/store/memory"
	_ "github.com/JonMunkholm/doorgraph/internal/store/postgres"
	_ "github.com/JonMunkholm/doorgraph/internal/store/sqlite"
	"github.com/JonMunkholm/doorgraph/internal/web"
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
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"run_max_concurrent", cfg.Upload.MaxConcurrent,
		"num_floors", cfg.Processing.NumFloors,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store.Driver, store.Options{
		SQLitePath:      cfg.Store.SQLitePath,
		URL:             cfg.Store.URL,
		MaxConns:        cfg.Store.MaxConns,
		MinConns:        cfg.Store.MinConns,
		MaxConnLifetime: cfg.Store.MaxConnLifetime,
		MaxConnIdleTime: cfg.Store.MaxConnIdleTime,
	})
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		slog.Error("failed to ping store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	slog.Info("store opened", "driver", cfg.Store.Driver)

	m := metrics.New()
	service := core.NewService(st, cfg, core.WithObserver(m))
	m.RegisterRunLimiter(service.Limiter().Status)

	server := web.NewServer(service, cfg, m)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSnapshotPruner(jobCtx, core.PruneConfig{
		Keep:     cfg.Store.SnapshotRetention,
		Interval: cfg.Store.PruneInterval,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := service.Limiter().ActiveCount(); active > 0 {
			slog.Info("waiting for runs to complete", "active", active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("runs did not complete in time", "error", err)
			} else {
				slog.Info("all runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		return
	}
	<-done
	slog.Info("server stopped")
}
