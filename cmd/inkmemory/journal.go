package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/inkmemory/internal/app"
	"github.com/MrWong99/inkmemory/internal/config"
	"github.com/MrWong99/inkmemory/internal/health"
	"github.com/MrWong99/inkmemory/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func runJournal(cmd *cobra.Command, _ []string) error {
	cfg, levelVar, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("inkmemory starting",
		"config", configPath,
		"mode", cfg.Session.Mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(cmd.Context(), observe.ProviderConfig{
		ServiceVersion: version,
		Mode:           string(cfg.Session.Mode),
		Timezone:       cfg.Session.Timezone,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	provider, err := app.BuildLLM(reg, cfg.Providers, metrics)
	if err != nil {
		return err
	}
	if provider == nil {
		slog.Warn("no LLM configured, voices are disabled")
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, &app.Providers{LLM: provider},
		app.WithMetrics(metrics),
		app.WithLevelVar(levelVar),
	)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		slog.Info("goodbye")
	}()

	if err := application.Start(ctx); err != nil {
		return err
	}

	// ── Operations endpoint ───────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		srv := newOpsServer(cfg.Server.ListenAddr, application.HealthCheckers(), tel)
		ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.ListenAddr, err)
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("ops endpoint listening", "addr", ln.Addr().String())
	}

	// The REPL returns on EOF, :quit, or when ctx is cancelled.
	r := newREPL(application, os.Stdin, os.Stdout)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		r.reload = watcher.Reload
	}

	go func() {
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("day watcher error", "err", err)
		}
	}()

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	stop()
	return nil
}

// newOpsServer serves /healthz, /readyz and /metrics.
func newOpsServer(addr string, checkers []health.Checker, tel *observe.Telemetry) *http.Server {
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", tel.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(tel.Metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
