package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrowd/coordinator/internal/api"
	"github.com/escrowd/coordinator/internal/api/handlers"
	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/deadline"
	"github.com/escrowd/coordinator/internal/logging"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/pst"
	"github.com/escrowd/coordinator/internal/walletrpc"
	"github.com/escrowd/coordinator/internal/webhook"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting escrowd",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"ordersDB", cfg.OrdersDB,
		"logLevel", cfg.LogLevel,
	)

	store, err := db.New(cfg.OrdersDB)
	if err != nil {
		return fmt.Errorf("failed to open order store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("order store opened and migrated", "path", cfg.OrdersDB)

	wc := walletrpc.New(cfg)
	engine := orders.New(store, cfg)
	wh := webhook.New(cfg, store)
	pipeline := pst.New(wc, store, engine, cfg, wh)
	worker := deadline.New(store, wc, pipeline, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go wh.Run(ctx)
	slog.Info("webhook dispatcher started")

	go worker.Run(ctx)
	slog.Info("deadline worker started", "stuckCheckInterval", cfg.StuckCheckInterval)

	deps := &handlers.Deps{DB: store, WC: wc, Engine: engine, PST: pipeline, Webhook: wh, Cfg: cfg}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
