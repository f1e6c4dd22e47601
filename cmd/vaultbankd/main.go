package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vaultbank/vaultbank/internal/api"
	"github.com/vaultbank/vaultbank/internal/auth"
	"github.com/vaultbank/vaultbank/internal/bank"
	"github.com/vaultbank/vaultbank/internal/config"
	"github.com/vaultbank/vaultbank/internal/metrics"
	"github.com/vaultbank/vaultbank/internal/pipeline"
	"github.com/vaultbank/vaultbank/internal/ratelimit"
	"github.com/vaultbank/vaultbank/internal/server"
	"github.com/vaultbank/vaultbank/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional; env vars apply either way)")
	flag.Parse()

	slog.Info("vaultbankd starting...")

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	key, err := cfg.SharedKeyBytes()
	if err != nil {
		slog.Error("failed to load shared key", "err", err)
		os.Exit(1)
	}
	slog.Info("shared key loaded")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.Database.Path, "err", err)
		os.Exit(1)
	}
	slog.Info("database ready", "path", cfg.Database.Path)

	m := metrics.New()
	limiter := ratelimit.New(cfg.Limits.RateLimitSettings())

	authSvc, err := auth.NewService(st, limiter)
	if err != nil {
		slog.Error("failed to initialize auth", "err", err)
		os.Exit(1)
	}
	authSvc.SetOnLockout(func(string) { m.Lockout() })

	bankSvc := bank.NewService(st)
	pipe := pipeline.New(key, st, cfg.Security.NonceTTL)

	// Periodic removal of expired nonce rows.
	st.StartSweeper(cfg.Security.SweepInterval, m.NoncesSwept)

	srv := server.New(pipe, authSvc, bankSvc, m, cfg.Listen.ReadTimeout, cfg.Listen.WriteTimeout)
	if err := srv.Listen(cfg.Listen.Host, cfg.Listen.Port); err != nil {
		slog.Error("failed to start banking server", "err", err)
		os.Exit(1)
	}

	apiServer := api.NewServer(st, bankSvc, m, cfg.Listen)
	if err := apiServer.Start(cfg.Listen.APIPort); err != nil {
		slog.Error("failed to start admin API", "err", err)
		os.Exit(1)
	}

	// Hot-reload of the rate-limit block only.
	var configWatcher *config.Watcher
	if *configPath != "" {
		configWatcher, err = config.NewWatcher(*configPath, func(newCfg *config.Config) {
			limiter.UpdateSettings(newCfg.Limits.RateLimitSettings())
			slog.Info("rate-limit settings reloaded",
				"max_attempts", newCfg.Limits.MaxAttempts,
				"window", newCfg.Limits.Window,
				"lockout", newCfg.Limits.Lockout)
		})
		if err != nil {
			slog.Warn("config hot-reload not available", "err", err)
		}
	}

	slog.Info("vaultbankd ready",
		"addr", srv.Addr().String(),
		"api_port", cfg.Listen.APIPort)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down...", "signal", sig)

	// Graceful shutdown with timeout: stop accepting, let in-flight
	// workers finish, then release the store.
	done := make(chan struct{})
	go func() {
		if configWatcher != nil {
			configWatcher.Stop()
		}
		apiServer.Stop()
		srv.Stop()
		st.Close()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("vaultbankd stopped")
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
		os.Exit(1)
	}
}
