package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/logging"
	"github.com/irfndi/tradepilot/internal/observability"
	"github.com/irfndi/tradepilot/internal/scheduler"
	"go.uber.org/zap"
)

const serviceName = "tradepilot"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// main dispatches CLI subcommands and otherwise runs the server.
func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "seed":
			err = runSeeder()
		case "ai":
			err = runAICLI(os.Args[2:])
		case "token":
			err = runIssueToken(os.Args[2:])
		default:
			err = fmt.Errorf("unknown command: %s", os.Args[1])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// run starts every component and blocks until SIGINT or SIGTERM.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) must be set")
	}

	if err := observability.InitSentry(cfg.Sentry, version, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sentry: %v\n", err)
	}
	defer observability.Flush(context.Background())

	log := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	defer log.Sync()
	logger := log.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if n, err := seedCatalog(ctx, a.repo, cfg.AI.ProfilesPath); err != nil {
		return err
	} else if n > 0 {
		logger.Info("Catalog seeded", zap.String("path", cfg.AI.ProfilesPath), zap.Int("records", n))
	}

	if err := a.pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	sched := scheduler.New(ctx, log.WithComponent("scheduler"))
	if cfg.Scheduler.Enabled {
		if err := scheduler.RegisterPipeline(sched, cfg.Scheduler, a.scanner, a.opportunities); err != nil {
			return err
		}
		sched.Start()
	} else {
		logger.Info("Scheduler disabled; opportunities are analysed on request only")
	}

	handler, err := a.router(version)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.LogStartup(serviceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.LogShutdown(serviceName, sig.String())
	case err := <-serveErr:
		logger.Error("HTTP server failed", zap.Error(err))
		return err
	}

	// Stop scheduled work before draining requests so no new job starts
	// against a closing database.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer shutdownCancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited gracefully")
	return nil
}
