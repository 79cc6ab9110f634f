// Mirrord serves mirror agents over HTTP.
//
// The daemon loads configuration, wires every backend, serves the agent
// API and runs the curator scheduler. With temporal.enabled it also runs a
// provisioning worker so mirrorctl provision --temporal can hand runs to
// it. Router thresholds are reloaded when the config file changes.
//
// Usage:
//
//	# Start with defaults (memory store, chromem, fastembed)
//	mirrord
//
//	# Use a config file; MIRROR_* variables override it
//	MIRROR_SERVER_HTTP_PORT=9191 mirrord -config /etc/mirroragent/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/config"
	httpapi "github.com/fyrsmithlabs/mirroragent/internal/http"
	"github.com/fyrsmithlabs/mirroragent/internal/logging"
	"github.com/fyrsmithlabs/mirroragent/internal/services"
	"github.com/fyrsmithlabs/mirroragent/internal/telemetry"
	"github.com/fyrsmithlabs/mirroragent/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("MIRROR_CONFIG"), "path to the YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  mirrord [-config path]   Start the mirror agent daemon\n")
			fmt.Fprintf(os.Stderr, "  mirrord version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("mirrord by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// This function:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Wires services from config
//  4. Starts the config watcher, curator scheduler and optional Temporal worker
//  5. Serves HTTP until shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = tel.Shutdown(sctx)
	}()

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Underlying()

	logger.Info(ctx, "starting mirrord",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()),
	)

	svc, err := services.New(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn(ctx, "error closing services", zap.Error(err))
		}
	}()

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, svc.ApplyConfig, zl)
		if err != nil {
			logger.Warn(ctx, "config hot reload disabled", zap.Error(err))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.Warn(ctx, "config watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	if s := svc.Scheduler(); s != nil {
		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start curator scheduler: %w", err)
		}
	}

	if cfg.Temporal.Enabled {
		stop, err := startWorker(cfg.Temporal, svc, zl)
		if err != nil {
			return err
		}
		defer stop()
	}

	srv, err := httpapi.NewServer(svc.Agents(), svc.Gate(), svc.KPI(), zl, &httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CuratorLookback: time.Duration(cfg.Curator.LookbackHours) * time.Hour,
		GoldenSet:       svc.GoldenSet(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(ctx, "mirrord stopped gracefully")
	return nil
}

// startWorker connects to Temporal and runs the provisioning worker in
// the background. The returned func stops the worker and closes the client.
func startWorker(tc config.TemporalConfig, svc *services.Services, logger *zap.Logger) (func(), error) {
	c, err := client.Dial(client.Options{
		HostPort:  tc.HostPort,
		Namespace: tc.Namespace,
		Logger:    workflows.NewZapAdapter(logger.Named("temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}

	acts, err := workflows.NewActivities(svc.Saga())
	if err != nil {
		c.Close()
		return nil, err
	}
	w := worker.New(c, tc.TaskQueue, worker.Options{})
	workflows.Register(w, acts)
	if err := w.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start temporal worker: %w", err)
	}
	logger.Info("temporal worker started",
		zap.String("host", tc.HostPort),
		zap.String("task_queue", tc.TaskQueue),
	)
	return func() {
		w.Stop()
		c.Close()
	}, nil
}
