// Package main implements mirrorctl, the operator CLI for mirror agents.
//
// Provisioning, KPI runs and curator cycles run in-process against the
// configured backends; ask and health talk to a running mirrord.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/config"
	"github.com/fyrsmithlabs/mirroragent/internal/logging"
	"github.com/fyrsmithlabs/mirroragent/internal/services"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd(&app{out: os.Stdout}).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries global flags and test seams shared by subcommands.
type app struct {
	configPath string
	serverURL  string
	verbose    bool
	out        io.Writer

	// svcOpts are passed to services.New.
	svcOpts []services.Option
	// shared, when set, is used instead of building services per command
	// and is left open afterwards.
	shared *services.Services
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "mirrorctl",
		Short: "Operate per-site mirror agents",
		Long: `mirrorctl provisions mirror agents, runs KPI golden sets and curator
cycles, and queries a running mirrord.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("MIRROR_CONFIG"), "path to the YAML config file")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "http://localhost:9190", "mirrord server URL")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newProvisionCmd(a),
		newKPICmd(a),
		newCurateCmd(a),
		newAskCmd(a),
		newHealthCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load reads config and builds a console logger. The CLI logs warnings
// and above unless --verbose is set.
func (a *app) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	lc := cfg.Logging
	lc.Format = "console"
	lc.OTEL = false
	lc.Level = "warn"
	if a.verbose {
		lc.Level = "debug"
	}
	logCfg, err := logging.FromAppConfig(lc)
	if err != nil {
		return nil, nil, err
	}
	logCfg.Output.Stdout = true
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.Underlying(), nil
}

// services builds the object graph for one command. The returned release
// func closes it.
func (a *app) services(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*services.Services, func(), error) {
	if a.shared != nil {
		return a.shared, func() {}, nil
	}
	svc, err := services.New(ctx, cfg, logger, a.svcOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return svc, func() { _ = svc.Close() }, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.out, "mirrorctl by Fyrsmith Labs\n")
			fmt.Fprintf(a.out, "Version:    %s\n", version)
			fmt.Fprintf(a.out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(a.out, "Build Date: %s\n", buildDate)
		},
	}
}
