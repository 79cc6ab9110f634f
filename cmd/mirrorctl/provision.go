package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/saga"
	"github.com/fyrsmithlabs/mirroragent/internal/workflows"
)

var errProvisioningFailed = errors.New("provisioning did not reach the success threshold")

type provisionOptions struct {
	domain     string
	ingestURLs []string
	report     string
	threshold  float64
	strict     bool
	temporal   bool
	json       bool
}

func newProvisionCmd(a *app) *cobra.Command {
	var opts provisionOptions
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a mirror agent for a domain",
		Long: `Provision creates the site's stores, manifest, security whitelist and
router, runs the KPI golden set, activates the curator and verifies the
result. The provisioning report is written as JSON and the command exits
non-zero when the success ratio is below the threshold.

Examples:
  # Provision with defaults
  mirrorctl provision --domain acme.ro

  # Load two pages and require every step to succeed
  mirrorctl provision --domain acme.ro \
    --ingest-url https://acme.ro/contact --ingest-url https://acme.ro/prices \
    --success-threshold 1

  # Run durably on a mirrord Temporal worker
  mirrorctl provision --domain acme.ro --temporal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProvision(cmd, a, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.domain, "domain", "", "site domain to provision (required)")
	f.StringArrayVar(&opts.ingestURLs, "ingest-url", nil, "page to load into the Pages store (repeatable)")
	f.StringVar(&opts.report, "report", "", "report path (default <saga.report_dir>/provisioning_<site>_<unix>.json)")
	f.Float64Var(&opts.threshold, "success-threshold", 0, "override saga.success_threshold, within (0,1]")
	f.BoolVar(&opts.strict, "strict", true, "whitelist only the domain and its www variant")
	f.BoolVar(&opts.temporal, "temporal", false, "run as a Temporal workflow on the configured task queue")
	f.BoolVar(&opts.json, "json", false, "print the report as JSON instead of text")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func runProvision(cmd *cobra.Command, a *app, opts provisionOptions) error {
	ctx := cmd.Context()
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cmd.Flags().Changed("success-threshold") {
		if opts.threshold <= 0 || opts.threshold > 1 {
			return mirror.NewValidationError("success-threshold", "must lie within (0,1]")
		}
		cfg.Saga.SuccessThreshold = opts.threshold
	}
	req := saga.Request{Domain: opts.domain, IngestURLs: opts.ingestURLs, Strict: opts.strict}

	var rep *mirror.ProvisioningReport
	if opts.temporal {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    workflows.NewZapAdapter(logger.Named("temporal")),
		})
		if err != nil {
			return fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer c.Close()
		rep, err = workflows.Provision(ctx, c, cfg.Temporal.TaskQueue, workflows.ProvisioningInput{
			Request:          req,
			SuccessThreshold: cfg.Saga.SuccessThreshold,
			StepTimeout:      cfg.Saga.StepTimeout.Duration(),
		})
		if err != nil {
			return err
		}
	} else {
		svc, release, err := a.services(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer release()
		if rep, err = svc.Saga().Provision(ctx, req); err != nil {
			return err
		}
	}

	if opts.json {
		if err := saga.WriteJSON(a.out, rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(a.out, saga.RenderText(rep))
	}

	path := opts.report
	if path == "" {
		path = saga.DefaultReportPath(cfg.Saga.ReportDir, rep)
	}
	if err := saga.WriteJSONFile(path, rep); err != nil {
		logger.Error("failed to write provisioning report", zap.String("path", path), zap.Error(err))
	} else if !opts.json {
		fmt.Fprintf(a.out, "Report written to %s\n", path)
	}

	if !rep.Success {
		return fmt.Errorf("%w: ratio %.2f, threshold %.2f", errProvisioningFailed, rep.SuccessRatio, rep.SuccessThreshold)
	}
	return nil
}
