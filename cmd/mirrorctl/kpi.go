package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newKPICmd(a *app) *cobra.Command {
	var (
		site   string
		golden string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "kpi",
		Short: "Run the KPI golden set against a provisioned site",
		Long: `Run every golden question through the site's router, score the answers
and store a KPI snapshot.

Examples:
  mirrorctl kpi --site acme_ro
  mirrorctl kpi --site acme_ro --golden ./golden.toml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if golden != "" {
				cfg.KPI.GoldenSetPath = golden
			}
			svc, release, err := a.services(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			agent, err := svc.Agents().GetOrCreate(ctx, site)
			if err != nil {
				return err
			}
			report, err := svc.KPI().Run(ctx, site, agent.Router, svc.GoldenSet())
			if err != nil {
				return err
			}
			if asJSON {
				return report.WriteJSON(a.out)
			}
			fmt.Fprintln(a.out, report.RenderText())
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site id, e.g. acme_ro (required)")
	cmd.Flags().StringVar(&golden, "golden", "", "golden set TOML file (default: kpi.golden_set_path or the embedded set)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func newCurateCmd(a *app) *cobra.Command {
	var (
		site     string
		lookback time.Duration
	)
	cmd := &cobra.Command{
		Use:   "curate",
		Short: "Run one curator cycle for a site",
		Long: `Consider recent confident interactions and promote recurring,
well-judged answers into the site's FAQ store.

Examples:
  mirrorctl curate --site acme_ro
  mirrorctl curate --site acme_ro --lookback 72h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if lookback <= 0 {
				lookback = time.Duration(cfg.Curator.LookbackHours) * time.Hour
			}
			svc, release, err := a.services(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			agent, err := svc.Agents().GetOrCreate(ctx, site)
			if err != nil {
				return err
			}
			res, err := agent.Curator.RunCycle(ctx, lookback)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site id, e.g. acme_ro (required)")
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "interaction window (default curator.lookback_hours)")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}
