package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/mirroragent/internal/http"
	"github.com/fyrsmithlabs/mirroragent/internal/registry"
)

var apiClient = &http.Client{Timeout: 30 * time.Second}

func newAskCmd(a *app) *cobra.Command {
	var (
		site   string
		origin string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a running mirrord a question for a site",
		Long: `Send a question through the site's security gate and router on a
running mirrord and print the routing decision.

Examples:
  mirrorctl ask --site acme_ro "What are your opening hours?"
  mirrorctl ask --site acme_ro --origin acme.ro --json "How much does shipping cost?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(httpapi.AskRequest{Question: args[0], Origin: origin})
			if err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
			endpoint := fmt.Sprintf("%s/api/v1/sites/%s/ask", a.serverURL, url.PathEscape(site))
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := apiClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", a.serverURL, err)
			}
			defer resp.Body.Close()
			if err := checkStatus(resp); err != nil {
				return err
			}

			var answer registry.Answer
			if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(answer)
			}
			if answer.RoutingDecision == nil {
				return fmt.Errorf("server returned no routing decision")
			}
			fmt.Fprintf(a.out, "Decision:   %s (confidence %.2f)\n", answer.Decision, answer.Confidence)
			if answer.Answer != "" {
				fmt.Fprintf(a.out, "Answer:     %s\n", answer.Answer)
			}
			for _, src := range answer.Sources {
				fmt.Fprintf(a.out, "Source:     %s %.2f\n", firstNonEmpty(src.URL, src.ID), src.Score)
			}
			if answer.Redactions > 0 {
				fmt.Fprintf(a.out, "Redactions: %d\n", answer.Redactions)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site id, e.g. acme_ro (required)")
	cmd.Flags().StringVar(&origin, "origin", "", "host the question comes from")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check mirrord health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint := a.serverURL + "/health"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
			}
			defer resp.Body.Close()
			if err := checkStatus(resp); err != nil {
				return err
			}

			var health httpapi.HealthResponse
			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			fmt.Fprintf(a.out, "Server Status: %s\n", health.Status)
			fmt.Fprintf(a.out, "Server URL: %s\n", a.serverURL)
			return nil
		},
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
