package saga

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// WriteJSON writes rep as indented JSON.
func WriteJSON(w io.Writer, rep *mirror.ProvisioningReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteJSONFile writes rep to path, creating parent directories.
func WriteJSONFile(path string, rep *mirror.ProvisioningReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := WriteJSON(f, rep); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// DefaultReportPath is <dir>/provisioning_<site_id>_<unix>.json.
func DefaultReportPath(dir string, rep *mirror.ProvisioningReport) string {
	return filepath.Join(dir, fmt.Sprintf("provisioning_%s_%d.json", rep.SiteID, rep.StartedAt.Unix()))
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	stepStyle  = lipgloss.NewStyle().Width(22)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	statusStyles = map[mirror.StepStatus]lipgloss.Style{
		mirror.StepSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		mirror.StepWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		mirror.StepError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// RenderText renders rep for a terminal.
func RenderText(rep *mirror.ProvisioningReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Provisioning %s (%s)", rep.Domain, rep.SiteID)))
	b.WriteString("\n\n")

	for _, s := range rep.Steps {
		b.WriteString(stepStyle.Render(s.Step))
		b.WriteString(statusStyles[s.Status].Width(9).Render(string(s.Status)))
		b.WriteString(dimStyle.Render(fmt.Sprintf("%8s  ", s.Duration.Round(time.Millisecond))))
		b.WriteString(s.Detail)
		b.WriteString("\n")
	}

	if len(rep.Verification) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Verification"))
		b.WriteString("\n")
		keys := make([]string, 0, len(rep.Verification))
		for k := range rep.Verification {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			mark := passStyle.Render("ok")
			if !rep.Verification[k] {
				mark = failStyle.Render("FAIL")
			}
			fmt.Fprintf(&b, "  %s %s\n", stepStyle.Render(k), mark)
		}
	}

	b.WriteString("\n")
	verdict := passStyle.Render("SUCCESS")
	if !rep.Success {
		verdict = failStyle.Render("FAILURE")
	}
	fmt.Fprintf(&b, "%s  %.0f%% of steps succeeded (threshold %.0f%%)", verdict, rep.SuccessRatio*100, rep.SuccessThreshold*100)
	if rep.Aborted {
		b.WriteString(failStyle.Render("  aborted"))
	}
	b.WriteString("\n")
	return b.String()
}
