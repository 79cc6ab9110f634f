package kpi

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// Report is the full outcome of a KPI run.
type Report struct {
	Snapshot        *mirror.KPISnapshot `json:"snapshot"`
	Results         []QuestionResult    `json:"results"`
	Recommendations []Recommendation    `json:"recommendations"`
	Duration        time.Duration       `json:"duration"`
}

// Passed reports whether the run reached at least the "good" bucket.
func (r *Report) Passed() bool {
	return r.Snapshot.Status == mirror.KPIExcellent || r.Snapshot.Status == mirror.KPIGood
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	statusStyles = map[mirror.KPIStatus]lipgloss.Style{
		mirror.KPIExcellent:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		mirror.KPIGood:             lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118")),
		mirror.KPINeedsImprovement: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		mirror.KPIPoor:             lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// RenderText renders a human-readable report.
func (r *Report) RenderText() string {
	s := r.Snapshot
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("KPI report: %s (golden set %s)", s.SiteID, s.GoldenSetVersion)))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("Status", statusStyles[s.Status].Render(fmt.Sprintf("%s (%.3f)", s.Status, s.OverallScore)))
	row("Questions", fmt.Sprintf("%d (%d failed)", s.TotalQuestions, s.FailedQuestions))
	row("Latency avg", s.LatencyAvg.Round(time.Millisecond).String())
	row("Latency p95/p99", fmt.Sprintf("%s / %s", s.LatencyP95.Round(time.Millisecond), s.LatencyP99.Round(time.Millisecond)))
	row("Groundedness", fmt.Sprintf("%.3f", s.Groundedness))
	row("Helpfulness", fmt.Sprintf("%.3f", s.Helpfulness))
	row("Accuracy", fmt.Sprintf("%.3f", s.Accuracy))
	row("Decision match", fmt.Sprintf("%.3f", s.DecisionMatch))
	row("Coverage", fmt.Sprintf("faq %.0f%%  pages %.0f%%  fallback %.0f%%",
		s.FAQCoverage*100, s.PagesCoverage*100, s.FallbackRate*100))
	row("Confidence", fmt.Sprintf("%.3f ± %.3f", s.ConfidenceAvg, s.ConfidenceStdDev))

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("Questions"))
	b.WriteString("\n")
	for _, q := range r.Results {
		decision := string(q.Decision)
		if q.Failed {
			decision = failStyle.Render("FAILED")
		}
		fmt.Fprintf(&b, "  %-20s %-7s expected %-8s got %-14s %s\n",
			q.ID, q.Difficulty, q.Expected, decision,
			dimStyle.Render(q.Latency.Round(time.Millisecond).String()))
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Recommendations"))
		b.WriteString("\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", rec.Severity, rec.Issue, rec.Message)
		}
	}
	return b.String()
}
