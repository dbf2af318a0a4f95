// Package render formats run summaries for the terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/breeze-rmm/toolguard/internal/backup"
	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/remediate"
)

var (
	accent  = lipgloss.Color("12")
	good    = lipgloss.Color("10")
	warning = lipgloss.Color("11")
	bad     = lipgloss.Color("9")
	dim     = lipgloss.Color("8")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	sectionStyle = lipgloss.NewStyle().Bold(true)
	goodStyle    = lipgloss.NewStyle().Foreground(good)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	badStyle     = lipgloss.NewStyle().Foreground(bad)
	dimStyle     = lipgloss.NewStyle().Foreground(dim)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dim).
			Padding(0, 1)
)

var confidenceStyle = map[detect.Confidence]lipgloss.Style{
	detect.ConfidenceNone:   goodStyle,
	detect.ConfidenceLow:    warnStyle,
	detect.ConfidenceMedium: warnStyle.Bold(true),
	detect.ConfidenceHigh:   badStyle.Bold(true),
}

// Detection renders the verdict box followed by core detections, and with
// verbose the supplementary findings and probe failures.
func Detection(r *detect.Report, verbose bool) string {
	var b strings.Builder

	verdict := goodStyle.Bold(true).Render("NOT DETECTED")
	if r.Verdict == detect.Detected {
		verdict = badStyle.Bold(true).Render("DETECTED")
	}
	header := titleStyle.Render("toolguard detect") + "  " + verdict
	stats := dimStyle.Render(fmt.Sprintf("confidence %s · %d probes · %d errors · %dms",
		confidenceStyle[r.Confidence].Render(r.Confidence.String()),
		len(r.Results), r.ExecutionErrors, r.DurationMs))
	b.WriteString(boxStyle.Render(header + "\n" + stats))
	b.WriteString("\n")

	core := r.CoreDetections()
	section(&b, "Core detections", len(core))
	for _, res := range core {
		fmt.Fprintf(&b, "    %s %s\n", badStyle.Render("●"), res.Outcome.Evidence)
	}

	if verbose {
		supp := r.SupplementaryFindings()
		section(&b, "Supplementary findings", len(supp))
		for _, res := range supp {
			fmt.Fprintf(&b, "    %s %s\n", warnStyle.Render("●"), res.Outcome.Evidence)
		}
	}

	if failures := r.Failures(); len(failures) > 0 {
		section(&b, "Probe errors", len(failures))
		for _, res := range failures {
			fmt.Fprintf(&b, "    %s %s  %s\n", badStyle.Render("✗"), res.ProbeID, dimStyle.Render(res.Outcome.Err.Error()))
		}
	}
	return b.String()
}

// Remediation renders the outcome of a remediation run.
func Remediation(res *remediate.Result, err error) string {
	var b strings.Builder

	var status string
	switch {
	case err != nil || res == nil:
		status = badStyle.Bold(true).Render("FAILED")
	case res.Denied:
		status = warnStyle.Bold(true).Render("CANCELLED")
	case res.Aborted:
		status = badStyle.Bold(true).Render("ABORTED")
	case res.Errors > 0:
		status = warnStyle.Bold(true).Render("PARTIAL")
	default:
		status = goodStyle.Bold(true).Render("COMPLETE")
	}
	header := titleStyle.Render("toolguard remediate") + "  " + status
	if res == nil {
		msg := "no result"
		if err != nil {
			msg = err.Error()
		}
		b.WriteString(boxStyle.Render(header + "\n" + badStyle.Render(msg)))
		b.WriteString("\n")
		return b.String()
	}

	lines := []string{header, dimStyle.Render(fmt.Sprintf("%d removed · %d errors · %dms", res.ItemsRemoved, res.Errors, res.DurationMs))}
	if res.BackupDir != "" {
		lines = append(lines, dimStyle.Render("backup: "+res.BackupDir))
	}
	if res.AuditDropped > 0 {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("audit trail incomplete: %d entries not written", res.AuditDropped)))
	}
	if err != nil {
		lines = append(lines, badStyle.Render(err.Error()))
	}
	b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	if len(res.Steps) > 0 {
		section(&b, "Steps", len(res.Steps))
		for _, s := range res.Steps {
			if s.Error != "" {
				fmt.Fprintf(&b, "    %s %s  %s\n", badStyle.Render("✗"), s.Step.Name, dimStyle.Render(s.Error))
				continue
			}
			fmt.Fprintf(&b, "    %s %s\n", goodStyle.Render("✓"), s.Step.Name)
		}
	}
	if res.Verified && len(res.Residual) > 0 {
		section(&b, "Still present", len(res.Residual))
		for _, r := range res.Residual {
			fmt.Fprintf(&b, "    %s %s %s\n", warnStyle.Render("●"), r.Kind, r.Location)
		}
	}
	if res.Manifest != nil {
		if exes := res.Manifest.ExcludedExecutables(); len(exes) > 0 {
			b.WriteString("\n  " + warnStyle.Render("Executables are not backed up; restoring requires reinstalling the tool.") + "\n")
		}
	}
	return b.String()
}

// Restore renders a restore run.
func Restore(m *backup.Manifest, res *backup.RestoreResult) string {
	var b strings.Builder

	status := goodStyle.Bold(true).Render("RESTORED")
	if len(res.Failed) > 0 {
		status = warnStyle.Bold(true).Render("PARTIAL")
	}
	header := titleStyle.Render("toolguard restore") + "  " + status
	stats := dimStyle.Render(fmt.Sprintf("%s · %d restored · %d failed", m.ID, len(res.Restored), len(res.Failed)))
	b.WriteString(boxStyle.Render(header + "\n" + stats))
	b.WriteString("\n")

	section(&b, "Restored", len(res.Restored))
	for _, it := range res.Restored {
		fmt.Fprintf(&b, "    %s %s  %s\n", goodStyle.Render("✓"), it.Original, dimStyle.Render(string(it.Kind)))
	}
	if len(res.Failed) > 0 {
		section(&b, "Failed", len(res.Failed))
		for _, f := range res.Failed {
			fmt.Fprintf(&b, "    %s %s  %s\n", badStyle.Render("✗"), f.Item.Original, dimStyle.Render(f.Err.Error()))
		}
	}
	if len(res.NotRestorable) > 0 {
		section(&b, "Not restorable (reinstall required)", len(res.NotRestorable))
		for _, p := range res.NotRestorable {
			fmt.Fprintf(&b, "    %s %s\n", warnStyle.Render("●"), p)
		}
	}
	return b.String()
}

func section(b *strings.Builder, title string, n int) {
	fmt.Fprintf(b, "\n  %s %s\n", sectionStyle.Render(title), dimStyle.Render(fmt.Sprintf("(%d)", n)))
}
