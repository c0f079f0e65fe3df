package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	heavyRule = strings.Repeat("=", 60)
	lightRule = strings.Repeat("-", 60)
)

// PrintSummary writes a human-readable summary of the report to w.
func (r *Reporter) PrintSummary(w io.Writer) {
	report := r.GetReport()
	summary := report.Summary

	end := report.EndTime
	if end.IsZero() {
		end = r.now()
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, heavyRule)
	color.New(color.FgCyan, color.Bold).Fprintln(w, "Verification summary")
	fmt.Fprintln(w, heavyRule)

	fmt.Fprintf(w, "Protocol: %s\n", report.Protocol)
	fmt.Fprintf(w, "Event: %s\n", report.EventName)
	fmt.Fprintf(w, "Chain: %s\n", report.Chain)
	fmt.Fprintf(w, "Monitored: %s - %s (%.2fs)\n",
		report.StartTime.Format("15:04:05"),
		end.Format("15:04:05"),
		end.Sub(report.StartTime).Seconds(),
	)
	fmt.Fprintf(w, "Transactions: %d\n", report.TotalTxMonitored)
	fmt.Fprintln(w, lightRule)

	fmt.Fprintf(w, "Violations: %d\n", summary.TotalViolations)
	fmt.Fprintf(w, "Violated invariants: %d/%d\n", summary.ViolatedInvariants, summary.TotalInvariants)
	if summary.CriticalViolations > 0 {
		color.New(color.FgRed, color.Bold).Fprintf(w, "  - Critical: %d\n", summary.CriticalViolations)
	}
	if summary.HighViolations > 0 {
		color.New(color.FgRed).Fprintf(w, "  - High: %d\n", summary.HighViolations)
	}
	if summary.MediumViolations > 0 {
		color.New(color.FgYellow).Fprintf(w, "  - Medium: %d\n", summary.MediumViolations)
	}
	if summary.LowViolations > 0 {
		color.New(color.FgCyan).Fprintf(w, "  - Low: %d\n", summary.LowViolations)
	}
	fmt.Fprintf(w, "Violation rate: %.2f%%\n", summary.ViolationRate)
	fmt.Fprintln(w, lightRule)

	if summary.AttackDetected {
		color.New(color.FgRed, color.Bold).Fprintln(w, "Attack detected")
		color.New(color.FgGreen, color.Bold).Fprintf(w, "Detection accuracy: %.2f%%\n", summary.DetectionAccuracy)
	} else {
		color.New(color.FgGreen).Fprintln(w, "No attack detected")
	}
	fmt.Fprintln(w, heavyRule)
}
