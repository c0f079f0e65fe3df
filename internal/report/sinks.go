package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/fatih/color"

	"github.com/vietddude/invmon/internal/core/domain"
)

// LogSink writes each violation as a structured warning.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, event domain.ViolationEvent) error {
	v := event.Violation
	s.log.Warn("Invariant violated",
		"protocol", event.Protocol,
		"invariant", v.InvariantID,
		"type", v.InvariantType,
		"severity", v.Severity,
		"tx", event.TxHash,
		"message", v.Message,
	)
	return nil
}

// ConsoleSink prints each violation in color as it is recorded.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Publish(_ context.Context, event domain.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := event.Violation
	if _, err := severityColor(v.Severity).Fprintf(s.w, "\n[%s] %s violated\n", v.Severity, v.InvariantType); err != nil {
		return err
	}
	fmt.Fprintf(s.w, "   ID: %s\n", v.InvariantID)
	if event.TxHash != "" {
		fmt.Fprintf(s.w, "   Tx: %s\n", event.TxHash)
	}
	fmt.Fprintf(s.w, "   Message: %s\n", v.Message)
	if len(v.Details) > 0 {
		fmt.Fprintf(s.w, "   Details:\n")
		keys := make([]string, 0, len(v.Details))
		for k := range v.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(s.w, "     - %s: %s\n", k, v.Details[k])
		}
	}
	return nil
}

func severityColor(severity domain.Severity) *color.Color {
	switch severity {
	case domain.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case domain.SeverityHigh:
		return color.New(color.FgRed)
	case domain.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
