package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/invmon/internal/report"
)

// exitAttackDetected is the exit status when a critical or high violation
// was found.
const exitAttackDetected = 2

var (
	analyzeOutput string
	analyzeEvent  string
	analyzeLive   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [tx_hash...]",
	Short: "Analyze transactions and write a verification report",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "report file (overrides monitor.output)")
	analyzeCmd.Flags().StringVar(&analyzeEvent, "event", "", "event name recorded in the report")
	analyzeCmd.Flags().BoolVar(&analyzeLive, "live", false, "print each violation as it is found")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	if analyzeOutput != "" {
		cfg.Monitor.Output = analyzeOutput
	}
	if analyzeEvent != "" {
		cfg.Monitor.EventName = analyzeEvent
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sinks []report.Sink
	if analyzeLive {
		sinks = append(sinks, report.NewConsoleSink(os.Stdout))
	}

	p, err := newPipeline(ctx, cfg, sinks...)
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	runErr := p.monitor.Run(ctx, args)
	if runErr != nil {
		slog.Error("Some transactions could not be analyzed", "error", runErr)
	}

	if err := p.saveReport(); err != nil {
		slog.Error("Failed to save report", "error", err)
		os.Exit(1)
	}
	p.reporter.PrintSummary(os.Stdout)

	switch {
	case p.reporter.GetReport().Summary.AttackDetected:
		p.Close()
		os.Exit(exitAttackDetected)
	case runErr != nil:
		p.Close()
		os.Exit(1)
	}
}
