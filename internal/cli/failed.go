package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var retryFailed bool

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List transactions whose analysis failed, or re-analyze them with --retry",
	Run:   runFailed,
}

func init() {
	failedCmd.Flags().BoolVar(&retryFailed, "retry", false, "re-analyze queued transactions and drop the ones that succeed")
	rootCmd.AddCommand(failedCmd)
}

func runFailed(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	if cfg.Redis.URL == "" {
		slog.Error("The failed transaction queue needs redis.url")
		os.Exit(1)
	}

	ctx := context.Background()
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer p.Close()
	if p.failures == nil {
		slog.Error("Redis is unreachable")
		os.Exit(1)
	}

	queued, err := p.failures.GetAll(ctx)
	if err != nil {
		slog.Error("Failed to read failed transactions", "error", err)
		os.Exit(1)
	}

	if !retryFailed {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "ID\tTX\tBLOCK\tATTEMPTS\tFAILED AT\tERROR")
		for _, ft := range queued {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				ft.ID, ft.TxHash, ft.BlockNumber, ft.RetryCount, ft.FailedAt.Format(time.RFC3339), ft.Error)
		}
		_ = w.Flush()
		return
	}

	resolved := 0
	for _, ft := range queued {
		if _, err := p.monitor.AnalyzeTransaction(ctx, ft.TxHash); err != nil {
			slog.Warn("Still failing", "tx", ft.TxHash, "error", err)
			continue
		}
		if err := p.failures.MarkResolved(ctx, ft.ID); err != nil {
			slog.Error("Failed to mark transaction resolved", "tx", ft.TxHash, "error", err)
			continue
		}
		resolved++
	}
	slog.Info("Retried failed transactions", "queued", len(queued), "resolved", resolved)

	if p.reporter.ViolationCount() > 0 {
		if err := p.saveReport(); err != nil {
			slog.Error("Failed to save report", "error", err)
			os.Exit(1)
		}
		p.reporter.PrintSummary(os.Stdout)
	}
}
