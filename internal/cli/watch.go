package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/invmon/internal/health"
	"github.com/vietddude/invmon/internal/server"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the chain head and analyze transactions sent to monitored contracts",
	Run:   runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub(slog.Default())
	p, err := newPipeline(ctx, cfg, hub)
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	healthMon := health.NewMonitor(p.invariants.GetChain(), p.head, p.monitor)
	srv := server.New(cfg.Server.Port, p.reporter, healthMon, hub, slog.Default())

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- p.monitor.Watch(ctx)
	}()

	slog.Info("Monitor started", "config", cfgPath, "port", cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case err := <-watchDone:
		if err != nil {
			slog.Error("Watcher stopped", "error", err)
		}
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}
	if err := p.saveReport(); err != nil {
		slog.Error("Failed to save report", "error", err)
		os.Exit(1)
	}
	p.reporter.PrintSummary(os.Stdout)
}
