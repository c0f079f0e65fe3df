package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/invmon/internal/infra/redis"
	"github.com/vietddude/invmon/internal/report"
)

var (
	violationsLimit  int
	violationsFollow bool
)

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "Show violations published to Redis by running monitors",
	Run:   runViolations,
}

func init() {
	violationsCmd.Flags().IntVarP(&violationsLimit, "limit", "n", 20, "number of recent violations to show")
	violationsCmd.Flags().BoolVarP(&violationsFollow, "follow", "f", false, "keep printing new violations until interrupted")
	rootCmd.AddCommand(violationsCmd)
}

func runViolations(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	if cfg.Redis.URL == "" {
		slog.Error("Published violations need redis.url")
		os.Exit(1)
	}

	inv, err := loadInvariants(cfg)
	if err != nil {
		slog.Error("Failed to load invariants", "error", err)
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := redisclient.NewPublisher(client, redisclient.DefaultRecentLimit)
	console := report.NewConsoleSink(os.Stdout)
	protocol := inv.GetProtocol()

	recent, err := pub.Recent(ctx, protocol, violationsLimit)
	if err != nil {
		slog.Error("Failed to read recent violations", "error", err)
		os.Exit(1)
	}
	// oldest first
	for i := len(recent) - 1; i >= 0; i-- {
		_ = console.Publish(ctx, recent[i])
	}

	if !violationsFollow {
		return
	}

	stream, err := pub.Subscribe(ctx, protocol)
	if err != nil {
		slog.Error("Failed to subscribe", "error", err)
		os.Exit(1)
	}
	slog.Info("Following violations", "protocol", protocol)
	for event := range stream {
		_ = console.Publish(ctx, event)
	}
}
