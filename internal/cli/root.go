package cli

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/invmon/internal/core/config"
)

var (
	cfgPath  string
	isDebug  bool
	rpcURL   string
	protocol string
	ruleFile string
)

var rootCmd = &cobra.Command{
	Use:   "invmon",
	Short: "Runtime invariant monitor for DeFi transactions",
	Long: `invmon replays transactions through an archive node's call tracer, derives
behavioral features (call depth, reentrancy, loops, balance deltas, pool
utilization) and checks them against a protocol's invariants.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "", "archive node RPC URL (overrides chain.rpc_url)")
	rootCmd.PersistentFlags().StringVar(&protocol, "protocol", "", "protocol rule set (overrides monitor.protocol)")
	rootCmd.PersistentFlags().StringVar(&ruleFile, "rules", "", "rule file in json, yaml or toml (overrides monitor.rule_file)")
}

// loadConfig loads .env and the config file, applies flag overrides and
// initializes logging. A missing default config file yields the defaults.
func loadConfig(cmd *cobra.Command) *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			stylelog.InitDefault()
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	if rpcURL != "" {
		cfg.Chain.RPCURL = rpcURL
	}
	if protocol != "" {
		cfg.Monitor.Protocol = strings.ToLower(protocol)
		if !cmd.Flags().Changed("event") {
			cfg.Monitor.EventName = cfg.Monitor.Protocol
		}
	}
	if ruleFile != "" {
		cfg.Monitor.RuleFile = ruleFile
	}

	setupLogging(cfg.Logging)
	return cfg
}

func setupLogging(cfg config.LoggingConfig) {
	slogLevel := slog.LevelInfo
	_ = slogLevel.UnmarshalText([]byte(cfg.Level))
	if isDebug {
		slogLevel = slog.LevelDebug
	}

	if strings.EqualFold(cfg.Format, "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
		return
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}
