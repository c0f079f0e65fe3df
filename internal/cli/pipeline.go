package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/invmon/internal/analysis/balance"
	"github.com/vietddude/invmon/internal/analysis/calltree"
	"github.com/vietddude/invmon/internal/control"
	"github.com/vietddude/invmon/internal/core/config"
	"github.com/vietddude/invmon/internal/infra/chain"
	"github.com/vietddude/invmon/internal/infra/chain/evm"
	redisclient "github.com/vietddude/invmon/internal/infra/redis"
	"github.com/vietddude/invmon/internal/invariant"
	"github.com/vietddude/invmon/internal/metrics"
	"github.com/vietddude/invmon/internal/report"
)

// pipeline is the wired analysis stack shared by the commands.
type pipeline struct {
	cfg        *config.AppConfig
	client     *evm.Client
	head       *chain.HeadCache
	invariants invariant.Invariants
	reporter   *report.Reporter
	monitor    *control.Monitor
	redis      *redisclient.Client
	publisher  *redisclient.Publisher
	failures   control.FailureStore
}

func loadInvariants(cfg *config.AppConfig) (invariant.Invariants, error) {
	var rf *invariant.RuleFile
	if cfg.Monitor.RuleFile != "" {
		var err error
		rf, err = invariant.LoadRuleFile(cfg.Monitor.RuleFile)
		if err != nil {
			return nil, err
		}
	}
	return invariant.NewInvariants(cfg.Monitor.Protocol, rf)
}

// connectRedis returns nil when Redis is not configured or unreachable.
func connectRedis(cfg redisclient.Config) *redisclient.Client {
	if cfg.URL == "" {
		return nil
	}
	client, err := redisclient.NewClient(cfg)
	if err != nil {
		slog.Warn("Failed to connect to Redis, publishing disabled", "error", err)
		return nil
	}
	return client
}

// newPipeline dials the node and wires analyzer, extractor, rule set,
// reporter and monitor. extraSinks receive every violation next to the log
// and prometheus sinks.
func newPipeline(ctx context.Context, cfg *config.AppConfig, extraSinks ...report.Sink) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	inv, err := loadInvariants(cfg)
	if err != nil {
		return nil, err
	}

	chainName := cfg.Chain.Name
	if chainName == "" {
		chainName = inv.GetChain()
	}
	client, err := evm.Dial(ctx, evm.Config{
		Name:       chainName,
		URL:        cfg.Chain.RPCURL,
		Timeout:    cfg.Chain.Timeout,
		RateLimit:  cfg.Chain.RateLimit,
		StructLogs: cfg.Chain.StructLogs,
	})
	if err != nil {
		return nil, err
	}

	var balances balance.BalanceReader = client
	if cfg.Monitor.BalanceCacheSize > 0 {
		cached, err := chain.NewCachedBalances(client, cfg.Monitor.BalanceCacheSize)
		if err != nil {
			client.Close()
			return nil, err
		}
		balances = cached
	}

	p := &pipeline{
		cfg:        cfg,
		client:     client,
		head:       chain.NewHeadCache(client, cfg.Monitor.ScanInterval/2),
		invariants: inv,
	}

	sinks := []report.Sink{report.NewLogSink(slog.Default()), metrics.NewSink()}
	sinks = append(sinks, extraSinks...)

	p.redis = connectRedis(cfg.Redis)
	if p.redis != nil {
		p.publisher = redisclient.NewPublisher(p.redis, redisclient.DefaultRecentLimit)
		p.failures = redisclient.NewFailedTxRepo(p.redis, inv.GetProtocol())
		sinks = append(sinks, p.publisher)
	}

	p.reporter = report.NewReporter(cfg.Monitor.EventName, inv.GetProtocol(), inv.GetChain(),
		report.WithTotalRules(len(inv.GetRules())),
		report.WithSinks(sinks...),
	)

	p.monitor, err = control.NewMonitor(control.Config{
		Chain:         chainName,
		Contracts:     cfg.Monitor.Contracts,
		Pool:          cfg.Monitor.Pool,
		Workers:       cfg.Monitor.Workers,
		Confirmations: cfg.Chain.Confirmations,
		ScanInterval:  cfg.Monitor.ScanInterval,
		StartBlock:    cfg.Monitor.StartBlock,
		Retry: control.RetryConfig{
			MaxAttempts:     cfg.Monitor.Retry.MaxAttempts,
			InitialDelay:    cfg.Monitor.Retry.InitialDelay,
			MaxDelay:        cfg.Monitor.Retry.MaxDelay,
			BackoffMultiple: 2.0,
		},
	}, control.Deps{
		Client:     client,
		Head:       p.head,
		Analyzer:   calltree.NewAnalyzer(calltree.WithMaxDepth(cfg.Monitor.MaxTraceDepth)),
		Extractor:  balance.NewExtractor(balances, balance.Config{FlashSelector: cfg.Monitor.FlashSelector, Patterns: cfg.Monitor.Patterns}, slog.Default()),
		Invariants: inv,
		Reporter:   p.reporter,
		Failures:   p.failures,
	})
	if err != nil {
		p.Close()
		return nil, err
	}

	slog.Info("Pipeline ready",
		"protocol", inv.GetProtocol(),
		"chain", chainName,
		"rules", len(inv.GetRules()),
		"contracts", len(p.monitor.Monitored()),
		"redis", p.redis != nil,
	)
	return p, nil
}

func (p *pipeline) Close() {
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			slog.Warn("Failed to close Redis", "error", err)
		}
	}
	p.client.Close()
}

// saveReport finalizes the report and writes it to the configured output.
func (p *pipeline) saveReport() error {
	p.reporter.Finalize()
	return p.reporter.SaveToFile(p.cfg.Monitor.Output)
}
