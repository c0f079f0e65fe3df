// Package control drives the per-transaction pipeline: fetch the trace, derive
// its features, enrich them with balances, evaluate the rule set and record
// the outcome. It also owns the retry policy and the block-following loop.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/invmon/internal/analysis/balance"
	"github.com/vietddude/invmon/internal/analysis/calltree"
	"github.com/vietddude/invmon/internal/core/domain"
	"github.com/vietddude/invmon/internal/infra/chain"
	"github.com/vietddude/invmon/internal/invariant"
	"github.com/vietddude/invmon/internal/metrics"
	"github.com/vietddude/invmon/internal/report"
)

// Config holds monitor settings.
type Config struct {
	Chain string
	// Contracts are the addresses whose balances are tracked and whose
	// incoming transactions are analysed by Watch. Defaults to the rule
	// set's contracts.
	Contracts []string
	// Pool is the flash-loan pool used for utilization. Defaults to the
	// first pool_utilization rule's contract.
	Pool          string
	Workers       int
	Confirmations uint64
	ScanInterval  time.Duration
	// StartBlock is the first block Watch scans. Zero starts at the
	// confirmed head.
	StartBlock uint64
	Retry      RetryConfig
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg        Config
	client     chain.Client
	head       chain.HeadReader
	analyzer   *calltree.Analyzer
	extractor  *balance.Extractor
	invariants invariant.Invariants
	reporter   *report.Reporter
	failures   FailureStore
	log        *slog.Logger

	monitored []string
	pool      string
	targets   *ContractFilter

	mu      sync.Mutex
	scanned uint64
	failed  int
}

// Deps are the collaborators of a Monitor. Head defaults to Client, Failures
// to an in-memory store and Log to slog.Default().
type Deps struct {
	Client     chain.Client
	Head       chain.HeadReader
	Analyzer   *calltree.Analyzer
	Extractor  *balance.Extractor
	Invariants invariant.Invariants
	Reporter   *report.Reporter
	Failures   FailureStore
	Log        *slog.Logger
}

func NewMonitor(cfg Config, deps Deps) (*Monitor, error) {
	if deps.Client == nil || deps.Invariants == nil || deps.Reporter == nil {
		return nil, errors.New("monitor requires a chain client, invariants and a reporter")
	}
	if deps.Head == nil {
		deps.Head = deps.Client
	}
	if deps.Analyzer == nil {
		deps.Analyzer = calltree.NewAnalyzer()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Extractor == nil {
		deps.Extractor = balance.NewExtractor(deps.Client, balance.Config{}, deps.Log)
	}
	if deps.Failures == nil {
		deps.Failures = NewMemoryFailureStore()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 12 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig
	}
	if cfg.Chain == "" {
		cfg.Chain = deps.Invariants.GetChain()
	}

	m := &Monitor{
		cfg:        cfg,
		client:     deps.Client,
		head:       deps.Head,
		analyzer:   deps.Analyzer,
		extractor:  deps.Extractor,
		invariants: deps.Invariants,
		reporter:   deps.Reporter,
		failures:   deps.Failures,
		log:        deps.Log.With("protocol", deps.Invariants.GetProtocol()),
	}
	m.monitored = monitoredAddresses(cfg.Contracts, deps.Invariants)
	m.targets = NewContractFilter(m.monitored...)
	m.pool = strings.ToLower(cfg.Pool)
	if m.pool == "" {
		m.pool = defaultPool(deps.Invariants)
	}
	return m, nil
}

// monitoredAddresses returns the configured contracts, or the rule set's
// contracts, lower-cased and de-duplicated in order.
func monitoredAddresses(configured []string, inv invariant.Invariants) []string {
	if len(configured) == 0 {
		for _, rule := range inv.GetRules() {
			if rule.Contract != "" {
				configured = append(configured, rule.Contract)
			}
		}
		for _, addr := range inv.GetContracts() {
			configured = append(configured, addr)
		}
	}

	seen := make(map[string]struct{}, len(configured))
	out := make([]string, 0, len(configured))
	for _, addr := range configured {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func defaultPool(inv invariant.Invariants) string {
	for _, rule := range inv.GetRules() {
		if rule.Type == invariant.TypePoolUtilization && rule.Contract != "" {
			return strings.ToLower(rule.Contract)
		}
	}
	return ""
}

// Monitored returns the tracked contract addresses.
func (m *Monitor) Monitored() []string {
	return append([]string(nil), m.monitored...)
}

// AnalyzeTransaction runs the whole pipeline for one transaction and records
// the outcome in the reporter. On error nothing is recorded.
func (m *Monitor) AnalyzeTransaction(ctx context.Context, txHash string) ([]domain.ViolationDetail, error) {
	protocol := m.invariants.GetProtocol()
	start := time.Now()
	defer func() {
		metrics.AnalysisLatency.WithLabelValues(protocol).Observe(time.Since(start).Seconds())
	}()

	txData, err := m.analyze(ctx, txHash)
	if err != nil {
		metrics.AnalysisFailures.WithLabelValues(protocol, failureReason(err)).Inc()
		return nil, err
	}

	violations := m.invariants.Evaluate(txData)

	m.reporter.RecordTransaction()
	for _, v := range violations {
		m.reporter.RecordViolationFor(txData.TxHash, v)
	}
	m.reporter.RecordTransactionData(txData)

	metrics.TransactionsAnalyzed.WithLabelValues(protocol).Inc()
	m.log.Debug("Transaction analyzed",
		"tx", txData.TxHash,
		"block", txData.BlockNumber,
		"calls", len(txData.CallStack),
		"violations", len(violations),
		"duration", time.Since(start),
	)
	return violations, nil
}

func (m *Monitor) analyze(ctx context.Context, txHash string) (*domain.TransactionData, error) {
	meta, err := m.client.TransactionMeta(ctx, txHash)
	if err != nil {
		return nil, err
	}

	raw, err := m.client.TraceTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}

	txData, err := m.analyzer.Analyze(raw, *meta)
	if err != nil {
		return nil, err
	}

	if err := m.extractor.Enrich(ctx, txData, m.monitored, m.pool); err != nil {
		return nil, err
	}
	return txData, nil
}

func failureReason(err error) string {
	var traceErr *domain.TraceError
	var qerr *domain.ChainQueryError
	switch {
	case errors.Is(err, domain.ErrPendingTransaction):
		return "pending"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &traceErr):
		return "trace"
	case errors.As(err, &qerr):
		return qerr.Op
	default:
		return "unknown"
	}
}

// analyzeWithRetry retries transient failures and hands exhausted ones to
// the failure store.
func (m *Monitor) analyzeWithRetry(ctx context.Context, txHash string, block uint64) error {
	attempts, err := withRetry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		_, err := m.AnalyzeTransaction(ctx, txHash)
		return err
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	m.log.Warn("Transaction analysis failed",
		"tx", txHash,
		"attempts", attempts,
		"error", err,
	)

	m.mu.Lock()
	m.failed++
	m.mu.Unlock()

	ft := &domain.FailedTransaction{
		TxHash:      txHash,
		BlockNumber: block,
		Error:       err.Error(),
		RetryCount:  attempts,
		FailedAt:    time.Now(),
	}
	if storeErr := m.failures.Add(ctx, ft); storeErr != nil {
		m.log.Error("Failed to store failed transaction", "tx", txHash, "error", storeErr)
	}
	return fmt.Errorf("analyze %s: %w", txHash, err)
}

// Run analyses the given transactions with up to cfg.Workers in flight. Every
// transaction is attempted; the returned error joins all failures.
func (m *Monitor) Run(ctx context.Context, hashes []string) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, hash := range hashes {
		g.Go(func() error {
			if err := m.analyzeWithRetry(gctx, hash, 0); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			// never cancel the siblings
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Watch follows the chain head until ctx is done. Each block at least
// cfg.Confirmations behind the head is scanned for transactions sent to a
// monitored contract, and those are analysed concurrently.
func (m *Monitor) Watch(ctx context.Context) error {
	if m.targets.Size() == 0 {
		return errors.New("no monitored contracts to watch")
	}

	next := m.cfg.StartBlock
	m.log.Info("Starting block watcher",
		"chain", m.cfg.Chain,
		"contracts", m.targets.Size(),
		"confirmations", m.cfg.Confirmations,
		"interval", m.cfg.ScanInterval,
	)

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		var err error
		next, err = m.scanToHead(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Warn("Block scan failed, retrying next tick", "block", next, "error", err)
		}

		select {
		case <-ctx.Done():
			m.log.Info("Block watcher stopped", "scanned", m.lastScanned())
			return nil
		case <-ticker.C:
		}
	}
}

// scanToHead scans every confirmed block from next on and returns the next
// block to scan.
func (m *Monitor) scanToHead(ctx context.Context, next uint64) (uint64, error) {
	head, err := m.head.LatestBlock(ctx)
	if err != nil {
		return next, err
	}
	if head < m.cfg.Confirmations {
		return next, nil
	}
	confirmed := head - m.cfg.Confirmations

	if next == 0 {
		next = confirmed
	}
	for ; next <= confirmed; next++ {
		if err := m.ScanBlock(ctx, next); err != nil {
			return next, err
		}
		m.mu.Lock()
		m.scanned = next
		m.mu.Unlock()
		metrics.MonitorLatestBlock.WithLabelValues(m.cfg.Chain).Set(float64(next))
	}
	return next, nil
}

// ScanBlock analyses the transactions of one block that target a monitored
// contract. Analysis failures are stored, not returned; only a failure to
// read the block is an error.
func (m *Monitor) ScanBlock(ctx context.Context, block uint64) error {
	refs, err := m.client.BlockTransactions(ctx, block)
	if err != nil {
		return err
	}

	selected := m.targets.Select(refs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, ref := range selected {
		g.Go(func() error {
			_ = m.analyzeWithRetry(gctx, ref.Hash, block)
			return nil
		})
	}
	_ = g.Wait()

	if len(selected) > 0 {
		m.log.Info("Block scanned", "block", block, "txs", len(refs), "analyzed", len(selected))
	}
	return ctx.Err()
}

func (m *Monitor) lastScanned() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanned
}

// Progress implements health.Progress.
func (m *Monitor) Progress() (uint64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanned, m.failed
}
