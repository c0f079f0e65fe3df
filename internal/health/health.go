// Package health provides monitor health checks and status reporting.
package health

import (
	"context"
	"sync"
	"time"
)

// SystemStatus represents the health state of the monitor.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ChainHealth contains the health metrics of the monitored chain.
type ChainHealth struct {
	Chain              string       `json:"chain"`
	Status             SystemStatus `json:"status"`
	LatestBlock        uint64       `json:"latest_block"`
	ScannedBlock       uint64       `json:"scanned_block"`
	BlockLag           uint64       `json:"block_lag"`
	FailedTransactions int          `json:"failed_transactions"`
}

// HeadFetcher fetches the latest block height of the chain.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// Progress reports how far the monitor got.
type Progress interface {
	// Progress returns the last fully scanned block and the number of
	// transactions whose analysis failed after retries.
	Progress() (scanned uint64, failed int)
}

// Lag and failure limits for the degraded and critical states.
const (
	degradedLag    = 10
	criticalLag    = 100
	criticalFailed = 50
)

// Monitor aggregates the health status. Checks are cached for interval to
// avoid spamming the node.
type Monitor struct {
	chain    string
	head     HeadFetcher
	progress Progress
	interval time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *ChainHealth
}

// NewMonitor creates a health monitor. progress may be nil when no continuous
// scan is running.
func NewMonitor(chain string, head HeadFetcher, progress Progress) *Monitor {
	return &Monitor{
		chain:    chain,
		head:     head,
		progress: progress,
		interval: 10 * time.Second,
	}
}

// CheckHealth performs a health check.
func (m *Monitor) CheckHealth(ctx context.Context) ChainHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	health := ChainHealth{Chain: m.chain, Status: StatusHealthy}

	latest, err := m.head.LatestBlock(ctx)
	if err != nil {
		// Can't see the head, that's degradation
		health.Status = StatusDegraded
	} else {
		health.LatestBlock = latest
	}

	if m.progress != nil {
		health.ScannedBlock, health.FailedTransactions = m.progress.Progress()
		if health.LatestBlock > health.ScannedBlock && health.ScannedBlock > 0 {
			health.BlockLag = health.LatestBlock - health.ScannedBlock
		}
	}

	if health.BlockLag > criticalLag || health.FailedTransactions > criticalFailed {
		health.Status = StatusCritical
	} else if health.BlockLag > degradedLag || health.FailedTransactions > 0 {
		health.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = &health
	return health
}
