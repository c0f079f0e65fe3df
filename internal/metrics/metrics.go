package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsAnalyzed tracks transactions that went through the full pipeline
	TransactionsAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invmon_transactions_analyzed_total",
			Help: "Total number of transactions analyzed",
		},
		[]string{"protocol"},
	)

	// AnalysisFailures tracks transactions whose analysis was aborted
	AnalysisFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invmon_analysis_failures_total",
			Help: "Total number of aborted transaction analyses",
		},
		[]string{"protocol", "reason"},
	)

	// ViolationsTotal tracks violations per invariant type and severity
	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invmon_violations_total",
			Help: "Total number of invariant violations",
		},
		[]string{"protocol", "invariant_type", "severity"},
	)

	// AnalysisLatency tracks the duration of one transaction analysis
	AnalysisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invmon_analysis_latency_seconds",
			Help:    "Transaction analysis latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	// RPCCallsTotal tracks chain RPC calls per method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invmon_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "method"},
	)

	// RPCErrorsTotal tracks chain RPC errors per method
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invmon_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"chain", "method"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invmon_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "method"},
	)

	// ChainLatestBlock tracks the latest block height of the chain
	ChainLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "invmon_chain_latest_block",
			Help: "Latest block height of the chain",
		},
		[]string{"chain"},
	)

	// MonitorLatestBlock tracks the latest block scanned by the monitor
	MonitorLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "invmon_monitor_latest_block",
			Help: "Latest block height scanned by the monitor",
		},
		[]string{"chain"},
	)
)
