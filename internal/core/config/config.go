package config

import (
	"time"

	redisclient "github.com/vietddude/invmon/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server  ServerConfig       `yaml:"server"`
	Chain   ChainConfig        `yaml:"chain"`
	Monitor MonitorConfig      `yaml:"monitor"`
	Redis   redisclient.Config `yaml:"redis"` // disabled when url is empty
	Logging LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ChainConfig holds the node connection settings.
type ChainConfig struct {
	Name          string        `yaml:"name"`
	RPCURL        string        `yaml:"rpc_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RateLimit     float64       `yaml:"rate_limit"`  // requests per second, 0 = unlimited
	StructLogs    bool          `yaml:"struct_logs"` // also fetch opcode logs for loop detection
	Confirmations uint64        `yaml:"confirmations"`
}

// MonitorConfig holds the analysis settings.
type MonitorConfig struct {
	Protocol  string   `yaml:"protocol"`
	EventName string   `yaml:"event_name"`
	RuleFile  string   `yaml:"rule_file"`
	Contracts []string `yaml:"contracts"` // default: the rule set's contracts
	Pool      string   `yaml:"pool"`
	// FlashSelector wins over FlashSignature when both are set.
	FlashSelector    string        `yaml:"flash_selector"`
	FlashSignature   string        `yaml:"flash_signature"`
	Patterns         []string      `yaml:"patterns"`
	Workers          int           `yaml:"workers"`
	MaxTraceDepth    int           `yaml:"max_trace_depth"`
	ScanInterval     time.Duration `yaml:"scan_interval"`
	StartBlock       uint64        `yaml:"start_block"`
	Output           string        `yaml:"output"`
	BalanceCacheSize int           `yaml:"balance_cache_size"`
	Retry            RetryConfig   `yaml:"retry"`
}

// RetryConfig holds the per-transaction retry policy.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}
