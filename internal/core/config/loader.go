package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/invmon/internal/core/domain"
)

// Defaults applied by Load.
const (
	DefaultPort          = 9090
	DefaultTimeout       = 30 * time.Second
	DefaultScanInterval  = 12 * time.Second
	DefaultWorkers       = 4
	DefaultMaxTraceDepth = 1024
	DefaultFlashSelector = "0x3b30ba59"
	DefaultOutput        = "report.json"
	DefaultProtocol      = "barleyfinance"
	DefaultCacheSize     = 4096
)

// DefaultPatterns are the call-sequence keywords counted per transaction.
var DefaultPatterns = []string{"flash", "callback", "bond", "deposit", "borrow"}

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${ENV} references first, and
// applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default set and no node URL.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills zero values.
func (c *AppConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Chain.Timeout == 0 {
		c.Chain.Timeout = DefaultTimeout
	}

	m := &c.Monitor
	if m.Protocol == "" {
		m.Protocol = DefaultProtocol
	}
	m.Protocol = strings.ToLower(m.Protocol)
	if m.EventName == "" {
		m.EventName = m.Protocol
	}
	if m.FlashSelector == "" {
		if m.FlashSignature != "" {
			m.FlashSelector = domain.SelectorFromSignature(m.FlashSignature)
		} else {
			m.FlashSelector = DefaultFlashSelector
		}
	}
	if m.Patterns == nil {
		m.Patterns = append([]string(nil), DefaultPatterns...)
	}
	if m.Workers == 0 {
		m.Workers = DefaultWorkers
	}
	if m.MaxTraceDepth == 0 {
		m.MaxTraceDepth = DefaultMaxTraceDepth
	}
	if m.ScanInterval == 0 {
		m.ScanInterval = DefaultScanInterval
	}
	if m.Output == "" {
		m.Output = DefaultOutput
	}
	if m.BalanceCacheSize == 0 {
		m.BalanceCacheSize = DefaultCacheSize
	}
	if m.Retry.MaxAttempts == 0 {
		m.Retry.MaxAttempts = 3
	}
	if m.Retry.InitialDelay == 0 {
		m.Retry.InitialDelay = 500 * time.Millisecond
	}
	if m.Retry.MaxDelay == 0 {
		m.Retry.MaxDelay = 10 * time.Second
	}
}

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	} else if u, err := url.Parse(c.Chain.RPCURL); err != nil || u.Scheme == "" {
		errs = append(errs, fmt.Errorf("chain.rpc_url %q is not a valid URL", c.Chain.RPCURL))
	}
	if c.Chain.RateLimit < 0 {
		errs = append(errs, errors.New("chain.rate_limit must not be negative"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	m := c.Monitor
	if m.Workers < 1 {
		errs = append(errs, errors.New("monitor.workers must be at least 1"))
	}
	if m.MaxTraceDepth < 1 {
		errs = append(errs, errors.New("monitor.max_trace_depth must be at least 1"))
	}
	if domain.SelectorOf(m.FlashSelector) != strings.ToLower(m.FlashSelector) {
		errs = append(errs, fmt.Errorf("monitor.flash_selector %q is not a 4-byte selector", m.FlashSelector))
	}
	if m.BalanceCacheSize < 0 {
		errs = append(errs, errors.New("monitor.balance_cache_size must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is invalid", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is invalid", c.Logging.Format))
	}

	return errors.Join(errs...)
}
