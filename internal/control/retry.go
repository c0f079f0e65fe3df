package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"

	"github.com/vietddude/invmon/internal/core/domain"
)

// RetryConfig defines how a failed transaction analysis is retried.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig retries a transaction three times over a few seconds.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        10 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an analysis error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFatal
)

func (a ErrorAction) String() string {
	if a == ActionFatal {
		return "fatal"
	}
	return "retry"
}

// ClassifyError determines the action for a given analysis error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}

	// Caller gave up
	if errors.Is(err, context.Canceled) {
		return ActionFatal
	}

	// Pending transactions are a precondition failure and a malformed trace
	// will not parse on the next attempt either.
	var traceErr *domain.TraceError
	if errors.Is(err, domain.ErrPendingTransaction) || errors.As(err, &traceErr) {
		return ActionFatal
	}

	s := err.Error()
	// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}

	if strings.Contains(strings.ToLower(s), "does not exist/is not available") {
		return ActionFatal
	}

	// Unknown hash. A missing block is retried, the node may be behind.
	var qerr *domain.ChainQueryError
	if errors.As(err, &qerr) && qerr.Op == "transaction" && errors.Is(err, ethereum.NotFound) {
		return ActionFatal
	}

	// Network, 5xx, rate limits, missing trie nodes on a lagging node
	return ActionRetry
}

// withRetry runs fn until it succeeds, returns a fatal error or the attempts
// run out. It returns the number of attempts made.
func withRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) (int, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if ClassifyError(err) == ActionFatal {
			return attempt + 1, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return attempt + 1, ctx.Err()
		case <-time.After(calculateBackoff(attempt, cfg)):
		}
	}

	return cfg.MaxAttempts, fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	multiple := cfg.BackoffMultiple
	if multiple < 1 {
		multiple = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiple, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}
