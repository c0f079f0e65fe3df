// Package balance enriches transaction features with chain state: native
// balance deltas of monitored addresses, flash-loan size and pool utilization.
package balance

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"github.com/vietddude/invmon/internal/core/domain"
)

// UndefinedGrowthRate is reported when a balance grows from zero.
const UndefinedGrowthRate = 999999.0

// DefaultFlashSelector is the selector of the wBARL flash loan entry point.
const DefaultFlashSelector = "0x3b30ba59"

// DefaultPatterns are the call-sequence keywords counted during enrichment.
var DefaultPatterns = []string{"flash", "callback", "bond", "deposit", "borrow"}

// BalanceReader reads the native balance of an address at a block.
type BalanceReader interface {
	BalanceAt(ctx context.Context, address string, block uint64) (*big.Int, error)
}

// Extractor queries balances around a transaction's block and derives the
// balance-based features.
type Extractor struct {
	reader        BalanceReader
	flashSelector string
	patterns      []string
	log           *slog.Logger
}

// Config holds the extractor settings.
type Config struct {
	FlashSelector string
	Patterns      []string
}

func NewExtractor(reader BalanceReader, cfg Config, log *slog.Logger) *Extractor {
	if cfg.FlashSelector == "" {
		cfg.FlashSelector = DefaultFlashSelector
	}
	if cfg.Patterns == nil {
		cfg.Patterns = DefaultPatterns
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		reader:        reader,
		flashSelector: strings.ToLower(cfg.FlashSelector),
		patterns:      cfg.Patterns,
		log:           log,
	}
}

// ExtractBalanceChanges records the balance of each address before (block-1)
// and after (block) the transaction.
func (e *Extractor) ExtractBalanceChanges(
	ctx context.Context,
	txData *domain.TransactionData,
	addresses []string,
) error {
	if txData.BalanceChanges == nil {
		txData.BalanceChanges = make(map[string]*domain.BalanceChange)
	}
	beforeBlock := previousBlock(txData.BlockNumber)

	for _, addr := range addresses {
		before, err := e.balanceAt(ctx, "balance_before", addr, beforeBlock)
		if err != nil {
			return err
		}
		after, err := e.balanceAt(ctx, "balance_after", addr, txData.BlockNumber)
		if err != nil {
			return err
		}

		txData.BalanceChanges[strings.ToLower(addr)] = &domain.BalanceChange{
			Address:    addr,
			Before:     before,
			After:      after,
			Difference: new(big.Int).Sub(after, before),
			ChangeRate: ChangeRate(before, after),
		}
	}

	return nil
}

// ExtractPoolUtilization sets the share of the pool's pre-transaction balance
// that was borrowed. Missing pool or amount is skipped without error.
func (e *Extractor) ExtractPoolUtilization(
	ctx context.Context,
	txData *domain.TransactionData,
	poolAddress string,
	borrowed *big.Int,
) error {
	if poolAddress == "" || borrowed == nil || borrowed.Sign() == 0 {
		return nil
	}

	poolBalance, err := e.balanceAt(ctx, "pool_balance", poolAddress, previousBlock(txData.BlockNumber))
	if err != nil {
		return err
	}

	if poolBalance.Sign() > 0 {
		txData.PoolUtilization = Utilization(borrowed, poolBalance)
		txData.PoolAddress = poolAddress
	}
	return nil
}

// ExtractFlashLoanAmount decodes the amount argument of the first frame that
// calls the flash selector. The amount is the third 32-byte word, after the
// recipient and token addresses. Returns 0 when no such call decodes.
func (e *Extractor) ExtractFlashLoanAmount(txData *domain.TransactionData, selector string) *big.Int {
	return FlashLoanAmount(txData, selector)
}

// AnalyzeCallPattern counts case-insensitive substring matches of each pattern
// against the call sequence.
func (e *Extractor) AnalyzeCallPattern(txData *domain.TransactionData, patterns []string) map[string]int {
	counts := make(map[string]int, len(patterns))
	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		count := 0
		for _, call := range txData.CallSequence {
			if strings.Contains(strings.ToLower(call), p) {
				count++
			}
		}
		counts[pattern] = count
	}
	return counts
}

// Enrich runs every extraction step. Re-running it with the same inputs
// overwrites the same fields with the same values.
func (e *Extractor) Enrich(
	ctx context.Context,
	txData *domain.TransactionData,
	monitored []string,
	poolAddress string,
) error {
	if err := e.ExtractBalanceChanges(ctx, txData, monitored); err != nil {
		return err
	}

	flashAmount := e.ExtractFlashLoanAmount(txData, e.flashSelector)
	if flashAmount.Sign() > 0 && poolAddress != "" {
		if err := e.ExtractPoolUtilization(ctx, txData, poolAddress, flashAmount); err != nil {
			return err
		}
	}

	txData.CallPatterns = e.AnalyzeCallPattern(txData, e.patterns)

	e.log.Debug("Transaction enriched",
		"tx", txData.TxHash,
		"balances", len(txData.BalanceChanges),
		"flashAmount", flashAmount.String(),
		"poolUtilization", txData.PoolUtilization,
	)
	return nil
}

func (e *Extractor) balanceAt(ctx context.Context, op, addr string, block uint64) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ChainQueryError{Op: op, Key: addr, Err: err}
	}
	bal, err := e.reader.BalanceAt(ctx, addr, block)
	if err != nil {
		// Readers that already report the failing query keep their error.
		var qerr *domain.ChainQueryError
		if errors.As(err, &qerr) {
			return nil, err
		}
		return nil, &domain.ChainQueryError{Op: op, Key: addr, Err: err}
	}
	if bal == nil {
		bal = new(big.Int)
	}
	return bal, nil
}

// ChangeRate returns (after-before)/before*100. Growth from zero yields
// UndefinedGrowthRate and no change from zero yields 0.
func ChangeRate(before, after *big.Int) float64 {
	switch {
	case before.Sign() > 0:
		diff := new(big.Int).Sub(after, before)
		rate := new(big.Float).Quo(new(big.Float).SetInt(diff), new(big.Float).SetInt(before))
		rate.Mul(rate, big.NewFloat(100))
		f, _ := rate.Float64()
		return f
	case after.Sign() > 0:
		return UndefinedGrowthRate
	default:
		return 0
	}
}

// Utilization returns borrowed/poolBalance*100. poolBalance must be positive.
func Utilization(borrowed, poolBalance *big.Int) float64 {
	u := new(big.Float).Quo(new(big.Float).SetInt(borrowed), new(big.Float).SetInt(poolBalance))
	u.Mul(u, big.NewFloat(100))
	f, _ := u.Float64()
	return f
}

const (
	wordChars = 64
	// 0x + selector + recipient word + token word
	amountOffset = domain.SelectorLength + 2*wordChars
)

// FlashLoanAmount is the stateless form of Extractor.ExtractFlashLoanAmount.
func FlashLoanAmount(txData *domain.TransactionData, selector string) *big.Int {
	selector = strings.ToLower(selector)
	for _, frame := range txData.CallStack {
		if frame.Function == "" || frame.Function != selector {
			continue
		}
		if len(frame.Input) < amountOffset+wordChars {
			continue
		}
		word, err := hex.DecodeString(frame.Input[amountOffset : amountOffset+wordChars])
		if err != nil {
			continue
		}
		return new(uint256.Int).SetBytes32(word).ToBig()
	}
	return new(big.Int)
}

// previousBlock returns block-1, clamped at genesis.
func previousBlock(block uint64) uint64 {
	if block == 0 {
		return 0
	}
	return block - 1
}
