package chain

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/vietddude/invmon/internal/core/domain"
)

//go:generate mockgen -source=adapter.go -destination=adapter_mock.go -package=chain

// BalanceReader reads the native balance of an address at a block.
type BalanceReader interface {
	BalanceAt(ctx context.Context, address string, block uint64) (*big.Int, error)
}

// Client is the boundary between the monitor and the chain node. Every call is
// bounded by the caller's context and returns a *domain.ChainQueryError on
// failure.
type Client interface {
	// TransactionMeta returns the mined transaction and receipt fields.
	// Fails with domain.ErrPendingTransaction for a pending transaction.
	TransactionMeta(ctx context.Context, txHash string) (*domain.TxMeta, error)

	// TraceTransaction returns the call-tracer JSON of a mined transaction
	TraceTransaction(ctx context.Context, txHash string) (json.RawMessage, error)

	BalanceReader

	// LatestBlock returns the current head block number
	LatestBlock(ctx context.Context) (uint64, error)

	// BlockTransactions lists the transactions of a block
	BlockTransactions(ctx context.Context, block uint64) ([]TxRef, error)

	// Close releases the connection
	Close()
}

// TxRef identifies a transaction inside a block.
type TxRef struct {
	Hash string
	From string
	To   string // empty for contract creation
}
