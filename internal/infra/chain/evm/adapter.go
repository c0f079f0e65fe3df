// Package evm implements chain.Client on top of go-ethereum's JSON-RPC client.
package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/vietddude/invmon/internal/core/domain"
	"github.com/vietddude/invmon/internal/infra/chain"
	"github.com/vietddude/invmon/internal/metrics"
)

// Config holds the client settings.
type Config struct {
	Name       string        // chain label used in metrics and logs
	URL        string        // http(s) or ws(s) endpoint with the debug namespace
	Timeout    time.Duration // per call, 0 disables
	RateLimit  float64       // requests per second, 0 disables
	StructLogs bool          // also fetch opcode logs for loop detection
}

// Client talks to an archive node. It is safe for concurrent use.
type Client struct {
	cfg     Config
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

var _ chain.Client = (*Client)(nil)

// Dial connects to the node at cfg.URL.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Name, err)
	}
	return NewClient(rpcClient, cfg), nil
}

// NewClient wraps an existing RPC connection.
func NewClient(rpcClient *rpc.Client, cfg Config) *Client {
	if cfg.Name == "" {
		cfg.Name = "ethereum"
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}
	return &Client{
		cfg:     cfg,
		rpc:     rpcClient,
		eth:     ethclient.NewClient(rpcClient),
		limiter: limiter,
		log:     slog.Default().With("chain", cfg.Name),
	}
}

func (c *Client) Close() {
	c.rpc.Close()
}

// call runs fn under the limiter and the per-call timeout and records metrics.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	metrics.RPCCallsTotal.WithLabelValues(c.cfg.Name, method).Inc()
	metrics.RPCLatency.WithLabelValues(c.cfg.Name, method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(c.cfg.Name, method).Inc()
	}
	return err
}

func (c *Client) TransactionMeta(ctx context.Context, txHash string) (*domain.TxMeta, error) {
	hash := common.HexToHash(txHash)

	var (
		tx        *types.Transaction
		isPending bool
	)
	err := c.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) (err error) {
		tx, isPending, err = c.eth.TransactionByHash(ctx, hash)
		return err
	})
	if err != nil {
		return nil, &domain.ChainQueryError{Op: "transaction", Key: txHash, Err: err}
	}
	if isPending {
		return nil, &domain.ChainQueryError{Op: "transaction", Key: txHash, Err: domain.ErrPendingTransaction}
	}

	var receipt *types.Receipt
	err = c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) (err error) {
		receipt, err = c.eth.TransactionReceipt(ctx, hash)
		return err
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			err = domain.ErrPendingTransaction
		}
		return nil, &domain.ChainQueryError{Op: "receipt", Key: txHash, Err: err}
	}

	var sender common.Address
	err = c.call(ctx, "eth_getTransactionByBlockHashAndIndex", func(ctx context.Context) (err error) {
		sender, err = c.eth.TransactionSender(ctx, tx, receipt.BlockHash, receipt.TransactionIndex)
		return err
	})
	if err != nil {
		return nil, &domain.ChainQueryError{Op: "sender", Key: txHash, Err: err}
	}

	to := receipt.ContractAddress
	if tx.To() != nil {
		to = *tx.To()
	}

	return &domain.TxMeta{
		Hash:        txHash,
		From:        strings.ToLower(sender.Hex()),
		To:          strings.ToLower(to.Hex()),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Status:      receipt.Status,
	}, nil
}

var (
	callTracerConfig = map[string]any{"tracer": "callTracer"}
	structLogConfig  = map[string]any{
		"disableStorage": true,
		"enableMemory":   false,
		"disableStack":   false,
	}
)

type structLogResult struct {
	StructLogs json.RawMessage `json:"structLogs"`
}

// TraceTransaction returns the callTracer result. With StructLogs enabled the
// opcode logs of a second, default-tracer pass are attached to the root frame
// under "structLogs".
func (c *Client) TraceTransaction(ctx context.Context, txHash string) (json.RawMessage, error) {
	var trace json.RawMessage
	err := c.call(ctx, "debug_traceTransaction", func(ctx context.Context) error {
		return c.rpc.CallContext(ctx, &trace, "debug_traceTransaction", txHash, callTracerConfig)
	})
	if err != nil {
		return nil, &domain.ChainQueryError{Op: "trace", Key: txHash, Err: err}
	}
	if !c.cfg.StructLogs || isNullJSON(trace) {
		return trace, nil
	}

	var logs structLogResult
	err = c.call(ctx, "debug_traceTransaction", func(ctx context.Context) error {
		return c.rpc.CallContext(ctx, &logs, "debug_traceTransaction", txHash, structLogConfig)
	})
	if err != nil {
		// The call trace alone is still usable, only the loop estimate degrades.
		c.log.Warn("Struct log trace failed", "tx", txHash, "error", err)
		return trace, nil
	}
	return mergeStructLogs(trace, logs.StructLogs)
}

func mergeStructLogs(trace, structLogs json.RawMessage) (json.RawMessage, error) {
	if isNullJSON(structLogs) {
		return trace, nil
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal(trace, &root); err != nil {
		return nil, fmt.Errorf("failed to merge struct logs: %w", err)
	}
	root["structLogs"] = structLogs
	merged, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to merge struct logs: %w", err)
	}
	return merged, nil
}

func isNullJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func (c *Client) BalanceAt(ctx context.Context, address string, block uint64) (*big.Int, error) {
	var bal *big.Int
	err := c.call(ctx, "eth_getBalance", func(ctx context.Context) (err error) {
		bal, err = c.eth.BalanceAt(ctx, common.HexToAddress(address), new(big.Int).SetUint64(block))
		return err
	})
	if err != nil {
		return nil, &domain.ChainQueryError{Op: "balance", Key: address, Err: err}
	}
	return bal, nil
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) (err error) {
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, &domain.ChainQueryError{Op: "block_number", Key: c.cfg.Name, Err: err}
	}
	metrics.ChainLatestBlock.WithLabelValues(c.cfg.Name).Set(float64(head))
	return head, nil
}

// rpcBlockTx is the subset of a full-transaction block entry that is needed.
// Decoding it by hand keeps unknown transaction types (L2 deposits, blobs on
// older nodes) from failing the whole block.
type rpcBlockTx struct {
	Hash string  `json:"hash"`
	From string  `json:"from"`
	To   *string `json:"to"`
}

type rpcBlock struct {
	Transactions []rpcBlockTx `json:"transactions"`
}

func (c *Client) BlockTransactions(ctx context.Context, block uint64) ([]chain.TxRef, error) {
	var raw *rpcBlock
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		return c.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(block), true)
	})
	key := fmt.Sprintf("%d", block)
	if err != nil {
		return nil, &domain.ChainQueryError{Op: "block", Key: key, Err: err}
	}
	if raw == nil {
		return nil, &domain.ChainQueryError{Op: "block", Key: key, Err: ethereum.NotFound}
	}

	refs := make([]chain.TxRef, 0, len(raw.Transactions))
	for _, tx := range raw.Transactions {
		ref := chain.TxRef{
			Hash: strings.ToLower(tx.Hash),
			From: strings.ToLower(tx.From),
		}
		if tx.To != nil {
			ref.To = strings.ToLower(*tx.To)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
