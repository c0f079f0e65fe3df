package domain

import (
	"math/big"
	"strings"
)

// TransactionData is the feature set derived from one transaction. It is built
// by the call-tree analyzer, enriched by the balance extractor and then handed
// read-only to the invariant engine.
type TransactionData struct {
	TxHash      string `json:"tx_hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      uint64 `json:"status"` // 1=success, 0=failure

	// Keyed by lower-cased address
	BalanceChanges map[string]*BalanceChange `json:"balance_changes"`

	CallStack     []CallFrame    `json:"call_stack"`
	CallDepth     int            `json:"call_depth"`
	FunctionCalls map[string]int `json:"function_calls"` // selector -> count
	CallSequence  []string       `json:"call_sequence"`
	CallPatterns  map[string]int `json:"call_patterns,omitempty"`

	LoopIterations  int `json:"loop_iterations"`
	ReentrancyDepth int `json:"reentrancy_depth"`

	PoolUtilization float64 `json:"pool_utilization"`
	PoolAddress     string  `json:"pool_address,omitempty"`

	RawTrace *RawCallFrame `json:"raw_trace,omitempty"`
}

// NewTransactionData returns an empty feature set for the given transaction.
func NewTransactionData(meta TxMeta) *TransactionData {
	return &TransactionData{
		TxHash:         meta.Hash,
		From:           meta.From,
		To:             meta.To,
		BlockNumber:    meta.BlockNumber,
		GasUsed:        meta.GasUsed,
		Status:         meta.Status,
		BalanceChanges: make(map[string]*BalanceChange),
		CallStack:      []CallFrame{},
		FunctionCalls:  make(map[string]int),
		CallSequence:   []string{},
	}
}

// BalanceOf returns the recorded balance change for addr, matching case-insensitively.
func (t *TransactionData) BalanceOf(addr string) (*BalanceChange, bool) {
	if t == nil || t.BalanceChanges == nil {
		return nil, false
	}
	bc, ok := t.BalanceChanges[strings.ToLower(addr)]
	return bc, ok && bc != nil
}

// BalanceChange records the native balance of one address around a transaction.
type BalanceChange struct {
	Address    string   `json:"address"`
	Before     *big.Int `json:"before"`
	After      *big.Int `json:"after"`
	Difference *big.Int `json:"difference"`  // after - before
	ChangeRate float64  `json:"change_rate"` // percent
}

// CallFrame is the flattened view of one RawCallFrame.
type CallFrame struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	To       string `json:"to"`
	Input    string `json:"input"`
	Output   string `json:"output"`
	Value    string `json:"value"`
	Gas      uint64 `json:"gas"`
	GasUsed  uint64 `json:"gas_used"`
	Depth    int    `json:"depth"`
	Function string `json:"function,omitempty"` // 4-byte selector, empty when input is too short
}
