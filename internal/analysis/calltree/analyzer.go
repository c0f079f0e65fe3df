// Package calltree turns a call-tracer execution trace into the behavioral
// features of a transaction: the flattened call stack, selector statistics,
// call depth, reentrancy depth and a loop-iteration estimate.
package calltree

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/vietddude/invmon/internal/core/domain"
)

// DefaultMaxDepth matches the EVM call-depth limit. A well-formed trace never
// nests deeper than this.
const DefaultMaxDepth = 1024

// Analyzer walks raw traces. It holds no per-transaction state and is safe for
// concurrent use.
type Analyzer struct {
	maxDepth int
	log      *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMaxDepth bounds how deep the walks descend into the trace tree.
func WithMaxDepth(depth int) Option {
	return func(a *Analyzer) {
		if depth > 0 {
			a.maxDepth = depth
		}
	}
}

// WithLogger sets the logger used for degraded-trace warnings.
func WithLogger(log *slog.Logger) Option {
	return func(a *Analyzer) {
		if log != nil {
			a.log = log
		}
	}
}

func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		maxDepth: DefaultMaxDepth,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze decodes a raw call trace and derives the transaction features.
//
// Invalid JSON fails with *domain.TraceError. Type mismatches inside frames
// only degrade the affected fields, and an empty or null trace yields
// zero-valued metrics.
func (a *Analyzer) Analyze(raw []byte, meta domain.TxMeta) (*domain.TransactionData, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return a.AnalyzeTrace(nil, meta), nil
	}

	var trace domain.RawCallFrame
	if err := json.Unmarshal(raw, &trace); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, &domain.TraceError{TxHash: meta.Hash, Err: err}
		}
		// encoding/json keeps decoding past type mismatches, so the rest of
		// the tree is usable.
		a.log.Warn("Trace partially decoded",
			"tx", meta.Hash,
			"field", typeErr.Field,
			"error", err,
		)
	}

	return a.AnalyzeTrace(&trace, meta), nil
}

// AnalyzeTrace derives the transaction features from an already decoded trace.
func (a *Analyzer) AnalyzeTrace(trace *domain.RawCallFrame, meta domain.TxMeta) *domain.TransactionData {
	txData := domain.NewTransactionData(meta)
	if trace == nil {
		return txData
	}

	txData.RawTrace = trace
	a.flatten(trace, txData)
	txData.LoopIterations = a.LoopIterations(trace)
	txData.ReentrancyDepth = a.ReentrancyDepth(trace)
	txData.CallDepth = a.CallDepth(trace)

	return txData
}

type frameRef struct {
	node  *domain.RawCallFrame
	depth int
}

// flatten emits one CallFrame per node in pre-order, root at depth 0.
func (a *Analyzer) flatten(root *domain.RawCallFrame, txData *domain.TransactionData) {
	stack := []frameRef{{node: root, depth: 0}}
	truncated := false

	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := ref.node

		frame := domain.CallFrame{
			Type:    node.Type,
			From:    node.From,
			To:      node.To,
			Input:   node.Input,
			Output:  node.Output,
			Value:   node.Value,
			Gas:     parseHexUint64(node.Gas),
			GasUsed: parseHexUint64(node.GasUsed),
			Depth:   ref.depth,
		}

		if sel := domain.SelectorOf(node.Input); sel != "" {
			frame.Function = sel
			txData.FunctionCalls[sel]++
			txData.CallSequence = append(txData.CallSequence, sel)
		}
		txData.CallStack = append(txData.CallStack, frame)

		if ref.depth >= a.maxDepth {
			truncated = truncated || len(node.Calls) > 0
			continue
		}
		// Push in reverse so the first child is visited next
		for i := len(node.Calls) - 1; i >= 0; i-- {
			stack = append(stack, frameRef{node: &node.Calls[i], depth: ref.depth + 1})
		}
	}

	if truncated {
		a.log.Warn("Trace deeper than limit, subtrees skipped",
			"tx", txData.TxHash,
			"maxDepth", a.maxDepth,
		)
	}
}

// CallDepth returns the height of the trace tree: 0 for a leaf, otherwise one
// more than the deepest child.
func (a *Analyzer) CallDepth(root *domain.RawCallFrame) int {
	if root == nil {
		return 0
	}

	// The height of the root equals the deepest node's distance from it.
	maxDepth := 0
	stack := []frameRef{{node: root, depth: 0}}
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if ref.depth > maxDepth {
			maxDepth = ref.depth
		}
		if ref.depth >= a.maxDepth {
			continue
		}
		for i := range ref.node.Calls {
			stack = append(stack, frameRef{node: &ref.node.Calls[i], depth: ref.depth + 1})
		}
	}
	return maxDepth
}

// FunctionCallCount sums the histogram entries whose selector contains sig.
func FunctionCallCount(txData *domain.TransactionData, sig string) int {
	sig = strings.ToLower(sig)
	count := 0
	for selector, c := range txData.FunctionCalls {
		if strings.Contains(selector, sig) {
			count += c
		}
	}
	return count
}

// parseHexUint64 parses a 0x-prefixed quantity. Missing or malformed input
// yields 0.
func parseHexUint64(s string) uint64 {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}
