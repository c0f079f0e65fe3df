package domain

import (
	"errors"
	"fmt"
)

// ErrPendingTransaction is returned when a transaction has not been mined yet.
// Analysis never runs against non-final state.
var ErrPendingTransaction = errors.New("transaction is pending")

// TraceError reports a raw trace that is not valid JSON.
type TraceError struct {
	TxHash string
	Err    error
}

func (e *TraceError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("malformed trace: %v", e.Err)
	}
	return fmt.Sprintf("malformed trace for %s: %v", e.TxHash, e.Err)
}

func (e *TraceError) Unwrap() error { return e.Err }

// ChainQueryError wraps a failed chain collaborator call with the operation
// and the key (tx hash or address) it was issued for.
type ChainQueryError struct {
	Op  string
	Key string
	Err error
}

func (e *ChainQueryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *ChainQueryError) Unwrap() error { return e.Err }
