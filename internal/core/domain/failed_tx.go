package domain

import "time"

// FailedTransaction is a transaction whose analysis still failed after the
// orchestration retries were exhausted.
type FailedTransaction struct {
	ID          string    `json:"id"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	Error       string    `json:"error"`
	RetryCount  int       `json:"retry_count"`
	FailedAt    time.Time `json:"failed_at"`
}
