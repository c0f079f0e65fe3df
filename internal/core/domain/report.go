package domain

import "time"

// ViolationDetail describes one violated invariant. Append-only once recorded.
type ViolationDetail struct {
	InvariantID   string           `json:"invariant_id"`
	InvariantType string           `json:"invariant_type"`
	Severity      Severity         `json:"severity"`
	Message       string           `json:"message"`
	Violated      bool             `json:"violated"`
	Details       map[string]Value `json:"details"`
	Timestamp     time.Time        `json:"timestamp"`
}

// VerificationReport is the result of one monitoring run.
type VerificationReport struct {
	EventName        string            `json:"event_name"`
	Protocol         string            `json:"protocol"`
	Chain            string            `json:"chain"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	TotalTxMonitored int               `json:"total_tx_monitored"`
	Violations       []ViolationDetail `json:"violations"`
	Summary          ReportSummary     `json:"summary"`

	TransactionData *TransactionData `json:"transaction_data,omitempty"`
}

// ReportSummary is recomputed wholesale from the violation list on finalize.
type ReportSummary struct {
	TotalInvariants    int     `json:"total_invariants"`
	ViolatedInvariants int     `json:"violated_invariants"`
	TotalViolations    int     `json:"total_violations"`
	CriticalViolations int     `json:"critical_violations"`
	HighViolations     int     `json:"high_violations"`
	MediumViolations   int     `json:"medium_violations"`
	LowViolations      int     `json:"low_violations"`
	ViolationRate      float64 `json:"violation_rate"` // percent, may exceed 100
	AttackDetected     bool    `json:"attack_detected"`
	DetectionAccuracy  float64 `json:"detection_accuracy"`
}

// ViolationEvent is what the reporter hands to its sinks for every recorded
// violation.
type ViolationEvent struct {
	ID        string          `json:"id"`
	Protocol  string          `json:"protocol"`
	Chain     string          `json:"chain"`
	EventName string          `json:"event_name"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Violation ViolationDetail `json:"violation"`
}
