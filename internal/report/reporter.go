// Package report accumulates the violations of one monitoring run and turns
// them into a VerificationReport.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/invmon/internal/core/domain"
)

// Sink receives every recorded violation as it happens. Publish must not
// block for long; it runs on the recording goroutine.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event domain.ViolationEvent) error
}

// Reporter is safe for concurrent use.
type Reporter struct {
	mu         sync.Mutex
	report     domain.VerificationReport
	txCount    int
	totalRules int
	finalized  bool

	sinks       []Sink
	sinkTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithSinks adds violation sinks.
func WithSinks(sinks ...Sink) Option {
	return func(r *Reporter) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// WithTotalRules sets the number of rules under evaluation, reported as
// summary.total_invariants.
func WithTotalRules(n int) Option {
	return func(r *Reporter) {
		r.totalRules = n
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Reporter) {
		if log != nil {
			r.log = log
		}
	}
}

func NewReporter(eventName, protocol, chain string, opts ...Option) *Reporter {
	r := &Reporter{
		sinkTimeout: 5 * time.Second,
		now:         time.Now,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.report = domain.VerificationReport{
		EventName:  eventName,
		Protocol:   protocol,
		Chain:      chain,
		StartTime:  r.now(),
		Violations: []domain.ViolationDetail{},
	}
	return r
}

// RecordTransaction counts one monitored transaction.
func (r *Reporter) RecordTransaction() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCount++
	r.report.TotalTxMonitored = r.txCount
}

// RecordViolation stamps the violation with the current time, appends it and
// publishes it to the sinks.
func (r *Reporter) RecordViolation(violation domain.ViolationDetail) {
	r.RecordViolationFor("", violation)
}

// RecordViolationFor is RecordViolation with the offending transaction hash
// attached to the published event.
func (r *Reporter) RecordViolationFor(txHash string, violation domain.ViolationDetail) {
	r.mu.Lock()
	violation.Timestamp = r.now()
	r.report.Violations = append(r.report.Violations, violation)
	event := domain.ViolationEvent{
		ID:        uuid.NewString(),
		Protocol:  r.report.Protocol,
		Chain:     r.report.Chain,
		EventName: r.report.EventName,
		TxHash:    txHash,
		Violation: violation,
	}
	sinks := r.sinks
	r.mu.Unlock()

	r.publish(sinks, event)
}

func (r *Reporter) publish(sinks []Sink, event domain.ViolationEvent) {
	for _, sink := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
		if err := sink.Publish(ctx, event); err != nil {
			r.log.Error("Failed to publish violation",
				"sink", sink.Name(),
				"invariant", event.Violation.InvariantID,
				"error", err,
			)
		}
		cancel()
	}
}

// RecordTransactionData attaches the features of the analyzed transaction.
// The last call wins.
func (r *Reporter) RecordTransactionData(txData *domain.TransactionData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.TransactionData = txData
}

// Finalize sets the end time and recomputes the summary from the violation
// list. Calling it again refreshes both without double counting.
func (r *Reporter) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalizeLocked()
}

func (r *Reporter) finalizeLocked() {
	r.report.EndTime = r.now()
	r.report.Summary = ComputeSummary(r.report.Violations, r.txCount, r.totalRules)
	r.finalized = true
}

// SaveToFile writes the report as indented JSON, finalizing first if needed.
func (r *Reporter) SaveToFile(path string) error {
	r.mu.Lock()
	if !r.finalized {
		r.finalizeLocked()
	}
	data, err := json.MarshalIndent(r.report, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	r.log.Info("Report saved", "path", path)
	return nil
}

// GetReport returns a copy of the current report. Before Finalize the summary
// is computed on the fly and the end time is zero.
func (r *Reporter) GetReport() domain.VerificationReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.report
	snapshot.Violations = append([]domain.ViolationDetail{}, r.report.Violations...)
	if !r.finalized {
		snapshot.Summary = ComputeSummary(snapshot.Violations, r.txCount, r.totalRules)
	}
	return snapshot
}

func (r *Reporter) ViolationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.report.Violations)
}

func (r *Reporter) HasCriticalViolations() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.report.Violations {
		if v.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

// ComputeSummary derives the summary of a violation list. The violation rate
// is violations per monitored transaction in percent, so several violations
// in one transaction push it above 100.
func ComputeSummary(violations []domain.ViolationDetail, txCount, totalRules int) domain.ReportSummary {
	summary := domain.ReportSummary{
		TotalInvariants: totalRules,
		TotalViolations: len(violations),
	}

	violated := make(map[string]struct{})
	for _, v := range violations {
		violated[v.InvariantID] = struct{}{}
		switch v.Severity {
		case domain.SeverityCritical:
			summary.CriticalViolations++
		case domain.SeverityHigh:
			summary.HighViolations++
		case domain.SeverityMedium:
			summary.MediumViolations++
		case domain.SeverityLow:
			summary.LowViolations++
		}
	}
	summary.ViolatedInvariants = len(violated)

	if txCount > 0 {
		summary.ViolationRate = float64(summary.TotalViolations) / float64(txCount) * 100
	}

	summary.AttackDetected = summary.CriticalViolations > 0 || summary.HighViolations > 0
	if summary.AttackDetected {
		summary.DetectionAccuracy = 100
	}
	return summary
}
