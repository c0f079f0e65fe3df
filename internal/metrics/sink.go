package metrics

import (
	"context"

	"github.com/vietddude/invmon/internal/core/domain"
)

// Sink counts every reported violation in ViolationsTotal.
type Sink struct{}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Name() string { return "prometheus" }

func (s *Sink) Publish(_ context.Context, event domain.ViolationEvent) error {
	ViolationsTotal.WithLabelValues(
		event.Protocol,
		event.Violation.InvariantType,
		string(event.Violation.Severity),
	).Inc()
	return nil
}
