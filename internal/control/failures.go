package control

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/invmon/internal/core/domain"
)

// FailureStore keeps transactions whose analysis failed after retries.
// redis.FailedTxRepo is the shared implementation.
type FailureStore interface {
	Add(ctx context.Context, ft *domain.FailedTransaction) error
	GetAll(ctx context.Context) ([]*domain.FailedTransaction, error)
	MarkResolved(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// MemoryFailureStore is the process-local FailureStore used when Redis is
// not configured.
type MemoryFailureStore struct {
	mu     sync.Mutex
	failed map[string]*domain.FailedTransaction
}

func NewMemoryFailureStore() *MemoryFailureStore {
	return &MemoryFailureStore{failed: make(map[string]*domain.FailedTransaction)}
}

func (s *MemoryFailureStore) Add(_ context.Context, ft *domain.FailedTransaction) error {
	if ft.ID == "" {
		ft.ID = uuid.NewString()
	}
	cp := *ft
	s.mu.Lock()
	s.failed[ft.ID] = &cp
	s.mu.Unlock()
	return nil
}

// GetAll returns the failed transactions, oldest block first.
func (s *MemoryFailureStore) GetAll(_ context.Context) ([]*domain.FailedTransaction, error) {
	s.mu.Lock()
	out := make([]*domain.FailedTransaction, 0, len(s.failed))
	for _, ft := range s.failed {
		cp := *ft
		out = append(out, &cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].FailedAt.Before(out[j].FailedAt)
	})
	return out, nil
}

func (s *MemoryFailureStore) MarkResolved(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.failed, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryFailureStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed), nil
}
