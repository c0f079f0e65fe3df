package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/invmon/internal/core/domain"
)

// FailedTxRepo keeps transactions whose analysis failed, ordered by block.
type FailedTxRepo struct {
	client   *Client
	protocol string
	ttl      time.Duration
}

// NewFailedTxRepo creates a Redis-backed failed transaction queue.
func NewFailedTxRepo(client *Client, protocol string) *FailedTxRepo {
	return &FailedTxRepo{
		client:   client,
		protocol: protocol,
		ttl:      24 * time.Hour,
	}
}

// Add stores a failed transaction.
func (r *FailedTxRepo) Add(ctx context.Context, ft *domain.FailedTransaction) error {
	if ft.ID == "" {
		ft.ID = uuid.NewString()
	}
	data, err := json.Marshal(ft)
	if err != nil {
		return fmt.Errorf("failed to marshal failed transaction: %w", err)
	}

	rdb := r.client.rdb
	if err := rdb.Set(ctx, r.client.failedTxKey(r.protocol, ft.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set failed transaction: %w", err)
	}

	// score = block, oldest first
	if err := rdb.ZAdd(ctx, r.client.failedQueueKey(r.protocol), redis.Z{
		Score:  float64(ft.BlockNumber),
		Member: ft.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}
	return nil
}

// GetAll retrieves all failed transactions, oldest block first.
func (r *FailedTxRepo) GetAll(ctx context.Context) ([]*domain.FailedTransaction, error) {
	rdb := r.client.rdb
	queue := r.client.failedQueueKey(r.protocol)

	ids, err := rdb.ZRange(ctx, queue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	txs := make([]*domain.FailedTransaction, 0, len(ids))
	for _, id := range ids {
		data, err := rdb.Get(ctx, r.client.failedTxKey(r.protocol, id)).Bytes()
		if err == redis.Nil {
			// Data expired but ID still in queue, remove it
			rdb.ZRem(ctx, queue, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get failed transaction: %w", err)
		}

		var ft domain.FailedTransaction
		if err := json.Unmarshal(data, &ft); err != nil {
			continue
		}
		txs = append(txs, &ft)
	}
	return txs, nil
}

// MarkResolved removes a failed transaction (successfully retried).
func (r *FailedTxRepo) MarkResolved(ctx context.Context, id string) error {
	if err := r.client.rdb.ZRem(ctx, r.client.failedQueueKey(r.protocol), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := r.client.rdb.Del(ctx, r.client.failedTxKey(r.protocol, id)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed transaction: %w", err)
	}
	return nil
}

// Count returns the number of queued failed transactions.
func (r *FailedTxRepo) Count(ctx context.Context) (int, error) {
	count, err := r.client.rdb.ZCard(ctx, r.client.failedQueueKey(r.protocol)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
