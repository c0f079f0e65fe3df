package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCachedBalances(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	ctx := context.Background()

	client.EXPECT().BalanceAt(gomock.Any(), "0xAbC", uint64(10)).Return(big.NewInt(500), nil).Times(1)
	client.EXPECT().BalanceAt(gomock.Any(), "0xabc", uint64(11)).Return(big.NewInt(700), nil).Times(1)

	cache, err := NewCachedBalances(client, 0)
	require.NoError(t, err)

	bal, err := cache.BalanceAt(ctx, "0xAbC", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal.Int64())

	// served from cache, address matched case-insensitively
	bal.SetInt64(1)
	bal, err = cache.BalanceAt(ctx, "0xabc", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal.Int64())

	bal, err = cache.BalanceAt(ctx, "0xabc", 11)
	require.NoError(t, err)
	assert.Equal(t, int64(700), bal.Int64())
	assert.Equal(t, 2, cache.Len())
}

func TestCachedBalances_ErrorNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	boom := errors.New("boom")

	gomock.InOrder(
		client.EXPECT().BalanceAt(gomock.Any(), "0xa", uint64(1)).Return(nil, boom),
		client.EXPECT().BalanceAt(gomock.Any(), "0xa", uint64(1)).Return(big.NewInt(3), nil),
	)

	cache, err := NewCachedBalances(client, 8)
	require.NoError(t, err)

	_, err = cache.BalanceAt(context.Background(), "0xa", 1)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, cache.Len())

	bal, err := cache.BalanceAt(context.Background(), "0xa", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal.Int64())
}
