package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHeadCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)

	now := time.Unix(1_700_000_000, 0)
	cache := NewHeadCache(client, 10*time.Second)
	cache.now = func() time.Time { return now }

	client.EXPECT().LatestBlock(gomock.Any()).Return(uint64(100), nil).Times(1)
	for i := 0; i < 3; i++ {
		head, err := cache.LatestBlock(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(100), head)
	}

	// expired
	now = now.Add(11 * time.Second)
	client.EXPECT().LatestBlock(gomock.Any()).Return(uint64(101), nil)
	head, err := cache.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), head)

	// a lagging node does not move the head back
	cache.Invalidate()
	client.EXPECT().LatestBlock(gomock.Any()).Return(uint64(99), nil)
	head, err = cache.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), head)
}

func TestHeadCache_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	cache := NewHeadCache(client, time.Minute)

	client.EXPECT().LatestBlock(gomock.Any()).Return(uint64(0), errors.New("connection refused"))
	_, err := cache.LatestBlock(context.Background())
	assert.Error(t, err)

	// errors are not cached
	client.EXPECT().LatestBlock(gomock.Any()).Return(uint64(5), nil)
	head, err := cache.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), head)
}
