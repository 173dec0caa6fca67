package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
)

func setupCache(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := New(context.Background(), mr.Addr(), 0, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleDetail(number int64) *changeModel.ChangeDetailResponse {
	return &changeModel.ChangeDetailResponse{
		Change: &changeModel.ChangeResponse{
			Number:  number,
			Key:     "I0123456789abcdef0123456789abcdef01234567",
			Project: "demo",
			Status:  "NEW",
		},
	}
}

func TestGetMissesOnEmptyCache(t *testing.T) {
	c := setupCache(t)

	_, ok := c.GetDetail(context.Background(), 1)
	assert.False(t, ok)
}

func TestSetThenGet(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	c.SetDetail(ctx, 42, sampleDetail(42))

	got, ok := c.GetDetail(ctx, 42)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.Change.Number)
	assert.Equal(t, "demo", got.Change.Project)
}

func TestInvalidateDropsEntry(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	c.SetDetail(ctx, 7, sampleDetail(7))
	c.Invalidate(ctx, 7)

	_, ok := c.GetDetail(ctx, 7)
	assert.False(t, ok)
}

func TestNewFailsWhenRedisUnreachable(t *testing.T) {
	_, err := New(context.Background(), "127.0.0.1:1", 0, zap.NewNop().Sugar())
	assert.Error(t, err)
}
