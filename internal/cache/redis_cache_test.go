package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerp/backend/internal/domain"
)

func TestRedisDashboardCacheRoundTrip(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisDashboardCache(client, zerolog.Nop())
	ctx := context.Background()
	key := DashboardKey("br-pusat")

	summary := &domain.DashboardSummary{Scope: "br-pusat", OpenPOs: 3, TransfersInTransit: 1}
	payload, err := json.Marshal(summary)
	require.NoError(t, err)

	mock.ExpectSet(key, string(payload), 30*time.Second).SetVal("OK")
	require.NoError(t, c.Set(ctx, key, summary, 30*time.Second))

	mock.ExpectGet(key).SetVal(string(payload))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.OpenPOs)

	mock.ExpectDel(key, DashboardKey("all")).SetVal(2)
	require.NoError(t, c.Delete(ctx, key, DashboardKey("all")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisDashboardCacheMissIsNotAnError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisDashboardCache(client, zerolog.Nop())

	mock.ExpectGet(DashboardKey("all")).RedisNil()
	got, ok, err := c.Get(context.Background(), DashboardKey("all"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisDashboardCacheBreakerOpensAfterFailures(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisDashboardCache(client, zerolog.Nop())
	key := DashboardKey("br-selatan")

	for i := 0; i < 3; i++ {
		mock.ExpectGet(key).SetErr(errors.New("connection refused"))
		_, _, err := c.Get(context.Background(), key)
		require.Error(t, err)
	}

	_, _, err := c.Get(context.Background(), key)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoopDashboardCache(t *testing.T) {
	var c DashboardCache = NoopDashboardCache{}
	require.NoError(t, c.Set(context.Background(), "k", &domain.DashboardSummary{}, time.Second))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
