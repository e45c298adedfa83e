package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestRedisStore_Hit(t *testing.T) {
	t.Parallel()

	t.Run("カウンタと有効期限を設定すること", func(t *testing.T) {
		t.Parallel()

		server, client := newTestRedis(t)
		now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
		s := NewRedisStore(client, WithKeyPrefix("test:"), WithRedisClock(func() time.Time { return now }))

		w, err := s.Hit(context.Background(), "10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), w.Count)
		assert.Equal(t, now, w.Start)

		assert.True(t, server.Exists("test:10.0.0.1"))
		assert.Equal(t, time.Minute, server.TTL("test:10.0.0.1"))

		w, err = s.Hit(context.Background(), "10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), w.Count)
	})

	t.Run("経過時間からウィンドウ開始時刻を求めること", func(t *testing.T) {
		t.Parallel()

		server, client := newTestRedis(t)
		now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
		s := NewRedisStore(client, WithRedisClock(func() time.Time { return now }))

		_, err := s.Hit(context.Background(), "k", time.Minute)
		require.NoError(t, err)
		server.FastForward(20 * time.Second)

		w, err := s.Hit(context.Background(), "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-20*time.Second), w.Start)
	})

	t.Run("Redisに接続できない場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		server, err := miniredis.Run()
		require.NoError(t, err)
		client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = client.Close() })
		server.Close()
		s := NewRedisStore(client)

		_, err = s.Hit(context.Background(), "k", time.Minute)
		assert.Error(t, err)
	})
}

func TestRedisStore_WithLimiter(t *testing.T) {
	t.Parallel()

	server, client := newTestRedis(t)
	l, err := New(NewRedisStore(client), 60, time.Minute)
	require.NoError(t, err)

	for i := 1; i <= 60; i++ {
		d, err := l.Admit(context.Background(), "client")
		require.NoError(t, err)
		require.Truef(t, d.Allowed, "%d件目が拒否された", i)
	}
	d, err := l.Admit(context.Background(), "client")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// ウィンドウ経過でキーが失効し、新しいウィンドウが始まる
	server.FastForward(time.Minute)
	d, err = l.Admit(context.Background(), "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
}
