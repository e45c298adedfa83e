package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore は常にエラーを返す Store。
type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration) (Window, error) {
	return Window{}, errors.New("connection refused")
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("不正な設定はエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := New(nil, 60, time.Minute)
		assert.Error(t, err)
		_, err = New(NewMemoryStore(), 0, time.Minute)
		assert.Error(t, err)
		_, err = New(NewMemoryStore(), 60, 0)
		assert.Error(t, err)
	})

	t.Run("設定値を取得できること", func(t *testing.T) {
		t.Parallel()

		l, err := New(NewMemoryStore(), 60, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 60, l.Capacity())
		assert.Equal(t, time.Minute, l.Window())
	})
}

func TestLimiter_Admit(t *testing.T) {
	t.Parallel()

	t.Run("上限までは受け付け、上限+1件目は拒否すること", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		l, err := New(NewMemoryStore(WithClock(clock.Now)), 60, time.Minute)
		require.NoError(t, err)

		for i := 1; i <= 60; i++ {
			d, err := l.Admit(context.Background(), "10.0.0.1")
			require.NoError(t, err)
			require.Truef(t, d.Allowed, "%d件目が拒否された", i)
			assert.Equal(t, int64(60-i), d.Remaining)
		}

		d, err := l.Admit(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, int64(61), d.Count)
		assert.Equal(t, int64(0), d.Remaining)
		assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
	})

	t.Run("ウィンドウ経過後は再び受け付けること", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		l, err := New(NewMemoryStore(WithClock(clock.Now)), 3, time.Minute)
		require.NoError(t, err)

		// 拒否され続けてもカウンタがウィンドウ切り替えで戻ることを確認する
		for range 10 {
			_, err := l.Admit(context.Background(), "client")
			require.NoError(t, err)
		}

		clock.Advance(59 * time.Second)
		d, err := l.Admit(context.Background(), "client")
		require.NoError(t, err)
		assert.False(t, d.Allowed, "ウィンドウ内では拒否されるべき")

		clock.Advance(time.Second)
		d, err = l.Admit(context.Background(), "client")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(1), d.Count)
		assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
	})

	t.Run("クライアントキーごとに独立して数えること", func(t *testing.T) {
		t.Parallel()

		l, err := New(NewMemoryStore(), 1, time.Minute)
		require.NoError(t, err)

		d, err := l.Admit(context.Background(), "a")
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = l.Admit(context.Background(), "b")
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = l.Admit(context.Background(), "a")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("同一キーへの並行アクセスでも上限を超えて受け付けないこと", func(t *testing.T) {
		t.Parallel()

		l, err := New(NewMemoryStore(), 60, time.Minute)
		require.NoError(t, err)

		var allowed atomic.Int64
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 20 {
					d, err := l.Admit(context.Background(), "same-key")
					if err != nil {
						t.Errorf("Admit()でエラーが発生: %v", err)
						return
					}
					if d.Allowed {
						allowed.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(60), allowed.Load())
	})

	t.Run("ストアのエラーは受け付けずに返すこと", func(t *testing.T) {
		t.Parallel()

		l, err := New(failingStore{}, 60, time.Minute)
		require.NoError(t, err)

		d, err := l.Admit(context.Background(), "client")
		require.Error(t, err)
		assert.False(t, d.Allowed)
	})
}

func TestDecision_RetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	d := Decision{ResetAt: now.Add(1500 * time.Millisecond)}
	assert.Equal(t, 2*time.Second, d.RetryAfter(now))

	d = Decision{ResetAt: now.Add(-time.Second)}
	assert.Equal(t, time.Second, d.RetryAfter(now))
}
