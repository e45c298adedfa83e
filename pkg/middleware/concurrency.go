package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Semaphore は同時に処理するリクエスト数の上限を管理する。
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore は上限 limit の Semaphore を生成する。
func NewSemaphore(limit int) *Semaphore {
	return &Semaphore{slots: make(chan struct{}, limit)}
}

// Acquire は枠を1つ確保する。timeout が0以下の場合は ctx が終わるまで待つ。
// 確保できた場合は解放関数と true を返す。
func (s *Semaphore) Acquire(ctx context.Context, timeout time.Duration) (func(), bool) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, true
	case <-ctx.Done():
		return nil, false
	}
}

// InFlight は現在確保されている枠の数を返す。
func (s *Semaphore) InFlight() int {
	return len(s.slots)
}

// Concurrency は同時処理数を limit に制限するGinミドルウェアを返す。
// acquireTimeout 以内に枠を確保できなかったリクエストは503で中断する。
// limit が0以下の場合は制限しない。
func Concurrency(limit int, acquireTimeout time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	sem := NewSemaphore(limit)

	return func(c *gin.Context) {
		release, ok := sem.Acquire(c.Request.Context(), acquireTimeout)
		if !ok {
			AbortWithError(c, http.StatusServiceUnavailable, "Gateway busy")
			return
		}
		defer release()

		c.Next()
	}
}
