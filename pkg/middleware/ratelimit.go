package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Quota はレート制限の判定結果のうち、応答に反映する値。
type Quota struct {
	// Allowed はリクエストを受け付けるかどうか。
	Allowed bool
	// Limit はウィンドウあたりの上限。
	Limit int64
	// Count は現在のウィンドウで数えたリクエスト数。
	Count int64
	// Remaining は現在のウィンドウで残っている受付可能数。
	Remaining int64
	// ResetAt は現在のウィンドウが終わる時刻。
	ResetAt time.Time
	// RetryAfter は拒否したリクエストに返す待ち時間。
	RetryAfter time.Duration
}

// Admitter はクライアントキー単位でリクエストの受け付け可否を判定する。
type Admitter interface {
	Admit(ctx context.Context, clientKey string) (Quota, error)
}

// AdmitterFunc は関数を Admitter として扱うためのアダプタ。
type AdmitterFunc func(ctx context.Context, clientKey string) (Quota, error)

// Admit は f(ctx, clientKey) を呼び出す。
func (f AdmitterFunc) Admit(ctx context.Context, clientKey string) (Quota, error) {
	return f(ctx, clientKey)
}

// RateLimit はクライアント単位のレート制限を行うGinミドルウェアを返す。
//
// 上限を超えたリクエストは429で中断し、Retry-After を設定する。
// 判定に失敗した場合はリクエストを受け付けずに500で中断する。
func RateLimit(limiter Admitter, keyFn KeyFunc, logger *zap.Logger) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ClientKey(false)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := keyFn(c)
		c.Set(contextKeyClientKey, key)

		q, err := limiter.Admit(c.Request.Context(), key)
		if err != nil {
			logger.Error("レート制限の判定に失敗",
				zap.String("client_key", key),
				zap.String("request_id", GetRequestID(c)),
				zap.Error(err),
			)
			AbortWithError(c, http.StatusInternalServerError, "Internal server error")
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(q.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(q.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(q.ResetAt.Unix(), 10))

		if !q.Allowed {
			retryAfter := max(q.RetryAfter, time.Second)
			c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
			logger.Debug("レート制限によりリクエストを拒否",
				zap.String("client_key", key),
				zap.Int64("count", q.Count),
				zap.Int64("limit", q.Limit),
			)
			AbortWithError(c, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

// GetClientKey はGinコンテキストからクライアントキーを取得する。
func GetClientKey(c *gin.Context) string {
	return c.GetString(contextKeyClientKey)
}
