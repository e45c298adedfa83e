package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// contextKeyClientKey はGinコンテキストにクライアントキーを格納するキー。
const contextKeyClientKey = "client_key"

// AccessLog はリクエストごとのアクセスログをzapで出力するGinミドルウェアを返す。
// ステータスが5xxの場合はError、4xxの場合はWarn、それ以外はInfoで出力する。
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("client_key", c.GetString(contextKeyClientKey)),
			zap.String("request_id", GetRequestID(c)),
		}
		if subject := GetSubject(c); subject != "" {
			fields = append(fields, zap.String("subject", subject))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("リクエスト処理完了", fields...)
		case status >= 400:
			logger.Warn("リクエスト処理完了", fields...)
		default:
			logger.Info("リクエスト処理完了", fields...)
		}
	}
}
