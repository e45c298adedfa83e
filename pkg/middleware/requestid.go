package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fittracker/fitgate/pkg/httpclient"
)

// HeaderRequestID はリクエストIDを受け渡すHTTPヘッダーキー。
const HeaderRequestID = httpclient.HeaderRequestID

// contextKeyRequestID はGinコンテキストにリクエストIDを格納するキー。
const contextKeyRequestID = "request_id"

// maxRequestIDLength は呼び出し元から受け取るリクエストIDの最大長。
const maxRequestIDLength = 128

// RequestID はリクエストごとに一意なIDを付与するGinミドルウェアを返す。
//
// 呼び出し元が X-Request-ID を指定していればそれを使い、なければUUIDを生成する。
// IDはレスポンスヘッダーに設定し、外部サービスへの転送時にも引き継ぐ。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}

		c.Set(contextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}
