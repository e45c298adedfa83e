package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// KeyFunc はリクエストからレート制限用のクライアントキーを求める関数。
type KeyFunc func(c *gin.Context) string

// ClientKey は送信元IPアドレスをクライアントキーとする KeyFunc を返す。
//
// trustForwarded が true の場合、X-Forwarded-For の先頭、X-Real-IP の順に参照し、
// いずれも無ければ接続元アドレスを使う。ゲートウェイの前段にリバースプロキシが
// ない環境ではヘッダーを偽装できるため false にすること。
func ClientKey(trustForwarded bool) KeyFunc {
	return func(c *gin.Context) string {
		if trustForwarded {
			if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); ip != "" {
				return ip
			}
		}

		addr := strings.TrimSpace(c.Request.RemoteAddr)
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		if addr != "" {
			return addr
		}
		return "unknown"
	}
}
