package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestClientKey はクライアントキーの決定を検証する。
func TestClientKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		trustForwarded bool
		remoteAddr     string
		headers        map[string]string
		want           string
	}{
		{"接続元アドレスのホスト部を使うこと", false, "192.0.2.10:53211", nil, "192.0.2.10"},
		{"信頼しない設定ではX-Forwarded-Forを無視すること", false, "192.0.2.10:53211", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "192.0.2.10"},
		{"X-Forwarded-Forの先頭を使うこと", true, "10.0.0.1:80", map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.2"}, "203.0.113.5"},
		{"X-Forwarded-Forが無ければX-Real-IPを使うこと", true, "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"どちらも無ければ接続元アドレスを使うこと", true, "10.0.0.1:80", nil, "10.0.0.1"},
		{"ポートのないアドレスはそのまま使うこと", false, "unix-socket", nil, "unix-socket"},
		{"アドレスが空ならunknownになること", false, "", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}

			if got := ClientKey(tt.trustForwarded)(c); got != tt.want {
				t.Errorf("ClientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
