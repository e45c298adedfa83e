package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestAccessLog はAccessLogミドルウェアのログ出力を検証する。
func TestAccessLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel zapcore.Level
	}{
		{"2xxはInfoで出力されること", http.StatusOK, zapcore.InfoLevel},
		{"4xxはWarnで出力されること", http.StatusTooManyRequests, zapcore.WarnLevel},
		{"5xxはErrorで出力されること", http.StatusInternalServerError, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			router := gin.New()
			router.Use(RequestID(), AccessLog(zap.New(core)))
			router.GET("/gateway/fitness-api/search", func(c *gin.Context) {
				c.Status(tt.status)
			})

			req := httptest.NewRequest(http.MethodGet, "/gateway/fitness-api/search?query=apple", nil)
			req.Header.Set(HeaderRequestID, "req-1")
			router.ServeHTTP(httptest.NewRecorder(), req)

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("ログ件数 = %d, want 1", len(entries))
			}
			e := entries[0]
			if e.Level != tt.wantLevel {
				t.Errorf("Level = %v, want %v", e.Level, tt.wantLevel)
			}
			fields := e.ContextMap()
			if fields["path"] != "/gateway/fitness-api/search" {
				t.Errorf("path = %v", fields["path"])
			}
			if fields["status"] != int64(tt.status) {
				t.Errorf("status = %v, want %d", fields["status"], tt.status)
			}
			if fields["request_id"] != "req-1" {
				t.Errorf("request_id = %v, want %q", fields["request_id"], "req-1")
			}
		})
	}
}
