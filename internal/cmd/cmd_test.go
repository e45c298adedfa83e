package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fittracker/fitgate/internal/config"
	"github.com/fittracker/fitgate/internal/ratelimit"
	"github.com/fittracker/fitgate/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testConfigYAML = `
auth:
  secret: cli-secret
services:
  - name: fitness-api
    base_url: https://api.example.com
    credential_header: X-Api-Key
    credential_value: cli-credential
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fitgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// runCommand はルートコマンドを引数付きで実行し、標準出力の内容を返す。
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Run("設定の秘密鍵で検証できるトークンを出力すること", func(t *testing.T) {
		path := writeConfig(t, testConfigYAML)

		out, err := runCommand(t, "--config", path, "token", "--subject", "athlete@example.com", "--ttl", "10m")
		require.NoError(t, err)

		auth, err := middleware.NewTokenAuthenticator("cli-secret")
		require.NoError(t, err)
		identity, err := auth.Authenticate("Bearer " + strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, "athlete@example.com", identity.Subject)
	})

	t.Run("subjectが未指定の場合はエラーになること", func(t *testing.T) {
		path := writeConfig(t, testConfigYAML)

		_, err := runCommand(t, "--config", path, "token")
		assert.Error(t, err)
	})

	t.Run("設定が不正な場合はエラーになること", func(t *testing.T) {
		path := writeConfig(t, "auth:\n  secret: \"\"\n")

		_, err := runCommand(t, "--config", path, "token", "--subject", "u1")
		assert.Error(t, err)
	})
}

func TestConfigCommand(t *testing.T) {
	t.Run("秘匿値を伏せてYAMLで出力すること", func(t *testing.T) {
		path := writeConfig(t, testConfigYAML)

		out, err := runCommand(t, "--config", path, "config")
		require.NoError(t, err)

		assert.Contains(t, out, "prefix: /gateway")
		assert.Contains(t, out, "capacity: 60")
		assert.Contains(t, out, "name: fitness-api")
		assert.NotContains(t, out, "cli-secret")
		assert.NotContains(t, out, "cli-credential")
	})

	t.Run("環境変数の上書きが反映されること", func(t *testing.T) {
		t.Setenv("FITGATE_RATELIMIT_CAPACITY", "5")
		path := writeConfig(t, testConfigYAML)

		out, err := runCommand(t, "--config", path, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "capacity: 5")
	})
}

func TestBuildServer(t *testing.T) {
	t.Run("メモリストアで組み立てたゲートウェイがヘルスチェックに応答すること", func(t *testing.T) {
		cfg, err := config.Load(writeConfig(t, testConfigYAML))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		server, cleanup, err := buildServer(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(cleanup)

		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gateway/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})
}

func TestBuildStore(t *testing.T) {
	t.Run("redisを指定した場合はRedisStoreを返すこと", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{}
		cfg.RateLimit.Store = config.StoreRedis
		cfg.RateLimit.Redis.Addr = mr.Addr()

		store, cleanup, err := buildStore(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(cleanup)

		_, ok := store.(*ratelimit.RedisStore)
		assert.True(t, ok)
	})

	t.Run("Redisに接続できない場合はエラーになること", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := &config.Config{}
		cfg.RateLimit.Store = config.StoreRedis
		cfg.RateLimit.Redis.Addr = addr

		_, _, err := buildStore(context.Background(), cfg, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("memoryを指定した場合はMemoryStoreを返すこと", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.RateLimit.Store = config.StoreMemory

		store, cleanup, err := buildStore(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(cleanup)

		_, ok := store.(*ratelimit.MemoryStore)
		assert.True(t, ok)
	})
}
