package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultRedisPrefix は RedisStore のキー接頭辞の既定値。
const defaultRedisPrefix = "fitgate:ratelimit:"

// fixedWindowScript はカウンタの加算と初回の有効期限設定を1回の往復で不可分に行う。
// 返り値は {加算後のカウント, 残り有効期限(ミリ秒)}。
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore はRedisでウィンドウを保持する Store 実装。
// 複数のゲートウェイインスタンスでレート制限の状態を共有する場合に使用する。
// ウィンドウの終了はキーの有効期限で表すため、不要なキーはRedisが削除する。
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// RedisOption は RedisStore の設定を変更する。
type RedisOption func(*RedisStore)

// WithKeyPrefix はRedisキーの接頭辞を設定する。
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisClock は現在時刻の取得関数を差し替える。
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore は新しい RedisStore を生成する。
func NewRedisStore(client redis.Scripter, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit は Store を実装する。
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (Window, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}

	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key}, ms).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("Redisスクリプトの実行に失敗: key=%s: %w", key, err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("Redisスクリプトの応答が不正です: key=%s, len=%d", key, len(res))
	}

	ttl := time.Duration(res[1]) * time.Millisecond
	elapsed := window - ttl
	if elapsed < 0 {
		elapsed = 0
	}
	return Window{Count: res[0], Start: s.now().Add(-elapsed)}, nil
}
