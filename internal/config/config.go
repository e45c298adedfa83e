package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fittracker/fitgate/internal/registry"
	"github.com/fittracker/fitgate/pkg/middleware"
)

// Config はゲートウェイ全体の設定。
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Upstream  UpstreamConfig  `mapstructure:"upstream" yaml:"upstream"`
	CORS      CORSConfig      `mapstructure:"cors" yaml:"cors"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Services  []ServiceConfig `mapstructure:"services" yaml:"services"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxBodyBytes はリクエストボディの上限バイト数。
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// GatewayConfig は転送ルートの設定。
type GatewayConfig struct {
	// Prefix は転送ルートの接頭辞（例: "/gateway"）。
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// AuthConfig はトークン検証の設定。
type AuthConfig struct {
	// Secret はHS256署名の秘密鍵。
	Secret string `mapstructure:"secret" yaml:"secret"`
	// Mode は認証失敗時の扱い（required または optional）。
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// RateLimitConfig はレート制限の設定。
type RateLimitConfig struct {
	// Capacity はウィンドウあたりの上限リクエスト数。
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
	// Window は固定ウィンドウの長さ。
	Window time.Duration `mapstructure:"window" yaml:"window"`
	// Retention はアクセスのないクライアントの状態を保持する時間。0の場合はウィンドウの2倍。
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
	// JanitorInterval はメモリストアの定期削除の間隔。0の場合はHit時の遅延削除のみ。
	JanitorInterval time.Duration `mapstructure:"janitor_interval" yaml:"janitor_interval"`
	// TrustForwarded は X-Forwarded-For / X-Real-IP をクライアントキーに使うかどうか。
	TrustForwarded bool `mapstructure:"trust_forwarded" yaml:"trust_forwarded"`
	// Store はカウンタの保存先（memory または redis）。
	Store string      `mapstructure:"store" yaml:"store"`
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig はレート制限で共有ストアとして使うRedisの接続設定。
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// UpstreamConfig は外部サービス呼び出しの設定。
type UpstreamConfig struct {
	// Timeout は1回の転送全体のタイムアウト。
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MaxInFlight は同時に転送するリクエスト数の上限。0の場合は制限しない。
	MaxInFlight int `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	// AcquireTimeout は同時転送数の枠が空くまで待つ時間。
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	// MaxResponseBytes はレスポンスボディの上限バイト数。
	MaxResponseBytes int64 `mapstructure:"max_response_bytes" yaml:"max_response_bytes"`
}

// CORSConfig はCORSの設定。
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LoggingConfig はログ出力の設定。
type LoggingConfig struct {
	// Level は出力する最小レベル（debug, info, warn, error）。
	Level string `mapstructure:"level" yaml:"level"`
	// Format は出力形式（json または console）。
	Format string `mapstructure:"format" yaml:"format"`
}

// ServiceConfig は転送先サービス1件の設定。
type ServiceConfig struct {
	Name             string `mapstructure:"name" yaml:"name" json:"name"`
	BaseURL          string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	CredentialHeader string `mapstructure:"credential_header" yaml:"credential_header" json:"credential_header"`
	CredentialValue  string `mapstructure:"credential_value" yaml:"credential_value" json:"credential_value"`
	// CredentialEnv は認証情報を読み込む環境変数名。CredentialValue が空の場合に使う。
	CredentialEnv string `mapstructure:"credential_env" yaml:"credential_env" json:"credential_env"`
}

const (
	// StoreMemory はプロセス内メモリにカウンタを保持する。
	StoreMemory = "memory"
	// StoreRedis はRedisにカウンタを保持する。
	StoreRedis = "redis"
)

// Validate は設定値を検証する。問題がすべて含まれたエラーを返す。
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port が範囲外です: %d", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes は正の値である必要があります: %d", c.Server.MaxBodyBytes))
	}
	if !strings.HasPrefix(c.Gateway.Prefix, "/") || c.Gateway.Prefix == "/" {
		errs = append(errs, fmt.Errorf("gateway.prefix は \"/\" で始まるパスである必要があります: %q", c.Gateway.Prefix))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret が設定されていません"))
	}
	if _, err := middleware.ParseAuthMode(c.Auth.Mode); err != nil {
		errs = append(errs, fmt.Errorf("auth.mode: %w", err))
	}
	if c.RateLimit.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.capacity は1以上である必要があります: %d", c.RateLimit.Capacity))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.window は正の値である必要があります: %s", c.RateLimit.Window))
	}
	if c.RateLimit.Retention != 0 && c.RateLimit.Retention < c.RateLimit.Window {
		errs = append(errs, fmt.Errorf("ratelimit.retention はウィンドウ以上である必要があります: %s", c.RateLimit.Retention))
	}
	switch c.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RateLimit.Redis.Addr == "" {
			errs = append(errs, errors.New("ratelimit.redis.addr が設定されていません"))
		}
	default:
		errs = append(errs, fmt.Errorf("ratelimit.store が不正です: %q", c.RateLimit.Store))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout は正の値である必要があります: %s", c.Upstream.Timeout))
	}
	if c.Upstream.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("upstream.max_in_flight は0以上である必要があります: %d", c.Upstream.MaxInFlight))
	}
	if len(c.Services) == 0 {
		errs = append(errs, errors.New("services が1件も設定されていません"))
	} else if _, err := registry.New(c.Descriptors()...); err != nil {
		errs = append(errs, fmt.Errorf("services: %w", err))
	}

	return errors.Join(errs...)
}

// AuthMode は検証済みの認証モードを返す。
func (c *Config) AuthMode() middleware.AuthMode {
	m, err := middleware.ParseAuthMode(c.Auth.Mode)
	if err != nil {
		return middleware.AuthRequired
	}
	return m
}

// Descriptors は services を ServiceDescriptor に変換する。
func (c *Config) Descriptors() []registry.ServiceDescriptor {
	out := make([]registry.ServiceDescriptor, 0, len(c.Services))
	for _, s := range c.Services {
		out = append(out, registry.ServiceDescriptor{
			Name:             s.Name,
			BaseURL:          s.BaseURL,
			CredentialHeader: s.CredentialHeader,
			CredentialValue:  s.CredentialValue,
		})
	}
	return out
}

// redactedValue は秘匿値の代わりに表示する文字列。
const redactedValue = "********"

// Redacted は秘匿値を伏せた設定の複製を返す。
func (c *Config) Redacted() *Config {
	out := *c
	out.Auth.Secret = redact(c.Auth.Secret)
	out.RateLimit.Redis.Password = redact(c.RateLimit.Redis.Password)
	out.CORS.AllowedOrigins = append([]string(nil), c.CORS.AllowedOrigins...)
	out.Services = make([]ServiceConfig, len(c.Services))
	for i, s := range c.Services {
		s.CredentialValue = redact(s.CredentialValue)
		out.Services[i] = s
	}
	return &out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}
