package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix は設定を上書きする環境変数の接頭辞。
// 例: ratelimit.capacity は FITGATE_RATELIMIT_CAPACITY で上書きできる。
const EnvPrefix = "FITGATE"

// EnvConfigFile は設定ファイルのパスを指定する環境変数。
const EnvConfigFile = EnvPrefix + "_CONFIG"

// setDefaults は既定値を設定する。
// 環境変数による上書きは既定値が登録されたキーに対してのみ有効になる。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 10<<20)

	v.SetDefault("gateway.prefix", "/gateway")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.mode", "required")

	v.SetDefault("ratelimit.capacity", 60)
	v.SetDefault("ratelimit.window", "60s")
	v.SetDefault("ratelimit.retention", "0s")
	v.SetDefault("ratelimit.janitor_interval", "0s")
	v.SetDefault("ratelimit.trust_forwarded", false)
	v.SetDefault("ratelimit.store", StoreMemory)
	v.SetDefault("ratelimit.redis.addr", "")
	v.SetDefault("ratelimit.redis.password", "")
	v.SetDefault("ratelimit.redis.db", 0)
	v.SetDefault("ratelimit.redis.key_prefix", "fitgate:ratelimit:")

	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.max_in_flight", 0)
	v.SetDefault("upstream.acquire_timeout", "2s")
	v.SetDefault("upstream.max_response_bytes", 32<<20)

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("services", []map[string]any{})
}

// Load は設定を読み込み、検証済みの Config を返す。
//
// path が空の場合は FITGATE_CONFIG を参照し、それも空なら設定ファイルを読まない。
// services は設定ファイルのほか、FITGATE_SERVICES にJSON配列で指定することもできる。
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	return cfg, nil
}

// load は検証を行わずに設定を読み込む。
func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: path=%s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		jsonStringToServicesHook(),
	))); err != nil {
		return nil, fmt.Errorf("設定の変換に失敗: %w", err)
	}

	if err := resolveCredentials(cfg.Services, os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// jsonStringToServicesHook は環境変数で与えられたJSON文字列を []ServiceConfig に変換する。
func jsonStringToServicesHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf([]ServiceConfig{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != target {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []ServiceConfig{}, nil
		}
		var services []ServiceConfig
		if err := json.Unmarshal([]byte(raw), &services); err != nil {
			return nil, fmt.Errorf("services のJSON解析に失敗: %w", err)
		}
		return services, nil
	}
}

// resolveCredentials は credential_env が指定されたサービスの認証情報を環境変数から読み込む。
func resolveCredentials(services []ServiceConfig, lookup func(string) (string, bool)) error {
	var errs []error
	for i := range services {
		s := &services[i]
		if s.CredentialValue != "" || s.CredentialEnv == "" {
			continue
		}
		v, ok := lookup(s.CredentialEnv)
		if !ok || v == "" {
			errs = append(errs, fmt.Errorf("サービス %s の認証情報の環境変数 %s が設定されていません", s.Name, s.CredentialEnv))
			continue
		}
		s.CredentialValue = v
	}
	return errors.Join(errs...)
}
