package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fittracker/fitgate/internal/config"
	"github.com/fittracker/fitgate/internal/forwarder"
	"github.com/fittracker/fitgate/internal/gateway"
	"github.com/fittracker/fitgate/internal/observability"
	"github.com/fittracker/fitgate/internal/ratelimit"
	"github.com/fittracker/fitgate/internal/registry"
	"github.com/fittracker/fitgate/pkg/httpclient"
	"github.com/fittracker/fitgate/pkg/middleware"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "ゲートウェイを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}

			logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

// serve は設定から各構成要素を組み立て、ctx がキャンセルされるまでゲートウェイを動かす。
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	server, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return server.Run(ctx)
}

// buildServer は設定からゲートウェイサーバーを組み立てる。
// 戻り値の cleanup は外部接続を閉じる。
func buildServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway.Server, func(), error) {
	reg, err := registry.New(cfg.Descriptors()...)
	if err != nil {
		return nil, nil, err
	}

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	limiter, err := ratelimit.New(store, cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	auth, err := middleware.NewTokenAuthenticator(cfg.Auth.Secret)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	client := httpclient.New(
		httpclient.WithTimeout(cfg.Upstream.Timeout),
		httpclient.WithMaxResponseBytes(cfg.Upstream.MaxResponseBytes),
	)

	server, err := gateway.NewServer(gateway.Options{
		Port:            cfg.Server.Port,
		Prefix:          cfg.Gateway.Prefix,
		Registry:        reg,
		Limiter:         limiter,
		KeyFunc:         middleware.ClientKey(cfg.RateLimit.TrustForwarded),
		Authenticator:   auth,
		AuthMode:        cfg.AuthMode(),
		Forwarder:       forwarder.New(reg, client, logger),
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		MaxInFlight:     cfg.Upstream.MaxInFlight,
		AcquireTimeout:  cfg.Upstream.AcquireTimeout,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return server, cleanup, nil
}

// buildStore は設定に応じたレート制限のカウンタストアを生成する。
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Store, func(), error) {
	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("Redisへの接続に失敗: addr=%s: %w", cfg.RateLimit.Redis.Addr, err)
		}
		logger.Info("レート制限にRedisを使用します", zap.String("addr", cfg.RateLimit.Redis.Addr))

		var opts []ratelimit.RedisOption
		if cfg.RateLimit.Redis.KeyPrefix != "" {
			opts = append(opts, ratelimit.WithKeyPrefix(cfg.RateLimit.Redis.KeyPrefix))
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Redis接続のクローズに失敗", zap.Error(err))
			}
		}
		return ratelimit.NewRedisStore(client, opts...), cleanup, nil

	case config.StoreMemory, "":
		var opts []ratelimit.MemoryOption
		if cfg.RateLimit.Retention > 0 {
			opts = append(opts, ratelimit.WithRetention(cfg.RateLimit.Retention))
		}
		store := ratelimit.NewMemoryStore(opts...)
		if cfg.RateLimit.JanitorInterval > 0 {
			store.StartJanitor(ctx, cfg.RateLimit.JanitorInterval)
		}
		return store, func() {}, nil

	default:
		return nil, nil, errors.New("不明なレート制限ストアです: " + cfg.RateLimit.Store)
	}
}
