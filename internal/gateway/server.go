package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fittracker/fitgate/internal/forwarder"
	"github.com/fittracker/fitgate/internal/ratelimit"
	"github.com/fittracker/fitgate/internal/registry"
	"github.com/fittracker/fitgate/pkg/middleware"
)

// contextKeyService はGinコンテキストに解決済みの ServiceDescriptor を格納するキー。
const contextKeyService = "service"

// defaultMaxBodyBytes はリクエストボディの上限の既定値。
const defaultMaxBodyBytes int64 = 10 << 20

// Options は Server の構成要素と設定。
type Options struct {
	// Port はリッスンポート。
	Port int
	// Prefix は転送ルートの接頭辞（例: "/gateway"）。
	Prefix string
	// Registry は転送可能なサービスの一覧。
	Registry *registry.Registry
	// Limiter はクライアント単位のレート制限器。
	Limiter *ratelimit.Limiter
	// KeyFunc はレート制限のクライアントキーを求める関数。
	KeyFunc middleware.KeyFunc
	// Authenticator はBearerトークンの検証器。
	Authenticator *middleware.TokenAuthenticator
	// AuthMode は認証失敗時の扱い。
	AuthMode middleware.AuthMode
	// Forwarder は外部サービスへの転送を行う。
	Forwarder *forwarder.Forwarder
	// MaxBodyBytes はリクエストボディの上限バイト数。
	MaxBodyBytes int64
	// MaxInFlight は同時に転送するリクエスト数の上限。0の場合は制限しない。
	MaxInFlight int
	// AcquireTimeout は同時転送数の枠が空くまで待つ時間。
	AcquireTimeout time.Duration
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// ReadTimeout, WriteTimeout, IdleTimeout, ShutdownTimeout はHTTPサーバーのタイムアウト。
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Logger はログ出力先。
	Logger *zap.Logger
}

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// opts はサーバーの構成要素と設定。
	opts Options
	// logger はログ出力先。
	logger *zap.Logger
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(opts Options) (*Server, error) {
	if opts.Registry == nil || opts.Limiter == nil || opts.Authenticator == nil || opts.Forwarder == nil {
		return nil, errors.New("レジストリ・レート制限器・認証器・転送器はすべて必須です")
	}
	if !strings.HasPrefix(opts.Prefix, "/") || opts.Prefix == "/" {
		return nil, fmt.Errorf("接頭辞は \"/\" で始まるパスである必要があります: %q", opts.Prefix)
	}
	opts.Prefix = strings.TrimRight(opts.Prefix, "/")
	if opts.AuthMode == "" {
		opts.AuthMode = middleware.AuthRequired
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = middleware.ClientKey(false)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	router := gin.New()
	// エスケープされたパスでルーティングし、%2F を含むセグメントを分割しない。
	router.UseRawPath = true
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(opts.Logger))
	router.Use(middleware.AccessLog(opts.Logger))
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound, "Not found")
	})

	s := &Server{
		router: router,
		opts:   opts,
		logger: opts.Logger,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctx がキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ゲートウェイを起動します",
			zap.String("addr", srv.Addr),
			zap.String("prefix", s.opts.Prefix),
			zap.String("auth_mode", string(s.opts.AuthMode)),
			zap.Strings("services", s.opts.Registry.Names()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("ゲートウェイを停止します")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はルーティングを設定する。
//
// 接頭辞配下のすべてのルートにレート制限を適用する。ヘルスチェックは認証しない。
// 転送ルートではサービス名の検証を認証より先に行い、未登録のサービスは
// 認証状態にかかわらず400を返す。
func (s *Server) setupRoutes() {
	gw := s.router.Group(s.opts.Prefix)
	gw.Use(middleware.RateLimit(admitter(s.opts.Limiter), s.opts.KeyFunc, s.logger))
	{
		// ヘルスチェック
		gw.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		chain := []gin.HandlerFunc{
			s.resolveService(),
			middleware.JWTAuth(s.opts.Authenticator, s.opts.AuthMode, s.logger),
			middleware.Concurrency(s.opts.MaxInFlight, s.opts.AcquireTimeout),
			s.handleForward(),
		}
		gw.Any("/:service", chain...)
		gw.Any("/:service/*path", chain...)
	}
}

// admitter は Limiter の判定結果をレート制限ミドルウェアの Quota に変換する。
func admitter(l *ratelimit.Limiter) middleware.Admitter {
	return middleware.AdmitterFunc(func(ctx context.Context, clientKey string) (middleware.Quota, error) {
		d, err := l.Admit(ctx, clientKey)
		if err != nil {
			return middleware.Quota{}, err
		}
		return middleware.Quota{
			Allowed:    d.Allowed,
			Limit:      d.Limit,
			Count:      d.Count,
			Remaining:  d.Remaining,
			ResetAt:    d.ResetAt,
			RetryAfter: d.RetryAfter(time.Now()),
		}, nil
	})
}

// resolveService はパスのサービス名を検証するハンドラを返す。
// 登録済みであれば ServiceDescriptor をコンテキストに設定する。
func (s *Server) resolveService() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("service")
		desc, err := s.opts.Registry.Resolve(name)
		if err != nil {
			s.abort(c, kindUnknownService, msgInvalidServicePrefix+name, err)
			return
		}
		c.Set(contextKeyService, desc)
		c.Next()
	}
}

// handleForward はリクエストを外部サービスに転送し、レスポンスをそのまま返すハンドラを返す。
func (s *Server) handleForward() gin.HandlerFunc {
	return func(c *gin.Context) {
		desc, ok := c.MustGet(contextKeyService).(registry.ServiceDescriptor)
		if !ok {
			s.abort(c, kindInternal, msgInternalError, errors.New("サービス情報がコンテキストにありません"))
			return
		}

		body, err := s.readBody(c)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.abort(c, kindBodyTooLarge, msgBodyTooLarge, err)
				return
			}
			s.abort(c, kindBadRequest, msgMalformedRequest, err)
			return
		}

		resp, err := s.opts.Forwarder.Forward(c.Request.Context(), forwarder.Request{
			Method:  c.Request.Method,
			Service: desc.Name,
			Path:    s.restOfPath(c.Request.URL),
			Query:   forwarder.ParseQuery(c.Request.URL.RawQuery),
			Header:  c.Request.Header,
			Body:    body,
		})
		if err != nil {
			s.abortForwardError(c, c.Param("service"), err)
			return
		}

		writeResponse(c, resp)
	}
}

// restOfPath は "<prefix>/<service>/" に続くパスをエスケープされたままの形で返す。
// デコード済みのパスを使うと %3F や %23 や %2F が区切り文字として転送先URLに現れるため、
// URL.EscapedPath からセグメント単位で切り出す。
func (s *Server) restOfPath(u *url.URL) string {
	p := strings.TrimPrefix(u.EscapedPath(), "/")
	depth := strings.Count(s.opts.Prefix, "/") + 1
	for range depth {
		_, after, found := strings.Cut(p, "/")
		if !found {
			return ""
		}
		p = after
	}
	return p
}

// readBody はリクエストボディを上限付きで読み取る。ボディが無い場合は nil を返す。
func (s *Server) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの読み取りに失敗: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

// writeResponse は外部サービスのレスポンスをそのまま呼び出し元に書き出す。
// ゲートウェイが付与したリクエストIDは残し、Content-Length は書き出すボディから再計算させる。
func writeResponse(c *gin.Context, resp *forwarder.Response) {
	header := c.Writer.Header()
	for k, vv := range resp.Header {
		if k == "Content-Length" || k == middleware.HeaderRequestID {
			continue
		}
		header[k] = append([]string(nil), vv...)
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if len(resp.Body) > 0 && c.Request.Method != http.MethodHead {
		_, _ = c.Writer.Write(resp.Body)
	}
}
