package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fittracker/fitgate/internal/registry"
	"github.com/fittracker/fitgate/pkg/httpclient"
)

// Kind は転送失敗の種類。
type Kind int

const (
	// KindUnknownService は論理サービス名が登録されていないことを表す。
	KindUnknownService Kind = iota + 1
	// KindUpstream は外部サービスとの通信（接続・タイムアウト・読み取り）に失敗したことを表す。
	KindUpstream
)

// String は Kind の名前を返す。
func (k Kind) String() string {
	switch k {
	case KindUnknownService:
		return "unknown_service"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error は転送失敗を表すエラー。
// Err には内部の詳細が含まれるため、呼び出し元にはそのまま返さずログにのみ出力すること。
type Error struct {
	// Kind は失敗の種類。
	Kind Kind
	// Service はリクエストされた論理サービス名。
	Service string
	// Err は原因となったエラー。
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("転送に失敗: kind=%s, service=%s: %v", e.Kind, e.Service, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf は err に含まれる Error の種類を返す。Error を含まない場合は0を返す。
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// Resolver は論理サービス名を ServiceDescriptor に解決する。
type Resolver interface {
	Resolve(name string) (registry.ServiceDescriptor, error)
}

// Request は転送するリクエスト。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Service は論理サービス名。
	Service string
	// Path はサービスのベースURL以降のパス。
	// エスケープされたままの形で受け取り、デコードせずに転送先URLに連結する。
	Path string
	// Query はクエリパラメータ（出現順・重複を保持）。
	Query []QueryParam
	// Header は呼び出し元から受け取ったヘッダー。転送前に機密ヘッダーを除去する。
	Header http.Header
	// Body はリクエストボディ。nil の場合はボディなしで転送する。
	Body []byte
}

// Response は外部サービスのレスポンス。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header はホップバイホップヘッダーを除いたレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// Forwarder は外部サービスへのリクエスト転送を行う。
type Forwarder struct {
	// resolver は論理サービス名の解決に使用する。
	resolver Resolver
	// client は外部サービス呼び出しに使用するHTTPクライアント。
	client *httpclient.Client
	// logger は転送結果の記録に使用する。
	logger *zap.Logger
}

// New は新しい Forwarder を生成する。
func New(resolver Resolver, client *httpclient.Client, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{resolver: resolver, client: client, logger: logger}
}

// Forward は req を論理サービスに転送し、外部サービスのレスポンスを返す。
//
// サービス名が未登録の場合は通信を行わずに KindUnknownService のエラーを返す。
// 外部サービスが非2xxを返した場合もエラーにはせず、そのまま Response として返す。
func (f *Forwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	desc, err := f.resolver.Resolve(req.Service)
	if err != nil {
		return nil, &Error{Kind: KindUnknownService, Service: req.Service, Err: err}
	}

	target := BuildURL(desc.BaseURL, req.Path, req.Query)
	header := SanitizeRequestHeader(req.Header, desc.CredentialHeader)
	header.Set(desc.CredentialHeader, desc.CredentialValue)

	start := time.Now()
	resp, err := f.client.Do(ctx, req.Method, target, header, req.Body)
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Service: desc.Name, Err: err}
	}

	f.logger.Debug("外部サービスへ転送",
		zap.String("service", desc.Name),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", httpclient.RequestIDFrom(ctx)),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     SanitizeResponseHeader(resp.Header),
		Body:       resp.Body,
	}, nil
}
