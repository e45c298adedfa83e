package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout は外部サービス呼び出しの既定のタイムアウト。
const DefaultTimeout = 30 * time.Second

// DefaultMaxResponseBytes はレスポンスボディとして読み取る最大バイト数の既定値。
const DefaultMaxResponseBytes int64 = 32 << 20

// HeaderRequestID はリクエストIDを伝播するためのHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// ErrResponseTooLarge はレスポンスボディが上限を超えたことを表す。
var ErrResponseTooLarge = errors.New("レスポンスボディが上限を超えました")

// Client は外部サービス呼び出し用のHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// maxResponseBytes はレスポンスボディとして読み取る最大バイト数。
	maxResponseBytes int64
}

// Option は Client の設定を変更する。
type Option func(*Client)

// WithTimeout は1回の呼び出し全体のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithTransport は使用する http.RoundTripper を差し替える。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = rt }
}

// WithMaxResponseBytes はレスポンスボディの上限を設定する。
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// New は新しいHTTPクライアントを生成する。
// リダイレクトは追跡せず、3xxレスポンスをそのまま呼び出し元に返す。
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response は外部サービスから受け取ったレスポンス。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// Do は指定URLにリクエストを送信し、レスポンスを読み取って返す。
// 非2xxのステータスはエラーとして扱わない。
// body が nil の場合はボディなしで送信する。
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	if header != nil {
		req.Header = header.Clone()
	}

	// コンテキストからリクエストIDを伝播する
	if id := RequestIDFrom(ctx); id != "" {
		req.Header.Set(HeaderRequestID, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}
	if int64(len(respBody)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: limit=%d", ErrResponseTooLarge, c.maxResponseBytes)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Timeout は設定されているタイムアウトを返す。
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// WithRequestID はコンテキストにリクエストIDを設定する。
// 外部サービス呼び出し時にリクエストIDを伝播するために使用する。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// RequestIDFrom はコンテキストに設定されたリクエストIDを返す。
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
