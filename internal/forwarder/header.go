package forwarder

import (
	"net/http"
	"strings"
)

// sensitiveHeaders は呼び出し元から受け取っても転送しないヘッダー。
// ゲートウェイ自身の認証トークンやセッション情報が外部サービスに漏れるのを防ぐ。
var sensitiveHeaders = []string{
	"Authorization",
	"Cookie",
	"Host",
	"Content-Length",
}

// hopByHopHeaders は接続単位で意味を持ち、プロキシが転送してはならないヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SanitizeRequestHeader は転送用に機密ヘッダーとホップバイホップヘッダーを除いた複製を返す。
// ヘッダー名は大文字小文字を区別せずに照合する。extra に指定した名前も同様に除去する。
// 元の header は変更しない。
func SanitizeRequestHeader(header http.Header, extra ...string) http.Header {
	out := header.Clone()
	if out == nil {
		out = http.Header{}
	}
	drop := connectionHeaders(out)
	for _, names := range [][]string{sensitiveHeaders, hopByHopHeaders, extra} {
		for _, h := range names {
			drop[http.CanonicalHeaderKey(h)] = struct{}{}
		}
	}
	deleteHeaders(out, drop)
	return out
}

// SanitizeResponseHeader は呼び出し元に返すレスポンスヘッダーからホップバイホップヘッダーを除いた複製を返す。
func SanitizeResponseHeader(header http.Header) http.Header {
	out := header.Clone()
	if out == nil {
		out = http.Header{}
	}
	drop := connectionHeaders(out)
	for _, h := range hopByHopHeaders {
		drop[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	deleteHeaders(out, drop)
	return out
}

// connectionHeaders は Connection ヘッダーに列挙されたヘッダー名を正規化して返す。
// Connection ヘッダー自体のキーが正規化されていない場合も対象にする。
func connectionHeaders(h http.Header) map[string]struct{} {
	names := make(map[string]struct{})
	for k, vv := range h {
		if http.CanonicalHeaderKey(k) != "Connection" {
			continue
		}
		for _, v := range vv {
			for name := range strings.SplitSeq(v, ",") {
				if name = strings.TrimSpace(name); name != "" {
					names[http.CanonicalHeaderKey(name)] = struct{}{}
				}
			}
		}
	}
	return names
}

// deleteHeaders は正規化した名前が drop に含まれるキーをすべて削除する。
// http.Header.Del は正規化済みのキーしか削除しないため、キーを直接走査する。
func deleteHeaders(h http.Header, drop map[string]struct{}) {
	for k := range h {
		if _, ok := drop[http.CanonicalHeaderKey(k)]; ok {
			delete(h, k)
		}
	}
}
