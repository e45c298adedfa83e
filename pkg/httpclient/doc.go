// Package httpclient はゲートウェイから外部サービスへのHTTP通信を行うクライアントを提供する。
//
// リクエストとレスポンスのボディをバイト列のまま扱い、内容の解釈や変換は行わない。
// タイムアウトと呼び出し元のコンテキストの両方で通信時間を制限し、
// コンテキストに設定されたリクエストIDを転送先に伝播する。
package httpclient
