// Package forwarder は外部サービスへのリクエスト転送を提供する。
//
// 論理サービス名を registry で解決し、転送先URLの組み立て、
// 機密ヘッダーの除去とサービス固有の認証情報の付与を行ったうえで、
// 外部サービスのレスポンスを変換せずに呼び出し元へ返す。
package forwarder
