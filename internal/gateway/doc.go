// Package gateway はゲートウェイのHTTPサーバーとリクエスト処理の流れを提供する。
//
// /<prefix>/<service>/<path> へのリクエストに対し、レート制限、サービス名の検証、
// トークン認証の順に検査を行い、通過したリクエストを外部サービスへ転送する。
// 外部サービスのレスポンスはステータス・ヘッダー・ボディを変換せずに返す。
// 失敗はすべて {"error": "<message>"} 形式のJSONに変換し、内部の詳細はログにのみ残す。
package gateway
