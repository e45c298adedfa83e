// Package middleware はゲートウェイのGinルーターで使用するミドルウェアを提供する。
//
// JWT認証トークンの検証、クライアント単位のレート制限、同時処理数の制限、
// リクエストIDの付与、アクセスログ、パニックリカバリ、CORS設定を含む。
// エラー応答はすべて {"error": "<message>"} 形式のJSONで返す。
package middleware
