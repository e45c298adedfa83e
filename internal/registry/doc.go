// Package registry はゲートウェイが転送可能な外部サービスの一覧を提供する。
//
// 論理サービス名からベースURLと認証情報ヘッダーを引く読み取り専用の表であり、
// 起動時に一度だけ構築され、以降は変更されない。
package registry
