// Package ratelimit はクライアント単位の固定ウィンドウ方式レート制限を提供する。
//
// カウンタの保持は Store インターフェースに分離しており、単一プロセス用の
// MemoryStore と、複数インスタンスで状態を共有する RedisStore を切り替えられる。
// どちらの実装もキー単位の「読み取り・比較・加算」を不可分に行う。
package ratelimit
