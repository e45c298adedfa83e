// Package observability はゲートウェイのログ出力基盤を提供する。
package observability
