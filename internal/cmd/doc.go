// Package cmd はfitgateのコマンドラインインターフェースを提供する。
//
// serve はゲートウェイを起動し、token は動作確認用のトークンを発行し、
// config は読み込んだ設定を秘密情報を伏せて表示する。
package cmd
