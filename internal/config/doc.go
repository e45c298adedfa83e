// Package config はゲートウェイの起動時設定の読み込みと検証を提供する。
//
// 既定値、YAML設定ファイル、FITGATE_ 接頭辞の環境変数の順に上書きし、
// 起動前に必須項目を検証する。設定は起動後に変更されない。
package config
