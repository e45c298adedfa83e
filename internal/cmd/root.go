package cmd

import (
	"github.com/spf13/cobra"
)

// rootOptions はすべてのサブコマンドに共通するフラグ。
type rootOptions struct {
	// configFile は設定ファイルのパス。空の場合は環境変数のみを使う。
	configFile string
}

// NewRootCommand はfitgateのルートコマンドを生成する。
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "fitgate",
		Short: "フィットネスアプリ向けの認証付きAPIゲートウェイ",
		Long: `fitgateはクライアントからのリクエストを認証・レート制限したうえで、
登録済みの外部サービスに認証情報を付与して転送するAPIゲートウェイです。

設定は --config で指定したYAMLファイルと FITGATE_ 接頭辞の環境変数から読み込みます。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "設定ファイルのパス（未指定時は FITGATE_CONFIG）")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newTokenCommand(opts))
	root.AddCommand(newConfigCommand(opts))

	return root
}

// Execute はルートコマンドを実行する。main から一度だけ呼び出す。
func Execute() error {
	return NewRootCommand().Execute()
}
