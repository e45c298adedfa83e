package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fittracker/fitgate/internal/config"
	"github.com/fittracker/fitgate/pkg/middleware"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "動作確認用のBearerトークンを発行する",
		Long: `設定の auth.secret で署名したHS256トークンを標準出力に書き出します。
発行したトークンは Authorization: Bearer <token> としてゲートウェイに渡せます。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--subject を指定してください")
			}

			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}

			token, err := middleware.GenerateJWT(cfg.Auth.Secret, subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "トークンの sub クレーム（利用者の識別子）")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "トークンの有効期間")

	return cmd
}
