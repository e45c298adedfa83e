// fitgateのエントリポイント。
// クライアントからのリクエストを認証・レート制限し、登録済みの外部サービスへ転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"fmt"
	"os"

	"github.com/fittracker/fitgate/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fitgate: %v\n", err)
		os.Exit(1)
	}
}
