package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/VolodymyrStetsenko/rukh/internal/app/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}

	app := &cli.Command{
		Name:  "rukh",
		Usage: "スマートコントラクト向けセキュリティ解析オーケストレータ",
		Commands: []*cli.Command{
			{
				Name:      "submit",
				Usage:     "解析ジョブを投入",
				ArgsUsage: "<artifact-ref>",
				Flags: []cli.Flag{
					envFlag,
					&cli.BoolFlag{
						Name:  "fuzzing",
						Usage: "ファジングフェーズを有効化",
					},
					&cli.BoolFlag{
						Name:  "symbolic",
						Usage: "シンボリック実行フェーズを有効化",
					},
					&cli.StringFlag{
						Name:  "priority",
						Usage: "ジョブ優先度 (low|normal|high)",
						Value: "normal",
					},
					&cli.IntFlag{
						Name:  "timeout",
						Usage: "ジョブ全体の期限（秒、0で無期限）",
					},
					&cli.IntFlag{
						Name:  "max-concurrency",
						Usage: "ジョブ内の同時実行フェーズ数上限",
					},
					&cli.BoolFlag{
						Name:  "reuse-static-roles",
						Usage: "ファジングで静的解析のロール注釈を再利用",
					},
					&cli.BoolFlag{
						Name:  "substitute-disabled-deps",
						Usage: "無効化された依存フェーズをno-opで代替",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "終端まで進捗を表示して待機",
					},
				},
				Action: appcli.SubmitAction,
			},
			{
				Name:      "status",
				Usage:     "ジョブの現在状態を表示",
				ArgsUsage: "<job-id>",
				Flags:     []cli.Flag{envFlag},
				Action:    appcli.StatusAction,
			},
			{
				Name:      "watch",
				Usage:     "ジョブの状態をライブ表示",
				ArgsUsage: "<job-id>",
				Flags:     []cli.Flag{envFlag},
				Action:    appcli.WatchAction,
			},
			{
				Name:      "cancel",
				Usage:     "実行中のジョブをキャンセル",
				ArgsUsage: "<job-id>",
				Flags:     []cli.Flag{envFlag},
				Action:    appcli.CancelAction,
			},
			{
				Name:      "findings",
				Usage:     "確定済みの検出結果を表示",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					envFlag,
					&cli.BoolFlag{
						Name:  "json",
						Usage: "JSON形式で出力",
					},
				},
				Action: appcli.FindingsAction,
			},
			{
				Name:      "artifacts",
				Usage:     "テスト成果物をエクスポート",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:  "out",
						Usage: "テストコードの書き出し先ディレクトリ",
					},
				},
				Action: appcli.ArtifactsAction,
			},
			{
				Name:  "serve",
				Usage: "HTTP APIサーバを起動",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:  "addr",
						Usage: "待ち受けアドレス（省略時は設定値）",
					},
				},
				Action: appcli.ServeAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
