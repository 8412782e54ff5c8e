package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// FindingsAction は確定済み検出結果の取得コマンドのアクション
func FindingsAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := parseJobIDArg(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	findings, err := appCtx.Container.AnalysisService.Findings(ctx, jobID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(findings)
	}

	if len(findings) == 0 {
		fmt.Println("検出結果はありません")
		return nil
	}
	for _, f := range findings {
		fmt.Printf("%s [%s/%s] %s (%s)\n",
			f.ID, f.Severity, f.Confidence, f.Title, f.Location.String())
	}
	return nil
}

// ArtifactsAction はテスト成果物エクスポートコマンドのアクション
func ArtifactsAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := parseJobIDArg(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	artifacts, err := appCtx.Container.AnalysisService.Artifacts(ctx, jobID)
	if err != nil {
		return err
	}

	outDir := cmd.String("out")
	for _, a := range artifacts {
		fmt.Printf("%s kind=%s finding=%s\n", a.ID, a.Kind, a.FindingID)
		if outDir == "" {
			continue
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
		}
		path := fmt.Sprintf("%s/%s.t.sol", outDir, a.ID)
		if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
			return fmt.Errorf("テストファイルの書き出しに失敗: %w", err)
		}
	}

	if outDir != "" {
		fmt.Printf("%d件のテストを %s に書き出しました\n", len(artifacts), outDir)
	}
	return nil
}
