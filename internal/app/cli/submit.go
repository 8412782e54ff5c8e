package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/VolodymyrStetsenko/rukh/internal/core/analysis"
)

// SubmitAction は解析ジョブ投入コマンドのアクション
func SubmitAction(ctx context.Context, cmd *cli.Command) error {
	artifact := cmd.Args().First()
	if artifact == "" {
		return fmt.Errorf("解析対象のアーティファクト参照を指定してください")
	}

	opts := analysis.JobOptions{
		EnableFuzzing:          cmd.Bool("fuzzing"),
		EnableSymbolic:         cmd.Bool("symbolic"),
		Priority:               analysis.Priority(cmd.String("priority")),
		TimeoutSeconds:         int(cmd.Int("timeout")),
		ReuseStaticRoles:       cmd.Bool("reuse-static-roles"),
		SubstituteDisabledDeps: cmd.Bool("substitute-disabled-deps"),
		MaxConcurrency:         int(cmd.Int("max-concurrency")),
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc := appCtx.Container.AnalysisService

	snap, err := svc.Submit(ctx, artifact, opts)
	if err != nil {
		return fmt.Errorf("ジョブの投入に失敗: %w", err)
	}

	slog.Info("ジョブを投入しました", "job_id", snap.JobID, "status", snap.Status)
	fmt.Println(snap.JobID)

	if !cmd.Bool("wait") {
		return nil
	}

	// --wait 指定時は終端まで進捗を表示する
	stream, err := svc.Watch(ctx, snap.JobID)
	if err != nil {
		return err
	}
	for s := range stream {
		fmt.Printf("[%3d%%] %-10s %s\n", s.Progress, s.Status, s.CurrentPhase)
	}

	final, err := svc.Status(ctx, snap.JobID)
	if err != nil {
		return err
	}
	if final.Status != analysis.JobSucceeded {
		return fmt.Errorf("ジョブが %s で終了しました: %s", final.Status, final.FailReason)
	}
	fmt.Printf("完了: 検出 %d件 / テスト成果物 %d件\n", final.FindingCount, final.ArtifactCount)
	return nil
}
