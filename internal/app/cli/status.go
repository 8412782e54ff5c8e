package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// parseJobIDArg は第一引数のジョブIDを解釈する
func parseJobIDArg(cmd *cli.Command) (uuid.UUID, error) {
	raw := cmd.Args().First()
	if raw == "" {
		return uuid.Nil, fmt.Errorf("ジョブIDを指定してください")
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("不正なジョブID: %s", raw)
	}
	return jobID, nil
}

// StatusAction はジョブ状態参照コマンドのアクション
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := parseJobIDArg(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	snap, err := appCtx.Container.AnalysisService.Status(ctx, jobID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// WatchAction はジョブ状態のライブ表示コマンドのアクション
func WatchAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := parseJobIDArg(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stream, err := appCtx.Container.AnalysisService.Watch(ctx, jobID)
	if err != nil {
		return err
	}

	for snap := range stream {
		fmt.Printf("[%3d%%] %-10s phase=%s findings=%d\n",
			snap.Progress, snap.Status, snap.CurrentPhase, snap.FindingCount)
	}
	return nil
}

// CancelAction はジョブキャンセルコマンドのアクション
func CancelAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := parseJobIDArg(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.AnalysisService.Cancel(ctx, jobID); err != nil {
		return fmt.Errorf("キャンセルに失敗: %w", err)
	}
	fmt.Println("キャンセルを要求しました")
	return nil
}
