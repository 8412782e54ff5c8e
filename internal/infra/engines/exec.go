package engines

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/VolodymyrStetsenko/rukh/internal/core/engine"
)

// exitTempFail は一時的な失敗を表す終了コード（sysexits EX_TEMPFAIL）。
// エンジンがこのコードで終了した場合のみtransientとして再試行対象にする。
const exitTempFail = 75

// ExecGateway はローカルプロセスとして解析エンジンを起動するゲートウェイです。
// コマンドは sh -c で実行され、{artifact} がアーティファクト参照に置換される。
// 期限超過はFailureTimeoutに、終了コードは型付き失敗に変換する。
type ExecGateway struct {
	command string
	format  string
	timeout time.Duration
}

// NewExecGateway は新しいExecGatewayを作成します
func NewExecGateway(command, format string, timeout time.Duration) *ExecGateway {
	if format == "" {
		format = FormatGeneric
	}
	return &ExecGateway{
		command: command,
		format:  format,
		timeout: timeout,
	}
}

// コンパイル時の型チェック
var _ engine.Gateway = (*ExecGateway)(nil)

// Execute はエンジンを起動し、標準出力を検出結果に変換します
func (g *ExecGateway) Execute(ctx context.Context, req engine.Request) (*engine.Result, error) {
	// リクエスト期限と自前の既定期限の早い方を採用する
	if g.timeout > 0 {
		own := time.Now().Add(g.timeout)
		if req.Deadline.IsZero() || own.Before(req.Deadline) {
			req.Deadline = own
		}
	}
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	command := strings.ReplaceAll(g.command, "{artifact}", req.ArtifactRef)
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return nil, engine.NewFailure(engine.FailureTimeout, req.Phase, "engine execution exceeded deadline", ctxErr)
	} else if ctxErr != nil {
		return nil, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case 1:
				// 多くの検出系エンジンは検出ありを非ゼロ終了で表すため、
				// 終了コード1は出力の解釈を試みる
			case exitTempFail:
				return nil, engine.NewFailure(engine.FailureTransient, req.Phase,
					strings.TrimSpace(stderr.String()), err)
			default:
				return nil, engine.NewFailure(engine.FailureFatal, req.Phase,
					strings.TrimSpace(stderr.String()), err)
			}
		} else {
			return nil, engine.NewFailure(engine.FailureTransient, req.Phase, "failed to start engine process", err)
		}
	}

	findings, perr := ParseOutput(g.format, req.Phase, stdout.Bytes())
	if perr != nil {
		return nil, engine.NewFailure(engine.FailureFatal, req.Phase, "failed to parse engine output", perr)
	}

	return &engine.Result{
		Findings:  findings,
		RawOutput: stdout.Bytes(),
	}, nil
}
