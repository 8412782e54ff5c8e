// Package engine は外部解析エンジンとの境界契約を定義します。
// オーケストレータ本体はこのパッケージのインターフェースにのみ依存し、
// 個々のエンジンの呼び出し方式（プロセス起動・HTTP・メッセージング等）には
// 依存しません。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
)

// Request は1フェーズ分のエンジン呼び出し要求
type Request struct {
	JobID string

	// Phase は呼び出し対象のフェーズ名（static, bytecode など）
	Phase string

	// ArtifactRef は解析対象のコントラクト（ソースまたはバイトコード）への参照
	ArtifactRef string

	// Options はフェーズ固有のオプション。エンジン側でのみ解釈される。
	Options map[string]string

	// Deadline はこの呼び出しの絶対期限。ゼロ値の場合は期限なし。
	Deadline time.Time
}

// Result はエンジン呼び出しの成功結果
type Result struct {
	Findings []finding.RawFinding

	// RawOutput はエンジンが出力した生データ。中身は解釈しない。
	RawOutput []byte
}

// FailureKind はエンジン呼び出し失敗の分類
type FailureKind string

const (
	// FailureTimeout は期限超過。再試行の対象。
	FailureTimeout FailureKind = "timeout"
	// FailureTransient は一時的な失敗。再試行の対象。
	FailureTransient FailureKind = "transient"
	// FailureFatal は恒久的な失敗。再試行しない。
	FailureFatal FailureKind = "fatal"
)

// Failure はエンジン呼び出しの型付き失敗
type Failure struct {
	Kind    FailureKind
	Phase   string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("engine %s failure in phase %s: %s: %v", f.Kind, f.Phase, f.Message, f.Err)
	}
	return fmt.Sprintf("engine %s failure in phase %s: %s", f.Kind, f.Phase, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure は型付き失敗を作成します
func NewFailure(kind FailureKind, phase, message string, err error) *Failure {
	return &Failure{Kind: kind, Phase: phase, Message: message, Err: err}
}

// AsFailure はエラーをFailureとして解釈します。
// Failureでない場合はfatal扱いのFailureに包んで返す。
func AsFailure(phase string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFailure(FailureTimeout, phase, "deadline exceeded", err)
	}
	return NewFailure(FailureFatal, phase, "unclassified engine error", err)
}

// Retryable は再試行してよい失敗かどうかを返す
func (f *Failure) Retryable() bool {
	return f.Kind == FailureTimeout || f.Kind == FailureTransient
}

// Gateway は全解析エンジンが満たすべき統一呼び出し契約です。
// 実装はRequest.Deadlineを尊重し、超過をFailureTimeoutに変換する義務を負う。
// 検出結果の意味論には関与しない。
type Gateway interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// GatewayFunc は関数をGatewayとして使うためのアダプタ
type GatewayFunc func(ctx context.Context, req Request) (*Result, error)

func (fn GatewayFunc) Execute(ctx context.Context, req Request) (*Result, error) {
	return fn(ctx, req)
}

// Resolver はフェーズ名から担当Gatewayを引くためのインターフェース
type Resolver interface {
	Resolve(phase string) (Gateway, error)
}
