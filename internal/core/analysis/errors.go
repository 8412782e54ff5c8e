package analysis

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ConfigError は不正または矛盾したフェーズ設定を表します。
// ディスパッチ開始前に検出され、ジョブは一切開始されない。
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid job configuration: %s", e.Reason)
}

// NewConfigError はConfigErrorを作成します
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError はエラーがConfigErrorかどうかを返す
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// NotReadyError はジョブが未終端のため検出結果をまだ取得できないことを表します
type NotReadyError struct {
	JobID  uuid.UUID
	Status JobStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job %s is not terminal yet (status=%s)", e.JobID, e.Status)
}

// IsNotReady はエラーがNotReadyErrorかどうかを返す
func IsNotReady(err error) bool {
	var ne *NotReadyError
	return errors.As(err, &ne)
}

// ErrJobNotFound は指定されたジョブが存在しない場合のエラー
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal は終端状態のジョブへの変更操作を表すエラー
var ErrJobTerminal = errors.New("job already terminal")

// ErrArchiveDisabled はアーカイブ未設定の構成で履歴参照が要求された場合のエラー
var ErrArchiveDisabled = errors.New("job archive is not enabled")

// ReasonJobTimeout はジョブ期限超過で失敗した場合のFailReason値
const ReasonJobTimeout = "job timeout"

// ReasonCancelled は明示的なキャンセルで終端した場合のFailReason値
const ReasonCancelled = "cancelled by request"
