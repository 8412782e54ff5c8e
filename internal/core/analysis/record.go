package analysis

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
	"github.com/VolodymyrStetsenko/rukh/internal/core/synthesis"
)

// JobRecord はジョブ1件分のランタイム状態の束です。
// Jobフィールドはディスパッチャのgoroutineのみが変更し、他のコンポーネントは
// Trackerのスナップショット経由で状態を読む。終端後のJobは不変。
type JobRecord struct {
	Job      *Job
	Findings *finding.Aggregator

	mu        sync.Mutex
	artifacts []*synthesis.TestArtifact
	cancel    context.CancelCauseFunc
}

// NewJobRecord は新しいJobRecordを作成します
func NewJobRecord(job *Job) *JobRecord {
	return &JobRecord{
		Job:      job,
		Findings: finding.NewAggregator(),
	}
}

// SetCancel はディスパッチ実行のキャンセル関数を登録する
func (r *JobRecord) SetCancel(cancel context.CancelCauseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = cancel
}

// Cancel は明示的なキャンセル要求を実行中のディスパッチへ伝える
func (r *JobRecord) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel(ErrCancelRequested)
	}
}

// SetArtifacts は導出済みテスト成果物を保存する
func (r *JobRecord) SetArtifacts(artifacts []*synthesis.TestArtifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = artifacts
}

// Artifacts は導出済みテスト成果物のリストを返す
func (r *JobRecord) Artifacts() []*synthesis.TestArtifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*synthesis.TestArtifact, len(r.artifacts))
	copy(out, r.artifacts)
	return out
}

// ArtifactCount は導出済みテスト成果物の件数を返す
func (r *JobRecord) ArtifactCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.artifacts)
}

// Store はライブなジョブ状態の保管場所のインターフェースです。
// 実装はジョブID毎の排他を保証し、別ジョブ間の並行アクセスを妨げないこと。
type Store interface {
	// Create は新規ジョブを登録する。重複IDはエラー。
	Create(ctx context.Context, rec *JobRecord) error

	// Get はジョブIDでレコードを引く。存在しなければErrJobNotFound。
	Get(ctx context.Context, id uuid.UUID) (*JobRecord, error)

	// List は全レコードを作成時刻順で返す
	List(ctx context.Context) ([]*JobRecord, error)
}
