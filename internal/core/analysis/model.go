package analysis

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus はジョブ全体の状態
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal は終端状態かどうかを返す
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// PhaseState は個別フェーズの状態
type PhaseState string

const (
	PhasePending   PhaseState = "pending"
	PhaseReady     PhaseState = "ready"
	PhaseRunning   PhaseState = "running"
	PhaseSucceeded PhaseState = "succeeded"
	PhaseFailed    PhaseState = "failed"
	PhaseSkipped   PhaseState = "skipped"
)

// Terminal は終端状態かどうかを返す
func (s PhaseState) Terminal() bool {
	return s == PhaseSucceeded || s == PhaseFailed || s == PhaseSkipped
}

// PhaseName は解析フェーズの識別名。カタログは固定（planner.go参照）。
type PhaseName string

const (
	PhaseStatic      PhaseName = "static"
	PhaseBytecode    PhaseName = "bytecode"
	PhaseFuzz        PhaseName = "fuzz"
	PhaseSymbolic    PhaseName = "symbolic"
	PhaseAttackGraph PhaseName = "attack_graph"
)

// Priority はジョブの優先度
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Phase は1ジョブ内の1解析フェーズを表します。
// 所有ジョブのディスパッチャのみが状態を変更する。
type Phase struct {
	Name PhaseName `json:"name"`

	// DependsOn は先行して成功していなければならないフェーズ名の集合
	DependsOn []PhaseName `json:"depends_on,omitempty"`

	State      PhaseState `json:"state"`
	Critical   bool       `json:"critical"`
	Substitute bool       `json:"substitute,omitempty"` // 無効化された依存の代替no-op

	Retries    int        `json:"retries"`
	FailReason string     `json:"fail_reason,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// JobOptions はジョブ投入時の設定
type JobOptions struct {
	EnableFuzzing  bool     `json:"enable_fuzzing"`
	EnableSymbolic bool     `json:"enable_symbolic"`
	Priority       Priority `json:"priority"`
	TimeoutSeconds int      `json:"timeout_seconds"`

	// Phases を指定すると、既定の有効化規則の代わりに列挙された
	// フェーズのみを有効にする。カタログ外の名前はConfigError。
	Phases []PhaseName `json:"phases,omitempty"`

	// ReuseStaticRoles を立てると、fuzzフェーズはstaticフェーズの
	// ロール/権限注釈を再利用するため、staticへの依存が追加される。
	ReuseStaticRoles bool `json:"reuse_static_roles"`

	// SubstituteDisabledDeps を立てると、無効化されたフェーズに依存する
	// フェーズがある場合にno-op代替を挿入する。立てない場合はConfigError。
	SubstituteDisabledDeps bool `json:"substitute_disabled_deps"`

	// CriticalPhases に含まれるフェーズの失敗はジョブ全体を即座に失敗させる。
	// 省略時は static のみ。
	CriticalPhases []PhaseName `json:"critical_phases,omitempty"`

	// MaxConcurrency はジョブ内の同時実行フェーズ数の上限（省略時 2）
	MaxConcurrency int `json:"max_concurrency,omitempty"`

	// MaxRetries は一時的な失敗に対するフェーズ毎の再試行回数の上限（省略時 2）
	MaxRetries int `json:"max_retries,omitempty"`
}

// normalized は省略値を埋めたコピーを返す
func (o JobOptions) normalized() JobOptions {
	if o.Priority == "" {
		o.Priority = PriorityNormal
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 2
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.CriticalPhases == nil {
		o.CriticalPhases = []PhaseName{PhaseStatic}
	}
	return o
}

// Job は1件の解析ジョブを表します。
// 投入時に作成され、ディスパッチャとステータストラッカーのみが変更し、
// 終端状態に達すると不変になる。
type Job struct {
	ID          uuid.UUID  `json:"id"`
	ArtifactRef string     `json:"artifact_ref"`
	Options     JobOptions `json:"options"`
	Status      JobStatus  `json:"status"`

	// Phases はプランナが構築した依存グラフのノード集合。
	// 独立なフェーズ間の順序は規定しない。
	Phases []*Phase `json:"phases"`

	// FailReason は失敗/キャンセル時の理由（例: "job timeout"）
	FailReason string `json:"fail_reason,omitempty"`

	// PartialFailure は非クリティカルなフェーズ失敗を抱えたまま
	// 成功で終端したことを示す注釈
	PartialFailure bool `json:"partial_failure,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhaseByName は名前でフェーズを引く。見つからない場合はnil。
func (j *Job) PhaseByName(name PhaseName) *Phase {
	for _, p := range j.Phases {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// RequiredPhases は進捗計算の分母となるフェーズ（代替no-opを除く全フェーズ）を返す
func (j *Job) RequiredPhases() []*Phase {
	out := make([]*Phase, 0, len(j.Phases))
	for _, p := range j.Phases {
		if !p.Substitute {
			out = append(out, p)
		}
	}
	return out
}

// StatusSnapshot はジョブの現在状態の読み取り専用ビューです。
// フェーズ遷移毎に再計算され、任意個の購読者から並行に読まれる。
type StatusSnapshot struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`

	// Progress は 0..100 の進捗率。ジョブの生存期間中、単調非減少。
	Progress int `json:"progress"`

	// CurrentPhase は実行中フェーズのうち代表1つ。終端後は空。
	CurrentPhase PhaseName `json:"current_phase,omitempty"`

	FindingCount  int       `json:"finding_count"`
	ArtifactCount int       `json:"artifact_count"`
	FailReason    string    `json:"fail_reason,omitempty"`
	Phases        []Phase   `json:"phases"`
	UpdatedAt     time.Time `json:"updated_at"`
}
