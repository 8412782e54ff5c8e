package analysis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer は購読チャネルのバッファ長。
// 溢れた場合は最古の未読スナップショットを捨てて最新を届ける。
const subscriberBuffer = 16

// Tracker はジョブ毎のステータススナップショットを保持・配信します。
// 書き込みはジョブ毎に単一の論理ライタ（ディスパッチャ）から行われ、
// 複数ジョブの更新は互いに干渉せず並行に行える。
// 読み取り（Snapshot / Subscribe）は任意個の並行呼び出しを許す。
type Tracker struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*trackedJob
	logger *slog.Logger
}

type trackedJob struct {
	snapshot StatusSnapshot
	subs     map[chan StatusSnapshot]struct{}
	closed   bool
}

// NewTracker は新しいTrackerを作成します
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		jobs:   make(map[uuid.UUID]*trackedJob),
		logger: logger,
	}
}

// Register はジョブ投入時に初期スナップショットを登録します
func (t *Tracker) Register(job *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobs[job.ID] = &trackedJob{
		snapshot: computeSnapshot(job, 0, 0, 0),
		subs:     make(map[chan StatusSnapshot]struct{}),
	}
}

// Update はフェーズ遷移毎にスナップショットを再計算して配信します。
// 進捗率は前回値を下回らない。終端状態に達した時点で全購読を閉じる。
func (t *Tracker) Update(job *Job, findingCount, artifactCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tj, ok := t.jobs[job.ID]
	if !ok {
		return
	}
	if tj.closed {
		// 終端後の遅延更新は破棄する
		return
	}

	snap := computeSnapshot(job, tj.snapshot.Progress, findingCount, artifactCount)
	tj.snapshot = snap

	for ch := range tj.subs {
		deliver(ch, snap)
	}

	if snap.Status.Terminal() {
		for ch := range tj.subs {
			close(ch)
		}
		tj.subs = make(map[chan StatusSnapshot]struct{})
		tj.closed = true
	}
}

// Snapshot は現在のスナップショットを返します（プル型インターフェース）
func (t *Tracker) Snapshot(jobID uuid.UUID) (StatusSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tj, ok := t.jobs[jobID]
	if !ok {
		return StatusSnapshot{}, ErrJobNotFound
	}
	return tj.snapshot, nil
}

// Subscribe はスナップショットのストリームを返します（プッシュ型インターフェース）。
// 新規購読者は以後の更新に先立って必ず現在のスナップショットを受信するため、
// 終端後に購読しても終端状態を取りこぼすことはない。
// ストリームはジョブの終端またはctxのキャンセルで閉じられる。
func (t *Tracker) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan StatusSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tj, ok := t.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}

	ch := make(chan StatusSnapshot, subscriberBuffer)
	ch <- tj.snapshot

	if tj.closed {
		close(ch)
		return ch, nil
	}

	tj.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, still := tj.subs[ch]; still {
			delete(tj.subs, ch)
			close(ch)
		}
	}()

	return ch, nil
}

// deliver はバッファ溢れ時に最古の未読分を捨てて最新を届ける
func deliver(ch chan StatusSnapshot, snap StatusSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// computeSnapshot はジョブの現在状態からスナップショットを構築する。
// prevProgress を下回る進捗率は返さない。
func computeSnapshot(job *Job, prevProgress, findingCount, artifactCount int) StatusSnapshot {
	required := job.RequiredPhases()
	terminal := 0
	var current PhaseName
	for _, p := range required {
		if p.State.Terminal() {
			terminal++
		} else if p.State == PhaseRunning && current == "" {
			current = p.Name
		}
	}

	progress := 0
	if len(required) > 0 {
		progress = terminal * 100 / len(required)
	}
	if job.Status.Terminal() {
		current = ""
		if job.Status == JobSucceeded {
			progress = 100
		}
	}
	if progress < prevProgress {
		progress = prevProgress
	}

	phases := make([]Phase, 0, len(job.Phases))
	for _, p := range job.Phases {
		phases = append(phases, *p)
	}

	return StatusSnapshot{
		JobID:         job.ID,
		Status:        job.Status,
		Progress:      progress,
		CurrentPhase:  current,
		FindingCount:  findingCount,
		ArtifactCount: artifactCount,
		FailReason:    job.FailReason,
		Phases:        phases,
		UpdatedAt:     time.Now().UTC(),
	}
}
