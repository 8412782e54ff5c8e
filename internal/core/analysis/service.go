package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
	"github.com/VolodymyrStetsenko/rukh/internal/core/synthesis"
)

// Archiver は終端ジョブを永続化する外部コラボレータの契約。
// 失敗してもジョブの終端状態には影響しない（ログのみ）。
type Archiver interface {
	ArchiveJob(ctx context.Context, job *Job, findings []*finding.Finding, artifacts []*synthesis.TestArtifact) error
}

// ArchiveReader はアーカイブ済みジョブの読み出しの契約
type ArchiveReader interface {
	ListArchivedJobs(ctx context.Context, limit int) ([]*Job, error)
}

// StatusCache は終端スナップショットのキャッシュの契約。
// Getはミス時に (nil, nil) を返す。
type StatusCache interface {
	GetStatus(ctx context.Context, jobID uuid.UUID) (*StatusSnapshot, error)
	SetStatus(ctx context.Context, snap StatusSnapshot) error
}

// ExportedArtifact は外部コラボレータで実体化済みのテスト成果物
type ExportedArtifact struct {
	*synthesis.TestArtifact
	Content string `json:"content,omitempty"`
}

// Service は解析ジョブのライフサイクル全体を提供するアプリケーションサービスです。
// 投入・キャンセル・状態参照・検出結果/成果物の取得を担い、
// ジョブ毎のディスパッチは専用goroutineで非同期に実行される。
type Service struct {
	store      Store
	dispatcher *Dispatcher
	tracker    *Tracker
	archiver   Archiver
	history    ArchiveReader
	cache      StatusCache
	generator  synthesis.ContentGenerator
	logger     *slog.Logger

	// runCtx は全ジョブ実行の親コンテキスト。Closeで全ジョブが停止する。
	runCtx    context.Context
	runCancel context.CancelFunc
}

// ServiceOption はServiceの構成オプション
type ServiceOption func(*Service)

// WithArchiver は終端ジョブの永続化先を設定する
func WithArchiver(a Archiver) ServiceOption {
	return func(s *Service) { s.archiver = a }
}

// WithArchiveReader はアーカイブ済みジョブの読み出し元を設定する
func WithArchiveReader(r ArchiveReader) ServiceOption {
	return func(s *Service) { s.history = r }
}

// WithStatusCache は終端スナップショットのキャッシュを設定する
func WithStatusCache(c StatusCache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithContentGenerator は成果物エクスポート時のコンテンツ生成コラボレータを設定する
func WithContentGenerator(g synthesis.ContentGenerator) ServiceOption {
	return func(s *Service) { s.generator = g }
}

// WithServiceLogger はロガーを差し替える
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService は新しいServiceを作成します
func NewService(store Store, dispatcher *Dispatcher, tracker *Tracker, opts ...ServiceOption) *Service {
	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		tracker:    tracker,
		logger:     slog.Default(),
		runCtx:     runCtx,
		runCancel:  runCancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close は実行中の全ジョブにキャンセルを伝播する
func (s *Service) Close() {
	s.runCancel()
}

// Submit はジョブを受理し、初期スナップショットを返します。
// フェーズグラフが構築できない設定はConfigErrorで拒否され、何も開始されない。
// 受理されたジョブのディスパッチは専用goroutineで非同期に進む。
func (s *Service) Submit(ctx context.Context, artifactRef string, opts JobOptions) (StatusSnapshot, error) {
	if artifactRef == "" {
		return StatusSnapshot{}, NewConfigError("artifact reference is required")
	}

	phases, err := Plan(opts)
	if err != nil {
		return StatusSnapshot{}, err
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New(),
		ArtifactRef: artifactRef,
		Options:     opts.normalized(),
		Status:      JobQueued,
		Phases:      phases,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	rec := NewJobRecord(job)
	if err := s.store.Create(ctx, rec); err != nil {
		return StatusSnapshot{}, fmt.Errorf("failed to create job record: %w", err)
	}
	s.tracker.Register(job)

	runCtx, cancel := context.WithCancelCause(s.runCtx)
	rec.SetCancel(cancel)

	s.logger.Info("ジョブを受理しました",
		"job_id", job.ID, "artifact", artifactRef, "priority", opts.Priority)

	go func() {
		defer cancel(nil)
		s.dispatcher.Run(runCtx, rec)
		s.afterTerminal(rec)
	}()

	snap, err := s.tracker.Snapshot(job.ID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return snap, nil
}

// afterTerminal は終端後の後処理（アーカイブとキャッシュ）を行う。
// いずれの失敗もジョブの結果には影響させない。
func (s *Service) afterTerminal(rec *JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.archiver != nil {
		if err := s.archiver.ArchiveJob(ctx, rec.Job, rec.Findings.List(), rec.Artifacts()); err != nil {
			s.logger.Error("終端ジョブのアーカイブに失敗しました",
				"job_id", rec.Job.ID, "error", err)
		}
	}

	if s.cache != nil {
		snap, err := s.tracker.Snapshot(rec.Job.ID)
		if err == nil {
			if err := s.cache.SetStatus(ctx, snap); err != nil {
				s.logger.Warn("終端スナップショットのキャッシュに失敗しました",
					"job_id", rec.Job.ID, "error", err)
			}
		}
	}
}

// Cancel は実行中のジョブに明示的なキャンセルを要求します
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID) error {
	rec, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	snap, err := s.tracker.Snapshot(jobID)
	if err != nil {
		return err
	}
	if snap.Status.Terminal() {
		return ErrJobTerminal
	}

	rec.Cancel()
	s.logger.Info("ジョブのキャンセルを要求しました", "job_id", jobID)
	return nil
}

// Status は現在のスナップショットを返します（プル型）。
// トラッカーに無い場合は終端キャッシュへフォールバックする。
func (s *Service) Status(ctx context.Context, jobID uuid.UUID) (StatusSnapshot, error) {
	snap, err := s.tracker.Snapshot(jobID)
	if err == nil {
		return snap, nil
	}

	if s.cache != nil {
		cached, cerr := s.cache.GetStatus(ctx, jobID)
		if cerr != nil {
			s.logger.Warn("ステータスキャッシュの参照に失敗しました",
				"job_id", jobID, "error", cerr)
		} else if cached != nil {
			return *cached, nil
		}
	}

	return StatusSnapshot{}, err
}

// Watch はスナップショットのライブストリームを返します（プッシュ型）。
// ストリームはジョブの終端で閉じられる。
func (s *Service) Watch(ctx context.Context, jobID uuid.UUID) (<-chan StatusSnapshot, error) {
	return s.tracker.Subscribe(ctx, jobID)
}

// Findings は確定済みの検出結果リストを返します。
// ジョブが未終端の間はNotReadyErrorを返す。
func (s *Service) Findings(ctx context.Context, jobID uuid.UUID) ([]*finding.Finding, error) {
	rec, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	snap, err := s.tracker.Snapshot(jobID)
	if err != nil {
		return nil, err
	}
	if !snap.Status.Terminal() {
		return nil, &NotReadyError{JobID: jobID, Status: snap.Status}
	}

	return rec.Findings.List(), nil
}

// Conflicts は集約時に記録された深刻度の矛盾リストを返します
func (s *Service) Conflicts(ctx context.Context, jobID uuid.UUID) ([]finding.SeverityConflict, error) {
	rec, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return rec.Findings.Conflicts(), nil
}

// Artifacts はテスト成果物の記述子リストを返します。
// コンテンツ生成コラボレータが設定されていれば内容も実体化する。
// 検出結果と同様、ジョブが未終端の間はNotReadyErrorを返す。
func (s *Service) Artifacts(ctx context.Context, jobID uuid.UUID) ([]*ExportedArtifact, error) {
	rec, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	snap, err := s.tracker.Snapshot(jobID)
	if err != nil {
		return nil, err
	}
	if !snap.Status.Terminal() {
		return nil, &NotReadyError{JobID: jobID, Status: snap.Status}
	}

	findings := rec.Findings.List()
	byID := make(map[string]*finding.Finding, len(findings))
	for _, f := range findings {
		byID[f.ID] = f
	}

	artifacts := rec.Artifacts()
	out := make([]*ExportedArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		ea := &ExportedArtifact{TestArtifact: a}
		if s.generator != nil {
			content, gerr := s.generator.Generate(ctx, a, byID[a.FindingID])
			if gerr != nil {
				return nil, fmt.Errorf("failed to generate test content for %s: %w", a.ID, gerr)
			}
			ea.Content = content
		}
		out = append(out, ea)
	}

	return out, nil
}

// History はアーカイブ済みジョブを新しい順で返します。
// アーカイブが構成されていない場合はErrArchiveDisabledを返す。
func (s *Service) History(ctx context.Context, limit int) ([]*Job, error) {
	if s.history == nil {
		return nil, ErrArchiveDisabled
	}
	return s.history.ListArchivedJobs(ctx, limit)
}

// Stats はステータス別のジョブ件数を返します
func (s *Service) Stats(ctx context.Context) (map[JobStatus]int, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := make(map[JobStatus]int)
	for _, rec := range recs {
		snap, err := s.tracker.Snapshot(rec.Job.ID)
		if err != nil {
			continue
		}
		stats[snap.Status]++
	}
	return stats, nil
}
