package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VolodymyrStetsenko/rukh/internal/core/engine"
	"github.com/VolodymyrStetsenko/rukh/internal/core/synthesis"
)

// ErrCancelRequested は明示的なキャンセル要求を表すコンテキスト原因
var ErrCancelRequested = errors.New("cancel requested")

// Dispatcher は1ジョブのフェーズグラフをqueuedから終端状態まで駆動します。
// 依存が全て満たされたフェーズをready化し、同時実行上限の範囲で
// エンジンゲートウェイを呼び出し、完了毎に状態遷移・検出結果のマージ・
// スナップショット更新を行う。自身のループはエンジン実行中ブロックせず、
// 完了通知チャネルで進行する。
type Dispatcher struct {
	engines engine.Resolver
	tracker *Tracker
	mapper  *synthesis.Mapper
	logger  *slog.Logger

	// globalSlots は全ジョブ横断の同時実行上限（任意）
	globalSlots chan struct{}
}

// DispatcherOption はDispatcherの構成オプション
type DispatcherOption func(*Dispatcher)

// WithGlobalConcurrency は全ジョブ横断の同時実行フェーズ数上限を設定する
func WithGlobalConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.globalSlots = make(chan struct{}, n)
		}
	}
}

// WithDispatcherLogger はロガーを差し替える
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher は新しいDispatcherを作成します
func NewDispatcher(engines engine.Resolver, tracker *Tracker, mapper *synthesis.Mapper, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		engines: engines,
		tracker: tracker,
		mapper:  mapper,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// phaseDone はエンジン呼び出し1回分の完了通知
type phaseDone struct {
	phase *Phase
	res   *engine.Result
	err   error
}

// Run はジョブを終端状態まで駆動します。呼び出し元のgoroutineを占有するため、
// 通常はジョブ毎に1つのgoroutineで実行する。
// 終端時には検出結果リストの確定とテスト成果物の導出まで済ませてから戻る。
func (d *Dispatcher) Run(ctx context.Context, rec *JobRecord) {
	job := rec.Job

	if job.Options.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.Options.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	job.Status = JobRunning
	d.touch(job, rec)

	d.logger.Info("解析ジョブを開始します",
		"job_id", job.ID,
		"artifact", job.ArtifactRef,
		"phases", len(job.Phases),
	)

	done := make(chan phaseDone)
	running := 0
	aborted := false

	maxConc := job.Options.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 1
	}

	for {
		if !aborted {
			d.sweep(job, rec)
			for running < maxConc {
				p := d.takeReady(job)
				if p == nil {
					break
				}
				running++
				d.startPhase(ctx, job, rec, p, done)
			}
		}

		if running == 0 {
			if aborted || !d.hasSchedulable(job) {
				break
			}
			// readyもrunningも無いのにpendingが残る状態はsweepで
			// skippedに解消されるため、ここには到達しない
			d.sweep(job, rec)
			continue
		}

		if aborted {
			// 終端処理中に戻ってきた実行結果は破棄し、残りの完了を待つ
			pd := <-done
			running--
			d.discard(job, rec, pd.phase)
			continue
		}

		select {
		case <-ctx.Done():
			aborted = true
			d.skipNonTerminal(job, rec)
		case pd := <-done:
			running--
			if ctx.Err() != nil {
				d.discard(job, rec, pd.phase)
				continue
			}
			d.completePhase(ctx, job, rec, pd, &aborted)
		}
	}

	d.finalize(ctx, job, rec)
}

// sweep はpendingフェーズを走査し、依存が全て成功していればready化、
// 依存のいずれかがfailed/skippedで終端していればskippedにする。
func (d *Dispatcher) sweep(job *Job, rec *JobRecord) {
	changed := true
	for changed {
		changed = false
		for _, p := range job.Phases {
			if p.State != PhasePending {
				continue
			}

			met := true
			lost := false
			for _, dep := range p.DependsOn {
				dp := job.PhaseByName(dep)
				if dp == nil {
					lost = true
					break
				}
				switch dp.State {
				case PhaseSucceeded:
				case PhaseFailed, PhaseSkipped:
					lost = true
				default:
					met = false
				}
				if lost {
					break
				}
			}

			switch {
			case lost:
				p.State = PhaseSkipped
				p.FailReason = "unmet dependency"
				d.logger.Warn("依存未達のためフェーズをスキップします",
					"job_id", job.ID, "phase", p.Name)
				d.touch(job, rec)
				changed = true
			case met:
				if p.Substitute {
					// 無効化された依存のno-op代替は即時に成功完了させる
					now := time.Now().UTC()
					p.State = PhaseSucceeded
					p.StartedAt = &now
					p.EndedAt = &now
					d.touch(job, rec)
					changed = true
				} else {
					p.State = PhaseReady
				}
			}
		}
	}
}

// takeReady はreadyなフェーズを1つ返す。無ければnil。
func (d *Dispatcher) takeReady(job *Job) *Phase {
	for _, p := range job.Phases {
		if p.State == PhaseReady {
			return p
		}
	}
	return nil
}

// hasSchedulable は未終端フェーズが残っているかを返す
func (d *Dispatcher) hasSchedulable(job *Job) bool {
	for _, p := range job.Phases {
		if !p.State.Terminal() {
			return true
		}
	}
	return false
}

// startPhase はフェーズをrunningに遷移させ、エンジン呼び出しを起動する
func (d *Dispatcher) startPhase(ctx context.Context, job *Job, rec *JobRecord, p *Phase, done chan<- phaseDone) {
	now := time.Now().UTC()
	p.State = PhaseRunning
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	d.touch(job, rec)

	d.logger.Info("フェーズを開始します",
		"job_id", job.ID, "phase", p.Name, "attempt", p.Retries+1)

	req := engine.Request{
		JobID:       job.ID.String(),
		Phase:       string(p.Name),
		ArtifactRef: job.ArtifactRef,
	}
	if dl, ok := ctx.Deadline(); ok {
		req.Deadline = dl
	}

	go func() {
		if d.globalSlots != nil {
			select {
			case d.globalSlots <- struct{}{}:
				defer func() { <-d.globalSlots }()
			case <-ctx.Done():
				done <- phaseDone{phase: p, err: ctx.Err()}
				return
			}
		}

		gw, err := d.engines.Resolve(string(p.Name))
		if err != nil {
			done <- phaseDone{phase: p, err: engine.NewFailure(engine.FailureFatal, string(p.Name), "no engine registered", err)}
			return
		}

		res, err := gw.Execute(ctx, req)
		done <- phaseDone{phase: p, res: res, err: err}
	}()
}

// completePhase はエンジン呼び出しの完了を状態遷移に反映する
func (d *Dispatcher) completePhase(ctx context.Context, job *Job, rec *JobRecord, pd phaseDone, aborted *bool) {
	p := pd.phase
	now := time.Now().UTC()

	if pd.err == nil {
		p.State = PhaseSucceeded
		p.EndedAt = &now
		if pd.res != nil {
			if err := rec.Findings.Add(pd.res.Findings); err != nil {
				d.logger.Error("検出結果のマージに失敗しました",
					"job_id", job.ID, "phase", p.Name, "error", err)
			}
		}
		d.logger.Info("フェーズが成功しました",
			"job_id", job.ID, "phase", p.Name, "findings", rec.Findings.Count())
		d.touch(job, rec)
		return
	}

	fail := engine.AsFailure(string(p.Name), pd.err)

	// 再試行可能な失敗は上限まで再スケジュールする。
	// 同一フェーズの再試行が同時に走ることはない（完了後にのみ再投入される）。
	if fail.Retryable() && p.Retries < job.Options.MaxRetries && ctx.Err() == nil {
		p.Retries++
		p.State = PhasePending
		d.logger.Warn("フェーズを再試行します",
			"job_id", job.ID, "phase", p.Name,
			"kind", fail.Kind, "retry", p.Retries, "max_retries", job.Options.MaxRetries)
		d.touch(job, rec)
		return
	}

	p.State = PhaseFailed
	p.EndedAt = &now
	p.FailReason = fail.Error()
	d.logger.Error("フェーズが失敗しました",
		"job_id", job.ID, "phase", p.Name, "kind", fail.Kind, "error", fail)
	d.touch(job, rec)

	if p.Critical {
		// クリティカルフェーズの失敗はジョブ全体を即座に失敗させる
		*aborted = true
		job.FailReason = fmt.Sprintf("critical phase %s failed: %s", p.Name, fail.Message)
		d.skipNonTerminal(job, rec)
	}
}

// discard は終端処理中に戻ってきた実行結果を破棄し、フェーズをskippedにする
func (d *Dispatcher) discard(job *Job, rec *JobRecord, p *Phase) {
	if p.State.Terminal() {
		return
	}
	now := time.Now().UTC()
	p.State = PhaseSkipped
	p.EndedAt = &now
	p.FailReason = "cancelled"
	d.touch(job, rec)
}

// skipNonTerminal は未着手・実行中でないフェーズを全てskippedにする
func (d *Dispatcher) skipNonTerminal(job *Job, rec *JobRecord) {
	for _, p := range job.Phases {
		if p.State == PhasePending || p.State == PhaseReady {
			p.State = PhaseSkipped
			p.FailReason = "not started"
		}
	}
	d.touch(job, rec)
}

// finalize は終端状態の決定、検出結果の確定、テスト成果物の導出を行う
func (d *Dispatcher) finalize(ctx context.Context, job *Job, rec *JobRecord) {
	rec.Findings.Freeze()

	// テスト成果物は確定済み検出結果から決定的に導出する
	artifacts := d.mapper.Map(rec.Findings.List())
	rec.SetArtifacts(artifacts)

	switch {
	case errors.Is(context.Cause(ctx), ErrCancelRequested):
		job.Status = JobCancelled
		job.FailReason = ReasonCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		job.Status = JobFailed
		job.FailReason = ReasonJobTimeout
	case ctx.Err() != nil:
		job.Status = JobCancelled
		if job.FailReason == "" {
			job.FailReason = ReasonCancelled
		}
	default:
		job.Status = d.outcome(job)
	}

	d.touch(job, rec)

	d.logger.Info("解析ジョブが終端状態に達しました",
		"job_id", job.ID,
		"status", job.Status,
		"findings", rec.Findings.Count(),
		"artifacts", len(artifacts),
		"partial_failure", job.PartialFailure,
	)
}

// outcome は通常経路（キャンセル・期限超過以外）での終端状態を決める。
// クリティカルフェーズの失敗はcompletePhaseで既にFailReasonが設定済み。
// 非クリティカルな失敗やスキップはpartial-failure注釈付きの成功を許す。
// ただし1つも成功フェーズが無いまま失敗がある場合はジョブ失敗とする。
func (d *Dispatcher) outcome(job *Job) JobStatus {
	if job.FailReason != "" {
		return JobFailed
	}

	succeeded, failed := 0, 0
	partial := false
	for _, p := range job.Phases {
		switch p.State {
		case PhaseSucceeded:
			succeeded++
		case PhaseFailed:
			failed++
			partial = true
		case PhaseSkipped:
			partial = true
		}
	}

	if failed > 0 && succeeded == 0 {
		job.FailReason = "all phases failed"
		return JobFailed
	}

	job.PartialFailure = partial
	return JobSucceeded
}

// touch は更新時刻を進め、スナップショットを再計算・配信する
func (d *Dispatcher) touch(job *Job, rec *JobRecord) {
	job.UpdatedAt = time.Now().UTC()
	d.tracker.Update(job, rec.Findings.Count(), rec.ArtifactCount())
}
