package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VolodymyrStetsenko/rukh/internal/core/engine"
	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
	"github.com/VolodymyrStetsenko/rukh/internal/core/synthesis"
)

type stubResolver map[string]engine.Gateway

func (r stubResolver) Resolve(phase string) (engine.Gateway, error) {
	gw, ok := r[phase]
	if !ok {
		return nil, fmt.Errorf("no engine for %s", phase)
	}
	return gw, nil
}

func okGateway(findings ...finding.RawFinding) engine.Gateway {
	return engine.GatewayFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		raws := make([]finding.RawFinding, 0, len(findings))
		for _, f := range findings {
			f.Phase = req.Phase
			raws = append(raws, f)
		}
		return &engine.Result{Findings: raws}, nil
	})
}

func failGateway(kind engine.FailureKind) engine.Gateway {
	return engine.GatewayFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		return nil, engine.NewFailure(kind, req.Phase, "injected failure", nil)
	})
}

func blockingGateway(started chan<- string) engine.Gateway {
	return engine.GatewayFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		if started != nil {
			started <- req.Phase
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRecord(t *testing.T, opts JobOptions) *JobRecord {
	t.Helper()
	opts = opts.normalized()
	phases, err := Plan(opts)
	require.NoError(t, err)

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New(),
		ArtifactRef: "Vault.sol",
		Options:     opts,
		Status:      JobQueued,
		Phases:      phases,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return NewJobRecord(job)
}

func newTestDispatcher(resolver engine.Resolver, tracker *Tracker) *Dispatcher {
	return NewDispatcher(resolver, tracker, synthesis.NewMapper(),
		WithDispatcherLogger(testLogger()))
}

func TestDispatcher_AllPhasesSucceed(t *testing.T) {
	var mu sync.Mutex
	var order []string
	recording := func(inner engine.Gateway) engine.Gateway {
		return engine.GatewayFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
			mu.Lock()
			order = append(order, req.Phase)
			mu.Unlock()
			return inner.Execute(ctx, req)
		})
	}

	resolver := stubResolver{
		"static":       recording(okGateway()),
		"bytecode":     recording(okGateway()),
		"attack_graph": recording(okGateway()),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{})
	tracker.Register(rec.Job)

	d := newTestDispatcher(resolver, tracker)
	d.Run(context.Background(), rec)

	assert.Equal(t, JobSucceeded, rec.Job.Status)
	assert.False(t, rec.Job.PartialFailure)
	for _, p := range rec.Job.Phases {
		assert.Equal(t, PhaseSucceeded, p.State, "phase %s", p.Name)
	}

	// attack_graphは依存2つが終端成功した後にのみ起動される
	require.Len(t, order, 3)
	assert.Equal(t, "attack_graph", order[2])

	snap, err := tracker.Snapshot(rec.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, snap.Progress)
	assert.Empty(t, snap.CurrentPhase)
}

func TestDispatcher_NonCriticalFailureSkipsDependents(t *testing.T) {
	resolver := stubResolver{
		"static":       okGateway(),
		"bytecode":     failGateway(engine.FailureFatal),
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{CriticalPhases: []PhaseName{}})
	tracker.Register(rec.Job)

	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	// 非クリティカルな失敗はpartial-failure注釈付きの成功を許す
	assert.Equal(t, JobSucceeded, rec.Job.Status)
	assert.True(t, rec.Job.PartialFailure)

	assert.Equal(t, PhaseSucceeded, rec.Job.PhaseByName(PhaseStatic).State)
	assert.Equal(t, PhaseFailed, rec.Job.PhaseByName(PhaseBytecode).State)

	ag := rec.Job.PhaseByName(PhaseAttackGraph)
	assert.Equal(t, PhaseSkipped, ag.State)
	assert.Equal(t, "unmet dependency", ag.FailReason)
}

func TestDispatcher_CriticalFailureFailsJobImmediately(t *testing.T) {
	resolver := stubResolver{
		"static":       failGateway(engine.FailureFatal),
		"bytecode":     okGateway(),
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{MaxConcurrency: 1})
	tracker.Register(rec.Job)

	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	assert.Equal(t, JobFailed, rec.Job.Status)
	assert.Contains(t, rec.Job.FailReason, "critical phase static failed")

	for _, p := range rec.Job.Phases {
		assert.True(t, p.State.Terminal(), "phase %s should be terminal", p.Name)
	}
	assert.Equal(t, PhaseFailed, rec.Job.PhaseByName(PhaseStatic).State)
}

func TestDispatcher_TransientFailureRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	flaky := engine.GatewayFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 2 {
			return nil, engine.NewFailure(engine.FailureTransient, req.Phase, "flaky", nil)
		}
		return &engine.Result{}, nil
	})

	resolver := stubResolver{
		"static":       flaky,
		"bytecode":     okGateway(),
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{MaxRetries: 2})
	tracker.Register(rec.Job)

	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	assert.Equal(t, JobSucceeded, rec.Job.Status)
	st := rec.Job.PhaseByName(PhaseStatic)
	assert.Equal(t, PhaseSucceeded, st.State)
	assert.Equal(t, 2, st.Retries)
	assert.Equal(t, 3, attempts)
}

func TestDispatcher_RetriesExhausted(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	counting := engine.GatewayFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, engine.NewFailure(engine.FailureTransient, req.Phase, "always failing", nil)
	})

	resolver := stubResolver{
		"static":       okGateway(),
		"bytecode":     counting,
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{CriticalPhases: []PhaseName{}, MaxRetries: 2})
	tracker.Register(rec.Job)

	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	bc := rec.Job.PhaseByName(PhaseBytecode)
	assert.Equal(t, PhaseFailed, bc.State)
	assert.Equal(t, 2, bc.Retries)
	assert.Equal(t, 3, attempts) // 初回 + 再試行2回
}

func TestDispatcher_FatalFailureNotRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	counting := engine.GatewayFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, engine.NewFailure(engine.FailureFatal, req.Phase, "broken artifact", nil)
	})

	resolver := stubResolver{
		"static":       okGateway(),
		"bytecode":     counting,
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{CriticalPhases: []PhaseName{}, MaxRetries: 3})
	tracker.Register(rec.Job)

	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	assert.Equal(t, PhaseFailed, rec.Job.PhaseByName(PhaseBytecode).State)
	assert.Equal(t, 1, attempts)
}

func TestDispatcher_JobTimeout(t *testing.T) {
	started := make(chan string, 3)
	resolver := stubResolver{
		"static":       blockingGateway(started),
		"bytecode":     blockingGateway(started),
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{TimeoutSeconds: 1})
	tracker.Register(rec.Job)

	start := time.Now()
	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	assert.Equal(t, JobFailed, rec.Job.Status)
	assert.Equal(t, ReasonJobTimeout, rec.Job.FailReason)
	assert.Less(t, time.Since(start), 5*time.Second)

	// 期限超過後にrunningのまま残るフェーズは無い
	for _, p := range rec.Job.Phases {
		assert.True(t, p.State.Terminal(), "phase %s should be terminal", p.Name)
		assert.NotEqual(t, PhaseRunning, p.State)
	}
}

func TestDispatcher_ExplicitCancel(t *testing.T) {
	started := make(chan string, 3)
	resolver := stubResolver{
		"static":       blockingGateway(started),
		"bytecode":     blockingGateway(started),
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{})
	tracker.Register(rec.Job)

	ctx, cancel := context.WithCancelCause(context.Background())
	rec.SetCancel(cancel)

	done := make(chan struct{})
	go func() {
		newTestDispatcher(resolver, tracker).Run(ctx, rec)
		close(done)
	}()

	// 2フェーズが実行中になってからキャンセルする
	<-started
	<-started
	rec.Cancel()
	<-done

	assert.Equal(t, JobCancelled, rec.Job.Status)
	assert.Equal(t, ReasonCancelled, rec.Job.FailReason)
	for _, p := range rec.Job.Phases {
		assert.NotEqual(t, PhaseRunning, p.State, "phase %s", p.Name)
		assert.True(t, p.State.Terminal())
	}
}

func TestDispatcher_SubstitutePhaseCompletesWithoutEngine(t *testing.T) {
	// bytecodeは代替no-opなのでエンジン未登録でも完了する
	resolver := stubResolver{
		"static":       okGateway(),
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{
		Phases:                 []PhaseName{PhaseStatic, PhaseAttackGraph},
		SubstituteDisabledDeps: true,
	})
	tracker.Register(rec.Job)

	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	assert.Equal(t, JobSucceeded, rec.Job.Status)
	assert.Equal(t, PhaseSucceeded, rec.Job.PhaseByName(PhaseBytecode).State)
	assert.Equal(t, PhaseSucceeded, rec.Job.PhaseByName(PhaseAttackGraph).State)
}

func TestDispatcher_MergesFindingsIntoAggregator(t *testing.T) {
	raw := finding.RawFinding{
		Severity:   finding.SeverityHigh,
		Confidence: finding.ConfidenceMedium,
		Title:      "Reentrancy in withdraw()",
		Location:   finding.Location{File: "Vault.sol", Line: 42},
		Classifier: "reentrancy",
	}

	resolver := stubResolver{
		"static":       okGateway(raw),
		"bytecode":     okGateway(raw), // 同一キー、重複排除される
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{})
	tracker.Register(rec.Job)

	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	require.Equal(t, JobSucceeded, rec.Job.Status)
	assert.True(t, rec.Findings.Frozen())

	findings := rec.Findings.List()
	require.Len(t, findings, 1)
	assert.ElementsMatch(t, []string{"static", "bytecode"}, findings[0].SourcePhases)

	// 検出結果1件につきテスト成果物が1つ導出される
	require.Len(t, rec.Artifacts(), 1)
	assert.Equal(t, findings[0].ID, rec.Artifacts()[0].FindingID)
}

func TestDispatcher_ProgressNeverDecreases(t *testing.T) {
	resolver := stubResolver{
		"static":       okGateway(),
		"bytecode":     failGateway(engine.FailureFatal),
		"attack_graph": okGateway(),
	}

	tracker := NewTracker(testLogger())
	rec := newTestRecord(t, JobOptions{CriticalPhases: []PhaseName{}})
	tracker.Register(rec.Job)

	ctx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	stream, err := tracker.Subscribe(ctx, rec.Job.ID)
	require.NoError(t, err)

	newTestDispatcher(resolver, tracker).Run(context.Background(), rec)

	last := -1
	for snap := range stream {
		assert.GreaterOrEqual(t, snap.Progress, last)
		last = snap.Progress
	}
}
