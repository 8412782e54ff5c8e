package analysis

import (
	"context"
	"fmt"
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

// mapStore はテスト用の最小Store実装
type mapStore struct {
	mu   sync.RWMutex
	recs map[uuid.UUID]*JobRecord
}

func newMapStore() *mapStore {
	return &mapStore{recs: make(map[uuid.UUID]*JobRecord)}
}

func (s *mapStore) Create(ctx context.Context, rec *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Job.ID] = rec
	return nil
}

func (s *mapStore) Get(ctx context.Context, jobID uuid.UUID) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec, nil
}

func (s *mapStore) List(ctx context.Context) ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*JobRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}

type recordingArchiver struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (a *recordingArchiver) ArchiveJob(ctx context.Context, job *Job, findings []*finding.Finding, artifacts []*synthesis.TestArtifact) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, job.ID)
	return a.err
}

func (a *recordingArchiver) archived() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.calls...)
}

type memStatusCache struct {
	mu    sync.Mutex
	snaps map[uuid.UUID]StatusSnapshot
}

func newMemStatusCache() *memStatusCache {
	return &memStatusCache{snaps: make(map[uuid.UUID]StatusSnapshot)}
}

func (c *memStatusCache) GetStatus(ctx context.Context, jobID uuid.UUID) (*StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[jobID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (c *memStatusCache) SetStatus(ctx context.Context, snap StatusSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.JobID] = snap
	return nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, artifact *synthesis.TestArtifact, f *finding.Finding) (string, error) {
	return fmt.Sprintf("// %s", artifact.ID), nil
}

func newTestService(t *testing.T, resolver engine.Resolver, opts ...ServiceOption) *Service {
	t.Helper()
	tracker := NewTracker(testLogger())
	dispatcher := newTestDispatcher(resolver, tracker)
	opts = append(opts, WithServiceLogger(testLogger()))
	svc := NewService(newMapStore(), dispatcher, tracker, opts...)
	t.Cleanup(svc.Close)
	return svc
}

func waitTerminal(t *testing.T, svc *Service, jobID uuid.UUID) StatusSnapshot {
	t.Helper()
	stream, err := svc.Watch(context.Background(), jobID)
	require.NoError(t, err)

	var last StatusSnapshot
	timeout := time.After(10 * time.Second)
	for {
		select {
		case snap, ok := <-stream:
			if !ok {
				require.True(t, last.Status.Terminal(), "stream closed before terminal state")
				return last
			}
			last = snap
		case <-timeout:
			t.Fatalf("job %s did not reach a terminal state", jobID)
		}
	}
}

func happyResolver() stubResolver {
	raw := finding.RawFinding{
		Severity:   finding.SeverityHigh,
		Confidence: finding.ConfidenceHigh,
		Title:      "Reentrancy in withdraw()",
		Location:   finding.Location{File: "Vault.sol", Line: 42},
		Classifier: "reentrancy",
	}
	return stubResolver{
		"static":       okGateway(raw),
		"bytecode":     okGateway(),
		"attack_graph": okGateway(),
	}
}

func TestService_SubmitRunsJobToCompletion(t *testing.T) {
	svc := newTestService(t, happyResolver())

	snap, err := svc.Submit(context.Background(), "Vault.sol", JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, JobQueued, snap.Status)
	assert.NotEqual(t, uuid.Nil, snap.JobID)

	final := waitTerminal(t, svc, snap.JobID)
	assert.Equal(t, JobSucceeded, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, 1, final.FindingCount)
	assert.Equal(t, 1, final.ArtifactCount)
}

func TestService_SubmitRejectsEmptyArtifactRef(t *testing.T) {
	svc := newTestService(t, happyResolver())

	_, err := svc.Submit(context.Background(), "", JobOptions{})
	assert.True(t, IsConfigError(err))
}

func TestService_SubmitRejectsInvalidPhaseGraph(t *testing.T) {
	svc := newTestService(t, happyResolver())

	// attack_graphだけ明示する構成は依存(static/bytecode)が満たせない
	_, err := svc.Submit(context.Background(), "Vault.sol", JobOptions{
		Phases: []PhaseName{PhaseAttackGraph},
	})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestService_FindingsNotReadyWhileRunning(t *testing.T) {
	started := make(chan string, 3)
	resolver := stubResolver{
		"static":       blockingGateway(started),
		"bytecode":     blockingGateway(started),
		"attack_graph": okGateway(),
	}
	svc := newTestService(t, resolver)

	snap, err := svc.Submit(context.Background(), "Vault.sol", JobOptions{})
	require.NoError(t, err)
	<-started

	_, err = svc.Findings(context.Background(), snap.JobID)
	assert.True(t, IsNotReady(err))

	_, err = svc.Artifacts(context.Background(), snap.JobID)
	assert.True(t, IsNotReady(err))

	require.NoError(t, svc.Cancel(context.Background(), snap.JobID))
	waitTerminal(t, svc, snap.JobID)
}

func TestService_FindingsAndArtifactsAfterTerminal(t *testing.T) {
	svc := newTestService(t, happyResolver(), WithContentGenerator(stubGenerator{}))

	snap, err := svc.Submit(context.Background(), "Vault.sol", JobOptions{})
	require.NoError(t, err)
	waitTerminal(t, svc, snap.JobID)

	findings, err := svc.Findings(context.Background(), snap.JobID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Reentrancy in withdraw()", findings[0].Title)

	artifacts, err := svc.Artifacts(context.Background(), snap.JobID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, findings[0].ID, artifacts[0].FindingID)
	assert.Equal(t, fmt.Sprintf("// %s", artifacts[0].ID), artifacts[0].Content)
}

func TestService_CancelRunningJob(t *testing.T) {
	started := make(chan string, 3)
	resolver := stubResolver{
		"static":       blockingGateway(started),
		"bytecode":     blockingGateway(started),
		"attack_graph": okGateway(),
	}
	svc := newTestService(t, resolver)

	snap, err := svc.Submit(context.Background(), "Vault.sol", JobOptions{})
	require.NoError(t, err)
	<-started

	require.NoError(t, svc.Cancel(context.Background(), snap.JobID))

	final := waitTerminal(t, svc, snap.JobID)
	assert.Equal(t, JobCancelled, final.Status)
	assert.Equal(t, ReasonCancelled, final.FailReason)

	// 終端後の再キャンセルは拒否される
	err = svc.Cancel(context.Background(), snap.JobID)
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestService_CancelUnknownJob(t *testing.T) {
	svc := newTestService(t, happyResolver())
	err := svc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestService_TerminalJobArchivedAndCached(t *testing.T) {
	archiver := &recordingArchiver{}
	cache := newMemStatusCache()
	svc := newTestService(t, happyResolver(),
		WithArchiver(archiver), WithStatusCache(cache))

	snap, err := svc.Submit(context.Background(), "Vault.sol", JobOptions{})
	require.NoError(t, err)
	waitTerminal(t, svc, snap.JobID)

	require.Eventually(t, func() bool {
		return len(archiver.archived()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, snap.JobID, archiver.archived()[0])

	require.Eventually(t, func() bool {
		cached, _ := cache.GetStatus(context.Background(), snap.JobID)
		return cached != nil && cached.Status == JobSucceeded
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_ArchiverFailureDoesNotAffectJob(t *testing.T) {
	archiver := &recordingArchiver{err: fmt.Errorf("database unavailable")}
	svc := newTestService(t, happyResolver(), WithArchiver(archiver))

	snap, err := svc.Submit(context.Background(), "Vault.sol", JobOptions{})
	require.NoError(t, err)

	final := waitTerminal(t, svc, snap.JobID)
	assert.Equal(t, JobSucceeded, final.Status)

	_, err = svc.Findings(context.Background(), snap.JobID)
	assert.NoError(t, err)
}

func TestService_StatusFallsBackToCache(t *testing.T) {
	cache := newMemStatusCache()
	svc := newTestService(t, happyResolver(), WithStatusCache(cache))

	// トラッカーが再起動等で状態を失ってもキャッシュから復元できる
	jobID := uuid.New()
	require.NoError(t, cache.SetStatus(context.Background(), StatusSnapshot{
		JobID:  jobID,
		Status: JobSucceeded,
	}))

	snap, err := svc.Status(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, snap.Status)

	_, err = svc.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

type stubArchiveReader struct {
	jobs []*Job
}

func (r *stubArchiveReader) ListArchivedJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit > 0 && limit < len(r.jobs) {
		return r.jobs[:limit], nil
	}
	return r.jobs, nil
}

func TestService_History(t *testing.T) {
	reader := &stubArchiveReader{jobs: []*Job{
		{ID: uuid.New(), Status: JobSucceeded},
		{ID: uuid.New(), Status: JobFailed},
	}}
	svc := newTestService(t, happyResolver(), WithArchiveReader(reader))

	jobs, err := svc.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = svc.History(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestService_HistoryWithoutArchive(t *testing.T) {
	svc := newTestService(t, happyResolver())
	_, err := svc.History(context.Background(), 0)
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}

func TestService_Stats(t *testing.T) {
	svc := newTestService(t, happyResolver())

	first, err := svc.Submit(context.Background(), "Vault.sol", JobOptions{})
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), "Token.sol", JobOptions{})
	require.NoError(t, err)

	waitTerminal(t, svc, first.JobID)
	waitTerminal(t, svc, second.JobID)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats[JobSucceeded])
}
