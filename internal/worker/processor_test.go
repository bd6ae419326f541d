package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
	"github.com/murdok1982/hispanshield/internal/analysis/scoring"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testJobHash = "ab00000000000000000000000000000000000000000000000000000000000000"

type fakeJobStore struct {
	job      *domain.AnalysisJob
	claimErr error
	saveErr  error
	cancel   bool

	transitions []domain.JobStatus
	saved       map[string]any
	score       int
	level       domain.RiskLevel
	failMsg     string
}

func newFakeJobStore(mode domain.AnalysisMode) *fakeJobStore {
	return &fakeJobStore{
		job: &domain.AnalysisJob{
			JobID:         "11111111-2222-3333-4444-555555555555",
			SHA256:        testJobHash,
			RequestedMode: mode,
			Status:        domain.StatusPending,
		},
		saved: make(map[string]any),
	}
}

func (f *fakeJobStore) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.AnalysisJob, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.job, nil
}

func (f *fakeJobStore) Transition(ctx context.Context, jobID string, from, to domain.JobStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	f.transitions = append(f.transitions, to)
	return nil
}

func (f *fakeJobStore) SaveStageResults(ctx context.Context, jobID, stage string, findings any) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[stage] = findings
	return nil
}

func (f *fakeJobStore) UpdateScore(ctx context.Context, jobID string, score int, level domain.RiskLevel) error {
	f.score = score
	f.level = level
	return nil
}

func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID string, from domain.JobStatus, errMsg string) error {
	if !from.CanTransitionTo(domain.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, domain.StatusFailed)
	}
	f.transitions = append(f.transitions, domain.StatusFailed)
	f.failMsg = errMsg
	return nil
}

func (f *fakeJobStore) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	return f.cancel, nil
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, sha256 string) ([]byte, error) {
	return f.data, f.err
}

type fakeStaticStage struct {
	findings *domain.StaticFindings
	err      error
	calls    int
}

func (f *fakeStaticStage) Run(ctx context.Context, artifact []byte) (*domain.StaticFindings, error) {
	f.calls++
	return f.findings, f.err
}

type fakeTriageStage struct {
	findings *domain.TriageFindings
	proceed  bool
	calls    int
}

func (f *fakeTriageStage) Run(ctx context.Context, static *domain.StaticFindings, sha256 string, mode domain.AnalysisMode) (*domain.TriageFindings, bool) {
	f.calls++
	return f.findings, f.proceed
}

type fakeDynamicStage struct {
	findings *domain.DynamicFindings
	err      error
	calls    int
	timeout  time.Duration
}

func (f *fakeDynamicStage) Run(ctx context.Context, artifact []byte, sha256 string, timeout time.Duration) (*domain.DynamicFindings, error) {
	f.calls++
	f.timeout = timeout
	return f.findings, f.err
}

type pipelineFixture struct {
	store   *fakeJobStore
	static  *fakeStaticStage
	triage  *fakeTriageStage
	dynamic *fakeDynamicStage
	worker  *Worker
}

func newPipelineFixture(mode domain.AnalysisMode) *pipelineFixture {
	f := &pipelineFixture{
		store:   newFakeJobStore(mode),
		static:  &fakeStaticStage{findings: &domain.StaticFindings{Entropy: 3.2}},
		triage:  &fakeTriageStage{findings: &domain.TriageFindings{}, proceed: mode.WantsDynamic()},
		dynamic: &fakeDynamicStage{findings: &domain.DynamicFindings{TaskID: 1}},
	}
	f.worker = &Worker{
		logger:         discardLogger(),
		storage:        f.store,
		artifacts:      &fakeFetcher{data: []byte("artifact bytes")},
		staticStage:    f.static,
		triageStage:    f.triage,
		dynamicStage:   f.dynamic,
		policy:         scoring.DefaultPolicy(),
		dynamicTimeout: time.Minute,
		workerID:       "test-worker",
	}
	return f
}

func (f *pipelineFixture) process(t *testing.T) error {
	t.Helper()
	return f.worker.processJob(context.Background(), &domain.JobMessage{JobID: f.store.job.JobID})
}

func TestWorker_ProcessJob_TransitionsPerMode(t *testing.T) {
	tests := []struct {
		name        string
		mode        domain.AnalysisMode
		transitions []domain.JobStatus
		savedStages []string
	}{
		{
			name: "FULL runs every stage",
			mode: domain.ModeFull,
			transitions: []domain.JobStatus{
				domain.StatusRunningStatic,
				domain.StatusRunningTriage,
				domain.StatusRunningDynamic,
				domain.StatusCompleted,
			},
			savedStages: []string{"static", "triage", "dynamic"},
		},
		{
			name: "STATIC_ONLY completes without entering triage",
			mode: domain.ModeStaticOnly,
			transitions: []domain.JobStatus{
				domain.StatusRunningStatic,
				domain.StatusCompleted,
			},
			savedStages: []string{"static"},
		},
		{
			name: "TRIAGE_ONLY stops after triage",
			mode: domain.ModeTriageOnly,
			transitions: []domain.JobStatus{
				domain.StatusRunningStatic,
				domain.StatusRunningTriage,
				domain.StatusCompleted,
			},
			savedStages: []string{"static", "triage"},
		},
		{
			name: "DYNAMIC_ONLY still runs the full sequence",
			mode: domain.ModeDynamicOnly,
			transitions: []domain.JobStatus{
				domain.StatusRunningStatic,
				domain.StatusRunningTriage,
				domain.StatusRunningDynamic,
				domain.StatusCompleted,
			},
			savedStages: []string{"static", "triage", "dynamic"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(tt.mode)

			err := f.process(t)

			require.NoError(t, err)
			assert.Equal(t, tt.transitions, f.store.transitions)
			for _, stage := range tt.savedStages {
				assert.Contains(t, f.store.saved, stage)
			}
			assert.Len(t, f.store.saved, len(tt.savedStages))
		})
	}
}

func TestWorker_ProcessJob_StaticOnlySkipsLaterStages(t *testing.T) {
	f := newPipelineFixture(domain.ModeStaticOnly)

	require.NoError(t, f.process(t))

	assert.Equal(t, 1, f.static.calls)
	assert.Zero(t, f.triage.calls)
	assert.Zero(t, f.dynamic.calls)
}

func TestWorker_ProcessJob_DegradedTriageStillCompletes(t *testing.T) {
	f := newPipelineFixture(domain.ModeFull)
	f.triage.findings = &domain.TriageFindings{
		Reputation: domain.ReputationUnavailable,
		Warnings:   []string{"reputation: service unavailable"},
	}

	err := f.process(t)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, f.store.transitions[len(f.store.transitions)-1])
	assert.Contains(t, f.store.saved, "triage")
}

func TestWorker_ProcessJob_PartialDynamicStillCompletes(t *testing.T) {
	f := newPipelineFixture(domain.ModeFull)
	f.dynamic.findings = &domain.DynamicFindings{
		TaskID:   9,
		Partial:  true,
		Warnings: []string{"detonation timed out"},
	}

	err := f.process(t)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, f.store.transitions[len(f.store.transitions)-1])

	saved, ok := f.store.saved["dynamic"].(*domain.DynamicFindings)
	require.True(t, ok)
	assert.True(t, saved.Partial)
}

func TestWorker_ProcessJob_Failures(t *testing.T) {
	t.Run("unreadable artifact fails the job", func(t *testing.T) {
		f := newPipelineFixture(domain.ModeFull)
		f.worker.artifacts = &fakeFetcher{err: errors.New("object not found")}

		err := f.process(t)

		require.NoError(t, err)
		assert.Equal(t, []domain.JobStatus{domain.StatusRunningStatic, domain.StatusFailed}, f.store.transitions)
		assert.Contains(t, f.store.failMsg, "artifact unreadable")
	})

	t.Run("static stage error fails the job", func(t *testing.T) {
		f := newPipelineFixture(domain.ModeFull)
		f.static.findings = nil
		f.static.err = domain.ErrUnparsableArtifact

		err := f.process(t)

		require.NoError(t, err)
		assert.Equal(t, []domain.JobStatus{domain.StatusRunningStatic, domain.StatusFailed}, f.store.transitions)
	})

	t.Run("dynamic submission failure fails the job", func(t *testing.T) {
		f := newPipelineFixture(domain.ModeFull)
		f.dynamic.findings = nil
		f.dynamic.err = domain.ErrSubmissionFailed

		err := f.process(t)

		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, f.store.transitions[len(f.store.transitions)-1])
		assert.NotContains(t, f.store.saved, "dynamic")
	})

	t.Run("already claimed jobs are skipped with an error", func(t *testing.T) {
		f := newPipelineFixture(domain.ModeFull)
		f.store.claimErr = domain.ErrJobAlreadyClaimed

		err := f.process(t)

		require.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
		assert.False(t, f.worker.shouldRequeueJob(err))
		assert.Empty(t, f.store.transitions)
	})

	t.Run("stage result write failure is retryable", func(t *testing.T) {
		f := newPipelineFixture(domain.ModeFull)
		f.store.saveErr = errors.New("db connection reset")

		err := f.process(t)

		require.Error(t, err)
		assert.True(t, f.worker.shouldRequeueJob(err))
	})
}

func TestWorker_ProcessJob_CancelAtBoundary(t *testing.T) {
	f := newPipelineFixture(domain.ModeFull)
	f.store.cancel = true

	err := f.process(t)

	require.NoError(t, err)
	assert.Equal(t, []domain.JobStatus{domain.StatusCanceled}, f.store.transitions)
	assert.Zero(t, f.static.calls)
}

func TestWorker_ProcessJob_RecomputesScore(t *testing.T) {
	f := newPipelineFixture(domain.ModeFull)
	// Triage ratio 50 contributes 0.4*50 = 20; a sandbox score of 9.1
	// scales to 91 and takes over as the final verdict.
	f.triage.findings = &domain.TriageFindings{DetectionRatio: 50}
	f.dynamic.findings = &domain.DynamicFindings{TaskID: 3, SandboxScore: 9.1}

	err := f.process(t)

	require.NoError(t, err)
	assert.Equal(t, 91, f.store.score)
	assert.Equal(t, domain.RiskCritical, f.store.level)
}

func TestWorker_ResolveDynamicTimeout(t *testing.T) {
	f := newPipelineFixture(domain.ModeFull)

	t.Run("message override wins", func(t *testing.T) {
		timeout := f.worker.resolveDynamicTimeout(&domain.JobMessage{DynamicTimeoutSeconds: 30})
		assert.Equal(t, 30*time.Second, timeout)
	})

	t.Run("absent override falls back to the service default", func(t *testing.T) {
		timeout := f.worker.resolveDynamicTimeout(&domain.JobMessage{})
		assert.Equal(t, time.Minute, timeout)
	})
}

func TestWorker_ProcessJob_PerJobTimeoutReachesDynamicStage(t *testing.T) {
	f := newPipelineFixture(domain.ModeFull)

	err := f.worker.processJob(context.Background(), &domain.JobMessage{
		JobID:                 f.store.job.JobID,
		DynamicTimeoutSeconds: 45,
	})

	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, f.dynamic.timeout)
}
