// Package worker consumes queued analysis jobs and drives each one
// through the pipeline: static inspection, reputation triage and
// optional dynamic detonation. Stages of one job run in strict sequence
// on a single worker goroutine; many jobs run in parallel across the
// pool.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
	"github.com/murdok1982/hispanshield/internal/analysis/scoring"
	"github.com/murdok1982/hispanshield/internal/worker/storage"
	"github.com/murdok1982/hispanshield/shared/postgresql"
	"github.com/murdok1982/hispanshield/shared/rabbitmq"
)

// JobStore is the record-store surface the pipeline coordinator drives.
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.AnalysisJob, error)
	Transition(ctx context.Context, jobID string, from, to domain.JobStatus) error
	SaveStageResults(ctx context.Context, jobID, stage string, findings any) error
	UpdateScore(ctx context.Context, jobID string, score int, level domain.RiskLevel) error
	MarkFailed(ctx context.Context, jobID string, from domain.JobStatus, errMsg string) error
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
}

// ArtifactFetcher reads stored artifact bytes by content hash.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, sha256 string) ([]byte, error)
}

// StaticStage, TriageStage and DynamicStage are the pipeline stage
// contracts the coordinator sequences.
type StaticStage interface {
	Run(ctx context.Context, artifact []byte) (*domain.StaticFindings, error)
}

type TriageStage interface {
	Run(ctx context.Context, static *domain.StaticFindings, sha256 string, mode domain.AnalysisMode) (*domain.TriageFindings, bool)
}

type DynamicStage interface {
	Run(ctx context.Context, artifact []byte, sha256 string, timeout time.Duration) (*domain.DynamicFindings, error)
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
	Artifacts    ArtifactFetcher

	StaticStage  StaticStage
	TriageStage  TriageStage
	DynamicStage DynamicStage
	Policy       scoring.Policy

	Concurrency     int
	PrefetchCount   int
	DynamicTimeout  time.Duration
	StaleClaimAfter time.Duration
	QueueName       string
}

// Worker is the analysis worker service: one RabbitMQ consumer feeding a
// bounded pool of pipeline goroutines.
type Worker struct {
	logger       *slog.Logger
	storage      JobStore
	rabbitClient *rabbitmq.Client
	artifacts    ArtifactFetcher

	staticStage  StaticStage
	triageStage  TriageStage
	dynamicStage DynamicStage
	policy       scoring.Policy

	concurrency    int
	prefetchCount  int
	dynamicTimeout time.Duration
	queueName      string
	workerID       string

	jobsChan chan *domain.JobMessage
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}

	return &Worker{
		logger:         cfg.Logger,
		storage:        storage.NewStorage(cfg.DBClient.GetDB(), cfg.Logger, cfg.StaleClaimAfter),
		rabbitClient:   cfg.RabbitClient,
		artifacts:      cfg.Artifacts,
		staticStage:    cfg.StaticStage,
		triageStage:    cfg.TriageStage,
		dynamicStage:   cfg.DynamicStage,
		policy:         cfg.Policy,
		concurrency:    cfg.Concurrency,
		prefetchCount:  cfg.PrefetchCount,
		dynamicTimeout: cfg.DynamicTimeout,
		queueName:      cfg.QueueName,
		workerID:       fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		jobsChan:       make(chan *domain.JobMessage),
		stopChan:       make(chan struct{}),
	}
}

// Start begins consuming and processing analysis jobs. It blocks until
// the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting analysis worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("dynamic_timeout", w.dynamicTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker pool, waiting for in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("Stopping analysis worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Analysis worker stopped")
}
