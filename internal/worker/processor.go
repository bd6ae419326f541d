package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

// processJob claims a job and drives it through the pipeline state
// machine. A nil return means the job reached a terminal state (or was
// claimed elsewhere's problem); errors are reserved for infrastructure
// failures that decide the queue ACK/NACK.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		// Database trouble is transient; let the queue retry.
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	return w.runPipeline(ctx, job, w.resolveDynamicTimeout(msg))
}

// resolveDynamicTimeout picks the detonation budget for one job: the
// timeout requested at intake when present, the service default
// otherwise.
func (w *Worker) resolveDynamicTimeout(msg *domain.JobMessage) time.Duration {
	if msg.DynamicTimeoutSeconds > 0 {
		return time.Duration(msg.DynamicTimeoutSeconds) * time.Second
	}
	return w.dynamicTimeout
}

// runPipeline executes the stages for one claimed job, in strict
// sequence. The coordinator is the only writer of job status; stages
// return findings by value.
func (w *Worker) runPipeline(ctx context.Context, job *domain.AnalysisJob, dynamicTimeout time.Duration) error {
	log := w.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("sha256", job.SHA256),
		slog.String("mode", string(job.RequestedMode)),
	)

	if w.cancelIfRequested(ctx, job, log) {
		return nil
	}

	// Static extraction runs unconditionally: every later stage consumes
	// its findings, TRIAGE_ONLY included.
	if err := w.transition(ctx, job, domain.StatusRunningStatic); err != nil {
		return err
	}

	artifactBytes, err := w.artifacts.Fetch(ctx, job.SHA256)
	if err != nil {
		log.Error("Artifact unreadable, failing job",
			slog.String("error", err.Error()),
		)
		return w.fail(ctx, job, fmt.Sprintf("artifact unreadable: %s", err))
	}

	staticFindings, err := w.staticStage.Run(ctx, artifactBytes)
	if err != nil {
		log.Error("Static stage failed, failing job",
			slog.String("error", err.Error()),
		)
		return w.fail(ctx, job, err.Error())
	}

	job.Static = staticFindings
	if err := w.storage.SaveStageResults(ctx, job.JobID, "static", staticFindings); err != nil {
		return domain.NewRetryableError(err)
	}
	w.recomputeScore(ctx, job, log)

	if job.RequestedMode == domain.ModeStaticOnly {
		return w.complete(ctx, job, log)
	}

	if w.cancelIfRequested(ctx, job, log) {
		return nil
	}

	if err := w.transition(ctx, job, domain.StatusRunningTriage); err != nil {
		return err
	}

	// Triage never fails the job; degraded lookups surface as warnings
	// inside the findings.
	triageFindings, proceed := w.triageStage.Run(ctx, job.Static, job.SHA256, job.RequestedMode)
	job.Triage = triageFindings
	if err := w.storage.SaveStageResults(ctx, job.JobID, "triage", triageFindings); err != nil {
		return domain.NewRetryableError(err)
	}
	w.recomputeScore(ctx, job, log)

	if !proceed {
		return w.complete(ctx, job, log)
	}

	if w.cancelIfRequested(ctx, job, log) {
		return nil
	}

	if err := w.transition(ctx, job, domain.StatusRunningDynamic); err != nil {
		return err
	}

	dynamicFindings, err := w.dynamicStage.Run(ctx, artifactBytes, job.SHA256, dynamicTimeout)
	if err != nil {
		// Submission failure after retries is the only fatal dynamic
		// condition; timeouts came back as partial findings instead.
		log.Error("Dynamic stage failed, failing job",
			slog.String("error", err.Error()),
		)
		return w.fail(ctx, job, err.Error())
	}

	job.Dynamic = dynamicFindings
	if err := w.storage.SaveStageResults(ctx, job.JobID, "dynamic", dynamicFindings); err != nil {
		return domain.NewRetryableError(err)
	}
	w.recomputeScore(ctx, job, log)

	return w.complete(ctx, job, log)
}

// transition advances the job's status and mirrors it on the in-memory
// snapshot.
func (w *Worker) transition(ctx context.Context, job *domain.AnalysisJob, to domain.JobStatus) error {
	if err := w.storage.Transition(ctx, job.JobID, job.Status, to); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return err
		}
		return domain.NewRetryableError(err)
	}
	job.Status = to
	return nil
}

// recomputeScore reapplies the scoring policy to all stage results
// collected so far, so a consumer polling mid-pipeline always sees a
// best-effort current verdict. Pure recomputation, never accumulation.
func (w *Worker) recomputeScore(ctx context.Context, job *domain.AnalysisJob, log *slog.Logger) {
	score := w.policy.Score(job.Static, job.Triage, job.Dynamic)
	level := w.policy.Level(score)

	if err := w.storage.UpdateScore(ctx, job.JobID, score, level); err != nil {
		log.Warn("Failed to persist recomputed risk score",
			slog.String("error", err.Error()),
		)
		return
	}

	job.RiskScore = &score
	job.RiskLevel = level

	log.Debug("Risk score recomputed",
		slog.Int("score", score),
		slog.String("level", string(level)),
	)
}

// complete finalizes a job.
func (w *Worker) complete(ctx context.Context, job *domain.AnalysisJob, log *slog.Logger) error {
	if err := w.transition(ctx, job, domain.StatusCompleted); err != nil {
		return err
	}

	riskScore := 0
	if job.RiskScore != nil {
		riskScore = *job.RiskScore
	}
	log.Info("Analysis completed",
		slog.Int("risk_score", riskScore),
		slog.String("risk_level", string(job.RiskLevel)),
	)

	return nil
}

// fail marks the job FAILED with the given message. The partial risk
// score from already-completed stages stays visible to consumers.
func (w *Worker) fail(ctx context.Context, job *domain.AnalysisJob, msg string) error {
	if err := w.storage.MarkFailed(ctx, job.JobID, job.Status, msg); err != nil {
		return domain.NewRetryableError(err)
	}
	job.Status = domain.StatusFailed
	job.ErrorMessage = msg
	return nil
}

// cancelIfRequested checks the cancellation flag at a stage boundary and
// moves the job to CANCELED when set. In-flight external calls are never
// aborted; cancellation only takes effect between stages.
func (w *Worker) cancelIfRequested(ctx context.Context, job *domain.AnalysisJob, log *slog.Logger) bool {
	requested, err := w.storage.IsCancelRequested(ctx, job.JobID)
	if err != nil {
		log.Warn("Failed to read cancel flag, continuing",
			slog.String("error", err.Error()),
		)
		return false
	}
	if !requested {
		return false
	}

	if err := w.storage.Transition(ctx, job.JobID, job.Status, domain.StatusCanceled); err != nil {
		log.Warn("Failed to cancel job",
			slog.String("error", err.Error()),
		)
		return false
	}

	job.Status = domain.StatusCanceled
	log.Info("Job canceled at stage boundary")
	return true
}
