// Package dynamic runs the third pipeline stage: detonate the artifact
// in a sandbox, poll until the report is ready or the stage times out,
// and normalize the behavioral report into bounded counts.
package dynamic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
	"github.com/murdok1982/hispanshield/internal/collab/sandbox"
)

// SandboxClient is the detonation collaborator contract.
type SandboxClient interface {
	Submit(ctx context.Context, artifact []byte, fileName string) (int64, error)
	Status(ctx context.Context, taskID int64) (sandbox.TaskStatus, error)
	FetchReport(ctx context.Context, taskID int64) (*sandbox.Report, error)
}

// Config holds the dynamic stage tunables.
type Config struct {
	PollInterval   time.Duration
	SubmitAttempts int
	SubmitDelay    time.Duration
}

// Stage runs dynamic analysis. Submission failure after retries is the
// only fatal condition; a timed-out or internally failed detonation
// degrades to a partial finding set.
type Stage struct {
	sandbox SandboxClient
	cfg     Config
	logger  *slog.Logger
}

// NewStage creates a dynamic stage.
func NewStage(client SandboxClient, cfg Config, logger *slog.Logger) *Stage {
	if cfg.SubmitAttempts < 1 {
		cfg.SubmitAttempts = 1
	}
	return &Stage{
		sandbox: client,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run submits the artifact and polls to completion or timeout. The poll
// loop is cooperative: it blocks on a ticker select, so cancellation and
// shutdown take effect between polls without aborting an in-flight call.
func (s *Stage) Run(ctx context.Context, artifact []byte, sha256 string, timeout time.Duration) (*domain.DynamicFindings, error) {
	taskID, err := s.submit(ctx, artifact, sha256)
	if err != nil {
		return nil, err
	}

	findings := &domain.DynamicFindings{TaskID: taskID}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := s.sandbox.Status(pollCtx, taskID)
		if err != nil {
			s.logger.Debug("Sandbox status poll failed, will retry",
				slog.Int64("task_id", taskID),
				slog.String("error", err.Error()),
			)
		}

		switch status {
		case sandbox.TaskReported:
			s.fillReport(ctx, taskID, findings)
			return findings, nil
		case sandbox.TaskFailed:
			findings.Partial = true
			findings.Warnings = append(findings.Warnings, "sandbox detonation failed internally")
			s.logger.Warn("Sandbox reported internal failure, returning partial findings",
				slog.Int64("task_id", taskID),
			)
			return findings, nil
		}

		select {
		case <-pollCtx.Done():
			findings.Partial = true
			findings.Warnings = append(findings.Warnings, "sandbox report not ready before timeout")
			s.logger.Warn("Dynamic stage timed out, returning partial findings",
				slog.Int64("task_id", taskID),
				slog.Duration("timeout", timeout),
			)
			return findings, nil
		case <-ticker.C:
		}
	}
}

// submit uploads the artifact with bounded retries.
func (s *Stage) submit(ctx context.Context, artifact []byte, sha256 string) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.SubmitAttempts; attempt++ {
		taskID, err := s.sandbox.Submit(ctx, artifact, sha256)
		if err == nil {
			return taskID, nil
		}
		lastErr = err

		s.logger.Warn("Sandbox submission failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.SubmitAttempts),
			slog.String("error", err.Error()),
		)

		if attempt < s.cfg.SubmitAttempts {
			select {
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, ctx.Err())
			case <-time.After(s.cfg.SubmitDelay):
			}
		}
	}

	return 0, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, lastErr)
}

// fillReport fetches and normalizes the full report. A failed fetch
// leaves the findings partial rather than failing the stage.
func (s *Stage) fillReport(ctx context.Context, taskID int64, findings *domain.DynamicFindings) {
	report, err := s.sandbox.FetchReport(ctx, taskID)
	if err != nil {
		findings.Partial = true
		findings.Warnings = append(findings.Warnings, "report fetch: "+err.Error())
		s.logger.Warn("Failed to fetch sandbox report, returning partial findings",
			slog.Int64("task_id", taskID),
			slog.String("error", err.Error()),
		)
		return
	}

	findings.SandboxScore = report.Score
	findings.Processes = report.Processes
	findings.FileWrites = report.FileWrites
	findings.NetworkEvents = report.NetworkEvents

	s.logger.Info("Dynamic stage completed",
		slog.Int64("task_id", taskID),
		slog.Float64("sandbox_score", report.Score),
		slog.Int("processes", report.Processes),
		slog.Int("file_writes", report.FileWrites),
		slog.Int("network_events", report.NetworkEvents),
	)
}
