// Package storage is the worker-side record store for analysis jobs and
// threat indicators. All writes to a given job are guarded by the status
// column, so the state machine holds even if a queue message is
// delivered twice.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

// defaultStaleClaimAfter bounds how long a RUNNING_* row may sit without
// progress before another worker may take the claim over. It must exceed
// the longest legitimate stage, detonation included.
const defaultStaleClaimAfter = 15 * time.Minute

// Storage handles all database operations for the worker
type Storage struct {
	db              *sqlx.DB
	logger          *slog.Logger
	staleClaimAfter time.Duration
}

// NewStorage creates a new Storage instance. A zero staleClaimAfter
// falls back to the default takeover window.
func NewStorage(db *sqlx.DB, logger *slog.Logger, staleClaimAfter time.Duration) *Storage {
	if staleClaimAfter <= 0 {
		staleClaimAfter = defaultStaleClaimAfter
	}
	return &Storage{
		db:              db,
		logger:          logger,
		staleClaimAfter: staleClaimAfter,
	}
}

type jobRow struct {
	JobID           string         `db:"job_id"`
	SHA256          string         `db:"sha256"`
	FileSize        int64          `db:"file_size"`
	FileType        sql.NullString `db:"file_type"`
	RequestedMode   string         `db:"requested_mode"`
	Status          string         `db:"status"`
	StaticResults   []byte         `db:"static_results"`
	TriageResults   []byte         `db:"triage_results"`
	DynamicResults  []byte         `db:"dynamic_results"`
	RiskScore       sql.NullInt64  `db:"risk_score"`
	RiskLevel       sql.NullString `db:"risk_level"`
	ErrorMessage    sql.NullString `db:"error_message"`
	WorkerID        sql.NullString `db:"worker_id"`
	CancelRequested bool           `db:"cancel_requested"`
	CreatedAt       time.Time      `db:"created_at"`
	StageStartedAt  sql.NullTime   `db:"stage_started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *jobRow) toDomain() (*domain.AnalysisJob, error) {
	job := &domain.AnalysisJob{
		JobID:           r.JobID,
		SHA256:          r.SHA256,
		FileSize:        r.FileSize,
		FileType:        r.FileType.String,
		RequestedMode:   domain.AnalysisMode(r.RequestedMode),
		Status:          domain.JobStatus(r.Status),
		ErrorMessage:    r.ErrorMessage.String,
		WorkerID:        r.WorkerID.String,
		CancelRequested: r.CancelRequested,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}

	if r.RiskScore.Valid {
		score := int(r.RiskScore.Int64)
		job.RiskScore = &score
	}
	if r.RiskLevel.Valid {
		job.RiskLevel = domain.RiskLevel(r.RiskLevel.String)
	}
	if r.StageStartedAt.Valid {
		t := r.StageStartedAt.Time
		job.StageStartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}

	if len(r.StaticResults) > 0 {
		job.Static = &domain.StaticFindings{}
		if err := json.Unmarshal(r.StaticResults, job.Static); err != nil {
			return nil, fmt.Errorf("failed to decode static results: %w", err)
		}
	}
	if len(r.TriageResults) > 0 {
		job.Triage = &domain.TriageFindings{}
		if err := json.Unmarshal(r.TriageResults, job.Triage); err != nil {
			return nil, fmt.Errorf("failed to decode triage results: %w", err)
		}
	}
	if len(r.DynamicResults) > 0 {
		job.Dynamic = &domain.DynamicFindings{}
		if err := json.Unmarshal(r.DynamicResults, job.Dynamic); err != nil {
			return nil, fmt.Errorf("failed to decode dynamic results: %w", err)
		}
	}

	return job, nil
}

const jobColumns = `
	job_id, sha256, file_size, file_type, requested_mode, status,
	static_results, triage_results, dynamic_results,
	risk_score, risk_level, error_message, worker_id, cancel_requested,
	created_at, stage_started_at, completed_at, updated_at
`

// GetJob retrieves a job snapshot by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analyses WHERE job_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain()
}

// ClaimJob assigns a PENDING, unclaimed job to a worker using optimistic
// locking. Routing each job to exactly one worker is what serializes all
// writes to that job.
//
// A worker that crashed after claiming leaves its row stuck in a
// RUNNING_* status. Such a row becomes claimable again once updated_at
// goes stale; the takeover resets it to PENDING so the pipeline restarts
// cleanly, and append-only stage results keep whatever the dead worker
// already recorded.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.AnalysisJob, error) {
	query := `
		UPDATE analyses
		SET worker_id = $1,
		    status = $3,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND (
		        (status = $3 AND worker_id IS NULL)
		     OR (status IN ($4, $5, $6) AND updated_at < NOW() - ($7 * INTERVAL '1 second'))
		  )
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		workerID,
		jobID,
		string(domain.StatusPending),
		string(domain.StatusRunningStatic),
		string(domain.StatusRunningTriage),
		string(domain.StatusRunningDynamic),
		int(s.staleClaimAfter.Seconds()),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)

	return row.toDomain()
}

// Transition moves a job from one status to another, enforcing the state
// machine both in code and in the guarded WHERE clause.
func (s *Storage) Transition(ctx context.Context, jobID string, from, to domain.JobStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE analyses
		SET status = $1,
		    stage_started_at = CASE WHEN $4 THEN NOW() ELSE stage_started_at END,
		    completed_at = CASE WHEN $5 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	enteringStage := to == domain.StatusRunningStatic || to == domain.StatusRunningTriage || to == domain.StatusRunningDynamic
	result, err := s.db.ExecContext(ctx, query, string(to), jobID, string(from), enteringStage, to.IsTerminal())
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %s is not in status %s", domain.ErrInvalidTransition, jobID, from)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)

	return nil
}

// stageColumns whitelists the stage-result columns, keyed by stage name.
var stageColumns = map[string]string{
	"static":  "static_results",
	"triage":  "triage_results",
	"dynamic": "dynamic_results",
}

// SaveStageResults records a stage's findings. Results are append-only:
// a column that already holds findings is never overwritten.
func (s *Storage) SaveStageResults(ctx context.Context, jobID, stage string, findings any) error {
	column, ok := stageColumns[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}

	payload, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("failed to marshal %s findings: %w", stage, err)
	}

	query := fmt.Sprintf(`
		UPDATE analyses
		SET %s = $1,
		    updated_at = NOW()
		WHERE job_id = $2 AND %s IS NULL
	`, column, column)

	result, err := s.db.ExecContext(ctx, query, payload, jobID)
	if err != nil {
		return fmt.Errorf("failed to save %s results: %w", stage, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		s.logger.Warn("Stage results already recorded, keeping existing findings",
			slog.String("job_id", jobID),
			slog.String("stage", stage),
		)
	}

	return nil
}

// UpdateScore writes the recomputed risk verdict.
func (s *Storage) UpdateScore(ctx context.Context, jobID string, score int, level domain.RiskLevel) error {
	query := `
		UPDATE analyses
		SET risk_score = $1,
		    risk_level = $2,
		    updated_at = NOW()
		WHERE job_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, score, string(level), jobID); err != nil {
		return fmt.Errorf("failed to update risk score: %w", err)
	}

	return nil
}

// MarkFailed transitions a job to FAILED and records the error message
// in a single guarded update.
func (s *Storage) MarkFailed(ctx context.Context, jobID string, from domain.JobStatus, errMsg string) error {
	if !from.CanTransitionTo(domain.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, domain.StatusFailed)
	}

	query := `
		UPDATE analyses
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, string(domain.StatusFailed), errMsg, jobID, string(from))
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %s is not in status %s", domain.ErrInvalidTransition, jobID, from)
	}

	return nil
}

// IsCancelRequested reads the cancellation flag checked at each stage
// boundary.
func (s *Storage) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := s.db.GetContext(ctx, &requested, `SELECT cancel_requested FROM analyses WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrJobNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}

// UpsertIndicator durably records a threat indicator. The upsert is
// idempotent, keyed by (type, value); a repeat only refreshes last_seen
// and confidence.
func (s *Storage) UpsertIndicator(ctx context.Context, indicator domain.ThreatIndicator) error {
	query := `
		INSERT INTO threat_indicators (type, value, source, confidence, tags, first_seen, last_seen, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (type, value)
		DO UPDATE SET confidence = EXCLUDED.confidence,
		              last_seen = EXCLUDED.last_seen
	`

	_, err := s.db.ExecContext(ctx, query,
		string(indicator.Type),
		indicator.Value,
		indicator.Source,
		indicator.Confidence,
		pq.Array(indicator.Tags),
		indicator.FirstSeen,
		indicator.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert indicator: %w", err)
	}

	s.logger.Debug("Indicator upserted",
		slog.String("type", string(indicator.Type)),
		slog.String("value", indicator.Value),
	)

	return nil
}

// CountActiveIndicators counts how many of the given values are known
// active indicators.
func (s *Storage) CountActiveIndicators(ctx context.Context, values []string) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	query := `
		SELECT COUNT(*)
		FROM threat_indicators
		WHERE is_active AND value = ANY($1)
	`

	var count int
	if err := s.db.GetContext(ctx, &count, query, pq.Array(values)); err != nil {
		return 0, fmt.Errorf("failed to count indicators: %w", err)
	}

	return count, nil
}
