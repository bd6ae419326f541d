package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
	"github.com/murdok1982/hispanshield/internal/api/model"
	"github.com/murdok1982/hispanshield/shared/postgresql"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

const analysisColumns = `
	job_id, sha256, file_size, file_type, requested_mode, status,
	static_results, triage_results, dynamic_results,
	risk_score, risk_level, error_message, cancel_requested,
	created_at, stage_started_at, completed_at, updated_at
`

// CreateAnalysis inserts a new PENDING job record.
func (s *Storage) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	query := `
		INSERT INTO analyses (
			job_id, sha256, file_size, file_type,
			requested_mode, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		a.JobID,
		a.SHA256,
		a.FileSize,
		a.FileType,
		a.RequestedMode,
		a.Status,
		a.CreatedAt,
		a.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}

	return nil
}

// GetAnalysisByID fetches a full job snapshot.
func (s *Storage) GetAnalysisByID(ctx context.Context, jobID string) (*model.Analysis, error) {
	var a model.Analysis
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE job_id = $1`

	if err := s.db.GetContext(ctx, &a, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return &a, nil
}

type AnalysisFilter struct {
	Status    string
	Mode      string
	RiskLevel string
	PageSize  int
	Cursor    *AnalysisCursor
}

type AnalysisCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListAnalyses returns up to PageSize+1 rows matching the filter; the
// extra row tells the handler whether a next cursor exists.
func (s *Storage) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Mode != "" {
		query += fmt.Sprintf(" AND requested_mode = $%d", argIdx)
		args = append(args, filter.Mode)
		argIdx++
	}

	if filter.RiskLevel != "" {
		query += fmt.Sprintf(" AND risk_level = $%d", argIdx)
		args = append(args, filter.RiskLevel)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var analyses []model.Analysis
	if err := s.db.SelectContext(ctx, &analyses, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	return analyses, nil
}

// RequestCancel flags a non-terminal job for cancellation. The worker
// applies the flag at the next stage boundary; a job that already
// reached a terminal state is reported as not cancelable.
func (s *Storage) RequestCancel(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE analyses
		SET cancel_requested = TRUE,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status NOT IN ($2, $3, $4)
	`

	result, err := s.db.ExecContext(ctx, query, jobID,
		string(domain.StatusCompleted),
		string(domain.StatusFailed),
		string(domain.StatusCanceled),
	)
	if err != nil {
		return false, fmt.Errorf("failed to request cancel: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}
