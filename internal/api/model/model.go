package model

import (
	"database/sql"
	"time"
)

// Analysis is the read-side row for an analysis job. Stage results stay
// raw JSON; the API returns them as-is.
type Analysis struct {
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
	CancelRequested bool           `db:"cancel_requested"`
	CreatedAt       time.Time      `db:"created_at"`
	StageStartedAt  sql.NullTime   `db:"stage_started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}
