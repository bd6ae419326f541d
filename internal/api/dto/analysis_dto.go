package dto

import "encoding/json"

// SubmitAnalysisResponse is returned by POST /api/v1/analyses. Intake is
// fire-and-forget: the job id comes back immediately while the pipeline
// runs in the background.
type SubmitAnalysisResponse struct {
	JobID         string `json:"job_id"`
	SHA256        string `json:"sha256"`
	FileSize      int64  `json:"file_size"`
	RequestedMode string `json:"requested_mode"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

// AnalysisDTO is a job snapshot, including whatever stage results exist
// so far. Suitable for polling-based status pages.
type AnalysisDTO struct {
	JobID          string          `json:"job_id"`
	SHA256         string          `json:"sha256"`
	FileSize       int64           `json:"file_size"`
	FileType       string          `json:"file_type,omitempty"`
	RequestedMode  string          `json:"requested_mode"`
	Status         string          `json:"status"`
	StaticResults  json.RawMessage `json:"static_results,omitempty"`
	TriageResults  json.RawMessage `json:"triage_results,omitempty"`
	DynamicResults json.RawMessage `json:"dynamic_results,omitempty"`
	RiskScore      *int            `json:"risk_score,omitempty"`
	RiskLevel      string          `json:"risk_level,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      string          `json:"created_at"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	UpdatedAt      string          `json:"updated_at"`
}

// ListAnalysesRequest carries list filters and cursor pagination.
type ListAnalysesRequest struct {
	Status    string `form:"status"`
	Mode      string `form:"mode"`
	RiskLevel string `form:"risk_level"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

// ListAnalysesResponse is the paginated list payload.
type ListAnalysesResponse struct {
	Analyses   []AnalysisDTO `json:"analyses"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
