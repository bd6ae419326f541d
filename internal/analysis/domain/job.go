package domain

import "time"

// AnalysisMode determines which pipeline stages are eligible to run for a job.
type AnalysisMode string

const (
	ModeTriageOnly  AnalysisMode = "TRIAGE_ONLY"
	ModeStaticOnly  AnalysisMode = "STATIC_ONLY"
	ModeDynamicOnly AnalysisMode = "DYNAMIC_ONLY"
	ModeFull        AnalysisMode = "FULL"
)

// Valid reports whether the mode is one of the supported analysis modes.
func (m AnalysisMode) Valid() bool {
	switch m {
	case ModeTriageOnly, ModeStaticOnly, ModeDynamicOnly, ModeFull:
		return true
	}
	return false
}

// WantsDynamic reports whether the mode requests the dynamic stage.
func (m AnalysisMode) WantsDynamic() bool {
	return m == ModeDynamicOnly || m == ModeFull
}

// JobStatus is the lifecycle state of an analysis job. Progression is
// strictly forward; terminal states are immutable.
type JobStatus string

const (
	StatusPending        JobStatus = "PENDING"
	StatusRunningStatic  JobStatus = "RUNNING_STATIC"
	StatusRunningTriage  JobStatus = "RUNNING_TRIAGE"
	StatusRunningDynamic JobStatus = "RUNNING_DYNAMIC"
	StatusCompleted      JobStatus = "COMPLETED"
	StatusFailed         JobStatus = "FAILED"
	StatusCanceled       JobStatus = "CANCELED"
)

// transitions is the directed graph of allowed status changes. Triage has
// no edge to FAILED: a failed reputation lookup degrades to an unknown
// triage input instead of aborting the job.
var transitions = map[JobStatus][]JobStatus{
	StatusPending:        {StatusRunningStatic, StatusCanceled},
	StatusRunningStatic:  {StatusRunningTriage, StatusCompleted, StatusFailed, StatusCanceled},
	StatusRunningTriage:  {StatusRunningDynamic, StatusCompleted, StatusCanceled},
	StatusRunningDynamic: {StatusCompleted, StatusFailed, StatusCanceled},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// RiskLevel is the discrete band derived from the numeric risk score.
type RiskLevel string

const (
	RiskClean      RiskLevel = "CLEAN"
	RiskLow        RiskLevel = "LOW"
	RiskSuspicious RiskLevel = "SUSPICIOUS"
	RiskMalicious  RiskLevel = "MALICIOUS"
	RiskCritical   RiskLevel = "CRITICAL"
)

// AnalysisJob is the unit of work driven through the pipeline. The
// coordinator is the only writer of Status; stages return findings by
// value and never mutate the job directly.
type AnalysisJob struct {
	JobID         string
	SHA256        string
	FileSize      int64
	FileType      string
	RequestedMode AnalysisMode
	Status        JobStatus

	Static  *StaticFindings
	Triage  *TriageFindings
	Dynamic *DynamicFindings

	RiskScore *int
	RiskLevel RiskLevel

	ErrorMessage    string
	WorkerID        string
	CancelRequested bool

	CreatedAt      time.Time
	StageStartedAt *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// JobMessage is the queue payload dispatching a job to a worker.
// DynamicTimeoutSeconds overrides the worker's default detonation
// budget when positive.
type JobMessage struct {
	JobID                 string `json:"job_id"`
	DynamicTimeoutSeconds int    `json:"dynamic_timeout_seconds,omitempty"`
	DeliveryTag           uint64 `json:"-"`
}
