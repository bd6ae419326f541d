package domain

import "time"

// StaticFindings is the evidence produced by the static stage. Every
// sub-step is best-effort: a failed PE parse or rule scan leaves its
// field empty and records a warning instead of aborting the stage.
type StaticFindings struct {
	FileType string  `json:"file_type"`
	FileSize int64   `json:"file_size"`
	Entropy  float64 `json:"entropy"`

	Strings     StringFindings `json:"strings"`
	PE          *PEInfo        `json:"pe,omitempty"`
	RuleMatches []RuleMatch    `json:"rule_matches"`

	Warnings []string `json:"warnings,omitempty"`
}

// StringFindings holds categorized printable strings, deduplicated per
// category.
type StringFindings struct {
	IPv4    []string `json:"ipv4,omitempty"`
	URLs    []string `json:"urls,omitempty"`
	Emails  []string `json:"emails,omitempty"`
	Domains []string `json:"domains,omitempty"`
}

// Indicators returns every categorized network indicator extracted from
// the artifact, for matching against the threat indicator store.
func (s StringFindings) Indicators() []string {
	out := make([]string, 0, len(s.IPv4)+len(s.URLs)+len(s.Domains))
	out = append(out, s.IPv4...)
	out = append(out, s.URLs...)
	out = append(out, s.Domains...)
	return out
}

// PEInfo is the parsed portable-executable metadata.
type PEInfo struct {
	Machine   uint16      `json:"machine"`
	Timestamp uint32      `json:"timestamp"`
	Sections  []PESection `json:"sections"`
	Imports   []string    `json:"imports"`
}

// PESection describes one entry of the PE section table.
type PESection struct {
	Name        string  `json:"name"`
	VirtualSize uint32  `json:"virtual_size"`
	RawSize     uint32  `json:"raw_size"`
	Entropy     float64 `json:"entropy"`
}

// RuleMatch is one hit reported by the rule-matching engine.
type RuleMatch struct {
	Rule string            `json:"rule"`
	Tags []string          `json:"tags,omitempty"`
	Meta map[string]string `json:"meta,omitempty"`
}

// ReputationStatus is the normalized outcome of a reputation lookup.
type ReputationStatus string

const (
	ReputationHit         ReputationStatus = "hit"
	ReputationNotFound    ReputationStatus = "not_found"
	ReputationUnavailable ReputationStatus = "unavailable"
)

// TriageFindings combines static evidence with reputation data.
type TriageFindings struct {
	Reputation     ReputationStatus `json:"reputation"`
	MaliciousCount int              `json:"malicious_count"`
	TotalCount     int              `json:"total_count"`
	DetectionRatio float64          `json:"detection_ratio"` // percent, 0-100
	CTIHits        int              `json:"cti_hits"`
	Score          int              `json:"score"`

	Warnings []string `json:"warnings,omitempty"`
}

// DynamicFindings is the normalized detonation report. Counts are kept
// instead of raw event lists to bound memory. Partial marks a report
// truncated by timeout or sandbox failure rather than a full detonation.
type DynamicFindings struct {
	TaskID        int64   `json:"task_id"`
	SandboxScore  float64 `json:"sandbox_score"` // sandbox native range 0-10
	Processes     int     `json:"processes"`
	FileWrites    int     `json:"file_writes"`
	NetworkEvents int     `json:"network_events"`
	Partial       bool    `json:"partial"`

	Warnings []string `json:"warnings,omitempty"`
}

// IndicatorType classifies a threat indicator value.
type IndicatorType string

const (
	IndicatorIP     IndicatorType = "ip"
	IndicatorDomain IndicatorType = "domain"
	IndicatorURL    IndicatorType = "url"
	IndicatorHash   IndicatorType = "hash"
)

// ThreatIndicator is a known IoC recorded for fast-path lookups. Upserts
// are keyed by (type, value) and idempotent.
type ThreatIndicator struct {
	Type       IndicatorType
	Value      string
	Source     string
	Confidence int // 0-100
	Tags       []string
	FirstSeen  time.Time
	LastSeen   time.Time
}
