// Package triage runs the second pipeline stage: a fast, low-cost
// evaluation combining static evidence with an external reputation
// lookup to score the artifact and decide whether detonation is worth
// its cost.
package triage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
	"github.com/murdok1982/hispanshield/internal/analysis/scoring"
	"github.com/murdok1982/hispanshield/internal/collab/reputation"
)

// ReputationClient is the hash-lookup collaborator contract.
type ReputationClient interface {
	Lookup(ctx context.Context, hash string) (*reputation.Report, error)
}

// IndicatorStore records and queries known threat indicators.
type IndicatorStore interface {
	UpsertIndicator(ctx context.Context, indicator domain.ThreatIndicator) error
	CountActiveIndicators(ctx context.Context, values []string) (int, error)
}

// Config holds the triage decision tunables.
type Config struct {
	// ShortCircuitEnabled skips the dynamic stage when the triage score
	// already exceeds ShortCircuitScore. An optimization, off by default.
	ShortCircuitEnabled bool
	ShortCircuitScore   int

	// IngestRatio is the detection-ratio percentage above which a
	// confident reputation hit is recorded as a known indicator.
	IngestRatio float64
}

// Stage runs triage. It never fails the job: an unreachable or
// malformed reputation response degrades to an unknown lookup, which is
// why Run returns no error.
type Stage struct {
	reputation ReputationClient
	indicators IndicatorStore
	policy     scoring.Policy
	cfg        Config
	logger     *slog.Logger
}

// NewStage creates a triage stage.
func NewStage(rep ReputationClient, indicators IndicatorStore, policy scoring.Policy, cfg Config, logger *slog.Logger) *Stage {
	return &Stage{
		reputation: rep,
		indicators: indicators,
		policy:     policy,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run combines static findings with a reputation lookup and returns the
// triage findings plus the continuation decision for the dynamic stage.
func (s *Stage) Run(ctx context.Context, static *domain.StaticFindings, sha256 string, mode domain.AnalysisMode) (*domain.TriageFindings, bool) {
	findings := &domain.TriageFindings{}

	report, err := s.reputation.Lookup(ctx, sha256)
	switch {
	case err == nil:
		findings.Reputation = domain.ReputationHit
		findings.MaliciousCount = report.Malicious
		findings.TotalCount = report.Total
		if report.Total > 0 {
			findings.DetectionRatio = float64(report.Malicious) / float64(report.Total) * 100
		}
	case errors.Is(err, domain.ErrReputationNotFound):
		findings.Reputation = domain.ReputationNotFound
	default:
		// Unreachable or malformed: degrade to unknown instead of failing.
		findings.Reputation = domain.ReputationUnavailable
		findings.Warnings = append(findings.Warnings, "reputation: "+err.Error())
		s.logger.Warn("Reputation lookup degraded to unknown",
			slog.String("sha256", sha256),
			slog.String("error", err.Error()),
		)
	}

	findings.CTIHits = s.countKnownIndicators(ctx, static, sha256, findings)

	findings.Score = s.policy.TriageScore(static, findings.DetectionRatio, findings.CTIHits)

	s.ingestConfidentHit(ctx, sha256, findings)

	proceed := mode.WantsDynamic()
	if proceed && s.cfg.ShortCircuitEnabled && findings.Score >= s.cfg.ShortCircuitScore {
		s.logger.Info("Triage short-circuit: skipping dynamic stage",
			slog.String("sha256", sha256),
			slog.Int("score", findings.Score),
			slog.Int("threshold", s.cfg.ShortCircuitScore),
		)
		proceed = false
	}

	s.logger.Info("Triage stage completed",
		slog.String("sha256", sha256),
		slog.String("reputation", string(findings.Reputation)),
		slog.Float64("detection_ratio", findings.DetectionRatio),
		slog.Int("cti_hits", findings.CTIHits),
		slog.Int("score", findings.Score),
		slog.Bool("proceed_dynamic", proceed),
	)

	return findings, proceed
}

// countKnownIndicators matches the artifact hash and every extracted
// network IOC against the indicator store. Store failures degrade to
// zero hits.
func (s *Stage) countKnownIndicators(ctx context.Context, static *domain.StaticFindings, sha256 string, findings *domain.TriageFindings) int {
	values := []string{sha256}
	if static != nil {
		values = append(values, static.Strings.Indicators()...)
	}

	hits, err := s.indicators.CountActiveIndicators(ctx, values)
	if err != nil {
		findings.Warnings = append(findings.Warnings, "indicators: "+err.Error())
		s.logger.Warn("Indicator lookup failed",
			slog.String("error", err.Error()),
		)
		return 0
	}
	return hits
}

// ingestConfidentHit durably records the hash as a known indicator when
// the reputation service is itself confident. The upsert is idempotent,
// keyed by indicator value and type.
func (s *Stage) ingestConfidentHit(ctx context.Context, sha256 string, findings *domain.TriageFindings) {
	if findings.Reputation != domain.ReputationHit || findings.DetectionRatio < s.cfg.IngestRatio {
		return
	}

	now := time.Now().UTC()
	indicator := domain.ThreatIndicator{
		Type:       domain.IndicatorHash,
		Value:      sha256,
		Source:     "reputation",
		Confidence: int(findings.DetectionRatio),
		Tags:       []string{"auto-ingest"},
		FirstSeen:  now,
		LastSeen:   now,
	}

	if err := s.indicators.UpsertIndicator(ctx, indicator); err != nil {
		findings.Warnings = append(findings.Warnings, "indicator ingest: "+err.Error())
		s.logger.Warn("Failed to ingest confident reputation hit",
			slog.String("sha256", sha256),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("Confident reputation hit recorded as indicator",
		slog.String("sha256", sha256),
		slog.Float64("detection_ratio", findings.DetectionRatio),
	)
}
