// Package scoring maps stage findings to a 0-100 risk score and a
// discrete risk level. Everything here is pure and deterministic: the
// same findings always produce the same score, so the coordinator can
// recompute the verdict at every stage boundary.
package scoring

import (
	"strings"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

// Triage formula weights. The level thresholds and static heuristics are
// configurable; the blend weights are fixed by the scoring model.
const (
	detectionRatioWeight = 0.4
	ruleMatchWeight      = 10
	staticRiskWeight     = 0.3
	ctiHitWeight         = 15
)

// LevelThresholds are the minimum scores for each risk level. A score
// below Low maps to CLEAN.
type LevelThresholds struct {
	Critical   int `yaml:"critical"`
	Malicious  int `yaml:"malicious"`
	Suspicious int `yaml:"suspicious"`
	Low        int `yaml:"low"`
}

// Policy holds the tunable parts of the scoring model.
type Policy struct {
	Levels LevelThresholds

	// EntropyThreshold is the whole-file entropy above which the packed-
	// payload heuristic contributes EntropyPoints to the static risk.
	EntropyThreshold float64
	EntropyPoints    int

	// ImportPoints is added to the static risk for each imported API
	// found in HighRiskImports (matched case-insensitively).
	ImportPoints    int
	HighRiskImports []string
}

// DefaultPolicy returns the stock scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		Levels: LevelThresholds{
			Critical:   90,
			Malicious:  70,
			Suspicious: 40,
			Low:        10,
		},
		EntropyThreshold: 7.0,
		EntropyPoints:    20,
		ImportPoints:     10,
		HighRiskImports: []string{
			"VirtualAllocEx",
			"WriteProcessMemory",
			"CreateRemoteThread",
			"SetWindowsHookExA",
			"SetWindowsHookExW",
			"URLDownloadToFileA",
			"IsDebuggerPresent",
		},
	}
}

// StaticRisk scores static evidence alone: the entropy heuristic plus
// fixed increments for high-risk imported APIs.
func (p Policy) StaticRisk(static *domain.StaticFindings) int {
	if static == nil {
		return 0
	}

	risk := 0
	if static.Entropy > p.EntropyThreshold {
		risk += p.EntropyPoints
	}

	if static.PE != nil {
		risky := make(map[string]struct{}, len(p.HighRiskImports))
		for _, name := range p.HighRiskImports {
			risky[strings.ToLower(name)] = struct{}{}
		}
		for _, imp := range static.PE.Imports {
			if _, ok := risky[strings.ToLower(imp)]; ok {
				risk += p.ImportPoints
			}
		}
	}

	return risk
}

// TriageScore blends reputation, rule matches, static risk and known
// indicator hits into a single 0-100 score.
func (p Policy) TriageScore(static *domain.StaticFindings, detectionRatio float64, ctiHits int) int {
	matches := 0
	if static != nil {
		matches = len(static.RuleMatches)
	}

	score := detectionRatio*detectionRatioWeight +
		float64(matches*ruleMatchWeight) +
		float64(p.StaticRisk(static))*staticRiskWeight +
		float64(ctiHits*ctiHitWeight)

	return clamp(int(score))
}

// Score recomputes the best-effort verdict from whatever stage results
// exist so far. The dynamic verdict never lowers the triage verdict:
// the final score is the max of the two.
func (p Policy) Score(static *domain.StaticFindings, triage *domain.TriageFindings, dynamic *domain.DynamicFindings) int {
	var ratio float64
	ctiHits := 0
	if triage != nil {
		ratio = triage.DetectionRatio
		ctiHits = triage.CTIHits
	}

	score := p.TriageScore(static, ratio, ctiHits)

	if dynamic != nil {
		// Sandbox scores are native 0-10; scale to the 0-100 range.
		dynamicScore := clamp(int(dynamic.SandboxScore * 10))
		if dynamicScore > score {
			score = dynamicScore
		}
	}

	return score
}

// Level maps a score to its discrete risk band.
func (p Policy) Level(score int) domain.RiskLevel {
	switch {
	case score >= p.Levels.Critical:
		return domain.RiskCritical
	case score >= p.Levels.Malicious:
		return domain.RiskMalicious
	case score >= p.Levels.Suspicious:
		return domain.RiskSuspicious
	case score >= p.Levels.Low:
		return domain.RiskLow
	default:
		return domain.RiskClean
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
