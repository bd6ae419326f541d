package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

func TestPolicy_TriageScore(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name           string
		static         *domain.StaticFindings
		detectionRatio float64
		ctiHits        int
		expected       int
	}{
		{
			name:     "no evidence scores zero",
			static:   &domain.StaticFindings{Entropy: 3.2},
			expected: 0,
		},
		{
			name:   "single rule match contributes ten points",
			static: &domain.StaticFindings{RuleMatches: []domain.RuleMatch{{Rule: "ransomware_note"}}},
			// 1 match * 10
			expected: 10,
		},
		{
			name:           "detection ratio with high entropy truncates fraction",
			static:         &domain.StaticFindings{Entropy: 7.5},
			detectionRatio: 45.0 / 70.0 * 100,
			// 64.2857*0.4 + 20*0.3 = 25.714 + 6 = 31.714 -> 31
			expected: 31,
		},
		{
			name:           "known indicator hits weigh fifteen each",
			static:         &domain.StaticFindings{},
			detectionRatio: 0,
			ctiHits:        2,
			expected:       30,
		},
		{
			name: "score clamps at one hundred",
			static: &domain.StaticFindings{
				Entropy: 7.9,
				RuleMatches: []domain.RuleMatch{
					{Rule: "a"}, {Rule: "b"}, {Rule: "c"}, {Rule: "d"},
					{Rule: "e"}, {Rule: "f"}, {Rule: "g"}, {Rule: "h"},
				},
			},
			detectionRatio: 100,
			ctiHits:        3,
			expected:       100,
		},
		{
			name:     "nil static findings are tolerated",
			static:   nil,
			ctiHits:  1,
			expected: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.TriageScore(tt.static, tt.detectionRatio, tt.ctiHits)
			assert.Equal(t, tt.expected, got)

			// Same inputs, same score
			assert.Equal(t, got, policy.TriageScore(tt.static, tt.detectionRatio, tt.ctiHits))
		})
	}
}

func TestPolicy_StaticRisk(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name     string
		static   *domain.StaticFindings
		expected int
	}{
		{
			name:     "nil findings",
			static:   nil,
			expected: 0,
		},
		{
			name:     "low entropy adds nothing",
			static:   &domain.StaticFindings{Entropy: 6.9},
			expected: 0,
		},
		{
			name:     "entropy above threshold adds packed-payload points",
			static:   &domain.StaticFindings{Entropy: 7.1},
			expected: 20,
		},
		{
			name: "high risk imports match case-insensitively",
			static: &domain.StaticFindings{
				PE: &domain.PEInfo{
					Imports: []string{"virtualallocex", "WRITEPROCESSMEMORY", "GetModuleHandleA"},
				},
			},
			expected: 20,
		},
		{
			name: "entropy and imports accumulate",
			static: &domain.StaticFindings{
				Entropy: 7.4,
				PE: &domain.PEInfo{
					Imports: []string{"CreateRemoteThread"},
				},
			},
			expected: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.StaticRisk(tt.static))
		})
	}
}

func TestPolicy_Score(t *testing.T) {
	policy := DefaultPolicy()

	t.Run("dynamic verdict never lowers the triage verdict", func(t *testing.T) {
		static := &domain.StaticFindings{Entropy: 7.5}
		triage := &domain.TriageFindings{DetectionRatio: 100, CTIHits: 2}
		dynamic := &domain.DynamicFindings{SandboxScore: 1.0}

		withoutDynamic := policy.Score(static, triage, nil)
		withDynamic := policy.Score(static, triage, dynamic)

		assert.Equal(t, withoutDynamic, withDynamic)
	})

	t.Run("dynamic verdict raises a quiet triage verdict", func(t *testing.T) {
		static := &domain.StaticFindings{}
		triage := &domain.TriageFindings{}
		dynamic := &domain.DynamicFindings{SandboxScore: 8.5}

		// 8.5 * 10 = 85
		assert.Equal(t, 85, policy.Score(static, triage, dynamic))
	})

	t.Run("sandbox score scales and clamps", func(t *testing.T) {
		dynamic := &domain.DynamicFindings{SandboxScore: 12.0}
		assert.Equal(t, 100, policy.Score(nil, nil, dynamic))
	})

	t.Run("missing stages degrade to zero contributions", func(t *testing.T) {
		assert.Equal(t, 0, policy.Score(nil, nil, nil))
	})
}

func TestPolicy_Level(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		score    int
		expected domain.RiskLevel
	}{
		{score: 0, expected: domain.RiskClean},
		{score: 9, expected: domain.RiskClean},
		{score: 10, expected: domain.RiskLow},
		{score: 39, expected: domain.RiskLow},
		{score: 40, expected: domain.RiskSuspicious},
		{score: 69, expected: domain.RiskSuspicious},
		{score: 70, expected: domain.RiskMalicious},
		{score: 89, expected: domain.RiskMalicious},
		{score: 90, expected: domain.RiskCritical},
		{score: 100, expected: domain.RiskCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, policy.Level(tt.score), "score %d", tt.score)
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, clamp(-5))
	assert.Equal(t, 0, clamp(0))
	assert.Equal(t, 55, clamp(55))
	assert.Equal(t, 100, clamp(100))
	assert.Equal(t, 100, clamp(140))
}
