// Package static runs the first pipeline stage: metadata extraction,
// string/IOC extraction, PE parsing and rule matching against the raw
// artifact bytes.
package static

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
	"github.com/murdok1982/hispanshield/internal/collab/rules"
)

// Analyzer runs the static stage. Sub-steps are independent and
// individually best-effort: a PE-parse failure or an unreachable rule
// engine records a warning without aborting the stage.
type Analyzer struct {
	matcher rules.Matcher
	logger  *slog.Logger
}

// NewAnalyzer creates a static analyzer.
func NewAnalyzer(matcher rules.Matcher, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		matcher: matcher,
		logger:  logger,
	}
}

// Run analyzes the artifact and returns the static finding set. The only
// fatal condition is an artifact with no bytes to inspect, which maps to
// domain.ErrUnparsableArtifact.
func (a *Analyzer) Run(ctx context.Context, artifact []byte) (*domain.StaticFindings, error) {
	if len(artifact) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", domain.ErrUnparsableArtifact)
	}

	findings := &domain.StaticFindings{
		FileType: DetectFileType(artifact),
		FileSize: int64(len(artifact)),
		Entropy:  Entropy(artifact),
	}

	var mu sync.Mutex
	warn := func(msg string) {
		mu.Lock()
		findings.Warnings = append(findings.Warnings, msg)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		findings.Strings = ExtractStrings(artifact)
		return nil
	})

	g.Go(func() error {
		if !looksLikePE(artifact) {
			return nil
		}
		info, err := ParsePE(artifact)
		if err != nil {
			a.logger.Warn("PE parse failed",
				slog.String("error", err.Error()),
			)
			warn("pe: " + err.Error())
			return nil
		}
		findings.PE = info
		return nil
	})

	g.Go(func() error {
		matches, err := a.matcher.Match(gctx, artifact)
		if err != nil {
			a.logger.Warn("Rule matching degraded to zero matches",
				slog.String("error", err.Error()),
			)
			warn("rules: " + err.Error())
			return nil
		}
		findings.RuleMatches = matches
		return nil
	})

	// Sub-steps absorb their own failures, so Wait cannot fail.
	_ = g.Wait()

	a.logger.Info("Static stage completed",
		slog.String("file_type", findings.FileType),
		slog.Int64("file_size", findings.FileSize),
		slog.Float64("entropy", findings.Entropy),
		slog.Int("rule_matches", len(findings.RuleMatches)),
		slog.Int("warnings", len(findings.Warnings)),
	)

	return findings, nil
}
