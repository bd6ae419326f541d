// Package rules is the adapter to the external rule-matching engine.
// The engine's grammar and compilation are its own concern; the pipeline
// only sees structured matches.
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

// Matcher is the call contract the static stage depends on. Callers must
// tolerate an error by degrading to zero matches with a warning.
type Matcher interface {
	Match(ctx context.Context, artifact []byte) ([]domain.RuleMatch, error)
}

// Client talks to a rule-scanner service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a rule-engine client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type matchResponse struct {
	Matches []domain.RuleMatch `json:"matches"`
}

// Match submits the artifact bytes for scanning and returns the rule
// matches. Zero matches is a normal result, not an error.
func (c *Client) Match(ctx context.Context, artifact []byte) ([]domain.RuleMatch, error) {
	if c.baseURL == "" {
		c.logger.Warn("Rule engine not configured, skipping rule matching")
		return nil, nil
	}

	url := c.baseURL + "/scan"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(artifact))
	if err != nil {
		return nil, fmt.Errorf("failed to build rule scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: rule engine: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rule engine returned status %d", domain.ErrExternalUnavailable, resp.StatusCode)
	}

	var body matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: rule engine: %v", domain.ErrMalformedResponse, err)
	}

	c.logger.Debug("Rule scan completed",
		slog.Int("matches", len(body.Matches)),
	)

	return body.Matches, nil
}
