// Package reputation is the adapter to the external hash-lookup service
// (VirusTotal API v3 shape).
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

// Report is the normalized outcome of a hash lookup.
type Report struct {
	Malicious int
	Total     int
}

// Client queries the reputation service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a reputation client.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type lookupResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup fetches the detection stats for a file hash. It returns
// domain.ErrReputationNotFound when the hash is unknown and
// domain.ErrExternalUnavailable when the service cannot be reached or
// rejects the request.
func (c *Client) Lookup(ctx context.Context, hash string) (*Report, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return nil, fmt.Errorf("%w: reputation service not configured", domain.ErrExternalUnavailable)
	}

	url := fmt.Sprintf("%s/files/%s", c.baseURL, hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reputation request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: reputation: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, domain.ErrReputationNotFound
	default:
		return nil, fmt.Errorf("%w: reputation returned status %d", domain.ErrExternalUnavailable, resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: reputation: %v", domain.ErrMalformedResponse, err)
	}

	stats := body.Data.Attributes.LastAnalysisStats
	if stats == nil {
		return nil, fmt.Errorf("%w: reputation response missing analysis stats", domain.ErrMalformedResponse)
	}

	report := &Report{Malicious: stats["malicious"]}
	for _, count := range stats {
		report.Total += count
	}

	c.logger.Debug("Reputation lookup completed",
		slog.String("hash", hash),
		slog.Int("malicious", report.Malicious),
		slog.Int("total", report.Total),
	)

	return report, nil
}
