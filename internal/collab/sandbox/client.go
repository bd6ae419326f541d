// Package sandbox is the adapter to the detonation sandbox (Cuckoo/CAPE
// API shape): submit a file, poll task status, fetch the report.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

// TaskStatus is the sandbox-side state of a detonation task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskReported TaskStatus = "reported"
	TaskFailed   TaskStatus = "failed"
	TaskUnknown  TaskStatus = "unknown"
)

// Report is the sandbox report normalized to bounded counts.
type Report struct {
	Score         float64
	Processes     int
	FileWrites    int
	NetworkEvents int
}

// Client talks to the sandbox REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a sandbox client.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Submit uploads the artifact for detonation and returns the sandbox
// task id.
func (c *Client) Submit(ctx context.Context, artifact []byte, fileName string) (int64, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("%w: sandbox not configured", domain.ErrExternalUnavailable)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return 0, fmt.Errorf("failed to build submission form: %w", err)
	}
	if _, err := part.Write(artifact); err != nil {
		return 0, fmt.Errorf("failed to write submission form: %w", err)
	}
	if err := form.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize submission form: %w", err)
	}

	url := c.baseURL + "/tasks/create/file"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return 0, fmt.Errorf("failed to build submission request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: sandbox submit: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: sandbox submit returned status %d", domain.ErrExternalUnavailable, resp.StatusCode)
	}

	var body struct {
		TaskID int64 `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: sandbox submit: %v", domain.ErrMalformedResponse, err)
	}
	if body.TaskID == 0 {
		return 0, fmt.Errorf("%w: sandbox submit response missing task_id", domain.ErrMalformedResponse)
	}

	c.logger.Info("Artifact submitted to sandbox",
		slog.Int64("task_id", body.TaskID),
		slog.String("file_name", fileName),
	)

	return body.TaskID, nil
}

// Status fetches the current state of a detonation task. Transport or
// schema failures map to TaskUnknown so the poll loop can keep going.
func (c *Client) Status(ctx context.Context, taskID int64) (TaskStatus, error) {
	url := c.baseURL + "/tasks/view/" + strconv.FormatInt(taskID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TaskUnknown, fmt.Errorf("failed to build status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TaskUnknown, fmt.Errorf("%w: sandbox status: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TaskUnknown, fmt.Errorf("%w: sandbox status returned %d", domain.ErrExternalUnavailable, resp.StatusCode)
	}

	var body struct {
		Task struct {
			Status string `json:"status"`
		} `json:"task"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return TaskUnknown, fmt.Errorf("%w: sandbox status: %v", domain.ErrMalformedResponse, err)
	}

	switch s := TaskStatus(body.Task.Status); s {
	case TaskPending, TaskRunning, TaskReported, TaskFailed:
		return s, nil
	default:
		return TaskUnknown, nil
	}
}

// rawReport mirrors just the report fields the pipeline keeps. Event
// lists are decoded as raw messages only to be counted.
type rawReport struct {
	Info struct {
		Score float64 `json:"score"`
	} `json:"info"`
	Behavior struct {
		Processes []json.RawMessage `json:"processes"`
		Summary   struct {
			Files []json.RawMessage `json:"files"`
		} `json:"summary"`
	} `json:"behavior"`
	Network struct {
		HTTP []json.RawMessage `json:"http"`
	} `json:"network"`
}

// FetchReport downloads and normalizes the full detonation report.
func (c *Client) FetchReport(ctx context.Context, taskID int64) (*Report, error) {
	url := c.baseURL + "/tasks/report/" + strconv.FormatInt(taskID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build report request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sandbox report: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: sandbox report returned %d", domain.ErrExternalUnavailable, resp.StatusCode)
	}

	var raw rawReport
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: sandbox report: %v", domain.ErrMalformedResponse, err)
	}

	return &Report{
		Score:         raw.Info.Score,
		Processes:     len(raw.Behavior.Processes),
		FileWrites:    len(raw.Behavior.Summary.Files),
		NetworkEvents: len(raw.Network.HTTP),
	}, nil
}
