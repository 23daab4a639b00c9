// Package render talks to the remote effect-rendering service: it submits
// generation jobs and polls them to a terminal state.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clownify/internal/domain"
)

// Poll cadence: a bounded-retry loop rather than backoff, so a short-lived
// interactive job stays predictable. 60 attempts at 2s is a ~2 minute
// wall-clock ceiling.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollBudget   = 60
)

// EffectPreset is the fixed effect configuration applied uniformly to every
// job. The parameters are a static choice of the pipeline, never user input.
type EffectPreset struct {
	Model           string
	ToolType        string
	EffectID        string
	RemoveWatermark bool
	Private         bool
}

// DefaultPreset returns the standard preset: watermark removal on, results
// kept private.
func DefaultPreset(effectID string) EffectPreset {
	if effectID == "" {
		effectID = "pokemonTrainer"
	}
	return EffectPreset{
		Model:           "image-effects",
		ToolType:        "image-effects",
		EffectID:        effectID,
		RemoveWatermark: true,
		Private:         true,
	}
}

// Options configures the rendering client.
type Options struct {
	BaseURL      string
	UserID       string
	Preset       EffectPreset
	PollInterval time.Duration
	PollBudget   int
	HTTPClient   *http.Client
	Logger       *zerolog.Logger
	Timeout      time.Duration
}

// Client submits and polls effect-rendering jobs.
type Client struct {
	baseURL      string
	userID       string
	preset       EffectPreset
	pollInterval time.Duration
	pollBudget   int
	httpClient   *http.Client
	logger       zerolog.Logger
}

// NewClient constructs a rendering client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	budget := opts.PollBudget
	if budget <= 0 {
		budget = DefaultPollBudget
	}
	preset := opts.Preset
	if preset.EffectID == "" {
		preset = DefaultPreset("")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		userID:       strings.TrimSpace(opts.UserID),
		preset:       preset,
		pollInterval: interval,
		pollBudget:   budget,
		httpClient:   httpClient,
		logger:       logger,
	}
}

type submitRequest struct {
	Model           string `json:"model"`
	ToolType        string `json:"toolType"`
	EffectID        string `json:"effectId"`
	ImageURL        string `json:"imageUrl"`
	UserID          string `json:"userId"`
	RemoveWatermark bool   `json:"removeWatermark"`
	IsPrivate       bool   `json:"isPrivate"`
}

type submitResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type statusResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Submit starts a rendering job for the uploaded asset and returns it in the
// queued state. A non-success HTTP status wraps domain.ErrSubmissionFailed.
func (c *Client) Submit(ctx context.Context, assetURL string) (domain.Job, error) {
	payload := submitRequest{
		Model:           c.preset.Model,
		ToolType:        c.preset.ToolType,
		EffectID:        c.preset.EffectID,
		ImageURL:        assetURL,
		UserID:          c.userID,
		RemoveWatermark: c.preset.RemoveWatermark,
		IsPrivate:       c.preset.Private,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, fmt.Errorf("render: encode submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image-gen", bytes.NewReader(body))
	if err != nil {
		return domain.Job{}, fmt.Errorf("render: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: read response: %v", domain.ErrSubmissionFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Job{}, fmt.Errorf("%w: status %d", domain.ErrSubmissionFailed, resp.StatusCode)
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.Job{}, fmt.Errorf("%w: decode response: %v", domain.ErrSubmissionFailed, err)
	}
	if decoded.JobID == "" {
		return domain.Job{}, fmt.Errorf("%w: response carries no job id", domain.ErrSubmissionFailed)
	}
	c.logger.Debug().Str("job_id", decoded.JobID).Str("remote_status", decoded.Status).Msg("render: job submitted")
	return domain.Job{ID: decoded.JobID, Status: domain.JobStatusQueued}, nil
}

// Poll queries the job status until a terminal state. A completed job is
// returned immediately with its raw result payload; failed/error statuses
// surface as *domain.RemoteJobError; an exhausted budget wraps
// domain.ErrJobTimedOut, raised exactly after the final non-terminal
// response. Any status other than completed/failed/error is treated as still
// in progress, unknown future strings included; progress is invoked once per
// such response with the attempt count.
func (c *Client) Poll(ctx context.Context, jobID string, progress func(attempt int)) (domain.Job, error) {
	for attempt := 1; attempt <= c.pollBudget; attempt++ {
		st, err := c.status(ctx, jobID)
		if err != nil {
			return domain.Job{}, err
		}

		switch st.Status {
		case "completed":
			return domain.Job{ID: jobID, Status: domain.JobStatusCompleted, ResultJSON: st.Result}, nil
		case "failed", "error":
			return domain.Job{}, &domain.RemoteJobError{Message: st.Error}
		}

		c.logger.Debug().Str("job_id", jobID).Str("remote_status", st.Status).Int("attempt", attempt).Msg("render: still processing")
		if progress != nil {
			progress(attempt)
		}
		if attempt == c.pollBudget {
			break
		}
		select {
		case <-ctx.Done():
			return domain.Job{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return domain.Job{}, fmt.Errorf("%w after %d attempts", domain.ErrJobTimedOut, c.pollBudget)
}

func (c *Client) status(ctx context.Context, jobID string) (statusResponse, error) {
	endpoint := fmt.Sprintf("%s/image-gen/%s/%s/status", c.baseURL, c.userID, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return statusResponse{}, fmt.Errorf("render: build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return statusResponse{}, fmt.Errorf("render: status request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return statusResponse{}, fmt.Errorf("render: read status response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusResponse{}, fmt.Errorf("render: status check returned %d", resp.StatusCode)
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return statusResponse{}, fmt.Errorf("render: decode status response: %w", err)
	}
	return decoded, nil
}
