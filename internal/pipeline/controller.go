// Package pipeline sequences the generation cycle: upload, submit, poll,
// resolve, download. The Controller is the only component with cross-cutting
// state; everything it talks to is a leaf collaborator behind an interface.
package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clownify/internal/domain"
	"clownify/internal/download"
	"clownify/internal/render"
)

// Uploader turns a local file into a durable, publicly fetchable URL.
type Uploader interface {
	Upload(ctx context.Context, filename, mime string, data []byte) (domain.UploadedAsset, error)
}

// Renderer submits effect jobs and polls them to a terminal state.
type Renderer interface {
	Submit(ctx context.Context, assetURL string) (domain.Job, error)
	Poll(ctx context.Context, jobID string, progress func(attempt int)) (domain.Job, error)
}

// Downloader delivers a result URL to the user, degrading through fallback
// tiers instead of failing.
type Downloader interface {
	Download(ctx context.Context, req download.Request) download.Attempt
}

// Options configures the controller.
type Options struct {
	Uploader   Uploader
	Renderer   Renderer
	Downloader Downloader
	Notifier   Notifier
	// PreviewClient fetches completed results into memory so the re-encode
	// download tier has something to work from. Optional.
	PreviewClient *http.Client
	Logger        *zerolog.Logger
}

// Controller owns the pipeline state machine. The current asset and job are
// explicit fields with controlled replace/clear, never ambient state. A
// cycle counter implements the stale-response guard: work started under an
// older cycle may not mutate the controller once the cycle moved on.
type Controller struct {
	uploader   Uploader
	renderer   Renderer
	downloader Downloader
	notifier   Notifier
	preview    *http.Client
	logger     zerolog.Logger

	mu          sync.Mutex
	state       domain.State
	asset       *domain.UploadedAsset
	job         *domain.Job
	resultURL   string
	previewData []byte
	cycle       uint64
	downloading bool
}

// NewController wires a controller in the idle state.
func NewController(opts Options) *Controller {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	previewClient := opts.PreviewClient
	if previewClient == nil {
		previewClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Controller{
		uploader:   opts.Uploader,
		renderer:   opts.Renderer,
		downloader: opts.Downloader,
		notifier:   notifier,
		preview:    previewClient,
		logger:     logger,
		state:      domain.StateIdle,
	}
}

// Status is a read-only snapshot of the controller.
type Status struct {
	State     domain.State     `json:"state"`
	AssetURL  string           `json:"asset_url,omitempty"`
	JobID     string           `json:"job_id,omitempty"`
	JobStatus domain.JobStatus `json:"job_status,omitempty"`
	ResultURL string           `json:"result_url,omitempty"`
}

// Snapshot returns the current pipeline status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, ResultURL: c.resultURL}
	if c.asset != nil {
		st.AssetURL = c.asset.URL
	}
	if c.job != nil {
		st.JobID = c.job.ID
		st.JobStatus = c.job.Status
	}
	return st
}

// PreviewBytes returns the fetched result preview, if any.
func (c *Controller) PreviewBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previewData
}

// SelectFile uploads a newly chosen file and replaces the current asset.
// Selecting a file mid-cycle is a single-slot overwrite: the previous cycle
// is invalidated and its late results are discarded, last write wins. On
// upload failure the pipeline returns to idle with the error surfaced.
func (c *Controller) SelectFile(ctx context.Context, filename, mime string, data []byte) error {
	c.mu.Lock()
	c.cycle++
	myCycle := c.cycle
	c.asset = nil
	c.job = nil
	c.resultURL = ""
	c.previewData = nil
	c.transitionLocked(domain.StateUploading, Notification{})
	c.mu.Unlock()

	asset, err := c.uploader.Upload(ctx, filename, mime, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycle != myCycle {
		// A newer selection or reset replaced this upload.
		return nil
	}
	if err != nil {
		c.failLocked(domain.StateIdle, err)
		return err
	}
	c.asset = &asset
	c.transitionLocked(domain.StateReady, Notification{})
	return nil
}

// Generate runs one submit-poll-resolve cycle for the current asset. It is
// single-flight: a second activation while one is outstanding returns
// domain.ErrBusy and performs no work. Terminal failures return the pipeline
// to ready with the asset preserved so the user can retry without
// re-uploading.
func (c *Controller) Generate(ctx context.Context) error {
	myCycle, assetURL, err := c.beginGenerate()
	if err != nil {
		return err
	}
	return c.runGenerate(ctx, myCycle, assetURL)
}

// StartGenerate validates and enters the cycle synchronously, then drives it
// to completion in the background. Callers learn about busy/no-asset
// refusals immediately; everything later arrives via notifications.
func (c *Controller) StartGenerate(ctx context.Context) error {
	myCycle, assetURL, err := c.beginGenerate()
	if err != nil {
		return err
	}
	go func() {
		// Failures are absorbed and notified inside runGenerate.
		_ = c.runGenerate(ctx, myCycle, assetURL)
	}()
	return nil
}

func (c *Controller) beginGenerate() (uint64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.StateUploading || c.state == domain.StateSubmitting || c.state == domain.StateProcessing {
		return 0, "", domain.ErrBusy
	}
	if c.asset == nil {
		return 0, "", domain.ErrNoAsset
	}
	myCycle := c.cycle
	assetURL := c.asset.URL
	c.transitionLocked(domain.StateSubmitting, Notification{})
	return myCycle, assetURL, nil
}

func (c *Controller) runGenerate(ctx context.Context, myCycle uint64, assetURL string) error {
	job, err := c.renderer.Submit(ctx, assetURL)

	c.mu.Lock()
	if c.cycle != myCycle {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		defer c.mu.Unlock()
		c.failLocked(domain.StateReady, err)
		return err
	}
	c.job = &job
	c.transitionLocked(domain.StateProcessing, Notification{Attempt: 0})
	c.mu.Unlock()

	terminal, err := c.renderer.Poll(ctx, job.ID, func(attempt int) {
		c.mu.Lock()
		if c.cycle == myCycle && c.state == domain.StateProcessing {
			c.notifyLocked(Notification{Phase: domain.StateProcessing, State: domain.StateProcessing, Attempt: attempt})
		}
		c.mu.Unlock()
	})

	c.mu.Lock()
	if c.cycle != myCycle || c.state != domain.StateProcessing {
		// Stale-response guard: the state that issued the poll is gone, so a
		// late terminal response must not be applied.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.recordJobFailureLocked(err)
		c.failLocked(domain.StateReady, err)
		c.mu.Unlock()
		return err
	}

	resultURL, err := render.ResolveResultURL(terminal.ResultJSON)
	if err != nil {
		c.failLocked(domain.StateReady, err)
		c.mu.Unlock()
		return err
	}
	c.job = &terminal
	c.resultURL = resultURL
	c.transitionLocked(domain.StateComplete, Notification{ResultURL: resultURL})
	c.mu.Unlock()

	c.fetchPreview(ctx, myCycle, resultURL)
	return nil
}

// Download delivers the completed result through the fallback chain. The
// busy flag is released however the attempt concludes.
func (c *Controller) Download(ctx context.Context) (download.Attempt, error) {
	c.mu.Lock()
	if c.state != domain.StateComplete || c.resultURL == "" {
		c.mu.Unlock()
		return download.Attempt{}, domain.ErrNoResult
	}
	if c.downloading {
		c.mu.Unlock()
		return download.Attempt{}, domain.ErrBusy
	}
	c.downloading = true
	req := download.Request{URL: c.resultURL, Preview: c.previewData}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.downloading = false
		c.mu.Unlock()
	}()
	return c.downloader.Download(ctx, req), nil
}

// Reset discards the asset, job and result and returns to idle.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycle++
	c.asset = nil
	c.job = nil
	c.resultURL = ""
	c.previewData = nil
	c.downloading = false
	c.transitionLocked(domain.StateIdle, Notification{})
}

func (c *Controller) fetchPreview(ctx context.Context, myCycle uint64, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := c.preview.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("pipeline: preview fetch failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	c.mu.Lock()
	if c.cycle == myCycle {
		c.previewData = data
	}
	c.mu.Unlock()
}

func (c *Controller) transitionLocked(next domain.State, n Notification) {
	c.logger.Info().Str("from", string(c.state)).Str("to", string(next)).Msg("pipeline: transition")
	c.state = next
	n.Phase = next
	n.State = next
	c.notifyLocked(n)
}

// failLocked absorbs a taxonomy error at the controller boundary: one
// error-phase notification, then the nearest safe reusable state.
func (c *Controller) failLocked(fallback domain.State, err error) {
	if fallback == domain.StateReady && c.asset == nil {
		fallback = domain.StateIdle
	}
	c.logger.Warn().Err(err).Str("from", string(c.state)).Str("to", string(fallback)).Msg("pipeline: failure")
	c.state = fallback
	c.notifyLocked(Notification{Phase: domain.StateError, State: fallback, Message: userMessage(err)})
}

func (c *Controller) recordJobFailureLocked(err error) {
	if c.job == nil {
		return
	}
	var remote *domain.RemoteJobError
	switch {
	case errors.As(err, &remote):
		c.job.Status = domain.JobStatusFailed
		c.job.ErrorMessage = remote.Message
	case errors.Is(err, domain.ErrJobTimedOut):
		c.job.Status = domain.JobStatusTimedOut
	default:
		c.job.Status = domain.JobStatusError
		c.job.ErrorMessage = err.Error()
	}
}

func (c *Controller) notifyLocked(n Notification) {
	c.notifier.Notify(n)
}

func userMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
