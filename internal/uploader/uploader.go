// Package uploader turns a local file into a durable, publicly fetchable
// URL via the asset-issuance service: request a time-limited write URL for a
// generated storage key, transfer the raw bytes there, and derive the public
// read URL from the key with no further round-trip.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clownify/internal/domain"
	"clownify/internal/ids"
)

// Options configures the upload client.
type Options struct {
	CoreBaseURL  string
	AssetBaseURL string
	ProjectID    string
	HTTPClient   *http.Client
	Logger       *zerolog.Logger
	Timeout      time.Duration
}

// Client performs signed-URL uploads against the asset-issuance service.
type Client struct {
	coreBaseURL  string
	assetBaseURL string
	projectID    string
	httpClient   *http.Client
	logger       zerolog.Logger
}

// NewClient constructs an upload client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		coreBaseURL:  strings.TrimRight(opts.CoreBaseURL, "/"),
		assetBaseURL: strings.TrimRight(opts.AssetBaseURL, "/"),
		projectID:    strings.TrimSpace(opts.ProjectID),
		httpClient:   httpClient,
		logger:       logger,
	}
}

// Upload stores the file bytes behind a fresh storage key and returns the
// public asset URL. Either a failed write-URL issuance or a failed transfer
// wraps domain.ErrUploadFailed.
func (c *Client) Upload(ctx context.Context, filename, mime string, data []byte) (domain.UploadedAsset, error) {
	key := StorageKey(filename)

	signedURL, err := c.requestWriteURL(ctx, key)
	if err != nil {
		return domain.UploadedAsset{}, err
	}
	if err := c.transfer(ctx, signedURL, mime, data); err != nil {
		return domain.UploadedAsset{}, err
	}

	publicURL := c.assetBaseURL + "/" + key
	c.logger.Debug().Str("key", key).Str("url", publicURL).Msg("uploader: asset stored")
	return domain.UploadedAsset{URL: publicURL}, nil
}

func (c *Client) requestWriteURL(ctx context.Context, key string) (string, error) {
	endpoint := c.coreBaseURL + "/media/get-upload-url?fileName=" + url.QueryEscape(key) + "&projectId=" + url.QueryEscape(c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("uploader: build write-url request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request write url: %v", domain.ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read write url: %v", domain.ErrUploadFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: write url status %d", domain.ErrUploadFailed, resp.StatusCode)
	}
	signed := strings.TrimSpace(string(body))
	if signed == "" {
		return "", fmt.Errorf("%w: empty write url", domain.ErrUploadFailed)
	}
	return signed, nil
}

func (c *Client) transfer(ctx context.Context, signedURL, mime string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("uploader: build transfer request: %w", err)
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mime)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: transfer: %v", domain.ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: transfer status %d", domain.ErrUploadFailed, resp.StatusCode)
	}
	return nil
}

// StorageKey derives a fresh storage key for the given original filename,
// defaulting the extension to jpg when the name carries none.
func StorageKey(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		ext = "jpg"
	}
	return "media/" + ids.NewKey(ids.KeyLength) + "." + ext
}
