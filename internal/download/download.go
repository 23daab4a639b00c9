// Package download delivers a rendered result URL to the user as a saved
// file. Delivery is an ordered chain of strategies, each weaker than the
// last, and the chain as a whole never fails: the final tier always yields
// at least an instruction the user can follow by hand.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clownify/internal/ids"
	"clownify/internal/storage"
)

// Tier identifies which delivery method served a download.
type Tier string

const (
	TierDirect   Tier = "direct"
	TierReencode Tier = "reencode"
	TierBrowser  Tier = "browser"
)

// Attempt records the outcome of one download request. It is ephemeral
// bookkeeping, never persisted.
type Attempt struct {
	Tier    Tier
	Key     string
	Path    string
	Message string
}

// Strategy is a single delivery method. It either serves the request or
// returns an error so the next, weaker strategy can run.
type Strategy interface {
	Deliver(ctx context.Context, req Request) (Attempt, error)
}

// Request carries one download click: the result URL plus the preview bytes
// the pipeline already holds, if the result image finished loading.
type Request struct {
	URL     string
	Preview []byte
}

// Options configures the delivery pipeline.
type Options struct {
	HTTPClient  *http.Client
	Store       *storage.FileStore
	OpenBrowser func(url string) error
	FilePrefix  string
	Logger      *zerolog.Logger
}

// Pipeline tries its strategies in strict order. Tier 1 fetches the URL
// directly, tier 2 re-encodes the already-fetched preview image, tier 3
// hands the URL to the OS browser.
type Pipeline struct {
	tiers  []Strategy
	logger zerolog.Logger
}

// NewPipeline assembles the standard three-tier chain.
func NewPipeline(opts Options) *Pipeline {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	prefix := opts.FilePrefix
	if prefix == "" {
		prefix = "clownify_"
	}
	open := opts.OpenBrowser
	if open == nil {
		open = openInBrowser
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Pipeline{
		tiers: []Strategy{
			&directTier{client: httpClient, store: opts.Store, prefix: prefix},
			&reencodeTier{store: opts.Store, prefix: prefix},
			&browserTier{open: open},
		},
		logger: logger,
	}
}

// Download runs the chain. Each tier is entered only if the previous one
// errored; the returned Attempt says which tier ultimately served the user.
func (p *Pipeline) Download(ctx context.Context, req Request) Attempt {
	for _, tier := range p.tiers {
		attempt, err := tier.Deliver(ctx, req)
		if err == nil {
			p.logger.Debug().Str("tier", string(attempt.Tier)).Str("path", attempt.Path).Msg("download: delivered")
			return attempt
		}
		p.logger.Warn().Err(err).Str("url", req.URL).Msg("download: tier failed, degrading")
	}
	return Attempt{
		Tier:    TierBrowser,
		Message: fmt.Sprintf("Automatic download failed. Open %s yourself and save the image.", req.URL),
	}
}

// directTier fetches the result URL with credentials omitted and saves the
// raw bytes under a randomized filename.
type directTier struct {
	client *http.Client
	store  *storage.FileStore
	prefix string
}

func (t *directTier) Deliver(ctx context.Context, dl Request) (Attempt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dl.URL, nil)
	if err != nil {
		return Attempt{}, fmt.Errorf("download: build fetch request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Attempt{}, fmt.Errorf("download: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Attempt{}, fmt.Errorf("download: fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Attempt{}, fmt.Errorf("download: read body: %w", err)
	}

	ext := inferExtension(resp.Header.Get("Content-Type"), dl.URL)
	key := t.prefix + ids.NewKey(8) + "." + ext
	saved, err := t.store.Write(ctx, key, data)
	if err != nil {
		return Attempt{}, err
	}
	path, _ := t.store.Path(saved)
	return Attempt{Tier: TierDirect, Key: saved, Path: path}, nil
}

// inferExtension picks the saved-file extension from the response's declared
// content type, then from the URL's own suffix, defaulting to jpg. png is
// checked before webp, matching how results are usually encoded.
func inferExtension(contentType, url string) string {
	ct := strings.ToLower(contentType)
	lowerURL := strings.ToLower(url)
	switch {
	case strings.Contains(ct, "png") || strings.Contains(lowerURL, ".png"):
		return "png"
	case strings.Contains(ct, "webp") || strings.Contains(lowerURL, ".webp"):
		return "webp"
	}
	return "jpg"
}

// reencodeTier rescues a blocked direct fetch by re-encoding the preview
// image the pipeline already holds in memory, the way a canvas re-encode
// rescues a cross-origin-tainted fetch in a browser.
type reencodeTier struct {
	store  *storage.FileStore
	prefix string
}

func (t *reencodeTier) Deliver(ctx context.Context, req Request) (Attempt, error) {
	if len(req.Preview) == 0 {
		return Attempt{}, errors.New("download: no loaded preview image")
	}
	img, _, err := image.Decode(bytes.NewReader(req.Preview))
	if err != nil {
		return Attempt{}, fmt.Errorf("download: decode preview: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Attempt{}, fmt.Errorf("download: re-encode preview: %w", err)
	}
	key := t.prefix + ids.NewKey(8) + ".png"
	saved, err := t.store.Write(ctx, key, buf.Bytes())
	if err != nil {
		return Attempt{}, err
	}
	path, _ := t.store.Path(saved)
	return Attempt{Tier: TierReencode, Key: saved, Path: path}, nil
}

// browserTier opens the URL in a new browsing context. It never errors
// outward: when even the browser cannot be launched it degrades to a manual
// instruction.
type browserTier struct {
	open func(url string) error
}

func (t *browserTier) Deliver(_ context.Context, req Request) (Attempt, error) {
	if t.open != nil {
		if err := t.open(req.URL); err == nil {
			return Attempt{
				Tier:    TierBrowser,
				Message: "The image was opened in your browser. Save it from there.",
			}, nil
		}
	}
	return Attempt{
		Tier:    TierBrowser,
		Message: fmt.Sprintf("Automatic download failed. Open %s yourself and save the image.", req.URL),
	}, nil
}

func openInBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
