package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"clownify/internal/domain"
	"clownify/internal/download"
)

type fakeUploader struct {
	asset domain.UploadedAsset
	err   error
	calls int
}

func (f *fakeUploader) Upload(context.Context, string, string, []byte) (domain.UploadedAsset, error) {
	f.calls++
	return f.asset, f.err
}

type fakeRenderer struct {
	submitJob domain.Job
	submitErr error
	pollFunc  func(ctx context.Context, jobID string, progress func(int)) (domain.Job, error)
}

func (f *fakeRenderer) Submit(context.Context, string) (domain.Job, error) {
	return f.submitJob, f.submitErr
}

func (f *fakeRenderer) Poll(ctx context.Context, jobID string, progress func(int)) (domain.Job, error) {
	if f.pollFunc == nil {
		return domain.Job{ID: jobID, Status: domain.JobStatusCompleted}, nil
	}
	return f.pollFunc(ctx, jobID, progress)
}

type fakeDownloader struct {
	attempt download.Attempt
	got     download.Request
}

func (f *fakeDownloader) Download(_ context.Context, req download.Request) download.Attempt {
	f.got = req
	return f.attempt
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
}

func (r *recordingNotifier) phases() []domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.State, len(r.events))
	for i, e := range r.events {
		out[i] = e.Phase
	}
	return out
}

type previewTransport struct{ body []byte }

func (p *previewTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"image/png"}},
		Body:       io.NopCloser(bytes.NewReader(p.body)),
	}, nil
}

func newController(up Uploader, rd Renderer, dl Downloader, nt Notifier) *Controller {
	return NewController(Options{
		Uploader:      up,
		Renderer:      rd,
		Downloader:    dl,
		Notifier:      nt,
		PreviewClient: &http.Client{Transport: &previewTransport{body: []byte{0x89, 'P', 'N', 'G'}}},
	})
}

func TestEndToEndHappyPath(t *testing.T) {
	notifier := &recordingNotifier{}
	uploader := &fakeUploader{asset: domain.UploadedAsset{URL: "https://assets.example.test/media/k.jpg"}}
	renderer := &fakeRenderer{
		submitJob: domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		pollFunc: func(_ context.Context, jobID string, progress func(int)) (domain.Job, error) {
			progress(1)
			progress(2)
			return domain.Job{ID: jobID, Status: domain.JobStatusCompleted, ResultJSON: []byte(`{"mediaUrl":"https://x/y.png"}`)}, nil
		},
	}
	ctrl := newController(uploader, renderer, &fakeDownloader{}, notifier)

	if got := ctrl.Snapshot().State; got != domain.StateIdle {
		t.Fatalf("initial state = %q, want idle", got)
	}
	if err := ctrl.SelectFile(context.Background(), "me.jpg", "image/jpeg", []byte{0x01}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if got := ctrl.Snapshot().State; got != domain.StateReady {
		t.Fatalf("state after upload = %q, want ready", got)
	}

	if err := ctrl.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	snap := ctrl.Snapshot()
	if snap.State != domain.StateComplete {
		t.Fatalf("state = %q, want complete", snap.State)
	}
	if snap.ResultURL != "https://x/y.png" {
		t.Fatalf("result url = %q, want https://x/y.png", snap.ResultURL)
	}
	if snap.JobStatus != domain.JobStatusCompleted {
		t.Fatalf("job status = %q, want completed", snap.JobStatus)
	}

	want := []domain.State{
		domain.StateUploading, domain.StateReady,
		domain.StateSubmitting, domain.StateProcessing,
		domain.StateProcessing, domain.StateProcessing, // attempts 1 and 2
		domain.StateComplete,
	}
	got := notifier.phases()
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phase[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
	if len(ctrl.PreviewBytes()) == 0 {
		t.Fatalf("preview bytes should be fetched after completion")
	}
}

func TestUploadFailureReturnsToIdle(t *testing.T) {
	notifier := &recordingNotifier{}
	uploader := &fakeUploader{err: domain.ErrUploadFailed}
	ctrl := newController(uploader, &fakeRenderer{}, &fakeDownloader{}, notifier)

	err := ctrl.SelectFile(context.Background(), "me.jpg", "image/jpeg", []byte{0x01})
	if !errors.Is(err, domain.ErrUploadFailed) {
		t.Fatalf("err = %v, want ErrUploadFailed", err)
	}
	snap := ctrl.Snapshot()
	if snap.State != domain.StateIdle {
		t.Fatalf("state = %q, want idle", snap.State)
	}
	if snap.AssetURL != "" {
		t.Fatalf("asset should be discarded on upload failure")
	}

	events := notifier.phases()
	last := events[len(events)-1]
	if last != domain.StateError {
		t.Fatalf("last phase = %q, want error", last)
	}
}

func TestGenerateWithoutAsset(t *testing.T) {
	ctrl := newController(&fakeUploader{}, &fakeRenderer{}, &fakeDownloader{}, &recordingNotifier{})
	if err := ctrl.Generate(context.Background()); !errors.Is(err, domain.ErrNoAsset) {
		t.Fatalf("err = %v, want ErrNoAsset", err)
	}
}

func TestGenerateIsSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	renderer := &fakeRenderer{
		submitJob: domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		pollFunc: func(context.Context, string, func(int)) (domain.Job, error) {
			close(started)
			<-release
			return domain.Job{ID: "job-1", Status: domain.JobStatusCompleted, ResultJSON: []byte(`{"mediaUrl":"https://x/y.png"}`)}, nil
		},
	}
	uploader := &fakeUploader{asset: domain.UploadedAsset{URL: "https://assets.example.test/a.jpg"}}
	ctrl := newController(uploader, renderer, &fakeDownloader{}, &recordingNotifier{})

	if err := ctrl.SelectFile(context.Background(), "a.jpg", "image/jpeg", []byte{0x01}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.Generate(context.Background()) }()
	<-started

	if err := ctrl.Generate(context.Background()); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("second generate err = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first generate err = %v", err)
	}
	if got := ctrl.Snapshot().State; got != domain.StateComplete {
		t.Fatalf("state = %q, want complete", got)
	}
}

func TestRemoteFailurePreservesAssetForRetry(t *testing.T) {
	renderer := &fakeRenderer{
		submitJob: domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		pollFunc: func(context.Context, string, func(int)) (domain.Job, error) {
			return domain.Job{}, &domain.RemoteJobError{Message: "face not detected"}
		},
	}
	uploader := &fakeUploader{asset: domain.UploadedAsset{URL: "https://assets.example.test/a.jpg"}}
	notifier := &recordingNotifier{}
	ctrl := newController(uploader, renderer, &fakeDownloader{}, notifier)

	if err := ctrl.SelectFile(context.Background(), "a.jpg", "image/jpeg", []byte{0x01}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	err := ctrl.Generate(context.Background())
	var remote *domain.RemoteJobError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteJobError", err)
	}

	snap := ctrl.Snapshot()
	if snap.State != domain.StateReady {
		t.Fatalf("state = %q, want ready (retry without re-upload)", snap.State)
	}
	if snap.AssetURL == "" {
		t.Fatalf("asset must be preserved after a terminal job failure")
	}
	if snap.JobStatus != domain.JobStatusFailed {
		t.Fatalf("job status = %q, want failed", snap.JobStatus)
	}
}

func TestTimeoutMarksJobTimedOut(t *testing.T) {
	renderer := &fakeRenderer{
		submitJob: domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		pollFunc: func(context.Context, string, func(int)) (domain.Job, error) {
			return domain.Job{}, domain.ErrJobTimedOut
		},
	}
	uploader := &fakeUploader{asset: domain.UploadedAsset{URL: "https://assets.example.test/a.jpg"}}
	ctrl := newController(uploader, renderer, &fakeDownloader{}, &recordingNotifier{})

	if err := ctrl.SelectFile(context.Background(), "a.jpg", "image/jpeg", []byte{0x01}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := ctrl.Generate(context.Background()); !errors.Is(err, domain.ErrJobTimedOut) {
		t.Fatalf("err = %v, want ErrJobTimedOut", err)
	}
	snap := ctrl.Snapshot()
	if snap.State != domain.StateReady {
		t.Fatalf("state = %q, want ready", snap.State)
	}
	if snap.JobStatus != domain.JobStatusTimedOut {
		t.Fatalf("job status = %q, want timed_out", snap.JobStatus)
	}
}

func TestMalformedResultSurfacesError(t *testing.T) {
	renderer := &fakeRenderer{
		submitJob: domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		pollFunc: func(context.Context, string, func(int)) (domain.Job, error) {
			return domain.Job{ID: "job-1", Status: domain.JobStatusCompleted, ResultJSON: []byte(`{"nope":true}`)}, nil
		},
	}
	uploader := &fakeUploader{asset: domain.UploadedAsset{URL: "https://assets.example.test/a.jpg"}}
	ctrl := newController(uploader, renderer, &fakeDownloader{}, &recordingNotifier{})

	if err := ctrl.SelectFile(context.Background(), "a.jpg", "image/jpeg", []byte{0x01}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := ctrl.Generate(context.Background()); !errors.Is(err, domain.ErrMalformedResult) {
		t.Fatalf("err = %v, want ErrMalformedResult", err)
	}
	if got := ctrl.Snapshot().State; got != domain.StateReady {
		t.Fatalf("state = %q, want ready", got)
	}
}

func TestResetDuringProcessingDiscardsLateResponse(t *testing.T) {
	polling := make(chan struct{})
	release := make(chan struct{})
	renderer := &fakeRenderer{
		submitJob: domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		pollFunc: func(context.Context, string, func(int)) (domain.Job, error) {
			close(polling)
			<-release
			return domain.Job{ID: "job-1", Status: domain.JobStatusCompleted, ResultJSON: []byte(`{"mediaUrl":"https://x/late.png"}`)}, nil
		},
	}
	uploader := &fakeUploader{asset: domain.UploadedAsset{URL: "https://assets.example.test/a.jpg"}}
	notifier := &recordingNotifier{}
	ctrl := newController(uploader, renderer, &fakeDownloader{}, notifier)

	if err := ctrl.SelectFile(context.Background(), "a.jpg", "image/jpeg", []byte{0x01}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- ctrl.Generate(context.Background()) }()
	<-polling

	ctrl.Reset()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("generate err = %v, want nil for a silently discarded cycle", err)
	}

	snap := ctrl.Snapshot()
	if snap.State != domain.StateIdle {
		t.Fatalf("state = %q, want idle (late completed must not apply)", snap.State)
	}
	if snap.ResultURL != "" {
		t.Fatalf("result url = %q, want empty", snap.ResultURL)
	}
	for _, phase := range notifier.phases() {
		if phase == domain.StateComplete {
			t.Fatalf("complete notification emitted for an abandoned cycle")
		}
	}
}

func TestDownloadRequiresCompletedResult(t *testing.T) {
	ctrl := newController(&fakeUploader{}, &fakeRenderer{}, &fakeDownloader{}, &recordingNotifier{})
	if _, err := ctrl.Download(context.Background()); !errors.Is(err, domain.ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
}

func TestDownloadForwardsResultAndPreview(t *testing.T) {
	renderer := &fakeRenderer{
		submitJob: domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		pollFunc: func(context.Context, string, func(int)) (domain.Job, error) {
			return domain.Job{ID: "job-1", Status: domain.JobStatusCompleted, ResultJSON: []byte(`{"mediaUrl":"https://x/y.png"}`)}, nil
		},
	}
	uploader := &fakeUploader{asset: domain.UploadedAsset{URL: "https://assets.example.test/a.jpg"}}
	downloader := &fakeDownloader{attempt: download.Attempt{Tier: download.TierDirect, Key: "clownify_abc.png"}}
	ctrl := newController(uploader, renderer, downloader, &recordingNotifier{})

	if err := ctrl.SelectFile(context.Background(), "a.jpg", "image/jpeg", []byte{0x01}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := ctrl.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	attempt, err := ctrl.Download(context.Background())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if attempt.Tier != download.TierDirect {
		t.Fatalf("tier = %q, want direct", attempt.Tier)
	}
	if downloader.got.URL != "https://x/y.png" {
		t.Fatalf("download url = %q, want result url", downloader.got.URL)
	}
	if len(downloader.got.Preview) == 0 {
		t.Fatalf("preview bytes should ride along with the download request")
	}
}

func TestSelectFileReplacesInFlightCycle(t *testing.T) {
	polling := make(chan struct{})
	release := make(chan struct{})
	renderer := &fakeRenderer{
		submitJob: domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		pollFunc: func(context.Context, string, func(int)) (domain.Job, error) {
			close(polling)
			<-release
			return domain.Job{ID: "job-1", Status: domain.JobStatusCompleted, ResultJSON: []byte(`{"mediaUrl":"https://x/old.png"}`)}, nil
		},
	}
	uploader := &fakeUploader{asset: domain.UploadedAsset{URL: "https://assets.example.test/a.jpg"}}
	ctrl := newController(uploader, renderer, &fakeDownloader{}, &recordingNotifier{})

	if err := ctrl.SelectFile(context.Background(), "a.jpg", "image/jpeg", []byte{0x01}); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- ctrl.Generate(context.Background()) }()
	<-polling

	// Last write wins: the new selection invalidates the in-flight job.
	if err := ctrl.SelectFile(context.Background(), "b.jpg", "image/jpeg", []byte{0x02}); err != nil {
		t.Fatalf("second SelectFile: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("abandoned generate err = %v, want nil", err)
	}

	deadline := time.After(time.Second)
	for {
		snap := ctrl.Snapshot()
		if snap.State == domain.StateReady && snap.ResultURL == "" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("state = %q, result = %q; want ready with no result", snap.State, snap.ResultURL)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if uploader.calls != 2 {
		t.Fatalf("uploader calls = %d, want 2", uploader.calls)
	}
}
