package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUploadFailed     = errors.New("upload failed")
	ErrSubmissionFailed = errors.New("job submission failed")
	ErrJobTimedOut      = errors.New("job timed out")
	ErrMalformedResult  = errors.New("malformed job result")
	ErrBusy             = errors.New("generation already in flight")
	ErrNoAsset          = errors.New("no uploaded asset")
	ErrNoResult         = errors.New("no completed result")
)

// RemoteJobError reports a terminal failure signalled by the rendering
// service. The remote-supplied message rides along so the user sees the
// service's own explanation.
type RemoteJobError struct {
	Message string
}

func (e *RemoteJobError) Error() string {
	if e.Message == "" {
		return "job processing failed"
	}
	return fmt.Sprintf("job processing failed: %s", e.Message)
}
