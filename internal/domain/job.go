package domain

// JobStatus enumerates remote render-job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusError      JobStatus = "error"
	JobStatusTimedOut   JobStatus = "timed_out"
)

// Terminal reports whether no further status change can occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusError, JobStatusTimedOut:
		return true
	}
	return false
}

// Job tracks one remote effect-rendering job. The ID is assigned by the
// rendering service on submission; ResultJSON holds the raw terminal result
// payload for later URL resolution.
type Job struct {
	ID           string
	Status       JobStatus
	ResultJSON   []byte
	ErrorMessage string
}
