package domain

// State enumerates pipeline controller phases. Exactly one is active at a
// time. StateError is surfaced as a notification phase; after a failure the
// resident state settles on the nearest reusable one (StateReady while an
// asset survives, otherwise StateIdle).
type State string

const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateReady      State = "ready"
	StateSubmitting State = "submitting"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateError      State = "error"
)
