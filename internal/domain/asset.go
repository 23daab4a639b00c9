package domain

// UploadedAsset is a durable, publicly fetchable copy of a user image. It is
// immutable once created and owned by the pipeline controller for the
// lifetime of a single generation cycle.
type UploadedAsset struct {
	URL string
}
