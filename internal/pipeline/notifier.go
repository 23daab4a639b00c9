package pipeline

import "clownify/internal/domain"

// Notification is the plain-data event emitted once per pipeline transition
// so a presentation layer can update itself without holding pipeline state.
// Phase is what happened; State is the resident state afterwards. They only
// differ on failures, where Phase is error while State settles on the
// nearest reusable state.
type Notification struct {
	Phase     domain.State `json:"phase"`
	State     domain.State `json:"state"`
	Attempt   int          `json:"attempt,omitempty"`
	Message   string       `json:"message,omitempty"`
	ResultURL string       `json:"result_url,omitempty"`
}

// Notifier receives pipeline notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
