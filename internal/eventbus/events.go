package eventbus

import "time"

// Event types published across the relay.
const (
	// EventDelivered and EventDeliveryFailed carry a Delivery payload.
	EventDelivered      = "notify.delivered"
	EventDeliveryFailed = "notify.failed"

	// EventConfigReloaded fires after a validated configuration snapshot
	// is applied.
	EventConfigReloaded = "config.reloaded"

	// EventTaskError carries the error of a supervised background task.
	EventTaskError = "runtime.task_error"
)

// Delivery describes one Telegram delivery attempt. The history store
// persists these; the digest summarizes them.
type Delivery struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"` // movie, episode, batch
	Title    string    `json:"title"`
	Episodes string    `json:"episodes,omitempty"` // compressed range for batches
	Items    int       `json:"items"`
	Bytes    int64     `json:"bytes"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
}

// TaskError is the payload of EventTaskError.
type TaskError struct {
	Task string `json:"task"`
	Err  string `json:"err"`
}
