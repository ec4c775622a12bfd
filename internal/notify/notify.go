// Package notify delivers job lifecycle notifications to an external
// channel (Discord in production).
package notify

import "context"

// EventType is the kind of lifecycle notification.
type EventType string

const (
	JobStarted   EventType = "JOB_STARTED"
	JobCompleted EventType = "JOB_COMPLETED"
	JobFailed    EventType = "JOB_FAILED"
	JobCancelled EventType = "JOB_CANCELLED"
)

// Event is one lifecycle notification.
type Event struct {
	Type  EventType
	JobID string
	Title string
	RunID string

	// Error is set for JOB_FAILED.
	Error string
}

// Notifier posts lifecycle events. PrevMessageID, when non-empty, is the
// handle returned by an earlier Notify for the same job; implementations
// should update that message in place instead of posting a new one.
// Notify must be idempotent per (job, type).
type Notifier interface {
	Notify(ctx context.Context, ev Event, prevMessageID string) (messageID string, err error)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Event, string) (string, error) { return "", nil }
