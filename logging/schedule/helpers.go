// Package schedule publishes action-queue lifecycle events.
package schedule

import (
	"context"

	"netwar/server/logging"
)

const (
	// EventEnqueued is emitted when a validated action enters the queue.
	EventEnqueued logging.EventType = "schedule.enqueued"
	// EventRehydrated is emitted after the queue is rebuilt from the store.
	EventRehydrated logging.EventType = "schedule.rehydrated"
	// EventDesync is emitted when a cancel target is missing from the
	// queue, meaning queue and record store have diverged.
	EventDesync logging.EventType = "schedule.desync"
)

// EnqueuedPayload describes a newly scheduled pending action.
type EnqueuedPayload struct {
	ActionID string `json:"actionId"`
	DueAt    int64  `json:"dueAt"`
	Cost     int    `json:"cost"`
}

// RehydratedPayload reports how many records the startup recovery loaded.
type RehydratedPayload struct {
	Restored int `json:"restored"`
	Dropped  int `json:"dropped"`
}

// DesyncPayload names the pending action the queue could not find.
type DesyncPayload struct {
	PendingID string `json:"pendingId"`
	Op        string `json:"op"`
}

// Enqueued publishes a queue insertion event.
func Enqueued(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, pendingID string, payload EnqueuedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEnqueued,
		Actor:    actor,
		Targets:  []logging.EntityRef{logging.ActionRef(pendingID)},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySchedule,
		Payload:  payload,
	})
}

// Rehydrated publishes the startup recovery summary.
func Rehydrated(ctx context.Context, pub logging.Publisher, payload RehydratedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRehydrated,
		Actor:    logging.EntityRef{Kind: logging.EntityKindMatch},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySchedule,
		Payload:  payload,
	})
}

// Desync publishes a queue/store consistency warning.
func Desync(ctx context.Context, pub logging.Publisher, payload DesyncPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDesync,
		Actor:    logging.EntityRef{Kind: logging.EntityKindMatch},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySchedule,
		Payload:  payload,
	})
}
