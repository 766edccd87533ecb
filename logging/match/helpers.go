// Package match publishes match lifecycle events.
package match

import (
	"context"

	"netwar/server/logging"
)

const (
	// EventStarted is emitted when the match leaves NotStarted.
	EventStarted logging.EventType = "match.started"
	// EventEnded is emitted exactly once when a winner (or tie) is recorded.
	EventEnded logging.EventType = "match.ended"
)

// EndedPayload carries the final result. Winner is empty for a tie.
type EndedPayload struct {
	Winner string `json:"winner"`
}

// Started publishes the match start.
func Started(ctx context.Context, pub logging.Publisher) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStarted,
		Actor:    logging.EntityRef{Kind: logging.EntityKindMatch},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySystem,
	})
}

// Ended publishes the match result.
func Ended(ctx context.Context, pub logging.Publisher, winner string) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventEnded,
		Actor:    logging.EntityRef{Kind: logging.EntityKindMatch},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySystem,
		Payload:  EndedPayload{Winner: winner},
	}
	if winner != "" {
		event.Targets = []logging.EntityRef{logging.TeamRef(winner)}
	}
	pub.Publish(ctx, event)
}
