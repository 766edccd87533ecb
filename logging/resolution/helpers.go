// Package resolution publishes the gameplay events emitted while the
// effects engine resolves a completed action.
package resolution

import (
	"context"

	"netwar/server/logging"
)

const (
	// EventActionResolved is emitted once per resolved pending action.
	EventActionResolved logging.EventType = "resolution.action_resolved"
	// EventEffectFailed is emitted when a single effect in the list cannot
	// resolve; the remaining effects still run.
	EventEffectFailed logging.EventType = "resolution.effect_failed"
	// EventActionStopped is emitted when a stop effect cancels an opposing
	// pending action before it resolves.
	EventActionStopped logging.EventType = "resolution.action_stopped"
)

// ActionResolvedPayload summarizes the terminal state of one action.
type ActionResolvedPayload struct {
	ActionID string `json:"actionId"`
	EndState string `json:"endState"`
	Failed   bool   `json:"failed"`
}

// EffectFailedPayload names the effect that failed and why.
type EffectFailedPayload struct {
	ActionID string `json:"actionId"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// ActionStoppedPayload identifies the cancelled pending action.
type ActionStoppedPayload struct {
	StoppedID string `json:"stoppedId"`
	ActionID  string `json:"actionId"`
}

// ActionResolved publishes the terminal event for a resolution.
func ActionResolved(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, pendingID string, payload ActionResolvedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventActionResolved,
		Actor:    actor,
		Targets:  []logging.EntityRef{logging.ActionRef(pendingID)},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		Payload:  payload,
	})
}

// EffectFailed publishes a per-effect failure. Severity is error because it
// indicates either a broken catalog entry or a missing target.
func EffectFailed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload EffectFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEffectFailed,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryGameplay,
		Payload:  payload,
	})
}

// ActionStopped publishes the cancellation of an opposing action.
func ActionStopped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, target logging.EntityRef, payload ActionStoppedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventActionStopped,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		Payload:  payload,
	})
}
