package server

import (
	"netwar/server/internal/world"
)

// Client commands arrive as a single JSON envelope discriminated by Type.
type clientCommand struct {
	Type         string `json:"type"`
	ActionID     string `json:"actionId,omitempty"`
	TargetNodeID string `json:"targetNodeId,omitempty"`
	TargetEdgeID string `json:"targetEdgeId,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

const (
	commandStartAction = "startAction"
	commandHeartbeat   = "heartbeat"
)

// actionQueuedMessage confirms a validated startAction to its sender.
type actionQueuedMessage struct {
	Type            string `json:"type"`
	PendingActionID string `json:"pendingActionId"`
	ActionID        string `json:"actionId"`
	DueAt           int64  `json:"dueAt"`
}

func newActionQueuedMessage(pendingID, actionID string, dueAtMillis int64) actionQueuedMessage {
	return actionQueuedMessage{
		Type:            "actionQueued",
		PendingActionID: pendingID,
		ActionID:        actionID,
		DueAt:           dueAtMillis,
	}
}

// actionCompleteMessage reports a resolved or stopped pending action to all
// subscribers.
type actionCompleteMessage struct {
	Type            string `json:"type"`
	PendingActionID string `json:"pendingActionId"`
	ActionID        string `json:"actionId"`
	Username        string `json:"username"`
	EndState        string `json:"endState"`
}

func newActionCompleteMessage(pendingID, actionID, username, endState string) actionCompleteMessage {
	return actionCompleteMessage{
		Type:            "actionComplete",
		PendingActionID: pendingID,
		ActionID:        actionID,
		Username:        username,
		EndState:        endState,
	}
}

// gameEndMessage is broadcast exactly once when the match ends. Winner is
// empty for a tie.
type gameEndMessage struct {
	Type   string `json:"type"`
	Winner string `json:"winner"`
}

func newGameEndMessage(winner string) gameEndMessage {
	return gameEndMessage{Type: "gameEnd", Winner: winner}
}

// errorMessage is sent to a single subscriber when a command is rejected.
type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorMessage(message string) errorMessage {
	return errorMessage{Type: "error", Message: message}
}

// stateMessage is the authoritative battlefield snapshot broadcast after
// every resolution and on match start.
type stateMessage struct {
	Type    string         `json:"type"`
	Phase   string         `json:"phase"`
	Winner  string         `json:"winner,omitempty"`
	Teams   []world.Team   `json:"teams"`
	Nodes   []world.Node   `json:"nodes"`
	Edges   []world.Edge   `json:"edges"`
	Players []world.Player `json:"players"`
}
