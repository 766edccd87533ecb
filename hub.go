// Package server hosts the authoritative match runtime: the hub that owns
// the world state, the action queue, and the effects resolution engine, plus
// the websocket subscriber registry used to broadcast results.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"netwar/server/actions/catalog"
	"netwar/server/actions/contract"
	"netwar/server/internal/queue"
	"netwar/server/internal/store"
	"netwar/server/internal/world"
	"netwar/server/logging"
	logmatch "netwar/server/logging/match"
	logsched "netwar/server/logging/schedule"
)

const writeWait = 10 * time.Second

// Validation failures returned by StartAction. Each maps to an error event
// for the requesting client; none of them mutate state.
var (
	errUnknownAction     = errors.New("unknown action")
	errUnknownPlayer     = errors.New("unknown player")
	errRoleMismatch      = errors.New("action not available to your role")
	errInsufficientFunds = errors.New("insufficient funds")
	errDuplicatePending  = errors.New("you already have a pending action")
	errMissingTarget     = errors.New("action requires a target")
	errUnknownTarget     = errors.New("target not found")
	errWrongSideTarget   = errors.New("target belongs to the wrong team")
	errMatchNotRunning   = errors.New("match is not running")
)

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub owns all mutable match state. A single mutex serializes every command
// and every resolution, so effect applications never interleave.
type Hub struct {
	mu          sync.Mutex
	state       *world.State
	match       *world.Match
	queue       *queue.Queue
	engine      *Engine
	store       *store.Store
	catalog     *catalog.Resolver
	pub         logging.Publisher
	subscribers map[string]*subscriber
	now         func() time.Time
}

// NewHub assembles the runtime around an already-loaded world state. A nil
// rng seeds from the clock; tests pass a fixed seed.
func NewHub(state *world.State, match *world.Match, st *store.Store, cat *catalog.Resolver, pub logging.Publisher, interval time.Duration, rng *rand.Rand) *Hub {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if interval <= 0 {
		interval = queue.DefaultTickInterval
	}
	q := queue.New(interval)
	h := &Hub{
		state:       state,
		match:       match,
		queue:       q,
		store:       st,
		catalog:     cat,
		pub:         pub,
		subscribers: make(map[string]*subscriber),
		now:         time.Now,
	}
	h.engine = NewEngine(state, match, q, st, cat, pub, rng)
	return h
}

// SetClock overrides the time source for the hub, its queue, and its engine.
func (h *Hub) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	h.now = now
	h.queue.SetClock(now)
	h.engine.SetClock(now)
}

// Queue exposes the action queue for diagnostics.
func (h *Hub) Queue() *queue.Queue { return h.queue }

// Phase reports the current match phase.
func (h *Hub) Phase() world.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.match.Phase()
}

// ---------------------------------------------------------------------------
// Subscribers
// ---------------------------------------------------------------------------

// Subscribe registers a websocket connection under a username and sends the
// current snapshot. A reconnect replaces the previous connection.
func (h *Hub) Subscribe(username string, conn *websocket.Conn) {
	h.mu.Lock()
	if prev, ok := h.subscribers[username]; ok && prev.conn != nil {
		prev.conn.Close()
	}
	sub := &subscriber{conn: conn}
	h.subscribers[username] = sub
	snapshot := h.snapshotLocked()
	h.mu.Unlock()

	h.send(username, sub, snapshot)
}

// Disconnect drops a subscriber. The connection is closed by the caller.
func (h *Hub) Disconnect(username string) {
	h.mu.Lock()
	delete(h.subscribers, username)
	h.mu.Unlock()
}

func (h *Hub) send(username string, sub *subscriber, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		sub.conn.Close()
		h.mu.Lock()
		if current, ok := h.subscribers[username]; ok && current == sub {
			delete(h.subscribers, username)
		}
		h.mu.Unlock()
	}
}

// broadcast marshals once and writes to every subscriber. Must be called
// without the hub mutex held.
func (h *Hub) broadcast(payload any) {
	h.mu.Lock()
	targets := make(map[string]*subscriber, len(h.subscribers))
	for username, sub := range h.subscribers {
		targets[username] = sub
	}
	h.mu.Unlock()

	for username, sub := range targets {
		h.send(username, sub, payload)
	}
}

// sendError delivers a rejection to one subscriber, if connected.
func (h *Hub) sendError(username string, message string) {
	h.mu.Lock()
	sub, ok := h.subscribers[username]
	h.mu.Unlock()
	if ok {
		h.send(username, sub, newErrorMessage(message))
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// HandleCommand decodes and dispatches one client envelope. Rejections turn
// into error events back to the sender; nothing here panics the runtime.
func (h *Hub) HandleCommand(ctx context.Context, username string, raw []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.sendError(username, "malformed command")
		return
	}
	switch cmd.Type {
	case commandStartAction:
		queued, err := h.StartAction(ctx, username, cmd)
		if err != nil {
			h.sendError(username, err.Error())
			return
		}
		h.mu.Lock()
		sub, ok := h.subscribers[username]
		h.mu.Unlock()
		if ok {
			h.send(username, sub, queued)
		}
	case commandHeartbeat:
		// Keepalive only.
	default:
		h.sendError(username, fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

// StartAction validates and schedules an action request: role match, funds,
// single pending action per user, and a present, correctly-sided target when
// the definition demands one. Funds are debited at enqueue time.
func (h *Hub) StartAction(ctx context.Context, username string, cmd clientCommand) (actionQueuedMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.match.Phase() != world.PhaseRunning {
		return actionQueuedMessage{}, errMatchNotRunning
	}
	player, ok := h.state.Player(username)
	if !ok {
		return actionQueuedMessage{}, errUnknownPlayer
	}
	def, ok := h.catalog.Resolve(cmd.ActionID)
	if !ok {
		return actionQueuedMessage{}, errUnknownAction
	}
	if def.Role != player.Role {
		return actionQueuedMessage{}, errRoleMismatch
	}
	if player.Funds < def.Cost {
		return actionQueuedMessage{}, errInsufficientFunds
	}
	if _, pending := h.queue.PendingFor(username); pending {
		return actionQueuedMessage{}, errDuplicatePending
	}
	if err := h.validateTarget(def, player, cmd); err != nil {
		return actionQueuedMessage{}, err
	}

	if err := h.state.AdjustFunds(username, -def.Cost); err != nil {
		return actionQueuedMessage{}, err
	}

	now := h.now()
	pending := store.PendingAction{
		ID:           uuid.NewString(),
		Username:     username,
		ActionID:     def.ID,
		DueAt:        now.Add(time.Duration(def.DurationMinutes) * time.Minute),
		TargetNodeID: cmd.TargetNodeID,
		TargetEdgeID: cmd.TargetEdgeID,
		TargetUserID: cmd.TargetUserID,
		CreatedAt:    now,
	}
	if err := h.store.CreatePendingAction(pending); err != nil {
		// Roll the debit back; the action never entered the schedule.
		h.state.AdjustFunds(username, def.Cost)
		h.state.TakeDirty()
		return actionQueuedMessage{}, fmt.Errorf("could not schedule action: %w", err)
	}
	if err := h.queue.Enqueue(queue.Entry{ID: pending.ID, Username: username, ActionID: def.ID, DueAt: pending.DueAt}); err != nil {
		h.store.DeletePendingAction(pending.ID)
		h.state.AdjustFunds(username, def.Cost)
		h.state.TakeDirty()
		return actionQueuedMessage{}, err
	}
	h.flushPlayer(ctx, username)

	logsched.Enqueued(ctx, h.pub, logging.PlayerRef(username), pending.ID, logsched.EnqueuedPayload{
		ActionID: def.ID,
		DueAt:    pending.DueAt.UnixMilli(),
		Cost:     def.Cost,
	})
	return newActionQueuedMessage(pending.ID, def.ID, pending.DueAt.UnixMilli()), nil
}

// validateTarget checks that the caller supplied exactly the target the
// definition requires and that it sits on the demanded side.
func (h *Hub) validateTarget(def contract.ActionDefinition, player world.Player, cmd clientCommand) error {
	if def.Target == nil {
		return nil
	}
	switch def.Target.Target {
	case contract.TargetNode:
		if cmd.TargetNodeID == "" {
			return errMissingTarget
		}
		node, ok := h.state.Node(cmd.TargetNodeID)
		if !ok {
			return errUnknownTarget
		}
		if (node.TeamID == player.TeamID) != def.Target.MyTeam {
			return errWrongSideTarget
		}
	case contract.TargetEdge:
		if cmd.TargetEdgeID == "" {
			return errMissingTarget
		}
		edge, ok := h.state.Edge(cmd.TargetEdgeID)
		if !ok {
			return errUnknownTarget
		}
		if (edge.TeamID == player.TeamID) != def.Target.MyTeam {
			return errWrongSideTarget
		}
	case contract.TargetPlayer:
		if cmd.TargetUserID == "" {
			return errMissingTarget
		}
		target, ok := h.state.Player(cmd.TargetUserID)
		if !ok {
			return errUnknownTarget
		}
		if (target.TeamID == player.TeamID) != def.Target.MyTeam {
			return errWrongSideTarget
		}
	}
	return nil
}

func (h *Hub) flushPlayer(ctx context.Context, username string) {
	h.state.TakeDirty()
	player, ok := h.state.Player(username)
	if !ok {
		return
	}
	if err := h.store.UpsertPlayer(player); err != nil {
		h.pub.Publish(ctx, logging.Event{
			Type:     "store.flush_failed",
			Actor:    logging.PlayerRef(username),
			Severity: logging.SeverityError,
			Category: logging.CategoryStore,
			Extra:    map[string]any{"kind": "player", "error": err.Error()},
		})
	}
}

// ---------------------------------------------------------------------------
// Match lifecycle and the resolution loop
// ---------------------------------------------------------------------------

// StartMatch moves the match to Running and announces the opening snapshot.
func (h *Hub) StartMatch(ctx context.Context) bool {
	h.mu.Lock()
	started := h.match.Start()
	var snapshot stateMessage
	if started {
		h.saveGameLocked(ctx)
		snapshot = h.snapshotLocked()
	}
	h.mu.Unlock()

	if started {
		logmatch.Started(ctx, h.pub)
		h.broadcast(snapshot)
	}
	return started
}

// EndMatch records an externally decided result, such as a time-limit
// expiry. An empty winner is a tie.
func (h *Hub) EndMatch(ctx context.Context, winner string) bool {
	h.mu.Lock()
	ended := h.match.SetWinner(winner, h.now())
	if ended {
		h.saveGameLocked(ctx)
	}
	h.mu.Unlock()

	if ended {
		logmatch.Ended(ctx, h.pub, winner)
		h.broadcast(newGameEndMessage(winner))
	}
	return ended
}

// Run drives the queue's tick loop until stop closes. Each due entry is
// resolved on this goroutine under the hub mutex.
func (h *Hub) Run(stop <-chan struct{}) {
	h.queue.Run(stop, func(entry queue.Entry) {
		h.resolveDue(context.Background(), entry)
	})
}

// resolveDue resolves one due queue entry and broadcasts the results.
func (h *Hub) resolveDue(ctx context.Context, entry queue.Entry) {
	h.mu.Lock()
	pending, err := h.store.PendingActionByID(entry.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Stopped between due and pop; nothing to resolve.
		h.mu.Unlock()
		return
	}
	if err != nil {
		// Leave the record for the next rehydrate; the in-memory entry
		// is gone, so surface the divergence.
		h.mu.Unlock()
		logsched.Desync(ctx, h.pub, logsched.DesyncPayload{PendingID: entry.ID, Op: "load"})
		return
	}

	outcome, err := h.engine.Resolve(ctx, pending)
	if err != nil {
		h.mu.Unlock()
		h.pub.Publish(ctx, logging.Event{
			Type:     "resolution.aborted",
			Actor:    logging.PlayerRef(entry.Username),
			Severity: logging.SeverityError,
			Category: logging.CategoryGameplay,
			Extra:    map[string]any{"pendingId": entry.ID, "error": err.Error()},
		})
		return
	}
	if outcome.Ended {
		h.saveGameLocked(ctx)
	}
	snapshot := h.snapshotLocked()
	h.mu.Unlock()

	for _, stopped := range outcome.Stopped {
		h.broadcast(newActionCompleteMessage(stopped.PendingID, stopped.ActionID, stopped.Username, string(contract.EndStopped)))
	}
	h.broadcast(newActionCompleteMessage(outcome.PendingID, outcome.ActionID, outcome.Username, string(outcome.EndState)))
	if outcome.Ended {
		logmatch.Ended(ctx, h.pub, outcome.Winner)
		h.broadcast(newGameEndMessage(outcome.Winner))
	}
	h.broadcast(snapshot)
}

// Rehydrate rebuilds the in-memory queue from the record store after a
// restart. Records whose action no longer resolves are dropped, not crashed
// on.
func (h *Hub) Rehydrate(ctx context.Context) error {
	pendings, err := h.store.ListPendingActions()
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}

	h.mu.Lock()
	restored, dropped := 0, 0
	for _, pending := range pendings {
		if _, ok := h.catalog.Resolve(pending.ActionID); !ok {
			if _, err := h.store.ActionDefinition(pending.ActionID); err != nil {
				h.store.DeletePendingAction(pending.ID)
				dropped++
				continue
			}
		}
		if err := h.queue.Enqueue(queue.Entry{
			ID:       pending.ID,
			Username: pending.Username,
			ActionID: pending.ActionID,
			DueAt:    pending.DueAt,
		}); err != nil {
			dropped++
			continue
		}
		restored++
	}
	h.mu.Unlock()

	logsched.Rehydrated(ctx, h.pub, logsched.RehydratedPayload{Restored: restored, Dropped: dropped})
	return nil
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func (h *Hub) snapshotLocked() stateMessage {
	winner, _ := h.match.Winner()
	msg := stateMessage{
		Type:    "state",
		Phase:   string(h.match.Phase()),
		Winner:  winner,
		Teams:   h.state.Teams(),
		Players: h.state.Players(),
	}
	for _, team := range msg.Teams {
		msg.Nodes = append(msg.Nodes, h.state.NodesOwnedBy(team.ID)...)
		msg.Edges = append(msg.Edges, h.state.EdgesOwnedBy(team.ID)...)
	}
	return msg
}

// Snapshot returns the current broadcast view, for the diagnostics endpoint
// and tests.
func (h *Hub) Snapshot() stateMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Hub) saveGameLocked(ctx context.Context) {
	winner, _ := h.match.Winner()
	record := store.GameRecord{
		Initialized: true,
		Phase:       string(h.match.Phase()),
		EndTime:     h.match.EndedAt(),
		Winner:      winner,
	}
	if err := h.store.SaveGame(record); err != nil {
		h.pub.Publish(ctx, logging.Event{
			Type:     "store.flush_failed",
			Severity: logging.SeverityError,
			Category: logging.CategoryStore,
			Extra:    map[string]any{"kind": "game", "error": err.Error()},
		})
	}
}
