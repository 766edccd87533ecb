package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"netwar/server/actions/catalog"
	"netwar/server/actions/contract"
	"netwar/server/internal/queue"
	"netwar/server/internal/store"
	"netwar/server/internal/world"
	"netwar/server/logging"
	logres "netwar/server/logging/resolution"
	logsched "netwar/server/logging/schedule"
)

const (
	// defenseRate is the fixed step applied to node/edge defense by attack
	// and defend effects.
	defenseRate = 1
	// contestDie is the exclusive upper bound of the uniform contest draw.
	// A draw in [0, contestDie) must be >= the defender's defense for the
	// attacker to succeed, so defense 0 always loses and defense 10 holds
	// roughly 10 times in 11.
	contestDie = 11
)

// Engine interprets an action's effect list against the world state. All
// calls run on the queue goroutine under the hub mutex; resolutions never
// interleave.
type Engine struct {
	state   *world.State
	match   *world.Match
	queue   *queue.Queue
	store   *store.Store
	catalog *catalog.Resolver
	pub     logging.Publisher
	rng     *rand.Rand
	now     func() time.Time
}

// NewEngine wires the resolution engine. A nil rng gets a time-seeded one;
// tests inject a fixed seed for deterministic draws.
func NewEngine(state *world.State, match *world.Match, q *queue.Queue, st *store.Store, cat *catalog.Resolver, pub logging.Publisher, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Engine{
		state:   state,
		match:   match,
		queue:   q,
		store:   st,
		catalog: cat,
		pub:     pub,
		rng:     rng,
		now:     time.Now,
	}
}

// SetClock overrides the engine's time source for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// StoppedAction identifies an opposing pending action cancelled by a stop
// effect during a resolution.
type StoppedAction struct {
	PendingID string
	ActionID  string
	Username  string
}

// Outcome summarizes one resolution for the hub to broadcast.
type Outcome struct {
	PendingID string
	ActionID  string
	Username  string
	TeamID    string
	EndState  contract.EndState
	Failed    bool
	Stopped   []StoppedAction
	Ended     bool
	Winner    string
}

// resolveContext carries the loaded participants through one effect list.
type resolveContext struct {
	def       contract.ActionDefinition
	pending   store.PendingAction
	performer world.Player
	self      world.Team
	other     world.Team
}

// Resolve applies a due pending action: effects in list order with per-effect
// failure isolation, then buff decay, the win check, the action-log append,
// and deletion of the pending record. Returned errors mean the resolution
// could not even start; the pending record is left for the next tick.
func (e *Engine) Resolve(ctx context.Context, pending store.PendingAction) (Outcome, error) {
	def, ok := e.catalog.Resolve(pending.ActionID)
	if !ok {
		// The catalog is authoritative but the store snapshot covers
		// actions removed from the JSON file between restarts.
		var err error
		def, err = e.store.ActionDefinition(pending.ActionID)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve %s: unknown action %q: %w", pending.ID, pending.ActionID, err)
		}
	}
	performer, ok := e.state.Player(pending.Username)
	if !ok {
		return Outcome{}, fmt.Errorf("resolve %s: unknown player %q", pending.ID, pending.Username)
	}
	self, ok := e.state.Team(performer.TeamID)
	if !ok {
		return Outcome{}, fmt.Errorf("resolve %s: unknown team %q", pending.ID, performer.TeamID)
	}
	other, ok := e.state.Opponent(performer.TeamID)
	if !ok {
		return Outcome{}, fmt.Errorf("resolve %s: no opponent for team %q", pending.ID, performer.TeamID)
	}

	rc := &resolveContext{def: def, pending: pending, performer: performer, self: self, other: other}
	outcome := Outcome{
		PendingID: pending.ID,
		ActionID:  def.ID,
		Username:  performer.Username,
		TeamID:    self.ID,
	}

	for _, effect := range def.Effects {
		failed, err := e.applyEffect(ctx, effect, rc, &outcome)
		if err != nil {
			outcome.Failed = true
			logres.EffectFailed(ctx, e.pub, logging.PlayerRef(performer.Username), logres.EffectFailedPayload{
				ActionID: def.ID,
				Kind:     string(effect.Kind()),
				Reason:   err.Error(),
			})
			continue
		}
		if failed {
			outcome.Failed = true
		}
	}

	// Buffs decay unless this very action refreshed them.
	if !def.Effects.RefreshesBuff() {
		if err := e.state.ResetBuff(self.ID, performer.Role); err != nil {
			logres.EffectFailed(ctx, e.pub, logging.PlayerRef(performer.Username), logres.EffectFailedPayload{
				ActionID: def.ID,
				Kind:     "buff-decay",
				Reason:   err.Error(),
			})
		}
	}

	if e.state.AllCoreCompromised(other.ID) {
		if e.match.SetWinner(self.ID, e.now()) {
			outcome.Ended = true
			outcome.Winner = self.ID
		}
	}

	outcome.EndState = contract.EndSuccess
	if outcome.Failed {
		outcome.EndState = contract.EndFail
	}

	if err := e.store.AppendActionLog(store.LogEntry{
		TeamID:    self.ID,
		ActionID:  def.ID,
		PendingID: pending.ID,
		EndState:  outcome.EndState,
		Time:      e.now(),
	}); err != nil {
		e.pub.Publish(ctx, logging.Event{
			Type:     "store.append_failed",
			Actor:    logging.PlayerRef(performer.Username),
			Severity: logging.SeverityError,
			Category: logging.CategoryStore,
			Extra:    map[string]any{"error": err.Error(), "pendingId": pending.ID},
		})
	}
	if err := e.store.DeletePendingAction(pending.ID); err != nil {
		e.pub.Publish(ctx, logging.Event{
			Type:     "store.delete_failed",
			Actor:    logging.PlayerRef(performer.Username),
			Severity: logging.SeverityError,
			Category: logging.CategoryStore,
			Extra:    map[string]any{"error": err.Error(), "pendingId": pending.ID},
		})
	}

	e.flushDirty(ctx)

	logres.ActionResolved(ctx, e.pub, logging.PlayerRef(performer.Username), pending.ID, logres.ActionResolvedPayload{
		ActionID: def.ID,
		EndState: string(outcome.EndState),
		Failed:   outcome.Failed,
	})
	return outcome, nil
}

// applyEffect runs a single effect. The first return reports a lost contest
// (attacker failure); the error return reports a broken effect (missing
// target, unknown entity) that is logged and skipped.
func (e *Engine) applyEffect(ctx context.Context, effect contract.Effect, rc *resolveContext, outcome *Outcome) (bool, error) {
	switch eff := effect.(type) {
	case contract.AddVictoryPoints:
		team := rc.other
		if eff.MyTeam {
			team = rc.self
		}
		return false, e.state.AddVictoryPoints(team.ID, eff.Points)

	case contract.BuffDebuff:
		team := rc.other
		if eff.MyTeam {
			team = rc.self
		}
		return false, e.state.AdjustBuff(team.ID, eff.Role, eff.Buff)

	case contract.BuffDebuffTargeted:
		if rc.pending.TargetUserID == "" {
			return false, errors.New("buff-debuff-targeted: no target user")
		}
		target, ok := e.state.Player(rc.pending.TargetUserID)
		if !ok {
			return false, fmt.Errorf("buff-debuff-targeted: unknown user %q", rc.pending.TargetUserID)
		}
		return false, e.state.AdjustBuff(rc.performer.TeamID, target.Role, eff.Buff)

	case contract.StopOffenseAction:
		return false, e.stopOffenseAction(ctx, eff.Role, rc, outcome)

	case contract.RevealNode:
		return e.revealNode(rc)

	case contract.AttackNode:
		if rc.pending.TargetNodeID == "" {
			return false, errors.New("attack-node: no target node")
		}
		node, ok := e.state.Node(rc.pending.TargetNodeID)
		if !ok {
			return false, fmt.Errorf("attack-node: unknown node %q", rc.pending.TargetNodeID)
		}
		if e.rng.Intn(contestDie) >= node.Defense {
			return false, e.state.CompromiseNode(node.ID)
		}
		return true, e.state.AdjustNodeDefense(node.ID, -defenseRate)

	case contract.DefendNode:
		if rc.pending.TargetNodeID == "" {
			return false, errors.New("defend-node: no target node")
		}
		return false, e.state.AdjustNodeDefense(rc.pending.TargetNodeID, defenseRate)

	case contract.SecureNode:
		if rc.pending.TargetNodeID == "" {
			return false, errors.New("secure-node: no target node")
		}
		return false, e.state.SecureNode(rc.pending.TargetNodeID)

	case contract.AttackEdge:
		if rc.pending.TargetEdgeID == "" {
			return false, errors.New("attack-edge: no target edge")
		}
		return false, e.state.AdjustEdgeDefense(rc.pending.TargetEdgeID, -defenseRate)

	case contract.DefendEdge:
		if rc.pending.TargetEdgeID == "" {
			return false, errors.New("defend-edge: no target edge")
		}
		return false, e.state.AdjustEdgeDefense(rc.pending.TargetEdgeID, defenseRate)

	case contract.DistributeFunds:
		if rc.pending.TargetUserID == "" {
			return false, errors.New("distribute-funds: no target user")
		}
		return false, e.state.AdjustFunds(rc.pending.TargetUserID, eff.Amount)

	default:
		return false, fmt.Errorf("unhandled effect kind %q", effect.Kind())
	}
}

// revealNode advances visibility into the opposing graph. With nothing
// visible yet it reveals a random entry point outright; afterwards it
// contests a random frontier edge, decrementing the edge's defense on a
// failed draw.
func (e *Engine) revealNode(rc *resolveContext) (bool, error) {
	if !e.state.AnyVisible(rc.other.ID) {
		entries := e.state.EntryPoints(rc.other.ID)
		if len(entries) == 0 {
			return false, errors.New("reveal-node: opposing graph has no entry points")
		}
		pick := entries[e.rng.Intn(len(entries))]
		return false, e.state.RevealNode(pick.ID)
	}

	frontier := e.state.FrontierEdges(rc.other.ID)
	if len(frontier) == 0 {
		// Everything reachable is already visible.
		return false, nil
	}
	edge := frontier[e.rng.Intn(len(frontier))]
	if e.rng.Intn(contestDie) >= edge.Defense {
		return false, e.state.RevealNode(edge.Target)
	}
	return true, e.state.AdjustEdgeDefense(edge.ID, -defenseRate)
}

// stopOffenseAction cancels the oldest opposing pending offense action of
// the given role, logging it as stopped so it never fires its own effects.
func (e *Engine) stopOffenseAction(ctx context.Context, role contract.TeamRole, rc *resolveContext, outcome *Outcome) error {
	victim, err := e.store.FirstPendingOffense(role, rc.performer.TeamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stop-offense-action: %w", err)
	}

	victimTeamID := rc.other.ID
	if player, ok := e.state.Player(victim.Username); ok {
		victimTeamID = player.TeamID
	}
	if err := e.store.AppendActionLog(store.LogEntry{
		TeamID:    victimTeamID,
		ActionID:  victim.ActionID,
		PendingID: victim.ID,
		EndState:  contract.EndStopped,
		Time:      e.now(),
	}); err != nil {
		return fmt.Errorf("stop-offense-action: log %s: %w", victim.ID, err)
	}
	if err := e.store.DeletePendingAction(victim.ID); err != nil {
		return fmt.Errorf("stop-offense-action: delete %s: %w", victim.ID, err)
	}
	if _, found := e.queue.Cancel(victim.ID); !found {
		// Queue and store disagree; keep going but leave a trail.
		logsched.Desync(ctx, e.pub, logsched.DesyncPayload{PendingID: victim.ID, Op: "cancel"})
	}

	outcome.Stopped = append(outcome.Stopped, StoppedAction{
		PendingID: victim.ID,
		ActionID:  victim.ActionID,
		Username:  victim.Username,
	})
	logres.ActionStopped(ctx, e.pub, logging.PlayerRef(rc.performer.Username), logging.PlayerRef(victim.Username), logres.ActionStoppedPayload{
		StoppedID: victim.ID,
		ActionID:  victim.ActionID,
	})
	return nil
}

// flushDirty writes every entity touched by the resolution through to the
// record store. Failures are logged; the in-memory state stays authoritative
// for this process.
func (e *Engine) flushDirty(ctx context.Context) {
	dirty := e.state.TakeDirty()
	if dirty.Empty() {
		return
	}
	report := func(kind, id string, err error) {
		if err == nil {
			return
		}
		e.pub.Publish(ctx, logging.Event{
			Type:     "store.flush_failed",
			Severity: logging.SeverityError,
			Category: logging.CategoryStore,
			Extra:    map[string]any{"kind": kind, "id": id, "error": err.Error()},
		})
	}
	for id := range dirty.Teams {
		if team, ok := e.state.Team(id); ok {
			report("team", id, e.store.UpsertTeam(team))
		}
	}
	for id := range dirty.Nodes {
		if node, ok := e.state.Node(id); ok {
			report("node", id, e.store.UpsertNode(node))
		}
	}
	for id := range dirty.Edges {
		if edge, ok := e.state.Edge(id); ok {
			report("edge", id, e.store.UpsertEdge(edge))
		}
	}
	for username := range dirty.Players {
		if player, ok := e.state.Player(username); ok {
			report("player", username, e.store.UpsertPlayer(player))
		}
	}
}
