package server

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"netwar/server/actions/catalog"
	"netwar/server/actions/contract"
	"netwar/server/internal/queue"
	"netwar/server/internal/store"
	"netwar/server/internal/world"
)

type fixture struct {
	state  *world.State
	match  *world.Match
	queue  *queue.Queue
	store  *store.Store
	engine *Engine
}

// newFixture builds a two-team battlefield, persists it, seeds the catalog
// from defsJSON, and returns an engine with a deterministic rng.
func newFixture(t *testing.T, seed int64, defsJSON string, nodes []world.Node, edges []world.Edge, players []world.Player) *fixture {
	t.Helper()

	teams := []world.Team{
		{ID: "team-alpha", Name: "Alpha", Modifiers: world.NewModifiers()},
		{ID: "team-bravo", Name: "Bravo", Modifiers: world.NewModifiers()},
	}
	state, err := world.NewState(teams, nodes, edges, players)
	if err != nil {
		t.Fatalf("build state: %v", err)
	}
	match := world.NewMatch()
	if !match.Start() {
		t.Fatal("match did not start")
	}

	st, err := store.New(filepath.Join(t.TempDir(), "netwar.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	for _, team := range teams {
		if err := st.UpsertTeam(team); err != nil {
			t.Fatalf("seed team: %v", err)
		}
	}
	for _, node := range nodes {
		if err := st.UpsertNode(node); err != nil {
			t.Fatalf("seed node: %v", err)
		}
	}
	for _, edge := range edges {
		if err := st.UpsertEdge(edge); err != nil {
			t.Fatalf("seed edge: %v", err)
		}
	}
	for _, player := range players {
		if err := st.UpsertPlayer(player); err != nil {
			t.Fatalf("seed player: %v", err)
		}
	}

	cat, err := catalog.NewResolver(catalog.MemorySource{Name: "test", Data: []byte(defsJSON)})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	if err := st.SeedCatalog(cat.Definitions()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	q := queue.New(time.Second)
	engine := NewEngine(state, match, q, st, cat, nil, rand.New(rand.NewSource(seed)))
	return &fixture{state: state, match: match, queue: q, store: st, engine: engine}
}

// schedule persists and enqueues a pending action so it can be resolved.
func (f *fixture) schedule(t *testing.T, pending store.PendingAction) store.PendingAction {
	t.Helper()
	if pending.DueAt.IsZero() {
		pending.DueAt = time.Now()
	}
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now()
	}
	if err := f.store.CreatePendingAction(pending); err != nil {
		t.Fatalf("create pending %s: %v", pending.ID, err)
	}
	if err := f.queue.Enqueue(queue.Entry{ID: pending.ID, Username: pending.Username, ActionID: pending.ActionID, DueAt: pending.DueAt}); err != nil {
		t.Fatalf("enqueue %s: %v", pending.ID, err)
	}
	return pending
}

func standardPlayers() []world.Player {
	return []world.Player{
		{Username: "ada", TeamID: "team-alpha", Role: contract.RoleMilitary, Funds: 50},
		{Username: "ivy", TeamID: "team-alpha", Role: contract.RoleIntelligence, Funds: 30},
		{Username: "bob", TeamID: "team-bravo", Role: contract.RoleMilitary, Funds: 40},
	}
}

const attackNodeJSON = `[
	{"id":"attack-node","name":"Attack Node","duration":30,"teamRole":"military","type":"offense","successRate":60,"cost":10,
	 "targets":{"target":"node","myTeam":false},"effects":[{"kind":"attack-node"}]}
]`

func TestAttackNodeZeroDefenseCompromises(t *testing.T) {
	f := newFixture(t, 1, attackNodeJSON,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
			{ID: "bravo-gateway", TeamID: "team-bravo", Defense: 0, Visible: true},
		},
		nil, standardPlayers())

	pending := f.schedule(t, store.PendingAction{
		ID: "pending-1", Username: "ada", ActionID: "attack-node", TargetNodeID: "bravo-gateway",
	})

	outcome, err := f.engine.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Failed || outcome.EndState != contract.EndSuccess {
		t.Fatalf("expected success against defense 0, got %+v", outcome)
	}
	node, _ := f.state.Node("bravo-gateway")
	if !node.Compromised {
		t.Fatal("node was not compromised")
	}

	// The pending record is gone and the log has the terminal state.
	if _, err := f.store.PendingActionByID("pending-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending record survived resolution: %v", err)
	}
	log, err := f.store.ActionLogByTeam("team-alpha")
	if err != nil || len(log) != 1 {
		t.Fatalf("action log: %+v, %v", log, err)
	}
	if log[0].EndState != contract.EndSuccess || log[0].PendingID != "pending-1" {
		t.Fatalf("unexpected log entry: %+v", log[0])
	}

	// Persistence reflects the compromise.
	stored, err := f.store.NodeByID("bravo-gateway")
	if err != nil || !stored.Compromised {
		t.Fatalf("compromise not persisted: %+v, %v", stored, err)
	}
}

func TestAttackNodeHighDefenseFailsAndErodes(t *testing.T) {
	// Defense above the contest die cannot be beaten by any draw.
	f := newFixture(t, 1, attackNodeJSON,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
			{ID: "bravo-gateway", TeamID: "team-bravo", Defense: 11, Visible: true},
		},
		nil, standardPlayers())

	pending := f.schedule(t, store.PendingAction{
		ID: "pending-1", Username: "ada", ActionID: "attack-node", TargetNodeID: "bravo-gateway",
	})

	outcome, err := f.engine.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !outcome.Failed || outcome.EndState != contract.EndFail {
		t.Fatalf("expected failure against defense 11, got %+v", outcome)
	}
	node, _ := f.state.Node("bravo-gateway")
	if node.Compromised {
		t.Fatal("node must not be compromised on a failed contest")
	}
	if node.Defense != 10 {
		t.Fatalf("expected defense eroded to 10, got %d", node.Defense)
	}
}

func TestAttackNodeDefenseNeverNegative(t *testing.T) {
	f := newFixture(t, 1, attackNodeJSON,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
			{ID: "bravo-gateway", TeamID: "team-bravo", Defense: 0, Visible: true},
		},
		nil, standardPlayers())

	// Repeated erosion on an already-zero defense must clamp at zero.
	for i := 0; i < 5; i++ {
		if err := f.state.AdjustNodeDefense("bravo-gateway", -1); err != nil {
			t.Fatalf("adjust: %v", err)
		}
	}
	node, _ := f.state.Node("bravo-gateway")
	if node.Defense != 0 {
		t.Fatalf("defense went negative: %d", node.Defense)
	}
}

func TestStopOffenseActionCancelsEnemyAction(t *testing.T) {
	defs := attackNodeJSON[:len(attackNodeJSON)-1] + `,
	{"id":"stop-military-action","name":"Stop Military Action","duration":10,"teamRole":"intelligence","type":"defense","successRate":100,"cost":5,
	 "effects":[{"kind":"stop-offense-action","teamRole":"military"}]}
]`
	f := newFixture(t, 1, defs,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
			{ID: "alpha-gateway", TeamID: "team-alpha", Defense: 0, Visible: true},
		},
		nil, standardPlayers())

	// Bob (bravo military) has an offense action in flight against alpha.
	victim := f.schedule(t, store.PendingAction{
		ID: "pending-victim", Username: "bob", ActionID: "attack-node", TargetNodeID: "alpha-gateway",
		DueAt: time.Now().Add(time.Hour),
	})
	// Ivy (alpha intelligence) resolves the stop first.
	stopper := f.schedule(t, store.PendingAction{
		ID: "pending-stop", Username: "ivy", ActionID: "stop-military-action",
	})

	outcome, err := f.engine.Resolve(context.Background(), stopper)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(outcome.Stopped) != 1 || outcome.Stopped[0].PendingID != victim.ID {
		t.Fatalf("expected bob's action stopped, got %+v", outcome.Stopped)
	}

	// The victim is gone from store and queue and logged as stopped.
	if _, err := f.store.PendingActionByID(victim.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("victim record survived: %v", err)
	}
	if _, found := f.queue.PendingFor("bob"); found {
		t.Fatal("victim entry survived in the queue")
	}
	bravoLog, err := f.store.ActionLogByTeam("team-bravo")
	if err != nil || len(bravoLog) != 1 || bravoLog[0].EndState != contract.EndStopped {
		t.Fatalf("expected stopped log entry for bravo, got %+v, %v", bravoLog, err)
	}

	// The stopped action never fires its own effects.
	node, _ := f.state.Node("alpha-gateway")
	if node.Compromised || node.Defense != 0 {
		t.Fatalf("stopped action still mutated its target: %+v", node)
	}
}

func TestStopOffenseActionNoVictimIsNoop(t *testing.T) {
	defs := `[
	{"id":"stop-military-action","name":"Stop Military Action","duration":10,"teamRole":"intelligence","type":"defense","successRate":100,"cost":5,
	 "effects":[{"kind":"stop-offense-action","teamRole":"military"}]}
]`
	f := newFixture(t, 1, defs,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
		},
		nil, standardPlayers())

	stopper := f.schedule(t, store.PendingAction{
		ID: "pending-stop", Username: "ivy", ActionID: "stop-military-action",
	})
	outcome, err := f.engine.Resolve(context.Background(), stopper)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Failed || len(outcome.Stopped) != 0 {
		t.Fatalf("expected clean no-op, got %+v", outcome)
	}
}

const revealJSON = `[
	{"id":"recon-probe","name":"Recon Probe","duration":15,"teamRole":"intelligence","type":"offense","successRate":70,"cost":8,
	 "effects":[{"kind":"reveal-node"}]}
]`

func TestRevealNodeFirstRevealsEntryPoint(t *testing.T) {
	f := newFixture(t, 1, revealJSON,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
			{ID: "bravo-gateway", TeamID: "team-bravo", Defense: 2},
		},
		[]world.Edge{
			{ID: "bravo-gw-core", TeamID: "team-bravo", Source: "bravo-gateway", Target: "bravo-core", Defense: 3},
		},
		standardPlayers())

	pending := f.schedule(t, store.PendingAction{ID: "pending-1", Username: "ivy", ActionID: "recon-probe"})
	outcome, err := f.engine.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Failed {
		t.Fatalf("first reveal never contests: %+v", outcome)
	}

	// bravo-gateway is the only node with no incoming edges.
	gateway, _ := f.state.Node("bravo-gateway")
	if !gateway.Visible {
		t.Fatal("entry point was not revealed")
	}
	core, _ := f.state.Node("bravo-core")
	if core.Visible {
		t.Fatal("non-entry node revealed on first probe")
	}
}

func TestRevealNodeContestsFrontierEdge(t *testing.T) {
	makeNodes := func(edgeDefense int) ([]world.Node, []world.Edge) {
		nodes := []world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
			{ID: "bravo-gateway", TeamID: "team-bravo", Defense: 2, Visible: true},
		}
		edges := []world.Edge{
			{ID: "bravo-gw-core", TeamID: "team-bravo", Source: "bravo-gateway", Target: "bravo-core", Defense: edgeDefense},
		}
		return nodes, edges
	}

	t.Run("zero defense reveals target", func(t *testing.T) {
		nodes, edges := makeNodes(0)
		f := newFixture(t, 1, revealJSON, nodes, edges, standardPlayers())
		pending := f.schedule(t, store.PendingAction{ID: "pending-1", Username: "ivy", ActionID: "recon-probe"})
		outcome, err := f.engine.Resolve(context.Background(), pending)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if outcome.Failed {
			t.Fatalf("defense 0 cannot hold, got %+v", outcome)
		}
		core, _ := f.state.Node("bravo-core")
		if !core.Visible {
			t.Fatal("frontier target was not revealed")
		}
	})

	t.Run("unbeatable defense fails and erodes", func(t *testing.T) {
		nodes, edges := makeNodes(11)
		f := newFixture(t, 1, revealJSON, nodes, edges, standardPlayers())
		pending := f.schedule(t, store.PendingAction{ID: "pending-1", Username: "ivy", ActionID: "recon-probe"})
		outcome, err := f.engine.Resolve(context.Background(), pending)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !outcome.Failed || outcome.EndState != contract.EndFail {
			t.Fatalf("defense 11 cannot be beaten, got %+v", outcome)
		}
		core, _ := f.state.Node("bravo-core")
		if core.Visible {
			t.Fatal("target revealed despite failed contest")
		}
		edge, _ := f.state.Edge("bravo-gw-core")
		if edge.Defense != 10 {
			t.Fatalf("expected edge defense eroded to 10, got %d", edge.Defense)
		}
	})

	t.Run("fully revealed graph is a noop", func(t *testing.T) {
		nodes, edges := makeNodes(5)
		for i := range nodes {
			nodes[i].Visible = true
		}
		f := newFixture(t, 1, revealJSON, nodes, edges, standardPlayers())
		pending := f.schedule(t, store.PendingAction{ID: "pending-1", Username: "ivy", ActionID: "recon-probe"})
		outcome, err := f.engine.Resolve(context.Background(), pending)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if outcome.Failed {
			t.Fatalf("no frontier should not fail the action: %+v", outcome)
		}
	})
}

func TestBuffDecaysUnlessRefreshed(t *testing.T) {
	defs := `[
	{"id":"rally","name":"Rally","duration":5,"teamRole":"media","type":"defense","successRate":100,"cost":2,
	 "effects":[{"kind":"buff-debuff","teamRole":"military","buff":2,"myTeam":true}]},
	{"id":"recon-probe","name":"Recon Probe","duration":15,"teamRole":"intelligence","type":"offense","successRate":70,"cost":8,
	 "effects":[{"kind":"reveal-node"}]}
]`
	players := append(standardPlayers(), world.Player{Username: "mia", TeamID: "team-alpha", Role: contract.RoleMedia, Funds: 20})
	f := newFixture(t, 1, defs,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
		},
		nil, players)

	// A rally containing BuffDebuff both applies and refreshes: media's own
	// buff survives its resolution.
	if err := f.state.AdjustBuff("team-alpha", contract.RoleMedia, 3); err != nil {
		t.Fatalf("prime buff: %v", err)
	}
	rally := f.schedule(t, store.PendingAction{ID: "pending-rally", Username: "mia", ActionID: "rally"})
	if _, err := f.engine.Resolve(context.Background(), rally); err != nil {
		t.Fatalf("resolve rally: %v", err)
	}
	team, _ := f.state.Team("team-alpha")
	if team.Modifiers[contract.RoleMedia].Buff != 3 {
		t.Fatalf("buff decayed despite BuffDebuff in the list: %+v", team.Modifiers[contract.RoleMedia])
	}
	if team.Modifiers[contract.RoleMilitary].Buff != 2 {
		t.Fatalf("rally did not apply its buff: %+v", team.Modifiers[contract.RoleMilitary])
	}

	// A probe with no BuffDebuff decays the performer's own role buff.
	if err := f.state.AdjustBuff("team-alpha", contract.RoleIntelligence, 4); err != nil {
		t.Fatalf("prime buff: %v", err)
	}
	probe := f.schedule(t, store.PendingAction{ID: "pending-probe", Username: "ivy", ActionID: "recon-probe"})
	if _, err := f.engine.Resolve(context.Background(), probe); err != nil {
		t.Fatalf("resolve probe: %v", err)
	}
	team, _ = f.state.Team("team-alpha")
	if team.Modifiers[contract.RoleIntelligence].Buff != 0 {
		t.Fatalf("buff did not decay: %+v", team.Modifiers[contract.RoleIntelligence])
	}
	// Other roles' buffs are untouched by decay.
	if team.Modifiers[contract.RoleMilitary].Buff != 2 {
		t.Fatalf("decay leaked to another role: %+v", team.Modifiers[contract.RoleMilitary])
	}
}

func TestWinDeclaredWhenAllCoresCompromised(t *testing.T) {
	f := newFixture(t, 1, attackNodeJSON,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 0, Core: true, Visible: true},
		},
		nil, standardPlayers())

	pending := f.schedule(t, store.PendingAction{
		ID: "pending-1", Username: "ada", ActionID: "attack-node", TargetNodeID: "bravo-core",
	})
	outcome, err := f.engine.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !outcome.Ended || outcome.Winner != "team-alpha" {
		t.Fatalf("expected alpha win, got %+v", outcome)
	}
	if f.match.Phase() != world.PhaseEnded {
		t.Fatalf("match phase = %s, want ended", f.match.Phase())
	}
	winner, ok := f.match.Winner()
	if !ok || winner != "team-alpha" {
		t.Fatalf("winner = %q, %v", winner, ok)
	}
}

func TestWinNotRedeclared(t *testing.T) {
	f := newFixture(t, 1, revealJSON,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 0, Core: true, Compromised: true, Visible: true},
		},
		nil, standardPlayers())

	// Bravo's core is already compromised and the match already ended.
	if !f.match.SetWinner("team-alpha", time.Now()) {
		t.Fatal("could not end match")
	}
	pending := f.schedule(t, store.PendingAction{ID: "pending-1", Username: "ivy", ActionID: "recon-probe"})
	outcome, err := f.engine.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Ended {
		t.Fatalf("win must be declared exactly once, got %+v", outcome)
	}
}

func TestEffectFailureIsolation(t *testing.T) {
	// buff-debuff-targeted with no target user logs and skips; the
	// victory points after it still apply, and the action ends failed.
	defs := `[
	{"id":"smear","name":"Smear","duration":5,"teamRole":"media","type":"offense","successRate":50,"cost":3,
	 "targets":{"target":"player","myTeam":false},
	 "effects":[{"kind":"buff-debuff-targeted","buff":-2},{"kind":"add-victory-points","points":4,"myTeam":true}]}
]`
	players := append(standardPlayers(), world.Player{Username: "mia", TeamID: "team-alpha", Role: contract.RoleMedia, Funds: 20})
	f := newFixture(t, 1, defs,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
		},
		nil, players)

	pending := f.schedule(t, store.PendingAction{ID: "pending-1", Username: "mia", ActionID: "smear"})
	outcome, err := f.engine.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !outcome.Failed || outcome.EndState != contract.EndFail {
		t.Fatalf("missing target must mark the action failed: %+v", outcome)
	}
	team, _ := f.state.Team("team-alpha")
	if team.VictoryPoints != 4 {
		t.Fatalf("later effects must still apply, victory points = %d", team.VictoryPoints)
	}
}

func TestDistributeFundsAndTargetedBuff(t *testing.T) {
	defs := `[
	{"id":"fund-drop","name":"Fund Drop","duration":5,"teamRole":"leader","type":"defense","successRate":100,"cost":0,
	 "targets":{"target":"player","myTeam":true},"effects":[{"kind":"distribute-funds","amount":25}]},
	{"id":"targeted-training","name":"Targeted Training","duration":5,"teamRole":"leader","type":"defense","successRate":100,"cost":0,
	 "targets":{"target":"player","myTeam":true},"effects":[{"kind":"buff-debuff-targeted","buff":2}]}
]`
	players := append(standardPlayers(), world.Player{Username: "lee", TeamID: "team-alpha", Role: contract.RoleLeader, Funds: 100})
	f := newFixture(t, 1, defs,
		[]world.Node{
			{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
			{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
		},
		nil, players)

	drop := f.schedule(t, store.PendingAction{ID: "pending-drop", Username: "lee", ActionID: "fund-drop", TargetUserID: "ada"})
	if _, err := f.engine.Resolve(context.Background(), drop); err != nil {
		t.Fatalf("resolve drop: %v", err)
	}
	ada, _ := f.state.Player("ada")
	if ada.Funds != 75 {
		t.Fatalf("funds = %d, want 75", ada.Funds)
	}
	stored, err := f.store.PlayerByUsername("ada")
	if err != nil || stored.Funds != 75 {
		t.Fatalf("funds not persisted: %+v, %v", stored, err)
	}

	training := f.schedule(t, store.PendingAction{ID: "pending-train", Username: "lee", ActionID: "targeted-training", TargetUserID: "ada"})
	if _, err := f.engine.Resolve(context.Background(), training); err != nil {
		t.Fatalf("resolve training: %v", err)
	}
	team, _ := f.state.Team("team-alpha")
	if team.Modifiers[contract.RoleMilitary].Buff != 2 {
		t.Fatalf("targeted buff missed: %+v", team.Modifiers[contract.RoleMilitary])
	}
}

func TestContestMonotonicInDefense(t *testing.T) {
	// Success counts over the same draw sequence must not increase as
	// defense rises.
	trials := 2000
	prev := trials + 1
	for defense := 0; defense <= 11; defense++ {
		rng := rand.New(rand.NewSource(42))
		wins := 0
		for i := 0; i < trials; i++ {
			if rng.Intn(contestDie) >= defense {
				wins++
			}
		}
		if wins > prev {
			t.Fatalf("success count rose from %d to %d at defense %d", prev, wins, defense)
		}
		prev = wins
	}
	if prev != 0 {
		t.Fatalf("defense 11 must always hold, got %d wins", prev)
	}
}
