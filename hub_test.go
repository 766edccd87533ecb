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

const hubCatalogJSON = `[
	{"id":"attack-node","name":"Attack Node","duration":30,"teamRole":"military","type":"offense","successRate":60,"cost":10,
	 "targets":{"target":"node","myTeam":false},"effects":[{"kind":"attack-node"}]},
	{"id":"shore-up","name":"Shore Up","duration":10,"teamRole":"military","type":"defense","successRate":100,"cost":5,
	 "targets":{"target":"node","myTeam":true},"effects":[{"kind":"defend-node"}]},
	{"id":"recon-probe","name":"Recon Probe","duration":15,"teamRole":"intelligence","type":"offense","successRate":70,"cost":8,
	 "effects":[{"kind":"reveal-node"}]}
]`

func newHubFixture(t *testing.T) (*Hub, *world.State, *store.Store) {
	t.Helper()

	teams := []world.Team{
		{ID: "team-alpha", Name: "Alpha", Modifiers: world.NewModifiers()},
		{ID: "team-bravo", Name: "Bravo", Modifiers: world.NewModifiers()},
	}
	nodes := []world.Node{
		{ID: "alpha-core", TeamID: "team-alpha", Defense: 5, Core: true},
		{ID: "alpha-gateway", TeamID: "team-alpha", Defense: 2},
		{ID: "bravo-core", TeamID: "team-bravo", Defense: 5, Core: true},
		{ID: "bravo-gateway", TeamID: "team-bravo", Defense: 0, Visible: true},
	}
	players := []world.Player{
		{Username: "ada", TeamID: "team-alpha", Role: contract.RoleMilitary, Funds: 50},
		{Username: "ivy", TeamID: "team-alpha", Role: contract.RoleIntelligence, Funds: 3},
		{Username: "bob", TeamID: "team-bravo", Role: contract.RoleMilitary, Funds: 40},
	}
	state, err := world.NewState(teams, nodes, nil, players)
	if err != nil {
		t.Fatalf("build state: %v", err)
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
	for _, player := range players {
		if err := st.UpsertPlayer(player); err != nil {
			t.Fatalf("seed player: %v", err)
		}
	}

	cat, err := catalog.NewResolver(catalog.MemorySource{Name: "test", Data: []byte(hubCatalogJSON)})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	if err := st.SeedCatalog(cat.Definitions()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	hub := NewHub(state, world.NewMatch(), st, cat, nil, time.Second, rand.New(rand.NewSource(1)))
	return hub, state, st
}

func TestStartActionValidations(t *testing.T) {
	ctx := context.Background()
	hub, _, _ := newHubFixture(t)

	// Nothing schedules before the match starts.
	if _, err := hub.StartAction(ctx, "ada", clientCommand{Type: commandStartAction, ActionID: "attack-node", TargetNodeID: "bravo-gateway"}); !errors.Is(err, errMatchNotRunning) {
		t.Fatalf("pre-start error = %v, want %v", err, errMatchNotRunning)
	}
	if !hub.StartMatch(ctx) {
		t.Fatal("match did not start")
	}

	cases := []struct {
		name string
		user string
		cmd  clientCommand
		want error
	}{
		{"unknown player", "ghost", clientCommand{ActionID: "attack-node", TargetNodeID: "bravo-gateway"}, errUnknownPlayer},
		{"unknown action", "ada", clientCommand{ActionID: "launch-nukes"}, errUnknownAction},
		{"role mismatch", "ada", clientCommand{ActionID: "recon-probe"}, errRoleMismatch},
		{"insufficient funds", "ivy", clientCommand{ActionID: "recon-probe"}, errInsufficientFunds},
		{"missing target", "ada", clientCommand{ActionID: "attack-node"}, errMissingTarget},
		{"unknown target", "ada", clientCommand{ActionID: "attack-node", TargetNodeID: "atlantis"}, errUnknownTarget},
		{"own node as enemy target", "ada", clientCommand{ActionID: "attack-node", TargetNodeID: "alpha-gateway"}, errWrongSideTarget},
		{"enemy node as own target", "ada", clientCommand{ActionID: "shore-up", TargetNodeID: "bravo-gateway"}, errWrongSideTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := hub.StartAction(ctx, tc.user, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}

	// Rejections never debit funds or touch the queue.
	ada, _ := hub.state.Player("ada")
	if ada.Funds != 50 {
		t.Fatalf("funds after rejections = %d, want 50", ada.Funds)
	}
	if hub.Queue().Len() != 0 {
		t.Fatalf("queue depth after rejections = %d, want 0", hub.Queue().Len())
	}
}

func TestStartActionDebitsFundsAndSchedules(t *testing.T) {
	ctx := context.Background()
	hub, state, st := newHubFixture(t)

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	hub.SetClock(func() time.Time { return base })
	if !hub.StartMatch(ctx) {
		t.Fatal("match did not start")
	}

	queued, err := hub.StartAction(ctx, "ada", clientCommand{ActionID: "attack-node", TargetNodeID: "bravo-gateway"})
	if err != nil {
		t.Fatalf("start action: %v", err)
	}
	wantDue := base.Add(30 * time.Minute)
	if queued.DueAt != wantDue.UnixMilli() {
		t.Fatalf("dueAt = %d, want %d", queued.DueAt, wantDue.UnixMilli())
	}

	ada, _ := state.Player("ada")
	if ada.Funds != 40 {
		t.Fatalf("funds = %d, want 40", ada.Funds)
	}
	stored, err := st.PlayerByUsername("ada")
	if err != nil || stored.Funds != 40 {
		t.Fatalf("debit not persisted: %+v, %v", stored, err)
	}

	record, err := st.PendingActionByID(queued.PendingActionID)
	if err != nil {
		t.Fatalf("pending record: %v", err)
	}
	entry, found := hub.Queue().PendingFor("ada")
	if !found || entry.ID != record.ID || !entry.DueAt.Equal(record.DueAt) {
		t.Fatalf("queue and store disagree: %+v vs %+v", entry, record)
	}

	// One pending action per user.
	if _, err := hub.StartAction(ctx, "ada", clientCommand{ActionID: "attack-node", TargetNodeID: "bravo-gateway"}); !errors.Is(err, errDuplicatePending) {
		t.Fatalf("duplicate error = %v, want %v", err, errDuplicatePending)
	}
}

func TestResolveDueEndToEnd(t *testing.T) {
	ctx := context.Background()
	hub, state, st := newHubFixture(t)

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	hub.SetClock(func() time.Time { return base })
	if !hub.StartMatch(ctx) {
		t.Fatal("match did not start")
	}

	queued, err := hub.StartAction(ctx, "ada", clientCommand{ActionID: "attack-node", TargetNodeID: "bravo-gateway"})
	if err != nil {
		t.Fatalf("start action: %v", err)
	}

	if _, ok := hub.Queue().PopDue(base.Add(29 * time.Minute)); ok {
		t.Fatal("entry popped before completion time")
	}
	entry, ok := hub.Queue().PopDue(base.Add(31 * time.Minute))
	if !ok || entry.ID != queued.PendingActionID {
		t.Fatalf("pop = %+v, %v", entry, ok)
	}

	hub.resolveDue(ctx, entry)

	node, _ := state.Node("bravo-gateway")
	if !node.Compromised {
		t.Fatal("defense-0 target was not compromised")
	}
	log, err := st.ActionLogByTeam("team-alpha")
	if err != nil || len(log) != 1 || log[0].EndState != contract.EndSuccess {
		t.Fatalf("action log: %+v, %v", log, err)
	}
	if _, err := st.PendingActionByID(entry.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending record survived resolution: %v", err)
	}
}

func TestResolveDueSkipsStoppedRecord(t *testing.T) {
	ctx := context.Background()
	hub, _, st := newHubFixture(t)
	if !hub.StartMatch(ctx) {
		t.Fatal("match did not start")
	}

	// An entry whose record was stopped between due and pop resolves to
	// nothing.
	hub.resolveDue(ctx, queue.Entry{ID: "ghost-pending", Username: "ada", ActionID: "attack-node", DueAt: time.Now()})

	for _, teamID := range []string{"team-alpha", "team-bravo"} {
		log, err := st.ActionLogByTeam(teamID)
		if err != nil || len(log) != 0 {
			t.Fatalf("log for %s: %+v, %v", teamID, log, err)
		}
	}
}

func TestRehydrateRestoresQueueFromStore(t *testing.T) {
	ctx := context.Background()
	hub, _, st := newHubFixture(t)

	now := time.Now()
	records := []store.PendingAction{
		{ID: "pending-1", Username: "ada", ActionID: "attack-node", TargetNodeID: "bravo-gateway", DueAt: now.Add(time.Minute), CreatedAt: now},
		{ID: "pending-2", Username: "bob", ActionID: "attack-node", TargetNodeID: "alpha-gateway", DueAt: now.Add(2 * time.Minute), CreatedAt: now},
	}
	for _, record := range records {
		if err := st.CreatePendingAction(record); err != nil {
			t.Fatalf("seed pending: %v", err)
		}
	}

	if err := hub.Rehydrate(ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if hub.Queue().Len() != 2 {
		t.Fatalf("queue depth = %d, want 2", hub.Queue().Len())
	}

	// Rehydrating again must not duplicate the schedule.
	if err := hub.Rehydrate(ctx); err != nil {
		t.Fatalf("second rehydrate: %v", err)
	}
	if hub.Queue().Len() != 2 {
		t.Fatalf("queue depth after second rehydrate = %d, want 2", hub.Queue().Len())
	}
}

func TestEndMatchTieRecordsEmptyWinner(t *testing.T) {
	ctx := context.Background()
	hub, _, st := newHubFixture(t)
	if !hub.StartMatch(ctx) {
		t.Fatal("match did not start")
	}

	if !hub.EndMatch(ctx, "") {
		t.Fatal("end match refused")
	}
	if hub.Phase() != world.PhaseEnded {
		t.Fatalf("phase = %s, want ended", hub.Phase())
	}
	record, err := st.Game()
	if err != nil {
		t.Fatalf("game record: %v", err)
	}
	if record.Phase != string(world.PhaseEnded) || record.Winner != "" {
		t.Fatalf("game record = %+v, want ended with empty winner", record)
	}

	// Ending twice is a no-op.
	if hub.EndMatch(ctx, "team-alpha") {
		t.Fatal("match ended twice")
	}
}
