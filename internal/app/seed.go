package app

import (
	"fmt"

	"netwar/server/actions/contract"
	"netwar/server/internal/store"
	"netwar/server/internal/world"
)

// seedDefaultWorld writes the stock two-team battlefield into an empty
// store: mirrored graphs with one gateway entry point, two relays, and a
// core, plus one seated player per role. Deployments with their own match
// setup write the records before first boot and never hit this path.
func seedDefaultWorld(st *store.Store) error {
	teams := []world.Team{
		{ID: "team-alpha", Name: "Alpha", Modifiers: world.NewModifiers()},
		{ID: "team-bravo", Name: "Bravo", Modifiers: world.NewModifiers()},
	}

	var nodes []world.Node
	var edges []world.Edge
	var players []world.Player
	for _, side := range []struct {
		team   string
		prefix string
	}{
		{team: "team-alpha", prefix: "alpha"},
		{team: "team-bravo", prefix: "bravo"},
	} {
		nodes = append(nodes,
			world.Node{ID: side.prefix + "-gateway", TeamID: side.team, Defense: 2},
			world.Node{ID: side.prefix + "-relay-1", TeamID: side.team, Defense: 4},
			world.Node{ID: side.prefix + "-relay-2", TeamID: side.team, Defense: 4},
			world.Node{ID: side.prefix + "-core", TeamID: side.team, Defense: 8, Core: true},
		)
		edges = append(edges,
			world.Edge{ID: side.prefix + "-gw-r1", TeamID: side.team, Source: side.prefix + "-gateway", Target: side.prefix + "-relay-1", Defense: 3},
			world.Edge{ID: side.prefix + "-gw-r2", TeamID: side.team, Source: side.prefix + "-gateway", Target: side.prefix + "-relay-2", Defense: 3},
			world.Edge{ID: side.prefix + "-r1-core", TeamID: side.team, Source: side.prefix + "-relay-1", Target: side.prefix + "-core", Defense: 5},
			world.Edge{ID: side.prefix + "-r2-core", TeamID: side.team, Source: side.prefix + "-relay-2", Target: side.prefix + "-core", Defense: 5},
		)
		for _, role := range contract.Roles() {
			players = append(players, world.Player{
				Username: fmt.Sprintf("%s-%s", side.prefix, role),
				TeamID:   side.team,
				Role:     role,
				Funds:    50,
			})
		}
	}

	for _, team := range teams {
		if err := st.UpsertTeam(team); err != nil {
			return err
		}
	}
	for _, node := range nodes {
		if err := st.UpsertNode(node); err != nil {
			return err
		}
	}
	for _, edge := range edges {
		if err := st.UpsertEdge(edge); err != nil {
			return err
		}
	}
	for _, player := range players {
		if err := st.UpsertPlayer(player); err != nil {
			return err
		}
	}

	return st.SaveGame(store.GameRecord{
		Initialized: true,
		Phase:       string(world.PhaseNotStarted),
	})
}
