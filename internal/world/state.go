package world

import (
	"fmt"
	"sort"

	"netwar/server/actions/contract"
)

// Dirty collects the entities touched since the last flush so the hub can
// write them through to the record store after a resolution.
type Dirty struct {
	Teams   map[string]struct{}
	Nodes   map[string]struct{}
	Edges   map[string]struct{}
	Players map[string]struct{}
}

func newDirty() Dirty {
	return Dirty{
		Teams:   make(map[string]struct{}),
		Nodes:   make(map[string]struct{}),
		Edges:   make(map[string]struct{}),
		Players: make(map[string]struct{}),
	}
}

// Empty reports whether nothing has been touched.
func (d Dirty) Empty() bool {
	return len(d.Teams) == 0 && len(d.Nodes) == 0 && len(d.Edges) == 0 && len(d.Players) == 0
}

// State is the in-memory aggregate of the whole battlefield. It is not
// goroutine-safe; the hub serializes access under its own mutex.
type State struct {
	teams   map[string]*Team
	nodes   map[string]*Node
	edges   map[string]*Edge
	players map[string]*Player
	dirty   Dirty
}

// NewState builds the aggregate from loaded records. Exactly two teams are
// expected; Opponent panics on any other shape, so validate at load time.
func NewState(teams []Team, nodes []Node, edges []Edge, players []Player) (*State, error) {
	if len(teams) != 2 {
		return nil, fmt.Errorf("world: expected exactly 2 teams, got %d", len(teams))
	}
	s := &State{
		teams:   make(map[string]*Team, len(teams)),
		nodes:   make(map[string]*Node, len(nodes)),
		edges:   make(map[string]*Edge, len(edges)),
		players: make(map[string]*Player, len(players)),
		dirty:   newDirty(),
	}
	for i := range teams {
		team := teams[i]
		if team.Modifiers == nil {
			team.Modifiers = NewModifiers()
		}
		s.teams[team.ID] = &team
	}
	for i := range nodes {
		node := nodes[i]
		if _, ok := s.teams[node.TeamID]; !ok {
			return nil, fmt.Errorf("world: node %q owned by unknown team %q", node.ID, node.TeamID)
		}
		s.nodes[node.ID] = &node
	}
	for i := range edges {
		edge := edges[i]
		if _, ok := s.nodes[edge.Source]; !ok {
			return nil, fmt.Errorf("world: edge %q has unknown source %q", edge.ID, edge.Source)
		}
		if _, ok := s.nodes[edge.Target]; !ok {
			return nil, fmt.Errorf("world: edge %q has unknown target %q", edge.ID, edge.Target)
		}
		s.edges[edge.ID] = &edge
	}
	for i := range players {
		player := players[i]
		if _, ok := s.teams[player.TeamID]; !ok {
			return nil, fmt.Errorf("world: player %q on unknown team %q", player.Username, player.TeamID)
		}
		s.players[player.Username] = &player
	}
	return s, nil
}

// TakeDirty returns the touched entity ids and resets the tracker.
func (s *State) TakeDirty() Dirty {
	dirty := s.dirty
	s.dirty = newDirty()
	return dirty
}

// Team returns a copy of the identified team.
func (s *State) Team(id string) (Team, bool) {
	team, ok := s.teams[id]
	if !ok {
		return Team{}, false
	}
	return cloneTeam(team), true
}

// TeamByName looks a team up by display name.
func (s *State) TeamByName(name string) (Team, bool) {
	for _, team := range s.teams {
		if team.Name == name {
			return cloneTeam(team), true
		}
	}
	return Team{}, false
}

// Opponent returns the other team of the two-team match.
func (s *State) Opponent(teamID string) (Team, bool) {
	for id, team := range s.teams {
		if id != teamID {
			return cloneTeam(team), true
		}
	}
	return Team{}, false
}

// Teams returns both teams sorted by id.
func (s *State) Teams() []Team {
	out := make([]Team, 0, len(s.teams))
	for _, team := range s.teams {
		out = append(out, cloneTeam(team))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Node returns a copy of the identified node.
func (s *State) Node(id string) (Node, bool) {
	node, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// Edge returns a copy of the identified edge.
func (s *State) Edge(id string) (Edge, bool) {
	edge, ok := s.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *edge, true
}

// Player returns a copy of the identified player.
func (s *State) Player(username string) (Player, bool) {
	player, ok := s.players[username]
	if !ok {
		return Player{}, false
	}
	return *player, true
}

// Players returns every seated player sorted by username.
func (s *State) Players() []Player {
	out := make([]Player, 0, len(s.players))
	for _, player := range s.players {
		out = append(out, *player)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// NodesOwnedBy returns a team's nodes sorted by id.
func (s *State) NodesOwnedBy(teamID string) []Node {
	out := make([]Node, 0)
	for _, node := range s.nodes {
		if node.TeamID == teamID {
			out = append(out, *node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EdgesOwnedBy returns a team's edges sorted by id.
func (s *State) EdgesOwnedBy(teamID string) []Edge {
	out := make([]Edge, 0)
	for _, edge := range s.edges {
		if edge.TeamID == teamID {
			out = append(out, *edge)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AnyVisible reports whether any of the team's nodes has been revealed.
func (s *State) AnyVisible(teamID string) bool {
	for _, node := range s.nodes {
		if node.TeamID == teamID && node.Visible {
			return true
		}
	}
	return false
}

// EntryPoints returns the team's nodes with no incoming edges, sorted by
// id. These are the starting points a reveal can uncover blind.
func (s *State) EntryPoints(teamID string) []Node {
	hasIncoming := make(map[string]bool)
	for _, edge := range s.edges {
		if edge.TeamID == teamID {
			hasIncoming[edge.Target] = true
		}
	}
	out := make([]Node, 0)
	for _, node := range s.nodes {
		if node.TeamID == teamID && !hasIncoming[node.ID] {
			out = append(out, *node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FrontierEdges returns the team's edges whose source node is visible and
// whose target is still hidden, sorted by id. A reveal contests one of
// these once a foothold exists.
func (s *State) FrontierEdges(teamID string) []Edge {
	out := make([]Edge, 0)
	for _, edge := range s.edges {
		if edge.TeamID != teamID {
			continue
		}
		source, ok := s.nodes[edge.Source]
		if !ok || !source.Visible {
			continue
		}
		target, ok := s.nodes[edge.Target]
		if !ok || target.Visible {
			continue
		}
		out = append(out, *edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllCoreCompromised reports whether every core node the team owns is
// compromised. A team with no core nodes cannot lose this way.
func (s *State) AllCoreCompromised(teamID string) bool {
	cores := 0
	for _, node := range s.nodes {
		if node.TeamID != teamID || !node.Core {
			continue
		}
		cores++
		if !node.Compromised {
			return false
		}
	}
	return cores > 0
}

// AddVictoryPoints credits (or debits) a team's victory points, clamped at
// zero.
func (s *State) AddVictoryPoints(teamID string, points int) error {
	team, ok := s.teams[teamID]
	if !ok {
		return fmt.Errorf("world: unknown team %q", teamID)
	}
	team.VictoryPoints += points
	if team.VictoryPoints < 0 {
		team.VictoryPoints = 0
	}
	s.dirty.Teams[teamID] = struct{}{}
	return nil
}

// AdjustBuff shifts the buff modifier of the named role on a team.
func (s *State) AdjustBuff(teamID string, role contract.TeamRole, delta int) error {
	team, ok := s.teams[teamID]
	if !ok {
		return fmt.Errorf("world: unknown team %q", teamID)
	}
	if _, ok := contract.ParseTeamRole(string(role)); !ok {
		return fmt.Errorf("world: unknown role %q", role)
	}
	mods := team.Modifiers[role]
	mods.Buff += delta
	team.Modifiers[role] = mods
	s.dirty.Teams[teamID] = struct{}{}
	return nil
}

// ResetBuff zeroes the buff modifier of the named role on a team.
func (s *State) ResetBuff(teamID string, role contract.TeamRole) error {
	team, ok := s.teams[teamID]
	if !ok {
		return fmt.Errorf("world: unknown team %q", teamID)
	}
	mods := team.Modifiers[role]
	if mods.Buff == 0 {
		return nil
	}
	mods.Buff = 0
	team.Modifiers[role] = mods
	s.dirty.Teams[teamID] = struct{}{}
	return nil
}

// AdjustNodeDefense shifts a node's defense, clamped at zero.
func (s *State) AdjustNodeDefense(nodeID string, delta int) error {
	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("world: unknown node %q", nodeID)
	}
	node.Defense += delta
	if node.Defense < 0 {
		node.Defense = 0
	}
	s.dirty.Nodes[nodeID] = struct{}{}
	return nil
}

// AdjustEdgeDefense shifts an edge's defense, clamped at zero.
func (s *State) AdjustEdgeDefense(edgeID string, delta int) error {
	edge, ok := s.edges[edgeID]
	if !ok {
		return fmt.Errorf("world: unknown edge %q", edgeID)
	}
	edge.Defense += delta
	if edge.Defense < 0 {
		edge.Defense = 0
	}
	s.dirty.Edges[edgeID] = struct{}{}
	return nil
}

// RevealNode marks a node visible to the opposing team.
func (s *State) RevealNode(nodeID string) error {
	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("world: unknown node %q", nodeID)
	}
	node.Visible = true
	s.dirty.Nodes[nodeID] = struct{}{}
	return nil
}

// CompromiseNode marks a node compromised.
func (s *State) CompromiseNode(nodeID string) error {
	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("world: unknown node %q", nodeID)
	}
	node.Compromised = true
	s.dirty.Nodes[nodeID] = struct{}{}
	return nil
}

// SecureNode clears a node's compromised flag.
func (s *State) SecureNode(nodeID string) error {
	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("world: unknown node %q", nodeID)
	}
	node.Compromised = false
	s.dirty.Nodes[nodeID] = struct{}{}
	return nil
}

// AdjustFunds shifts a player's funds, clamped at zero.
func (s *State) AdjustFunds(username string, delta int) error {
	player, ok := s.players[username]
	if !ok {
		return fmt.Errorf("world: unknown player %q", username)
	}
	player.Funds += delta
	if player.Funds < 0 {
		player.Funds = 0
	}
	s.dirty.Players[username] = struct{}{}
	return nil
}

func cloneTeam(team *Team) Team {
	cloned := *team
	cloned.Modifiers = make(map[contract.TeamRole]Modifiers, len(team.Modifiers))
	for role, mods := range team.Modifiers {
		cloned.Modifiers[role] = mods
	}
	return cloned
}
