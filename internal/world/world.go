// Package world holds the network-graph battlefield: two teams, their node
// and edge graphs, and the players seated on each team. All mutation goes
// through the State aggregate so the resolution engine has a single code
// path for every write.
package world

import "netwar/server/actions/contract"

// Modifiers is the per-role {offense, defense, buff} triple used by
// success-rate calculations. Buff decays after each resolved action unless
// the action refreshes it.
type Modifiers struct {
	Offense int `json:"offense"`
	Defense int `json:"defense"`
	Buff    int `json:"buff"`
}

// Team is one of the exactly two sides in a match.
type Team struct {
	ID            string                          `json:"id"`
	Name          string                          `json:"name"`
	VictoryPoints int                             `json:"victoryPoints"`
	Modifiers     map[contract.TeamRole]Modifiers `json:"modifiers"`
}

// NewModifiers returns a zeroed modifier map covering every role.
func NewModifiers() map[contract.TeamRole]Modifiers {
	mods := make(map[contract.TeamRole]Modifiers, len(contract.Roles()))
	for _, role := range contract.Roles() {
		mods[role] = Modifiers{}
	}
	return mods
}

// Node is a vertex in a team's network graph. Core nodes decide the match:
// a team loses once every core node it owns is compromised.
type Node struct {
	ID          string `json:"id"`
	TeamID      string `json:"teamId"`
	Defense     int    `json:"defense"`
	Visible     bool   `json:"visible"`
	Compromised bool   `json:"compromised"`
	Core        bool   `json:"isCoreNode"`
}

// Edge is a directed arc between two nodes of the same team's graph. Its
// defense gates reveal contests against the hidden target node.
type Edge struct {
	ID      string `json:"id"`
	TeamID  string `json:"teamId"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Defense int    `json:"defense"`
}

// Player is a seated participant. Usernames are unique across the match.
type Player struct {
	Username string            `json:"username"`
	TeamID   string            `json:"teamId"`
	Role     contract.TeamRole `json:"teamRole"`
	Funds    int               `json:"funds"`
}
