package contract

import "fmt"

// TeamRole identifies the seat a player occupies on their team. Every action
// definition is bound to exactly one role.
type TeamRole string

const (
	RoleLeader       TeamRole = "leader"
	RoleIntelligence TeamRole = "intelligence"
	RoleMilitary     TeamRole = "military"
	RoleDiplomat     TeamRole = "diplomat"
	RoleMedia        TeamRole = "media"
)

// Roles returns every valid team role in a stable order.
func Roles() []TeamRole {
	return []TeamRole{RoleLeader, RoleIntelligence, RoleMilitary, RoleDiplomat, RoleMedia}
}

// ParseTeamRole validates a raw role string.
func ParseTeamRole(raw string) (TeamRole, bool) {
	role := TeamRole(raw)
	switch role {
	case RoleLeader, RoleIntelligence, RoleMilitary, RoleDiplomat, RoleMedia:
		return role, true
	}
	return "", false
}

// ActionType splits the catalog into offensive and defensive plays.
// StopOffenseAction only ever cancels actions of type offense.
type ActionType string

const (
	ActionOffense ActionType = "offense"
	ActionDefense ActionType = "defense"
)

// EndState is the terminal state recorded in the action log once a pending
// action leaves the queue.
type EndState string

const (
	// EndSuccess means every effect in the list resolved without failure.
	EndSuccess EndState = "success"
	// EndFail means at least one effect resolution failed its contest.
	EndFail EndState = "fail"
	// EndStopped means an opposing stop effect cancelled the action before
	// it could resolve; none of its effects ran.
	EndStopped EndState = "stopped"
)

// TargetKind names the entity class a targeted action operates on.
type TargetKind string

const (
	TargetNode   TargetKind = "node"
	TargetEdge   TargetKind = "edge"
	TargetPlayer TargetKind = "player"
)

// TargetSpec describes the target an action requires from the caller.
// MyTeam constrains whether the target must belong to the performer's own
// team (defend, secure, distribute) or the opposing one (attack).
type TargetSpec struct {
	Target TargetKind `json:"target" jsonschema:"title=Target kind,description=Entity class the caller must supply: node or edge or player."`
	MyTeam bool       `json:"myTeam" jsonschema:"description=Whether the target belongs to the performer's own team."`
}

func (t TargetSpec) validate() error {
	switch t.Target {
	case TargetNode, TargetEdge, TargetPlayer:
		return nil
	}
	return fmt.Errorf("unknown target kind %q", t.Target)
}
