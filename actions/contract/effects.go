package contract

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates effect variants on the wire and in the catalog.
type Kind string

const (
	KindAddVictoryPoints   Kind = "add-victory-points"
	KindBuffDebuff         Kind = "buff-debuff"
	KindBuffDebuffTargeted Kind = "buff-debuff-targeted"
	KindStopOffenseAction  Kind = "stop-offense-action"
	KindRevealNode         Kind = "reveal-node"
	KindAttackNode         Kind = "attack-node"
	KindDefendNode         Kind = "defend-node"
	KindSecureNode         Kind = "secure-node"
	KindAttackEdge         Kind = "attack-edge"
	KindDefendEdge         Kind = "defend-edge"
	KindDistributeFunds    Kind = "distribute-funds"
)

// Effect is the closed union of state transitions an action can perform.
// The unexported marker keeps the set closed to this package so dispatch
// sites can type-switch exhaustively.
type Effect interface {
	Kind() Kind
	effect()
}

// AddVictoryPoints credits points to the performer's team or the opponent.
type AddVictoryPoints struct {
	Points int  `json:"points"`
	MyTeam bool `json:"myTeam"`
}

// BuffDebuff shifts the buff modifier of a named role on either team.
type BuffDebuff struct {
	Role   TeamRole `json:"teamRole"`
	Buff   int      `json:"buff"`
	MyTeam bool     `json:"myTeam"`
}

// BuffDebuffTargeted shifts the buff modifier of the target player's role on
// the performer's own team.
type BuffDebuffTargeted struct {
	Buff int `json:"buff"`
}

// StopOffenseAction cancels the first queued opposing offense action
// performed by the named role.
type StopOffenseAction struct {
	Role TeamRole `json:"teamRole"`
}

// RevealNode uncovers part of the opposing graph: an entry point when
// nothing is visible yet, otherwise a contested frontier edge's target.
type RevealNode struct{}

// AttackNode contests the caller-supplied target node's defense; success
// marks it compromised.
type AttackNode struct{}

// DefendNode raises the target node's defense by the defense rate.
type DefendNode struct{}

// SecureNode clears the target node's compromised flag.
type SecureNode struct{}

// AttackEdge lowers the target edge's defense by the defense rate.
type AttackEdge struct{}

// DefendEdge raises the target edge's defense by the defense rate.
type DefendEdge struct{}

// DistributeFunds credits funds to the target player.
type DistributeFunds struct {
	Amount int `json:"amount"`
}

func (AddVictoryPoints) Kind() Kind   { return KindAddVictoryPoints }
func (BuffDebuff) Kind() Kind         { return KindBuffDebuff }
func (BuffDebuffTargeted) Kind() Kind { return KindBuffDebuffTargeted }
func (StopOffenseAction) Kind() Kind  { return KindStopOffenseAction }
func (RevealNode) Kind() Kind         { return KindRevealNode }
func (AttackNode) Kind() Kind         { return KindAttackNode }
func (DefendNode) Kind() Kind         { return KindDefendNode }
func (SecureNode) Kind() Kind         { return KindSecureNode }
func (AttackEdge) Kind() Kind         { return KindAttackEdge }
func (DefendEdge) Kind() Kind         { return KindDefendEdge }
func (DistributeFunds) Kind() Kind    { return KindDistributeFunds }

func (AddVictoryPoints) effect()   {}
func (BuffDebuff) effect()         {}
func (BuffDebuffTargeted) effect() {}
func (StopOffenseAction) effect()  {}
func (RevealNode) effect()         {}
func (AttackNode) effect()         {}
func (SecureNode) effect()         {}
func (DefendNode) effect()         {}
func (AttackEdge) effect()         {}
func (DefendEdge) effect()         {}
func (DistributeFunds) effect()    {}

// RequiredTarget reports the target class an effect needs from the caller,
// if any. RevealNode picks its own target and StopOffenseAction scans the
// queue, so neither requires one.
func RequiredTarget(e Effect) (TargetKind, bool) {
	switch e.(type) {
	case AttackNode, DefendNode, SecureNode:
		return TargetNode, true
	case AttackEdge, DefendEdge:
		return TargetEdge, true
	case BuffDebuffTargeted, DistributeFunds:
		return TargetPlayer, true
	case AddVictoryPoints, BuffDebuff, StopOffenseAction, RevealNode:
		return "", false
	}
	return "", false
}

// MarshalEffect wraps an effect variant in its wire envelope.
func MarshalEffect(e Effect) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("contract: nil effect")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	kind, err := json.Marshal(e.Kind())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}

// UnmarshalEffect decodes a wire envelope into its effect variant. Unknown
// kinds are rejected so catalog typos surface at load time instead of as a
// silent no-op during resolution.
func UnmarshalEffect(data []byte) (Effect, error) {
	var envelope struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("contract: decode effect envelope: %w", err)
	}
	switch envelope.Kind {
	case KindAddVictoryPoints:
		var e AddVictoryPoints
		return e, json.Unmarshal(data, &e)
	case KindBuffDebuff:
		var e BuffDebuff
		return e, json.Unmarshal(data, &e)
	case KindBuffDebuffTargeted:
		var e BuffDebuffTargeted
		return e, json.Unmarshal(data, &e)
	case KindStopOffenseAction:
		var e StopOffenseAction
		return e, json.Unmarshal(data, &e)
	case KindRevealNode:
		return RevealNode{}, nil
	case KindAttackNode:
		return AttackNode{}, nil
	case KindDefendNode:
		return DefendNode{}, nil
	case KindSecureNode:
		return SecureNode{}, nil
	case KindAttackEdge:
		return AttackEdge{}, nil
	case KindDefendEdge:
		return DefendEdge{}, nil
	case KindDistributeFunds:
		var e DistributeFunds
		return e, json.Unmarshal(data, &e)
	}
	return nil, fmt.Errorf("contract: unknown effect kind %q", envelope.Kind)
}

// EffectList is an ordered effect sequence with envelope-aware JSON codecs.
// Order matters: the resolver applies effects in list position order.
type EffectList []Effect

// MarshalJSON encodes each effect with its kind envelope.
func (l EffectList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(l))
	for i, effect := range l {
		data, err := MarshalEffect(effect)
		if err != nil {
			return nil, fmt.Errorf("contract: effect %d: %w", i, err)
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes an envelope array back into variants.
func (l *EffectList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	list := make(EffectList, 0, len(raw))
	for i, item := range raw {
		effect, err := UnmarshalEffect(item)
		if err != nil {
			return fmt.Errorf("contract: effect %d: %w", i, err)
		}
		list = append(list, effect)
	}
	*l = list
	return nil
}

// RefreshesBuff reports whether the list carries a BuffDebuff effect. The
// resolver decays the performer's own buff after any action that does not;
// targeted buffs refresh the target's role, not the performer's, so they do
// not count.
func (l EffectList) RefreshesBuff() bool {
	for _, effect := range l {
		if _, ok := effect.(BuffDebuff); ok {
			return true
		}
	}
	return false
}
