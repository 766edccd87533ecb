package contract

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestUnmarshalEffectDecodesEnvelope(t *testing.T) {
	data := []byte(`{"kind":"buff-debuff","teamRole":"military","buff":2,"myTeam":false}`)
	effect, err := UnmarshalEffect(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buff, ok := effect.(BuffDebuff)
	if !ok {
		t.Fatalf("expected BuffDebuff, got %T", effect)
	}
	if buff.Role != RoleMilitary || buff.Buff != 2 || buff.MyTeam {
		t.Fatalf("unexpected decode: %+v", buff)
	}
}

func TestUnmarshalEffectRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalEffect([]byte(`{"kind":"launch-missiles"}`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "launch-missiles") {
		t.Fatalf("error should name the offending kind, got %v", err)
	}
}

func TestEffectListRoundTripPreservesOrder(t *testing.T) {
	list := EffectList{
		AddVictoryPoints{Points: 3, MyTeam: true},
		RevealNode{},
		DistributeFunds{Amount: 25},
	}
	data, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded EffectList
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 effects, got %d", len(decoded))
	}
	if _, ok := decoded[0].(AddVictoryPoints); !ok {
		t.Fatalf("expected AddVictoryPoints first, got %T", decoded[0])
	}
	if _, ok := decoded[1].(RevealNode); !ok {
		t.Fatalf("expected RevealNode second, got %T", decoded[1])
	}
	funds, ok := decoded[2].(DistributeFunds)
	if !ok {
		t.Fatalf("expected DistributeFunds third, got %T", decoded[2])
	}
	if funds.Amount != 25 {
		t.Fatalf("expected amount 25, got %d", funds.Amount)
	}
}

func TestRequiredTargetCoversEveryKind(t *testing.T) {
	cases := []struct {
		effect   Effect
		target   TargetKind
		required bool
	}{
		{AddVictoryPoints{}, "", false},
		{BuffDebuff{}, "", false},
		{BuffDebuffTargeted{}, TargetPlayer, true},
		{StopOffenseAction{}, "", false},
		{RevealNode{}, "", false},
		{AttackNode{}, TargetNode, true},
		{DefendNode{}, TargetNode, true},
		{SecureNode{}, TargetNode, true},
		{AttackEdge{}, TargetEdge, true},
		{DefendEdge{}, TargetEdge, true},
		{DistributeFunds{}, TargetPlayer, true},
	}
	for _, tc := range cases {
		target, required := RequiredTarget(tc.effect)
		if required != tc.required || target != tc.target {
			t.Fatalf("%s: got (%q, %v), want (%q, %v)", tc.effect.Kind(), target, required, tc.target, tc.required)
		}
	}
}

func TestRefreshesBuffIgnoresTargetedBuffs(t *testing.T) {
	withBuff := EffectList{AddVictoryPoints{Points: 1}, BuffDebuff{Role: RoleMedia, Buff: 1, MyTeam: true}}
	if !withBuff.RefreshesBuff() {
		t.Fatal("list with BuffDebuff should refresh")
	}
	targetedOnly := EffectList{BuffDebuffTargeted{Buff: 2}}
	if targetedOnly.RefreshesBuff() {
		t.Fatal("targeted buff refreshes the target, not the performer")
	}
	if (EffectList{RevealNode{}}).RefreshesBuff() {
		t.Fatal("reveal list should not refresh")
	}
}
