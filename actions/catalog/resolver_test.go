package catalog

import (
	"path/filepath"
	"testing"

	"netwar/server/actions/contract"
)

func shippedCatalogPath() string {
	return filepath.Join("..", "..", "config", "actions", "definitions.json")
}

func TestLoadShippedCatalog(t *testing.T) {
	resolver, err := Load(shippedCatalogPath())
	if err != nil {
		t.Fatalf("failed to load shipped catalog: %v", err)
	}

	defs := resolver.Definitions()
	if len(defs) == 0 {
		t.Fatal("shipped catalog is empty")
	}

	covered := make(map[contract.Kind]bool)
	for _, def := range defs {
		for _, effect := range def.Effects {
			covered[effect.Kind()] = true
		}
	}
	kinds := []contract.Kind{
		contract.KindAddVictoryPoints,
		contract.KindBuffDebuff,
		contract.KindBuffDebuffTargeted,
		contract.KindStopOffenseAction,
		contract.KindRevealNode,
		contract.KindAttackNode,
		contract.KindDefendNode,
		contract.KindSecureNode,
		contract.KindAttackEdge,
		contract.KindDefendEdge,
		contract.KindDistributeFunds,
	}
	for _, kind := range kinds {
		if !covered[kind] {
			t.Fatalf("shipped catalog never uses effect kind %q", kind)
		}
	}
}

func TestResolverOverlayOverridesEarlierSources(t *testing.T) {
	base := MemorySource{Name: "base", Data: []byte(`[
		{"id":"recon-probe","name":"Recon Probe","duration":15,"teamRole":"intelligence","type":"offense","successRate":70,"cost":8,"effects":[{"kind":"reveal-node"}]}
	]`)}
	overlay := MemorySource{Name: "overlay", Data: []byte(`[
		{"id":"recon-probe","name":"Recon Probe","duration":5,"teamRole":"intelligence","type":"offense","successRate":70,"cost":1,"effects":[{"kind":"reveal-node"}]}
	]`)}

	resolver, err := NewResolver(base, overlay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def, ok := resolver.Resolve("recon-probe")
	if !ok {
		t.Fatal("expected recon-probe to resolve")
	}
	if def.DurationMinutes != 5 || def.Cost != 1 {
		t.Fatalf("overlay should win, got duration=%d cost=%d", def.DurationMinutes, def.Cost)
	}
}

func TestResolverRejectsInvalidDefinition(t *testing.T) {
	src := MemorySource{Name: "bad", Data: []byte(`[
		{"id":"broken","name":"Broken","duration":10,"teamRole":"military","type":"offense","successRate":50,"cost":5,"effects":[{"kind":"attack-node"}]}
	]`)}
	if _, err := NewResolver(src); err == nil {
		t.Fatal("attack-node without a target spec should be rejected")
	}
}

func TestResolverRejectsUnknownEffectKind(t *testing.T) {
	src := MemorySource{Name: "bad", Data: []byte(`[
		{"id":"broken","name":"Broken","duration":10,"teamRole":"military","type":"offense","successRate":50,"cost":5,"effects":[{"kind":"orbital-strike"}]}
	]`)}
	if _, err := NewResolver(src); err == nil {
		t.Fatal("unknown effect kind should be rejected at load time")
	}
}

func TestByRoleSortsListings(t *testing.T) {
	resolver, err := Load(shippedCatalogPath())
	if err != nil {
		t.Fatalf("failed to load shipped catalog: %v", err)
	}
	military := resolver.ByRole(contract.RoleMilitary)
	if len(military) < 2 {
		t.Fatalf("expected several military actions, got %d", len(military))
	}
	for i := 1; i < len(military); i++ {
		if military[i-1].ID > military[i].ID {
			t.Fatalf("listing not sorted: %s before %s", military[i-1].ID, military[i].ID)
		}
	}
	for _, def := range military {
		if def.Role != contract.RoleMilitary {
			t.Fatalf("non-military action %q in military listing", def.ID)
		}
	}
}
