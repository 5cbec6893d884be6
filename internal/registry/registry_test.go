package registry

import (
	"testing"

	"github.com/software-mansion/scarb-macro-host/internal/abi"
)

func TestBuilderDeclareAndLookup(t *testing.T) {
	b := NewBuilder()
	b.Declare(abi.KindDerive, "Serde", "plugin_a", 0)
	b.Declare(abi.KindBang, "selector", "plugin_b", 1)

	reg, collisions := b.Build()
	if len(collisions) != 0 {
		t.Fatalf("Build() collisions = %v, want none", collisions)
	}

	decl, ok := reg.Lookup(abi.KindDerive, "Serde")
	if !ok {
		t.Fatal("Lookup(KindDerive, Serde) not found")
	}
	if decl.PluginID != "plugin_a" || decl.EntryIndex != 0 {
		t.Errorf("decl = %+v, want PluginID=plugin_a EntryIndex=0", decl)
	}

	if _, ok := reg.Lookup(abi.KindAttribute, "Serde"); ok {
		t.Error("Lookup(KindAttribute, Serde) found, want not found — same name, different kind")
	}
}

func TestBuilderDetectsCollision(t *testing.T) {
	b := NewBuilder()
	b.Declare(abi.KindDerive, "Serde", "plugin_a", 0)
	b.Declare(abi.KindDerive, "Serde", "plugin_b", 0)
	b.Declare(abi.KindBang, "selector", "plugin_c", 0)

	_, collisions := b.Build()
	if len(collisions) != 1 {
		t.Fatalf("Build() collisions = %d, want exactly 1", len(collisions))
	}
}

func TestBuilderReportsEveryCollisionAtOnce(t *testing.T) {
	b := NewBuilder()
	b.Declare(abi.KindDerive, "A", "plugin_1", 0)
	b.Declare(abi.KindDerive, "A", "plugin_2", 0) // collision 1
	b.Declare(abi.KindBang, "b", "plugin_1", 1)
	b.Declare(abi.KindBang, "b", "plugin_3", 0) // collision 2

	_, collisions := b.Build()
	if len(collisions) != 2 {
		t.Fatalf("Build() collisions = %d, want 2", len(collisions))
	}
}

func TestRegistryNamesSortedAndKindScoped(t *testing.T) {
	b := NewBuilder()
	b.Declare(abi.KindDerive, "Zeta", "p", 0)
	b.Declare(abi.KindDerive, "Alpha", "p", 1)
	b.Declare(abi.KindBang, "not_a_derive", "p", 2)

	reg, _ := b.Build()
	got := reg.Names(abi.KindDerive)
	want := []string{"Alpha", "Zeta"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistryPluginsDeduplicatedAndSorted(t *testing.T) {
	b := NewBuilder()
	b.Declare(abi.KindDerive, "A", "zeta_plugin", 0)
	b.Declare(abi.KindBang, "b", "zeta_plugin", 0)
	b.Declare(abi.KindAttribute, "c", "alpha_plugin", 0)

	reg, _ := b.Build()
	got := reg.Plugins()
	want := []string{"alpha_plugin", "zeta_plugin"}
	if len(got) != len(want) {
		t.Fatalf("Plugins() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Plugins()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	b := NewBuilder()
	reg, _ := b.Build()
	if _, ok := reg.Lookup(abi.KindBang, "nonexistent"); ok {
		t.Error("Lookup() on empty registry found an entry, want not found")
	}
}
