package diagnostics

import (
	"sync"
	"testing"

	"github.com/software-mansion/scarb-macro-host/internal/cairoast"
)

func TestEmitPreservesOrder(t *testing.T) {
	sink := NewSink()
	sink.Emit(Diagnostic{Severity: SeverityWarning, Message: "first"})
	sink.Emit(Diagnostic{Severity: SeverityError, Message: "second"})

	got := sink.Diagnostics()
	if len(got) != 2 || got[0].Message != "first" || got[1].Message != "second" {
		t.Fatalf("Diagnostics() = %+v, want emission order preserved", got)
	}
}

func TestHasErrors(t *testing.T) {
	sink := NewSink()
	if sink.HasErrors() {
		t.Fatal("HasErrors() = true on an empty sink")
	}

	sink.Emit(Diagnostic{Severity: SeverityWarning, Message: "w"})
	if sink.HasErrors() {
		t.Fatal("HasErrors() = true after only a warning")
	}

	sink.Emit(Diagnostic{Severity: SeverityError, Message: "e"})
	if !sink.HasErrors() {
		t.Fatal("HasErrors() = false after an error diagnostic")
	}
}

func TestAuxDataForSortsByInvocationIDRegardlessOfEmitOrder(t *testing.T) {
	sink := NewSink()
	sink.EmitAux(AuxEntry{PluginID: "p", MacroName: "m", InvocationID: 3, Data: []byte("c")})
	sink.EmitAux(AuxEntry{PluginID: "p", MacroName: "m", InvocationID: 1, Data: []byte("a")})
	sink.EmitAux(AuxEntry{PluginID: "p", MacroName: "m", InvocationID: 2, Data: []byte("b")})

	got := sink.AuxDataFor("p")
	if len(got) != 3 {
		t.Fatalf("AuxDataFor() returned %d entries, want 3", len(got))
	}
	for i, want := range []byte("abc") {
		if got[i].Data[0] != want {
			t.Errorf("entry %d = %q, want first byte %q", i, got[i].Data, want)
		}
	}
}

func TestAuxDataForIsolatedPerPlugin(t *testing.T) {
	sink := NewSink()
	sink.EmitAux(AuxEntry{PluginID: "p1", InvocationID: 1, Data: []byte("p1-data")})
	sink.EmitAux(AuxEntry{PluginID: "p2", InvocationID: 1, Data: []byte("p2-data")})

	p1 := sink.AuxDataFor("p1")
	if len(p1) != 1 || string(p1[0].Data) != "p1-data" {
		t.Errorf("AuxDataFor(p1) = %+v, want a single p1-data entry", p1)
	}

	unknown := sink.AuxDataFor("nonexistent")
	if len(unknown) != 0 {
		t.Errorf("AuxDataFor(nonexistent) = %+v, want empty", unknown)
	}
}

func TestConcurrentEmitIsSafe(t *testing.T) {
	sink := NewSink()
	var wg sync.WaitGroup
	const n = 100

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink.Emit(Diagnostic{Severity: SeverityNote, Message: "concurrent", Span: &cairoast.Span{Start: uint32(i)}})
			sink.EmitAux(AuxEntry{PluginID: "p", InvocationID: uint64(i), Data: []byte{byte(i)}})
		}(i)
	}
	wg.Wait()

	if len(sink.Diagnostics()) != n {
		t.Errorf("Diagnostics() has %d entries, want %d", len(sink.Diagnostics()), n)
	}
	if len(sink.AuxDataFor("p")) != n {
		t.Errorf("AuxDataFor(p) has %d entries, want %d", len(sink.AuxDataFor("p")), n)
	}
}

func TestPluginsListsEveryAuxDataContributor(t *testing.T) {
	sink := NewSink()
	sink.EmitAux(AuxEntry{PluginID: "a", InvocationID: 1})
	sink.EmitAux(AuxEntry{PluginID: "b", InvocationID: 1})

	ids := sink.Plugins()
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] || len(ids) != 2 {
		t.Errorf("Plugins() = %v, want exactly [a b] in any order", ids)
	}
}
