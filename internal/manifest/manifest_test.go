package manifest

import (
	"strings"
	"testing"
)

func TestParseValidManifest(t *testing.T) {
	data := []byte(`
tool.scarb.allow-prebuilt-plugins:
  - my_macro
plugins:
  - name: my_macro
    version: "1.0.0"
    source_fingerprint: abc123
    native-plugin:
      tool.native.pkg:
        edition: "2024"
`)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(m.Plugins) != 1 {
		t.Fatalf("got %d plugins, want 1", len(m.Plugins))
	}
	p := m.Plugins[0]
	if p.Name != "my_macro" || p.Version != "1.0.0" {
		t.Errorf("plugin = %+v, want name=my_macro version=1.0.0", p)
	}
	if p.NativePlugin == nil {
		t.Fatal("NativePlugin = nil, want populated section")
	}
	if !m.AllowsPrebuilt("my_macro") {
		t.Error("AllowsPrebuilt(my_macro) = false, want true")
	}
	if m.AllowsPrebuilt("other_macro") {
		t.Error("AllowsPrebuilt(other_macro) = true, want false")
	}
}

func TestParseRejectsNativePluginMissingNameOrVersion(t *testing.T) {
	data := []byte(`
plugins:
  - source_fingerprint: abc123
    native-plugin:
      tool.native.pkg: {}
`)
	_, err := Parse(data)
	if err == nil {
		t.Fatal("Parse() succeeded on a native-plugin package missing name/version, want error")
	}
}

func TestParseIgnoresPlainCairoPackages(t *testing.T) {
	data := []byte(`
plugins:
  - source_fingerprint: abc123
`)
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(m.Plugins) != 1 || m.Plugins[0].NativePlugin != nil {
		t.Errorf("plugins = %+v, want one plain package with nil NativePlugin", m.Plugins)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("not: [valid: yaml"))
	if err == nil {
		t.Fatal("Parse() succeeded on malformed YAML, want error")
	}
}

func TestAllowsPrebuiltOnlyConsultsTopLevelList(t *testing.T) {
	m := &TopLevelManifest{AllowPrebuiltPlugins: []string{"a", "b"}}
	if !m.AllowsPrebuilt("a") || !m.AllowsPrebuilt("b") {
		t.Error("AllowsPrebuilt() missing an allow-listed name")
	}
	if m.AllowsPrebuilt("c") {
		t.Error("AllowsPrebuilt(c) = true, want false")
	}
}

func TestSynthesizePinsABIVersionAndCarriesExtra(t *testing.T) {
	pkg := PluginPackage{
		Name:    "my_macro",
		Version: "2.0.0",
		NativePlugin: &NativePluginSection{
			ToolNativePkg: map[string]string{"edition": "2024"},
		},
	}

	native := Synthesize(pkg, 3)
	if native.Name != "my_macro" || native.Version != "2.0.0" {
		t.Errorf("native = %+v, want name/version carried over", native)
	}
	if native.ABIVersion != 3 {
		t.Errorf("ABIVersion = %d, want 3", native.ABIVersion)
	}
	if native.CrateType != "dylib" {
		t.Errorf("CrateType = %q, want dylib", native.CrateType)
	}
	if native.Extra["edition"] != "2024" {
		t.Errorf("Extra = %v, want edition=2024 carried through", native.Extra)
	}
}

func TestMarshalIncludesGeneratedHeader(t *testing.T) {
	native := Synthesize(PluginPackage{Name: "m", Version: "1.0.0"}, 1)
	out, err := native.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.HasPrefix(string(out), "# generated by scarb-macro-host") {
		t.Errorf("Marshal() output missing generated-file header: %q", out)
	}
	if !strings.Contains(string(out), "name: m") {
		t.Errorf("Marshal() output missing name field: %q", out)
	}
}
