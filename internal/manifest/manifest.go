// Package manifest is the narrowest possible stand-in for Scarb's external
// package-resolution subsystem (out of scope per spec.md §1: "the host
// receives the resolved graph and the list of plugin packages"). It models
// only the fields C3/C4 actually read: the native-plugin manifest section
// and the top-level allow-prebuilt-plugins option (spec.md §6), parsed
// with gopkg.in/yaml.v3 the way the teacher's sync.TemplateParser parses
// its own YAML manifests.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/software-mansion/scarb-macro-host/internal/apperr"
)

// PluginPackage is the host's view of a package declared with a native
// plugin target (spec.md §3). SourceFingerprint stands in for the
// source-directory content hash package resolution would otherwise supply.
type PluginPackage struct {
	Name              string `yaml:"name"`
	Version           string `yaml:"version"`
	SourceFingerprint string `yaml:"source_fingerprint"`

	// NativePlugin carries the manifest's native-plugin section. A
	// package with a nil NativePlugin is not a plugin package at all.
	NativePlugin *NativePluginSection `yaml:"native-plugin,omitempty"`
}

// NativePluginSection is the manifest section that marks a package as an
// "exclusive native target" (spec.md §3, §6): it may not coexist with
// Cairo dependencies or compiler options.
type NativePluginSection struct {
	// ToolNativePkg passes opaque key/value pairs through to the
	// synthesised native build manifest (spec.md §6).
	ToolNativePkg map[string]string `yaml:"tool.native.pkg,omitempty"`
}

// TopLevelManifest is the subset of the top-level package manifest C3/C4
// consult: the allow-prebuilt-plugins opt-in (spec.md §6, "only the
// top-level package's list is consulted; lists in dependencies are
// ignored") and the set of resolved plugin packages for this compilation.
type TopLevelManifest struct {
	AllowPrebuiltPlugins []string        `yaml:"tool.scarb.allow-prebuilt-plugins,omitempty"`
	Plugins              []PluginPackage `yaml:"plugins,omitempty"`
}

// Parse parses raw manifest YAML and checks the one native-plugin
// precondition this narrowed model can actually see: a declared
// NativePlugin section requires both name and version (spec.md §3, §7
// KindConfig). It does not detect the full "exclusive native target"
// conflict (a native-plugin package also carrying Cairo dependencies or
// compiler options) — this stand-in has no field for those other target
// kinds to begin with, since package resolution itself is out of scope
// (spec.md §1).
func Parse(data []byte) (*TopLevelManifest, error) {
	var m TopLevelManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apperr.Config("failed to parse manifest", err)
	}
	for _, p := range m.Plugins {
		if p.NativePlugin == nil {
			continue
		}
		if p.Name == "" || p.Version == "" {
			return nil, apperr.Config("plugin package missing name/version", nil)
		}
	}
	return &m, nil
}

// ParseFile reads and parses a manifest file from disk.
func ParseFile(path string) (*TopLevelManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config(fmt.Sprintf("failed to read manifest %s", path), err)
	}
	return Parse(data)
}

// AllowsPrebuilt reports whether the top-level manifest allow-lists
// pluginName for prebuilt-artifact acceptance (spec.md §4.3, §6).
func (m *TopLevelManifest) AllowsPrebuilt(pluginName string) bool {
	for _, name := range m.AllowPrebuiltPlugins {
		if name == pluginName {
			return true
		}
	}
	return false
}

// NativeManifest is the synthesised native build manifest C3 generates
// from a PluginPackage (spec.md §4.3 step 1, §6). It is serialized to YAML
// with a generated-file header comment, mirroring the teacher's generated
// template-manifest convention in sync.TemplateParser.
type NativeManifest struct {
	Name       string            `yaml:"name"`
	Version    string            `yaml:"version"`
	CrateType  string            `yaml:"crate-type"`
	ABIVersion uint32            `yaml:"abi-client-version"`
	Extra      map[string]string `yaml:"tool.native.pkg,omitempty"`
}

// Synthesize builds the native manifest for pkg, pinning the stable-ABI
// client dependency to abiVersion (spec.md §4.3 step 1: "dependency on the
// companion stable-ABI client library pinned to the host's ABI_VERSION").
func Synthesize(pkg PluginPackage, abiVersion uint32) NativeManifest {
	var extra map[string]string
	if pkg.NativePlugin != nil {
		extra = pkg.NativePlugin.ToolNativePkg
	}
	return NativeManifest{
		Name:       pkg.Name,
		Version:    pkg.Version,
		CrateType:  "dylib",
		ABIVersion: abiVersion,
		Extra:      extra,
	}
}

// Marshal renders the native manifest as YAML with the generated-file
// header spec.md §6 requires ("header comment marks it as generated").
func (m NativeManifest) Marshal() ([]byte, error) {
	body, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal native manifest: %w", err)
	}
	header := []byte("# generated by scarb-macro-host; do not edit by hand\n")
	return append(header, body...), nil
}
