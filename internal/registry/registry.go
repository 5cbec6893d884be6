// Package registry implements the expansion registry (C4, spec.md §4.4): a
// frozen, per-compilation-unit catalogue mapping (kind, name) to the
// plugin that claims it. The mutex-guarded-map-with-freeze shape is
// adapted from the teacher's GlobalPluginRegistry
// (api/internal/plugins/registry.go), narrowed from a live, mutable
// runtime registry to a build-then-freeze one, since spec.md §4.4 requires
// the registry to become read-only before the dispatcher begins.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/software-mansion/scarb-macro-host/internal/abi"
	"github.com/software-mansion/scarb-macro-host/internal/apperr"
	"github.com/software-mansion/scarb-macro-host/internal/logger"
)

// key is the registry's map key: a macro kind paired with its declared
// name, unique within a compilation unit (spec.md §3 MacroDecl).
type key struct {
	Kind abi.Kind
	Name string
}

// MacroDecl is the registry's value type (spec.md §3): which plugin claims
// this (kind, name), and at which vtable entry index.
type MacroDecl struct {
	Kind       abi.Kind
	Name       string
	PluginID   string
	EntryIndex int
}

// Registry is the frozen (kind, name) -> MacroDecl catalogue for one
// compilation unit. Use Builder to construct one; Registry itself exposes
// only read-only lookups.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]MacroDecl
	frozen  bool
}

// Builder accumulates MacroDecls from each loaded plugin's list_expansions
// result, detecting collisions, then produces a frozen Registry.
type Builder struct {
	entries    map[key]MacroDecl
	collisions []error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[key]MacroDecl)}
}

// Declare records one plugin's claim over (kind, name). A second Declare
// for the same (kind, name) by a different plugin is recorded as a
// collision (spec.md §4.4: "duplicate (kind, name) across two plugins is
// an error reported at registry-construction time, one diagnostic per
// collision") rather than failing immediately, so every collision in a
// compilation unit is surfaced at once.
func (b *Builder) Declare(kind abi.Kind, name, pluginID string, entryIndex int) {
	k := key{Kind: kind, Name: name}
	if existing, ok := b.entries[k]; ok {
		b.collisions = append(b.collisions, apperr.Config(
			fmt.Sprintf("macro %q (%s) declared by both %q and %q", name, kind, existing.PluginID, pluginID), nil))
		return
	}
	b.entries[k] = MacroDecl{Kind: kind, Name: name, PluginID: pluginID, EntryIndex: entryIndex}
}

// Build freezes the accumulated declarations into a Registry. It returns
// every collision recorded by Declare (spec.md §8 property 6: "exactly one
// collision diagnostic at registry construction and aborts compilation");
// a non-empty error slice means the Registry must not be used for
// dispatch.
func (b *Builder) Build() (*Registry, []error) {
	r := &Registry{entries: b.entries, frozen: true}
	if len(b.collisions) > 0 {
		logger.Registry().Error().Int("count", len(b.collisions)).Msg("macro name collisions detected, registry invalid")
	}
	return r, b.collisions
}

// Lookup returns the MacroDecl claiming (kind, name), if any.
func (r *Registry) Lookup(kind abi.Kind, name string) (MacroDecl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[key{Kind: kind, Name: name}]
	return d, ok
}

// Names returns every declared macro name of the given kind, sorted for
// deterministic iteration (spec.md §5 ordering guarantees).
func (r *Registry) Names(kind abi.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0)
	for k := range r.entries {
		if k.Kind == kind {
			names = append(names, k.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Plugins returns the distinct set of plugin IDs with at least one
// declaration in this Registry.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, d := range r.entries {
		seen[d.PluginID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
