// Package diagnostics implements the diagnostic/auxdata sink (C8): a
// thread-safe accumulator for plugin diagnostics (remapped to Cairo source
// coordinates) and opaque aux-data blobs, handed to the post-processor at
// compilation end (spec.md §4.8). The mutex-guarded-map shape is adapted
// from the teacher's EventBus/GlobalPluginRegistry pattern
// (api/internal/plugins/event_bus.go, registry.go).
package diagnostics

import (
	"sort"
	"sync"

	"github.com/software-mansion/scarb-macro-host/internal/cairoast"
)

// Severity mirrors spec.md §3's Diagnostic severities.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}

// Diagnostic is a plugin-emitted message already remapped from
// token-stream span coordinates to Cairo source coordinates (spec.md §4.8).
type Diagnostic struct {
	Severity Severity
	Message  string
	Span     *cairoast.Span // nil when the plugin emitted no span
	Plugin   string
	Macro    string
}

// AuxEntry is one opaque aux-data blob emitted by a single invocation,
// keyed for later ordered replay by the post-processor.
type AuxEntry struct {
	PluginID     string
	MacroName    string
	InvocationID uint64
	Data         []byte
}

// Sink accumulates diagnostics and aux-data across one compilation. All
// methods are safe for concurrent use, since multiple plugin invocations
// may run concurrently across different compilation units while this sink
// is shared (spec.md §5).
type Sink struct {
	mu          sync.Mutex
	diagnostics []Diagnostic
	aux         map[string][]AuxEntry // keyed by PluginID
}

// NewSink creates an empty Sink.
func NewSink() *Sink {
	return &Sink{aux: make(map[string][]AuxEntry)}
}

// Emit records a diagnostic.
func (s *Sink) Emit(d Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = append(s.diagnostics, d)
}

// EmitAux records an aux-data blob, keyed by (plugin_id, invocation_id) as
// spec.md §4.8 requires.
func (s *Sink) EmitAux(entry AuxEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aux[entry.PluginID] = append(s.aux[entry.PluginID], entry)
}

// Diagnostics returns a snapshot of every diagnostic emitted so far, in
// emission order.
func (s *Sink) Diagnostics() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Diagnostic, len(s.diagnostics))
	copy(out, s.diagnostics)
	return out
}

// HasErrors reports whether any SeverityError diagnostic was emitted.
func (s *Sink) HasErrors() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// AuxDataFor returns one plugin's accumulated aux-data blobs sorted by
// invocation ID, satisfying spec.md §8 property 5 ("monotonically
// increasing invocation-id order") regardless of the concurrent order in
// which EmitAux was actually called.
func (s *Sink) AuxDataFor(pluginID string) []AuxEntry {
	s.mu.Lock()
	entries := append([]AuxEntry(nil), s.aux[pluginID]...)
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].InvocationID < entries[j].InvocationID })
	return entries
}

// Plugins returns the set of plugin IDs that have recorded aux-data, in no
// particular order (spec.md §4.7: "the order among different plugins is
// unspecified").
func (s *Sink) Plugins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.aux))
	for id := range s.aux {
		ids = append(ids, id)
	}
	return ids
}
