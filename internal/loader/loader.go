// Package loader implements the plugin library loader (C2): opening a
// compiled plugin shared object, validating its ABI version, binding its
// exported vtable, and closing it on teardown (spec.md §4.2).
//
// The lazy-load-and-cache-by-path structure is adapted from the teacher's
// api/internal/plugins/discovery.go; the loading mechanism itself is not
// — the teacher uses Go's own `plugin` package, which requires the plugin
// to have been built with the exact same Go toolchain version as the
// host, which spec.md §4.1 explicitly rules out ("plugins are built later
// with a potentially different native toolchain"). This package instead
// opens the shared object through the platform's C dynamic-linking
// facility (dlopen on Unix; see loader_unix.go), matching a frozen,
// language-neutral ABI (internal/abi).
package loader

import (
	"fmt"
	"sync"

	"github.com/software-mansion/scarb-macro-host/internal/abi"
	"github.com/software-mansion/scarb-macro-host/internal/apperr"
	"github.com/software-mansion/scarb-macro-host/internal/logger"
)

// LoadedPlugin is an in-process handle to a dynamically loaded plugin
// library (spec.md §3): the OS handle, the bound vtable of entry points,
// and the set of macro names it claims. It exclusively owns its OS handle;
// callers must not retain any function pointer derived from it past a
// call to Close.
type LoadedPlugin struct {
	Path       string
	Expansions []abi.Kind // kinds present, paired with their Names below
	Names      []string

	handle   nativeHandle
	invokeMu sync.Mutex // serializes all calls into this plugin (spec.md §5)
	closed   bool
}

// Loader opens and caches LoadedPlugins by path, and closes every plugin
// it opened in LIFO order when Close is called — mirroring the
// scoped-acquisition discipline spec.md §4.2 requires ("every open is
// paired with a guaranteed close on all exit paths").
type Loader struct {
	mu      sync.Mutex
	byPath  map[string]*LoadedPlugin
	opened  []*LoadedPlugin // LIFO close order
}

// New creates an empty Loader. Create one Loader per compilation; it is
// not meant to be shared across independent compilations.
func New() *Loader {
	return &Loader{byPath: make(map[string]*LoadedPlugin)}
}

// Open loads the plugin at path, or returns the already-cached handle if
// this Loader opened it before. It fails with an *apperr.Error of
// KindLoad when the ABI version mismatches, a required symbol is missing,
// or the OS fails to load the library (spec.md §4.2).
func (l *Loader) Open(path string) (*LoadedPlugin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byPath[path]; ok {
		return existing, nil
	}

	log := logger.Load()
	log.Debug().Str("path", path).Msg("opening plugin")

	handle, err := nativeOpen(path)
	if err != nil {
		return nil, apperr.Load("", fmt.Sprintf("failed to open plugin library at %s", path), err)
	}

	pluginVersion, err := handle.abiVersion()
	if err != nil {
		handle.close()
		return nil, apperr.Load("", "plugin missing abi_version symbol", err)
	}
	if pluginVersion != abi.Version {
		handle.close()
		return nil, apperr.Load("", fmt.Sprintf(
			"ABI mismatch: host is version %d, plugin %q is version %d", abi.Version, path, pluginVersion), nil)
	}

	kinds, names, err := handle.listExpansions()
	if err != nil {
		handle.close()
		return nil, apperr.Load("", "failed to enumerate plugin expansions", err)
	}

	lp := &LoadedPlugin{
		Path:       path,
		Expansions: kinds,
		Names:      names,
		handle:     handle,
	}

	l.byPath[path] = lp
	l.opened = append(l.opened, lp)
	log.Info().Str("path", path).Int("expansions", len(names)).Msg("plugin loaded")
	return lp, nil
}

// Close releases every plugin this Loader opened, in LIFO order, and must
// not be called while any borrow of a plugin's entry-point pointer is
// still live (spec.md §3, §4.2).
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.opened) - 1; i >= 0; i-- {
		lp := l.opened[i]
		if lp.closed {
			continue
		}
		logger.Load().Debug().Str("path", lp.Path).Msg("closing plugin")
		lp.handle.close()
		lp.closed = true
	}
	l.opened = nil
	l.byPath = make(map[string]*LoadedPlugin)
}

// nativeHandle abstracts the platform-specific dynamic-linking facility
// (dlopen/dlsym/dlclose on Unix, see loader_unix.go).
type nativeHandle interface {
	abiVersion() (uint32, error)
	listExpansions() (kinds []abi.Kind, names []string, err error)
	invoke(kind abi.Kind, name string, inputCBytes []byte, callSite Span) (InvokeResult, error)
	postProcess(aux [][]byte) error
	close()
}

// Span is the host-side mirror of the C ScarbSpan struct declared in
// loader_unix.go's cgo preamble, passed to Invoke as the
// macro invocation's call site (spec.md §4.6).
type Span struct {
	FileID uint32
	Start  uint32
	End    uint32
}

// ResultKind mirrors spec.md §3's ProcMacroResult discriminant.
type ResultKind int

const (
	ResultLeave ResultKind = iota
	ResultReplace
	ResultRemove
)

// Diagnostic is the wire-level diagnostic shape returned by a plugin,
// still in token-stream span coordinates (remapping to Cairo source
// coordinates is internal/dispatcher's job, per spec.md §4.8).
type Diagnostic struct {
	Severity int // 0=Error 1=Warning 2=Note, matching abi.Severity
	Message  string
	HasSpan  bool
	Span     Span
}

// InvokeResult is the host-side mirror of the C ScarbProcMacroResult
// struct (loader_unix.go) after
// its C buffers have been copied into Go-owned memory and its wire
// deallocator has been invoked.
type InvokeResult struct {
	Kind        ResultKind
	Tokens      []byte // encoded TokenStream, valid when Kind == ResultReplace
	AuxData     []byte // nil when the plugin emitted none
	Diagnostics []Diagnostic
}

// Invoke serializes this call against the plugin's mutex (spec.md §5:
// "all calls into a single LoadedPlugin are serialized") and dispatches to
// the native handle's expand entry point.
func (lp *LoadedPlugin) Invoke(kind abi.Kind, name string, input []byte, callSite Span) (InvokeResult, error) {
	lp.invokeMu.Lock()
	defer lp.invokeMu.Unlock()

	if lp.closed {
		return InvokeResult{}, apperr.Load(lp.Path, "invoke called on a closed plugin", nil)
	}
	return lp.handle.invoke(kind, name, input, callSite)
}

// PostProcess serializes this call the same way Invoke does, and
// dispatches to the native handle's post_process entry point with the
// plugin's complete aux-data list, already ordered by invocation ID
// (spec.md §4.7: the entry point is called exactly once per plugin).
func (lp *LoadedPlugin) PostProcess(aux [][]byte) error {
	lp.invokeMu.Lock()
	defer lp.invokeMu.Unlock()

	if lp.closed {
		return apperr.Load(lp.Path, "post_process called on a closed plugin", nil)
	}
	return lp.handle.postProcess(aux)
}
