// Package host is the top-level orchestrator wiring C1-C8 together for one
// compilation (spec.md §2 data flow: "manifest → C3 → cached artifact →
// C2 → vtable → C4 catalogue... C6 → C5 → C2 → plugin → C5 → splice + C8
// sink... C8 → C7 → plugin callbacks"), plus the worker-pool concurrency
// model of spec.md §5 ("parallel host with per-plugin serialization").
package host

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/software-mansion/scarb-macro-host/internal/abi"
	"github.com/software-mansion/scarb-macro-host/internal/apperr"
	"github.com/software-mansion/scarb-macro-host/internal/buildcache"
	"github.com/software-mansion/scarb-macro-host/internal/cairoast"
	"github.com/software-mansion/scarb-macro-host/internal/diagnostics"
	"github.com/software-mansion/scarb-macro-host/internal/dispatcher"
	"github.com/software-mansion/scarb-macro-host/internal/loader"
	"github.com/software-mansion/scarb-macro-host/internal/logger"
	"github.com/software-mansion/scarb-macro-host/internal/manifest"
	"github.com/software-mansion/scarb-macro-host/internal/postprocess"
	"github.com/software-mansion/scarb-macro-host/internal/registry"
)

// Host owns every long-lived resource for one compilation: the loader (and
// therefore every LoadedPlugin's OS handle), the build cache, the frozen
// registry, and the diagnostic/auxdata sink. Create one Host per
// compilation; it is not meant to outlive it (spec.md §3 "LoadedPlugin...
// released at compilation end").
type Host struct {
	cfg   Config
	cache *buildcache.Cache
	ld    *loader.Loader
	sink  *diagnostics.Sink

	mu       sync.Mutex
	packages map[string]manifest.PluginPackage
	handles  map[string]*pluginHandle

	registry *registry.Registry
}

// Config is the subset of internal/config.Host this orchestrator needs,
// kept separate so tests can construct a Host without going through
// environment-variable parsing.
type Config struct {
	ABIVersion       uint32
	HostTriple       string
	Toolchain        buildcache.Toolchain
	TopLevel         *manifest.TopLevelManifest
	ValidatePrebuilt func(libPath string) error
}

// ValidatePrebuiltABI opens libPath just long enough for loader.Open to
// check its plugin_entry symbol and abi_version, then closes it — the
// validation applied before accepting a dropped-in prebuilt artifact
// (spec.md §4.3). When the ABI version matches, loader.Open also calls the
// plugin's list_expansions entry point; no expand or post_process call is
// made. The artifact's host triple is not checked here.
func ValidatePrebuiltABI(libPath string) error {
	probe := loader.New()
	defer probe.Close()
	_, err := probe.Open(libPath)
	return err
}

// New creates a Host bound to an already-opened build Cache.
func New(cache *buildcache.Cache, cfg Config) *Host {
	return &Host{
		cfg:      cfg,
		cache:    cache,
		ld:       loader.New(),
		sink:     diagnostics.NewSink(),
		packages: make(map[string]manifest.PluginPackage),
		handles:  make(map[string]*pluginHandle),
	}
}

// Sink exposes the diagnostic/auxdata accumulator for callers that need to
// inspect results after Dispatch, CompileAll and PostProcess return.
func (h *Host) Sink() *diagnostics.Sink { return h.sink }

// Close releases every plugin this Host opened, in LIFO order (spec.md
// §4.2).
func (h *Host) Close() { h.ld.Close() }

// BuildRegistry resolves and loads every plugin package named in pkgs,
// eagerly (spec.md §4.4: "obtain each plugin's LoadedPlugin... and call
// list_expansions"), then freezes an expansion registry from their
// declarations. A non-empty error slice means the registry has name
// collisions and must not be used for dispatch (spec.md §8 property 6).
func (h *Host) BuildRegistry(ctx context.Context, pkgs []manifest.PluginPackage) (*registry.Registry, []error) {
	builder := registry.NewBuilder()

	for _, pkg := range pkgs {
		h.mu.Lock()
		h.packages[pkg.Name] = pkg
		h.mu.Unlock()

		ph, err := h.resolve(ctx, pkg.Name)
		if err != nil {
			// spec.md §7: a Load error is fatal for that plugin's users.
			// The registry carries no declarations for it, so the macros
			// it would have claimed are not recognized at dispatch time
			// and their call sites are left unexpanded. The failure is
			// recorded here as one error diagnostic for the plugin, not
			// one per call site.
			logger.Registry().Error().Str("plugin", pkg.Name).Err(err).Msg("failed to load plugin for registry construction")
			h.sink.Emit(diagnostics.Diagnostic{
				Severity: diagnostics.SeverityError,
				Message:  fmt.Sprintf("plugin %q failed to load: %v", pkg.Name, err),
				Plugin:   pkg.Name,
			})
			continue
		}
		for i, kind := range ph.lp.Expansions {
			builder.Declare(kind, ph.lp.Names[i], pkg.Name, i)
		}
	}

	reg, collisions := builder.Build()
	h.registry = reg
	return reg, collisions
}

// Dispatch runs the AST dispatcher over mod using the frozen registry from
// BuildRegistry.
func (h *Host) Dispatch(mod *cairoast.Module) {
	d := dispatcher.New(h.registry, resolverFunc(h.resolveForDispatch), h.sink, dispatcher.WireCodec{})
	d.Run(mod)
}

// PostProcess replays accumulated aux-data through every loaded plugin
// that registered post_process (spec.md §4.7).
func (h *Host) PostProcess() {
	h.mu.Lock()
	plugins := make([]postprocess.Plugin, 0, len(h.handles))
	for _, ph := range h.handles {
		plugins = append(plugins, ph)
	}
	h.mu.Unlock()
	postprocess.Run(plugins, h.sink)
}

// CompileUnit is one independently schedulable compilation unit in the
// worker-pool model of spec.md §5.
type CompileUnit struct {
	Module *cairoast.Module
}

// CompileAll runs Dispatch over every unit using a bounded worker pool
// (spec.md §5: "a thread pool to compile multiple packages concurrently").
// Per-plugin serialization is provided by loader.LoadedPlugin's own mutex,
// not by this pool, so concurrency here is safe regardless of pool size.
func (h *Host) CompileAll(units []CompileUnit) {
	maxWorkers := runtime.GOMAXPROCS(0)
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, unit := range units {
		wg.Add(1)
		sem <- struct{}{}
		go func(u CompileUnit) {
			defer wg.Done()
			defer func() { <-sem }()
			h.Dispatch(u.Module)
		}(unit)
	}
	wg.Wait()
}

// resolverFunc adapts a plain function to dispatcher.Resolver.
type resolverFunc func(pluginID string) (dispatcher.Plugin, error)

func (f resolverFunc) Resolve(pluginID string) (dispatcher.Plugin, error) { return f(pluginID) }

func (h *Host) resolveForDispatch(pluginID string) (dispatcher.Plugin, error) {
	ph, err := h.resolve(context.Background(), pluginID)
	if err != nil {
		return nil, err
	}
	return ph, nil
}

// resolve returns the already-opened pluginHandle for name, or builds and
// loads it (via buildcache then loader) on first use — the lazy-load path
// spec.md §4.6 documents for dispatch-time resolution.
func (h *Host) resolve(ctx context.Context, name string) (*pluginHandle, error) {
	h.mu.Lock()
	if ph, ok := h.handles[name]; ok {
		h.mu.Unlock()
		return ph, nil
	}
	pkg, known := h.packages[name]
	h.mu.Unlock()
	if !known {
		return nil, apperr.Load(name, "plugin not declared for this compilation", nil)
	}

	allow := h.cfg.TopLevel != nil && h.cfg.TopLevel.AllowsPrebuilt(name)
	handle, err := h.cache.Resolve(ctx, pkg, allow, prebuiltPath(pkg, h.cfg.HostTriple), h.cfg.ValidatePrebuilt)
	if err != nil {
		return nil, err
	}

	lp, err := h.ld.Open(handle.Path)
	if err != nil {
		return nil, err
	}

	ph := &pluginHandle{id: name, lp: lp}
	h.mu.Lock()
	h.handles[name] = ph
	h.mu.Unlock()
	return ph, nil
}

func prebuiltPath(pkg manifest.PluginPackage, hostTriple string) string {
	return fmt.Sprintf("target/%s_v%s_%s.prebuilt", pkg.Name, pkg.Version, hostTriple)
}

// pluginHandle adapts a *loader.LoadedPlugin to the narrow Plugin
// interfaces internal/dispatcher and internal/postprocess each declare,
// so neither package needs to import internal/loader directly.
type pluginHandle struct {
	id string
	lp *loader.LoadedPlugin
}

func (p *pluginHandle) ID() string            { return p.id }
func (p *pluginHandle) Expansions() []abi.Kind { return p.lp.Expansions }

func (p *pluginHandle) Invoke(kind abi.Kind, name string, input []byte, callSite dispatcher.CallSite) (dispatcher.InvokeResult, error) {
	result, err := p.lp.Invoke(kind, name, input, loader.Span{FileID: callSite.FileID, Start: callSite.Start, End: callSite.End})
	if err != nil {
		return dispatcher.InvokeResult{}, err
	}
	diags := make([]dispatcher.WireDiagnostic, 0, len(result.Diagnostics))
	for _, d := range result.Diagnostics {
		diags = append(diags, dispatcher.WireDiagnostic{
			Severity: d.Severity,
			Message:  d.Message,
			HasSpan:  d.HasSpan,
			Span:     dispatcher.CallSite{FileID: d.Span.FileID, Start: d.Span.Start, End: d.Span.End},
		})
	}
	return dispatcher.InvokeResult{
		Kind:        abi.ResultKind(result.Kind),
		Tokens:      result.Tokens,
		AuxData:     result.AuxData,
		Diagnostics: diags,
	}, nil
}

func (p *pluginHandle) PostProcess(aux [][]byte) error {
	return p.lp.PostProcess(aux)
}
