// Package dispatcher implements the AST dispatcher (C6, spec.md §4.6): the
// heart of the host. It walks a Cairo AST module, detects the three
// macro-invocation sites (bang-call, attribute, derive), and routes each
// to the plugin claiming it via the loader and token-stream codec,
// splicing results back into the compilation and feeding diagnostics/aux
// data into the sink.
package dispatcher

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/software-mansion/scarb-macro-host/internal/abi"
	"github.com/software-mansion/scarb-macro-host/internal/cairoast"
	"github.com/software-mansion/scarb-macro-host/internal/diagnostics"
	"github.com/software-mansion/scarb-macro-host/internal/logger"
	"github.com/software-mansion/scarb-macro-host/internal/registry"
	"github.com/software-mansion/scarb-macro-host/internal/tokenstream"
)

// Plugin is the narrow surface the dispatcher needs from a loaded plugin:
// invoke one expansion, serialized per spec.md §5 by the loader itself.
type Plugin interface {
	ID() string
	Invoke(kind abi.Kind, name string, input []byte, callSite CallSite) (InvokeResult, error)
}

// CallSite is the span of the macro invocation the plugin is asked to
// expand, passed through so diagnostics can be reported relative to the
// user's original position (spec.md §4.6).
type CallSite struct {
	FileID uint32
	Start  uint32
	End    uint32
}

func callSiteFromSpan(s cairoast.Span) CallSite {
	return CallSite{FileID: uint32(s.File), Start: s.Start, End: s.End}
}

// InvokeResult mirrors internal/loader.InvokeResult, re-declared here so
// this package does not need to import internal/loader directly — the
// dispatcher only needs the wire-level shape, not the loading mechanism.
type InvokeResult struct {
	Kind        abi.ResultKind
	Tokens      []byte
	AuxData     []byte
	Diagnostics []WireDiagnostic
}

// WireDiagnostic mirrors internal/loader.Diagnostic.
type WireDiagnostic struct {
	Severity int
	Message  string
	HasSpan  bool
	Span     CallSite
}

// Resolver obtains the Plugin claiming a given macro declaration, lazily
// loading it if necessary (spec.md §4.6: "a plugin that fails to load at
// dispatch time (lazy load) produces a single error diagnostic... and
// behaves as Leave").
type Resolver interface {
	Resolve(pluginID string) (Plugin, error)
}

// Encoder is the subset of internal/tokenstream's wire codec the
// dispatcher drives, declared as an interface so tests can substitute a
// fake without a real ABI round trip.
type Encoder interface {
	Encode(tokenstream.Stream) ([]byte, error)
	Decode([]byte) (tokenstream.Stream, error)
}

// WireCodec is the production Encoder, backed directly by
// internal/tokenstream's binary wire format.
type WireCodec struct{}

func (WireCodec) Encode(s tokenstream.Stream) ([]byte, error) { return tokenstream.Encode(s) }
func (WireCodec) Decode(b []byte) (tokenstream.Stream, error) { return tokenstream.Decode(b) }

// Dispatcher runs one pass over a Module, per spec.md §4.6.
type Dispatcher struct {
	registry *registry.Registry
	resolver Resolver
	sink     *diagnostics.Sink
	codec    Encoder
}

// New creates a Dispatcher bound to a frozen Registry, a plugin resolver,
// the diagnostic/auxdata sink results feed into, and the wire codec used
// to cross the FFI boundary.
func New(reg *registry.Registry, resolver Resolver, sink *diagnostics.Sink, codec Encoder) *Dispatcher {
	return &Dispatcher{registry: reg, resolver: resolver, sink: sink, codec: codec}
}

// Run dispatches every item in mod, mutating it in place: attribute/derive
// expansions append or replace items, bang-calls replace the call
// expression's tokens, per spec.md §4.6.
func (d *Dispatcher) Run(mod *cairoast.Module) {
	log := logger.Dispatch()
	for i := 0; i < len(mod.Items); i++ {
		d.dispatchItem(mod, mod.Items[i])
	}
	log.Debug().Int("items", len(mod.Items)).Msg("dispatch pass complete")
}

// dispatchItem implements spec.md §4.6's resolution order for one item:
// "all derives, in declaration order, then all attributes, outermost
// first", plus bang-calls found anywhere in the item's body.
func (d *Dispatcher) dispatchItem(mod *cairoast.Module, node *cairoast.Node) {
	d.dispatchBangCalls(node)
	d.dispatchDerives(mod, node)
	d.dispatchAttributes(node)
}

// dispatchBangCalls handles `name!(...)` sites (spec.md §4.6 case 1): the
// entire call expression is the input, and the output replaces it in
// place. A plugin returning Leave makes no change (no re-entry, no
// infinite loop, per spec.md §4.6 conflict rules).
func (d *Dispatcher) dispatchBangCalls(node *cairoast.Node) {
	for idx := range node.BangCalls {
		call := &node.BangCalls[idx]
		decl, ok := d.registry.Lookup(abi.KindBang, call.Name)
		if !ok {
			continue
		}

		input := tokenstream.FromElements(call.Args, tokenstream.Metadata{})
		result, ok := d.invoke(decl.PluginID, abi.KindBang, call.Name, call.Span, input)
		if !ok || result.Kind != abi.ResultReplace {
			continue
		}

		elements, err := d.decodeAndParse(result.Tokens, decl.PluginID, call.Name)
		if err != nil {
			continue
		}
		call.Args = elements
	}
}

// dispatchDerives handles `#[derive(A, B, ...)] item` (spec.md §4.6 case
// 3): each named derive sees only the item, never the #[derive(...)] line
// itself, and its output is appended as a sibling item rather than
// replacing the input.
func (d *Dispatcher) dispatchDerives(mod *cairoast.Module, node *cairoast.Node) {
	input := tokenstream.FromElements(node.Body, tokenstream.Metadata{})

	for _, deriveName := range node.Derives {
		decl, ok := d.registry.Lookup(abi.KindDerive, deriveName)
		if !ok {
			continue
		}

		result, ok := d.invoke(decl.PluginID, abi.KindDerive, deriveName, node.Span, input)
		if !ok || result.Kind != abi.ResultReplace {
			continue
		}

		elements, err := d.decodeAndParse(result.Tokens, decl.PluginID, deriveName)
		if err != nil {
			continue
		}

		newNode := &cairoast.Node{Kind: "derived", Name: firstIdentName(elements), Span: node.Span, Body: elements}
		if name, collides := siblingCollision(mod, newNode); collides {
			d.sink.Emit(diagnostics.Diagnostic{
				Severity: diagnostics.SeverityError,
				Message:  fmt.Sprintf("derive %q produced an item named %q that collides with an existing sibling", deriveName, name),
				Span:     &node.Span,
				Plugin:   decl.PluginID,
				Macro:    deriveName,
			})
			continue
		}
		mod.Items = append(mod.Items, newNode)
	}
}

// dispatchAttributes handles `#[name(args)] item` (spec.md §4.6 case 2),
// outermost attribute first (node.Attributes is stored outermost-first, so
// dispatch walks it in declared order). An attribute returning Remove is
// legal even while other attributes remain; subsequent attribute dispatches
// on this item are then skipped and their declarations discarded (spec.md
// §4.6 conflict rules). An attribute's Replace output is re-entered into
// the dispatcher in case it itself contains a further macro-invocation site.
func (d *Dispatcher) dispatchAttributes(node *cairoast.Node) {
	for len(node.Attributes) > 0 {
		attr := node.Attributes[0]
		node.Attributes = node.Attributes[1:]

		decl, ok := d.registry.Lookup(abi.KindAttribute, attr.Name)
		if !ok {
			continue
		}

		combined := append(append([]cairoast.Element{}, attr.Args...), node.Body...)
		input := tokenstream.FromElements(combined, tokenstream.Metadata{})

		result, ok := d.invoke(decl.PluginID, abi.KindAttribute, attr.Name, attr.Span, input)
		if !ok {
			continue
		}

		switch result.Kind {
		case abi.ResultRemove:
			node.Attributes = nil
			return
		case abi.ResultReplace:
			elements, err := d.decodeAndParse(result.Tokens, decl.PluginID, attr.Name)
			if err != nil {
				continue
			}
			node.Body = elements
			// Re-derive bang-call sites from the replacement tokens rather
			// than re-scanning the stale, pre-expansion node.BangCalls: the
			// attribute's output may introduce a call the original parse
			// never saw, and re-running over the old slice would also risk
			// re-dispatching calls already expanded before this attribute ran.
			node.BangCalls = bangCallsFromElements(elements)
			d.dispatchBangCalls(node) // re-enter: the replacement may itself contain a bang-call
		case abi.ResultLeave:
			// no change
		}
	}
}

// invoke assigns a fresh invocation ID, resolves the plugin (lazily, per
// spec.md §4.6), calls Invoke, and routes diagnostics into the sink. ok is
// false when the call could not be attempted at all or the plugin failed
// to load — in both cases the caller treats this site as Leave.
func (d *Dispatcher) invoke(pluginID string, kind abi.Kind, macroName string, span cairoast.Span, input tokenstream.Stream) (InvokeResult, bool) {
	log := logger.Dispatch()

	plugin, err := d.resolver.Resolve(pluginID)
	if err != nil {
		d.sink.Emit(diagnostics.Diagnostic{
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("plugin %q failed to load: %v", pluginID, err),
			Span:     &span,
			Plugin:   pluginID,
			Macro:    macroName,
		})
		return InvokeResult{}, false
	}

	invocationID := uuid.New()
	encoded, err := d.codec.Encode(input)
	if err != nil {
		log.Error().Str("plugin", pluginID).Str("macro", macroName).Err(err).Msg("failed to encode token stream")
		return InvokeResult{}, false
	}

	result, err := plugin.Invoke(kind, macroName, encoded, callSiteFromSpan(span))
	if err != nil {
		d.sink.Emit(diagnostics.Diagnostic{
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("plugin %q macro %q invocation failed: %v", pluginID, macroName, err),
			Span:     &span,
			Plugin:   pluginID,
			Macro:    macroName,
		})
		return InvokeResult{}, false
	}

	for _, diag := range result.Diagnostics {
		var sp *cairoast.Span
		if diag.HasSpan {
			s := cairoast.Span{File: cairoast.FileID(diag.Span.FileID), Start: diag.Span.Start, End: diag.Span.End}
			sp = &s
		} else {
			sp = &span
		}
		d.sink.Emit(diagnostics.Diagnostic{
			Severity: diagnostics.Severity(diag.Severity),
			Message:  diag.Message,
			Span:     sp,
			Plugin:   pluginID,
			Macro:    macroName,
		})
	}

	if result.AuxData != nil {
		d.sink.EmitAux(diagnostics.AuxEntry{
			PluginID:     pluginID,
			MacroName:    macroName,
			InvocationID: invocationIDOrdinal(invocationID, &invocationCounter),
			Data:         result.AuxData,
		})
	}

	return result, true
}

// decodeAndParse decodes a plugin's returned encoded token stream and
// parses it back into AST elements (spec.md §4.5). A malformed stream is a
// protocol violation, reported with the plugin's identity (spec.md §7).
func (d *Dispatcher) decodeAndParse(encoded []byte, pluginID, macroName string) ([]cairoast.Element, error) {
	stream, err := d.codec.Decode(encoded)
	if err != nil {
		d.sink.Emit(diagnostics.Diagnostic{
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("malformed token stream returned by plugin %q macro %q: %v", pluginID, macroName, err),
			Plugin:   pluginID,
			Macro:    macroName,
		})
		return nil, err
	}
	elements, err := tokenstream.Parse(stream)
	if err != nil {
		d.sink.Emit(diagnostics.Diagnostic{
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("plugin %q macro %q returned unparseable tokens: %v", pluginID, macroName, err),
			Plugin:   pluginID,
			Macro:    macroName,
		})
		return nil, err
	}
	return elements, nil
}

// bangCallsFromElements scans a flat element sequence for `name!(...)` call
// sites — an identifier terminal immediately followed by a "!" punctuation
// terminal and a parenthesized group — the same shape the initial parse
// recognizes elsewhere in the pipeline. It lets the dispatcher refresh a
// node's BangCalls after an attribute expansion replaces its body, since
// the replacement may introduce an invocation site the original parse
// never saw.
func bangCallsFromElements(elements []cairoast.Element) []cairoast.BangCall {
	var calls []cairoast.BangCall
	for i := 0; i+2 < len(elements); i++ {
		ident := elements[i].Terminal
		if ident == nil || ident.Kind != cairoast.KindIdent {
			continue
		}
		bang := elements[i+1].Terminal
		if bang == nil || bang.Kind != cairoast.KindPunct || bang.Text != "!" {
			continue
		}
		group := elements[i+2].Group
		if group == nil || group.Delimiter != cairoast.DelimParen {
			continue
		}
		calls = append(calls, cairoast.BangCall{
			Name: ident.Text,
			Args: group.Elements,
			Span: cairoast.Span{File: ident.Span.File, Start: ident.Span.Start, End: group.Span.End},
		})
		i += 2
	}
	return calls
}

// firstIdentName returns the first top-level identifier terminal in
// elements, taken as a generated item's declared name (this AST model has
// no separate "declaration keyword" terminal kind, so the name is simply
// the first ident token a generated item's output starts with). Returns ""
// when the output has no top-level identifier at all, in which case it can
// never collide with a named sibling.
func firstIdentName(elements []cairoast.Element) string {
	for _, el := range elements {
		if el.Terminal != nil && el.Terminal.Kind == cairoast.KindIdent {
			return el.Terminal.Text
		}
	}
	return ""
}

// siblingCollision reports whether newNode's name collides with an
// existing item already in mod (spec.md §4.6: "a single #[derive(X)]
// producing an item whose name collides with an existing sibling is an
// error").
func siblingCollision(mod *cairoast.Module, newNode *cairoast.Node) (string, bool) {
	if newNode.Name == "" {
		return "", false
	}
	for _, item := range mod.Items {
		if item.Name == newNode.Name {
			return item.Name, true
		}
	}
	return "", false
}

// invocationIDOrdinal derives a monotonically increasing ordinal from a
// process-local counter rather than the uuid itself — spec.md §8 property
// 5 requires aux data observed in "monotonically increasing invocation-id
// order", which a random UUID cannot provide on its own. The uuid is
// generated per invocation but not passed on anywhere; this ordinal is the
// key the sink orders aux data by.
func invocationIDOrdinal(_ uuid.UUID, counter *uint64) uint64 {
	return atomic.AddUint64(counter, 1)
}

// invocationCounter is shared by every Dispatcher in the process, so
// ordinals stay unique when several compilation units are dispatched
// concurrently (internal/host.CompileAll).
var invocationCounter uint64
