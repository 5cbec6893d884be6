// Package abi defines the frozen, C-compatible representation that
// crosses the FFI boundary between the macro host and a compiled plugin
// (spec.md §4.1, C1): version numbering, the macro/severity/result
// discriminants, and the Go-side mirrors of the wire types. The literal C
// struct layout (the one both the host's cgo loader and a plugin's own
// cgo export surface compile against) lives in internal/loader's cgo
// preamble, since that is the only place raw C memory is actually read —
// this package stays pure Go so the rest of the module can depend on the
// ABI's *shape* without pulling in cgo.
//
// The struct layout itself is grounded on the cgo-exported plugin ABI in
// other_examples/…nylon-ring…main.go.go (NrStr/NrBytes/vtable-of-function-
// pointers): length-prefixed byte sequences, an explicit abi_version
// field, and a vtable of function pointers rather than any host-language
// polymorphism.
package abi

// Version is the host's compiled-in ABI version constant (spec.md §4.1,
// GLOSSARY "ABI version"). internal/loader refuses to call into any
// plugin whose exported abi_version differs from this value (spec.md §8
// property 2).
const Version uint32 = 1

// Kind mirrors spec.md §3's MacroDecl.kind / the wire ScarbMacroKind
// enum. Its numeric values are part of the ABI and must not be reordered.
type Kind int

const (
	KindBang Kind = iota
	KindAttribute
	KindDerive
	KindExecutable
	KindPostProcess
)

func (k Kind) String() string {
	switch k {
	case KindBang:
		return "bang"
	case KindAttribute:
		return "attribute"
	case KindDerive:
		return "derive"
	case KindExecutable:
		return "executable"
	case KindPostProcess:
		return "post_process"
	default:
		return "unknown"
	}
}

// Severity mirrors the wire ScarbSeverity enum (spec.md §3 Diagnostic).
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

// ResultKind mirrors the wire ScarbResultKind enum (spec.md §3
// ProcMacroResult). Bail is not a wire discriminant — spec.md §9's Open
// Question is resolved in favor of the variant form, with a plugin that
// wants Bail semantics returning ResultRemove plus an Error diagnostic.
type ResultKind int

const (
	ResultLeave ResultKind = iota
	ResultReplace
	ResultRemove
)

// Delimiter mirrors the wire group delimiter discriminant.
type Delimiter int

const (
	DelimParen Delimiter = iota
	DelimBrace
	DelimBracket
	DelimNone
)

// ExpansionDecl is the host-side mirror of one ScarbExpansionDecl entry
// returned by a plugin's list_expansions call (spec.md §4.4).
type ExpansionDecl struct {
	Kind Kind
	Name string
}
