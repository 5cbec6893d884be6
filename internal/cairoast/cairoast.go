// Package cairoast is the narrowest possible stand-in for the external
// Cairo parser/semantic database that the macro host consumes and emits
// into (spec.md §1: "the host consumes an AST and emits generated virtual
// source back into it"). It is not a Cairo parser: it models just enough
// of a module's item tree, attributes, and terminal tokens for
// internal/tokenstream and internal/dispatcher to have something concrete
// to operate on, with source spans that round-trip to stable coordinates.
package cairoast

// FileID identifies a source file within a compilation unit.
type FileID uint32

// Span is a half-open byte range within a FileID. It is opaque to plugins
// (spec.md §3) but round-trips losslessly back to Cairo source locations.
type Span struct {
	File  FileID
	Start uint32
	End   uint32
}

// Terminal is one lexical token of Cairo source: an identifier, a piece of
// punctuation, or a literal. Whitespace/comment trivia attached to a
// terminal is preserved on a best-effort basis (spec.md §4.5).
type Terminal struct {
	Kind    TerminalKind
	Text    string
	Span    Span
	Leading string // leading trivia (whitespace/comments), if any
}

// TerminalKind distinguishes the three lexical terminal shapes the codec
// cares about; Cairo's own lexer has many more token kinds, but the macro
// host only needs to tell identifiers, punctuation, and literals apart
// (spec.md §3 TokenTree variants).
type TerminalKind int

const (
	KindIdent TerminalKind = iota
	KindPunct
	KindLiteral
)

// Delimiter is the bracket kind of a balanced group.
type Delimiter int

const (
	DelimParen Delimiter = iota
	DelimBrace
	DelimBracket
	DelimNone // a synthetic group with no surface brackets (e.g. a bang-call's whole body)
)

// Node is one item-level AST fragment the dispatcher visits: a function,
// struct, enum, trait impl, or any other module item. A Node's Attributes
// and Derives are consumed by the dispatcher (spec.md §4.6); its Body is
// the flat terminal/group sequence the token-stream codec converts.
type Node struct {
	// Kind is a human-readable item kind ("fn", "struct", "impl", ...),
	// used only for diagnostics and test fixtures.
	Kind string

	// Name is the item's declared name, if any.
	Name string

	Span Span

	// Derives holds the `#[derive(...)]` argument names, in source
	// order, already separated from Attributes per spec.md §4.6 (the
	// dispatcher stipulates attributes never see the derive line).
	Derives []string

	// Attributes holds every other attribute, outermost first, as
	// written in source — `#[outer] #[inner] item` yields
	// [{Name:"outer"}, {Name:"inner"}].
	Attributes []Attribute

	// Body is the item's own terminal/group sequence, excluding its
	// attribute and derive lines.
	Body []Element

	// BangCalls holds the `name!(...)` invocation sites found anywhere
	// within Body, in source order.
	BangCalls []BangCall
}

// Attribute is one `#[name(args)]` annotation on an item.
type Attribute struct {
	Name string
	Args []Element // the parenthesized argument tokens, if any
	Span Span      // covers the whole `#[...]` including brackets
}

// BangCall is one `name!(...)` invocation expression found in an item's
// body.
type BangCall struct {
	Name string
	Args []Element
	Span Span // covers the whole `name!(...)` call expression
}

// Element is a single node in the flattened per-item token sequence: a
// terminal, or a balanced group of further elements.
type Element struct {
	Terminal *Terminal // non-nil for a leaf terminal
	Group    *Group    // non-nil for a balanced delimiter group
}

// Group is a balanced bracket pair and the elements it contains.
type Group struct {
	Delimiter Delimiter
	Elements  []Element
	Span      Span
}

// Module is the top-level unit the dispatcher visits: an ordered sequence
// of items belonging to one compiled file.
type Module struct {
	File  FileID
	Items []*Node
}
