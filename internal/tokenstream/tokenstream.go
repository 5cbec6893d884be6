// Package tokenstream implements the token-stream codec (C5): converting
// Cairo AST fragments to the token-stream representation that crosses the
// ABI boundary, and parsing a plugin's returned token stream back into a
// fresh AST fragment (spec.md §4.5).
package tokenstream

import (
	"fmt"

	"github.com/software-mansion/scarb-macro-host/internal/cairoast"
)

// Tree is a token tree variant (spec.md §3): Ident, Punct, Literal, or
// Group. It is a closed set — the four concrete types below are the only
// implementations — modeled as an interface rather than a single tagged
// struct because each variant carries genuinely different payload shapes
// (a Group nests a whole TokenStream; the others are leaves).
type Tree interface {
	isTree()
	span() cairoast.Span
}

// Span returns the tree node's source span.
func Span(t Tree) cairoast.Span { return t.span() }

type Ident struct {
	Text string
	Pos  cairoast.Span
}

type Punct struct {
	Text string
	Pos  cairoast.Span
}

type Literal struct {
	Text string
	Pos  cairoast.Span
}

type GroupTree struct {
	Delimiter cairoast.Delimiter
	Stream    Stream
	Pos       cairoast.Span
}

func (Ident) isTree()     {}
func (Punct) isTree()     {}
func (Literal) isTree()   {}
func (GroupTree) isTree() {}

func (t Ident) span() cairoast.Span     { return t.Pos }
func (t Punct) span() cairoast.Span     { return t.Pos }
func (t Literal) span() cairoast.Span   { return t.Pos }
func (t GroupTree) span() cairoast.Span { return t.Pos }

// Metadata carries the provenance spec.md §3 requires a TokenStream to
// retain: where it came from, for diagnostic/incremental purposes.
type Metadata struct {
	OriginalFilePath string
	FileID           *cairoast.FileID
}

// Stream is an ordered, finite sequence of token trees plus metadata
// (spec.md §3).
type Stream struct {
	Trees    []Tree
	Metadata Metadata
}

// FromElements converts a flat cairoast.Element sequence (an item's Body,
// or a BangCall/Attribute's Args) into a Stream, emitting one TokenTree
// per terminal and recursively wrapping nested groups.
func FromElements(elements []cairoast.Element, meta Metadata) Stream {
	trees := make([]Tree, 0, len(elements))
	for _, el := range elements {
		trees = append(trees, fromElement(el))
	}
	return Stream{Trees: trees, Metadata: meta}
}

func fromElement(el cairoast.Element) Tree {
	if el.Terminal != nil {
		return fromTerminal(*el.Terminal)
	}
	g := el.Group
	return GroupTree{
		Delimiter: g.Delimiter,
		Stream:    FromElements(g.Elements, Metadata{}),
		Pos:       g.Span,
	}
}

func fromTerminal(t cairoast.Terminal) Tree {
	switch t.Kind {
	case cairoast.KindIdent:
		return Ident{Text: t.Text, Pos: t.Span}
	case cairoast.KindPunct:
		return Punct{Text: t.Text, Pos: t.Span}
	default:
		return Literal{Text: t.Text, Pos: t.Span}
	}
}

// ParseError is returned by Parse when a returned token stream cannot be
// turned into a fresh AST fragment (spec.md §4.5 edge-case policy).
type ParseError struct {
	Span    cairoast.Span
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d-%d: %s", e.Span.File, e.Span.Start, e.Span.End, e.Message)
}

// Parse turns a Stream returned by a plugin back into a fresh sequence of
// cairoast.Element, keeping each tree's span as the fragment's "original"
// location for diagnostic mapping (spec.md §4.5: "the parser must accept a
// token stream directly, bypassing lexical analysis").
//
// A Literal that fails isWellFormedLiteral is reported as a *ParseError
// pointing at that Literal's span, also when it sits inside a Group. A
// GroupTree is balanced by construction, so Parse has no separate group
// error; a truncated or malformed group payload is rejected earlier, by
// Decode.
func Parse(s Stream) ([]cairoast.Element, error) {
	elements := make([]cairoast.Element, 0, len(s.Trees))
	for _, tree := range s.Trees {
		el, err := parseTree(tree)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

func parseTree(tree Tree) (cairoast.Element, error) {
	switch t := tree.(type) {
	case Ident:
		return cairoast.Element{Terminal: &cairoast.Terminal{Kind: cairoast.KindIdent, Text: t.Text, Span: t.Pos}}, nil
	case Punct:
		return cairoast.Element{Terminal: &cairoast.Terminal{Kind: cairoast.KindPunct, Text: t.Text, Span: t.Pos}}, nil
	case Literal:
		if !isWellFormedLiteral(t.Text) {
			return cairoast.Element{}, &ParseError{Span: t.Pos, Message: fmt.Sprintf("malformed literal %q", t.Text)}
		}
		return cairoast.Element{Terminal: &cairoast.Terminal{Kind: cairoast.KindLiteral, Text: t.Text, Span: t.Pos}}, nil
	case GroupTree:
		inner, err := Parse(t.Stream)
		if err != nil {
			return cairoast.Element{}, err
		}
		return cairoast.Element{Group: &cairoast.Group{Delimiter: t.Delimiter, Elements: inner, Span: t.Pos}}, nil
	default:
		return cairoast.Element{}, &ParseError{Message: "unknown token tree variant"}
	}
}

// isWellFormedLiteral checks only the leading shape of a literal: text
// with a double quote at both ends (string) or a single quote at both ends
// (short string), or text starting with a decimal digit (numeric). The characters
// after a leading digit, such as a hex prefix or a type suffix, are not
// validated; empty text and anything else are rejected.
func isWellFormedLiteral(text string) bool {
	if text == "" {
		return false
	}
	if text[0] == '"' {
		return len(text) >= 2 && text[len(text)-1] == '"'
	}
	if text[0] == '\'' {
		return len(text) >= 2 && text[len(text)-1] == '\''
	}
	first := text[0]
	if first >= '0' && first <= '9' {
		return true
	}
	return false
}
