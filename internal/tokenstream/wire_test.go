package tokenstream

import (
	"testing"

	"github.com/software-mansion/scarb-macro-host/internal/cairoast"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	fid := cairoast.FileID(7)

	tests := []struct {
		name   string
		stream Stream
	}{
		{
			name:   "empty stream",
			stream: Stream{Metadata: Metadata{OriginalFilePath: "lib.cairo"}},
		},
		{
			name: "flat idents and punct",
			stream: Stream{
				Trees: []Tree{
					Ident{Text: "foo", Pos: cairoast.Span{File: 1, Start: 0, End: 3}},
					Punct{Text: "::", Pos: cairoast.Span{File: 1, Start: 3, End: 5}},
					Ident{Text: "bar", Pos: cairoast.Span{File: 1, Start: 5, End: 8}},
				},
				Metadata: Metadata{OriginalFilePath: "src/foo.cairo", FileID: &fid},
			},
		},
		{
			name: "nested group",
			stream: Stream{
				Trees: []Tree{
					Ident{Text: "f", Pos: cairoast.Span{File: 2, Start: 0, End: 1}},
					GroupTree{
						Delimiter: cairoast.DelimParen,
						Pos:       cairoast.Span{File: 2, Start: 1, End: 6},
						Stream: Stream{
							Trees: []Tree{
								Literal{Text: "42", Pos: cairoast.Span{File: 2, Start: 2, End: 4}},
							},
						},
					},
				},
			},
		},
		{
			name: "string and short-string literals",
			stream: Stream{
				Trees: []Tree{
					Literal{Text: `"hello"`, Pos: cairoast.Span{File: 3, Start: 0, End: 7}},
					Literal{Text: `'a'`, Pos: cairoast.Span{File: 3, Start: 7, End: 10}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.stream)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if decoded.Metadata.OriginalFilePath != tt.stream.Metadata.OriginalFilePath {
				t.Errorf("OriginalFilePath = %q, want %q", decoded.Metadata.OriginalFilePath, tt.stream.Metadata.OriginalFilePath)
			}
			if (decoded.Metadata.FileID == nil) != (tt.stream.Metadata.FileID == nil) {
				t.Fatalf("FileID presence mismatch: got %v, want %v", decoded.Metadata.FileID, tt.stream.Metadata.FileID)
			}
			if tt.stream.Metadata.FileID != nil && *decoded.Metadata.FileID != *tt.stream.Metadata.FileID {
				t.Errorf("FileID = %v, want %v", *decoded.Metadata.FileID, *tt.stream.Metadata.FileID)
			}
			if len(decoded.Trees) != len(tt.stream.Trees) {
				t.Fatalf("got %d trees, want %d", len(decoded.Trees), len(tt.stream.Trees))
			}
			for i := range tt.stream.Trees {
				assertTreeEqual(t, decoded.Trees[i], tt.stream.Trees[i])
			}
		})
	}
}

func assertTreeEqual(t *testing.T, got, want Tree) {
	t.Helper()
	switch w := want.(type) {
	case Ident:
		g, ok := got.(Ident)
		if !ok || g != w {
			t.Errorf("tree = %#v, want %#v", got, want)
		}
	case Punct:
		g, ok := got.(Punct)
		if !ok || g != w {
			t.Errorf("tree = %#v, want %#v", got, want)
		}
	case Literal:
		g, ok := got.(Literal)
		if !ok || g != w {
			t.Errorf("tree = %#v, want %#v", got, want)
		}
	case GroupTree:
		g, ok := got.(GroupTree)
		if !ok {
			t.Fatalf("tree = %#v, want GroupTree", got)
		}
		if g.Delimiter != w.Delimiter || g.Pos != w.Pos {
			t.Errorf("group = %#v, want %#v", g, w)
		}
		if len(g.Stream.Trees) != len(w.Stream.Trees) {
			t.Fatalf("group has %d inner trees, want %d", len(g.Stream.Trees), len(w.Stream.Trees))
		}
		for i := range w.Stream.Trees {
			assertTreeEqual(t, g.Stream.Trees[i], w.Stream.Trees[i])
		}
	default:
		t.Fatalf("unhandled tree variant in test: %#v", want)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	full, err := Encode(Stream{
		Trees: []Tree{Ident{Text: "x", Pos: cairoast.Span{}}},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	for n := 0; n < len(full); n++ {
		if _, err := Decode(full[:n]); err == nil {
			t.Errorf("Decode(truncated to %d bytes) succeeded, want error", n)
		}
	}
}

func TestDecodeInvalidTreeTag(t *testing.T) {
	encoded, err := Encode(Stream{Trees: []Tree{Ident{Text: "x"}}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// The metadata section is a length-prefixed empty string (4 bytes) plus
	// a 0 has-FileID byte, then the tree count (4 bytes), then the first
	// tree's tag byte.
	tagOffset := 4 + 1 + 4
	corrupted := append([]byte(nil), encoded...)
	corrupted[tagOffset] = 0xFF

	if _, err := Decode(corrupted); err == nil {
		t.Error("Decode() with an invalid tree tag succeeded, want error")
	}
}

func TestFromElementsAndParseRoundTrip(t *testing.T) {
	elements := []cairoast.Element{
		{Terminal: &cairoast.Terminal{Kind: cairoast.KindIdent, Text: "foo", Span: cairoast.Span{Start: 0, End: 3}}},
		{Group: &cairoast.Group{
			Delimiter: cairoast.DelimParen,
			Span:      cairoast.Span{Start: 3, End: 6},
			Elements: []cairoast.Element{
				{Terminal: &cairoast.Terminal{Kind: cairoast.KindLiteral, Text: "1", Span: cairoast.Span{Start: 4, End: 5}}},
			},
		}},
	}

	stream := FromElements(elements, Metadata{})
	parsed, err := Parse(stream)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(parsed) != len(elements) {
		t.Fatalf("got %d elements, want %d", len(parsed), len(elements))
	}
	if parsed[0].Terminal == nil || parsed[0].Terminal.Text != "foo" {
		t.Errorf("element 0 = %#v, want terminal %q", parsed[0], "foo")
	}
	if parsed[1].Group == nil || len(parsed[1].Group.Elements) != 1 {
		t.Errorf("element 1 = %#v, want a one-element group", parsed[1])
	}
}

func TestParseRejectsMalformedLiteral(t *testing.T) {
	stream := Stream{Trees: []Tree{Literal{Text: "not-a-literal"}}}
	_, err := Parse(stream)
	if err == nil {
		t.Fatal("Parse() succeeded on a malformed literal, want error")
	}
	var perr *ParseError
	if !asParseError(err, &perr) {
		t.Fatalf("error = %T, want *ParseError", err)
	}
}

func asParseError(err error, target **ParseError) bool {
	if pe, ok := err.(*ParseError); ok {
		*target = pe
		return true
	}
	return false
}
