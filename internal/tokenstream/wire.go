// Wire encoding for a Stream crossing the FFI boundary as an opaque octet
// sequence (spec.md §4.1 "pointer+length sequences... length-prefixed
// UTF-8 octet sequences"). A bespoke binary format is used rather than
// encoding/json (the teacher's usual choice for Redis-cached values,
// internal/cache/cache.go) because this payload crosses into C memory on
// the other side of internal/loader's cgo boundary — a self-describing
// text format would force the plugin side to link a JSON parser just to
// read a token tree. Plain length-prefixed binary matches spec.md §4.1's
// ABI philosophy directly (see DESIGN.md's standard-library justification
// for this file).
package tokenstream

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/software-mansion/scarb-macro-host/internal/cairoast"
)

const (
	tagIdent byte = iota
	tagPunct
	tagLiteral
	tagGroup
)

// Encode serializes a Stream to its wire representation.
func Encode(s Stream) ([]byte, error) {
	var buf bytes.Buffer
	writeMetadata(&buf, s.Metadata)
	writeTrees(&buf, s.Trees)
	return buf.Bytes(), nil
}

// Decode parses a wire-format byte slice back into a Stream. A truncated
// or malformed payload is a protocol violation (spec.md §7 KindProtocol).
func Decode(data []byte) (Stream, error) {
	r := bytes.NewReader(data)
	meta, err := readMetadata(r)
	if err != nil {
		return Stream{}, err
	}
	trees, err := readTrees(r)
	if err != nil {
		return Stream{}, err
	}
	return Stream{Trees: trees, Metadata: meta}, nil
}

func writeMetadata(buf *bytes.Buffer, m Metadata) {
	writeString(buf, m.OriginalFilePath)
	if m.FileID == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		writeUint32(buf, uint32(*m.FileID))
	}
}

func readMetadata(r *bytes.Reader) (Metadata, error) {
	path, err := readString(r)
	if err != nil {
		return Metadata{}, err
	}
	hasFileID, err := r.ReadByte()
	if err != nil {
		return Metadata{}, fmt.Errorf("tokenstream: truncated metadata: %w", err)
	}
	meta := Metadata{OriginalFilePath: path}
	if hasFileID == 1 {
		v, err := readUint32(r)
		if err != nil {
			return Metadata{}, err
		}
		fid := cairoast.FileID(v)
		meta.FileID = &fid
	}
	return meta, nil
}

func writeTrees(buf *bytes.Buffer, trees []Tree) {
	writeUint32(buf, uint32(len(trees)))
	for _, t := range trees {
		writeTree(buf, t)
	}
}

func readTrees(r *bytes.Reader) ([]Tree, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > 1<<20 {
		return nil, fmt.Errorf("tokenstream: implausible tree count %d", n)
	}
	trees := make([]Tree, 0, n)
	for i := uint32(0); i < n; i++ {
		t, err := readTree(r)
		if err != nil {
			return nil, err
		}
		trees = append(trees, t)
	}
	return trees, nil
}

func writeTree(buf *bytes.Buffer, t Tree) {
	switch v := t.(type) {
	case Ident:
		buf.WriteByte(tagIdent)
		writeSpan(buf, v.Pos)
		writeString(buf, v.Text)
	case Punct:
		buf.WriteByte(tagPunct)
		writeSpan(buf, v.Pos)
		writeString(buf, v.Text)
	case Literal:
		buf.WriteByte(tagLiteral)
		writeSpan(buf, v.Pos)
		writeString(buf, v.Text)
	case GroupTree:
		buf.WriteByte(tagGroup)
		writeSpan(buf, v.Pos)
		buf.WriteByte(byte(v.Delimiter))
		writeMetadata(buf, v.Stream.Metadata)
		writeTrees(buf, v.Stream.Trees)
	}
}

func readTree(r *bytes.Reader) (Tree, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("tokenstream: truncated tree tag: %w", err)
	}
	span, err := readSpan(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagIdent:
		text, err := readString(r)
		if err != nil {
			return nil, err
		}
		return Ident{Text: text, Pos: span}, nil
	case tagPunct:
		text, err := readString(r)
		if err != nil {
			return nil, err
		}
		return Punct{Text: text, Pos: span}, nil
	case tagLiteral:
		text, err := readString(r)
		if err != nil {
			return nil, err
		}
		return Literal{Text: text, Pos: span}, nil
	case tagGroup:
		delimByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("tokenstream: truncated group delimiter: %w", err)
		}
		meta, err := readMetadata(r)
		if err != nil {
			return nil, err
		}
		trees, err := readTrees(r)
		if err != nil {
			return nil, err
		}
		return GroupTree{
			Delimiter: cairoast.Delimiter(delimByte),
			Stream:    Stream{Trees: trees, Metadata: meta},
			Pos:       span,
		}, nil
	default:
		return nil, fmt.Errorf("tokenstream: invalid tree tag %d", tag)
	}
}

func writeSpan(buf *bytes.Buffer, s cairoast.Span) {
	writeUint32(buf, uint32(s.File))
	writeUint32(buf, s.Start)
	writeUint32(buf, s.End)
}

func readSpan(r *bytes.Reader) (cairoast.Span, error) {
	file, err := readUint32(r)
	if err != nil {
		return cairoast.Span{}, err
	}
	start, err := readUint32(r)
	if err != nil {
		return cairoast.Span{}, err
	}
	end, err := readUint32(r)
	if err != nil {
		return cairoast.Span{}, err
	}
	return cairoast.Span{File: cairoast.FileID(file), Start: start, End: end}, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n > 1<<24 {
		return "", fmt.Errorf("tokenstream: implausible string length %d", n)
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", fmt.Errorf("tokenstream: truncated string: %w", err)
	}
	return string(b), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("tokenstream: truncated uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		k, err := r.Read(b[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
