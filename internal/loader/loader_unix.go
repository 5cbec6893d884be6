//go:build unix

// This file implements nativeHandle for Unix-like platforms (Linux,
// Darwin) using dlopen/dlsym/dlclose, so the host can load plugin shared
// objects compiled by any toolchain that can produce a standard C ABI
// shared library — not just ones built with the host's own Go toolchain
// (spec.md §4.1, §4.2). The C struct layout below is the single source of
// truth for the wire ABI; a conforming plugin (in any language) must lay
// its exported `plugin_entry` vtable out identically.
package loader

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <dlfcn.h>

typedef struct {
	const uint8_t *ptr;
	size_t len;
} ScarbBytes;
typedef ScarbBytes ScarbStr;

typedef struct {
	uint32_t file_id;
	uint32_t start;
	uint32_t end;
} ScarbSpan;

typedef struct ScarbTokenTree ScarbTokenTree;
typedef struct {
	ScarbTokenTree *trees;
	size_t len;
} ScarbTokenStream;

struct ScarbTokenTree {
	uint32_t kind;
	ScarbStr text;
	ScarbSpan span;
	uint32_t delimiter;
	ScarbTokenStream group;
};

typedef struct {
	uint32_t severity;
	ScarbStr message;
	uint8_t has_span;
	ScarbSpan span;
} ScarbDiagnostic;

typedef struct {
	uint32_t kind;
	ScarbTokenStream tokens;
	uint8_t has_aux_data;
	ScarbBytes aux_data;
	ScarbDiagnostic *diagnostics;
	size_t diagnostics_len;
} ScarbProcMacroResult;

typedef struct {
	uint32_t kind;
	ScarbStr name;
} ScarbExpansionDecl;

typedef struct {
	ScarbExpansionDecl *decls;
	size_t len;
} ScarbExpansionList;

typedef struct {
	ScarbBytes *blobs;
	size_t len;
} ScarbAuxDataList;

typedef struct {
	uint32_t abi_version;
	void (*list_expansions)(void *plugin_ctx, ScarbExpansionList *out);
	ScarbProcMacroResult (*expand)(void *plugin_ctx, uint32_t kind,
		ScarbStr name, const ScarbTokenStream *input, const ScarbSpan *call_site);
	void (*post_process)(void *plugin_ctx, const ScarbAuxDataList *aux);
	void (*free_token_stream)(ScarbTokenStream stream);
	void (*free_result)(ScarbProcMacroResult result);
	void (*free_expansion_list)(ScarbExpansionList list);
	void *plugin_ctx;
} ScarbVtable;

// call_expand/call_list_expansions/call_post_process exist because cgo
// cannot call a C function pointer field directly from Go — it must be
// wrapped in a real C function first.
static ScarbProcMacroResult call_expand(ScarbVtable *vt, uint32_t kind, ScarbStr name,
		const ScarbTokenStream *input, const ScarbSpan *call_site) {
	return vt->expand(vt->plugin_ctx, kind, name, input, call_site);
}

static void call_list_expansions(ScarbVtable *vt, ScarbExpansionList *out) {
	vt->list_expansions(vt->plugin_ctx, out);
}

static void call_post_process(ScarbVtable *vt, const ScarbAuxDataList *aux) {
	vt->post_process(vt->plugin_ctx, aux);
}

static void call_free_result(ScarbVtable *vt, ScarbProcMacroResult result) {
	if (vt->free_result) vt->free_result(result);
}

static void call_free_expansion_list(ScarbVtable *vt, ScarbExpansionList list) {
	if (vt->free_expansion_list) vt->free_expansion_list(list);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/software-mansion/scarb-macro-host/internal/abi"
	"github.com/software-mansion/scarb-macro-host/internal/apperr"
)

type unixHandle struct {
	dlHandle unsafe.Pointer
	vtable   *C.ScarbVtable
	path     string
}

// nativeOpen is a variable rather than a plain function so tests can
// substitute a fake nativeHandle without a real shared object on disk.
var nativeOpen = func(path string) (nativeHandle, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	dlHandle := C.dlopen(cPath, C.RTLD_NOW|C.RTLD_LOCAL)
	if dlHandle == nil {
		return nil, fmt.Errorf("dlopen: %s", C.GoString(C.dlerror()))
	}

	sym := C.CString("plugin_entry")
	defer C.free(unsafe.Pointer(sym))
	C.dlerror() // clear any pending error per dlsym(3) idiom
	entryPtr := C.dlsym(dlHandle, sym)
	if errStr := C.dlerror(); errStr != nil {
		C.dlclose(dlHandle)
		return nil, fmt.Errorf("missing plugin_entry symbol: %s", C.GoString(errStr))
	}
	if entryPtr == nil {
		C.dlclose(dlHandle)
		return nil, fmt.Errorf("plugin_entry symbol resolved to a null pointer")
	}

	vtable := (*C.ScarbVtable)(entryPtr)
	return &unixHandle{dlHandle: dlHandle, vtable: vtable, path: path}, nil
}

func (h *unixHandle) abiVersion() (uint32, error) {
	return uint32(h.vtable.abi_version), nil
}

func (h *unixHandle) listExpansions() ([]abi.Kind, []string, error) {
	var out C.ScarbExpansionList
	C.call_list_expansions(h.vtable, &out)
	defer C.call_free_expansion_list(h.vtable, out)

	n := int(out.len)
	kinds := make([]abi.Kind, 0, n)
	names := make([]string, 0, n)
	decls := unsafe.Slice(out.decls, n)
	for _, d := range decls {
		kinds = append(kinds, abi.Kind(d.kind))
		names = append(names, cStrToGo(d.name))
	}
	return kinds, names, nil
}

func (h *unixHandle) invoke(kind abi.Kind, name string, inputEncoded []byte, callSite Span) (InvokeResult, error) {
	cName := goBytesToCStr(name)
	defer freeCStr(cName)

	input := encodedStreamToC(inputEncoded)
	defer freeCStream(input)

	cSpan := C.ScarbSpan{
		file_id: C.uint32_t(callSite.FileID),
		start:   C.uint32_t(callSite.Start),
		end:     C.uint32_t(callSite.End),
	}

	result := C.call_expand(h.vtable, C.uint32_t(kind), cName, &input, &cSpan)
	defer C.call_free_result(h.vtable, result)

	return decodeResult(result)
}

func (h *unixHandle) postProcess(aux [][]byte) error {
	blobs := make([]C.ScarbBytes, len(aux))
	cleanups := make([]func(), 0, len(aux))
	for i, a := range aux {
		ptr := C.CBytes(a)
		cleanups = append(cleanups, func() { C.free(ptr) })
		blobs[i] = C.ScarbBytes{ptr: (*C.uint8_t)(ptr), len: C.size_t(len(a))}
	}
	defer func() {
		for _, c := range cleanups {
			c()
		}
	}()

	list := C.ScarbAuxDataList{len: C.size_t(len(blobs))}
	if len(blobs) > 0 {
		list.blobs = &blobs[0]
	}

	C.call_post_process(h.vtable, &list)
	return nil
}

func (h *unixHandle) close() {
	if h.dlHandle != nil {
		C.dlclose(h.dlHandle)
		h.dlHandle = nil
	}
}

func cStrToGo(s C.ScarbStr) string {
	if s.ptr == nil || s.len == 0 {
		return ""
	}
	return C.GoStringN((*C.char)(unsafe.Pointer(s.ptr)), C.int(s.len))
}

func goBytesToCStr(s string) C.ScarbStr {
	if len(s) == 0 {
		return C.ScarbStr{}
	}
	ptr := C.CBytes([]byte(s))
	return C.ScarbStr{ptr: (*C.uint8_t)(ptr), len: C.size_t(len(s))}
}

func freeCStr(s C.ScarbStr) {
	if s.ptr != nil {
		C.free(unsafe.Pointer(s.ptr))
	}
}

// encodedStreamToC/freeCStream convert the host's length-prefixed encoded
// TokenStream byte slice (produced by internal/tokenstream's wire codec)
// into/out of a one-level-flat ScarbTokenStream of opaque-text leaves.
// Nested Group structure, once encoded, is carried inside each tree's
// `text` payload rather than reconstructed as nested C structs here — the
// plugin-side decoder is responsible for the inverse, matching the
// "each side frees what it allocated" contract of spec.md §4.1.
func encodedStreamToC(encoded []byte) C.ScarbTokenStream {
	if len(encoded) == 0 {
		return C.ScarbTokenStream{}
	}
	ptr := C.CBytes(encoded)
	leaf := (*C.ScarbTokenTree)(C.malloc(C.size_t(unsafe.Sizeof(C.ScarbTokenTree{}))))
	*leaf = C.ScarbTokenTree{
		kind: C.uint32_t(abi.KindBang), // opaque encoded-blob marker; see tokenstream wire format
		text: C.ScarbStr{ptr: (*C.uint8_t)(ptr), len: C.size_t(len(encoded))},
	}
	return C.ScarbTokenStream{trees: leaf, len: 1}
}

func freeCStream(s C.ScarbTokenStream) {
	if s.trees == nil {
		return
	}
	trees := unsafe.Slice(s.trees, int(s.len))
	for _, t := range trees {
		if t.text.ptr != nil {
			C.free(unsafe.Pointer(t.text.ptr))
		}
	}
	C.free(unsafe.Pointer(s.trees))
}

func decodeResult(r C.ScarbProcMacroResult) (InvokeResult, error) {
	out := InvokeResult{Kind: ResultKind(r.kind)}

	if r.kind == C.uint32_t(ResultReplace) {
		out.Tokens = cStreamToEncodedBytes(r.tokens)
	}
	if r.has_aux_data != 0 {
		out.AuxData = C.GoBytes(unsafe.Pointer(r.aux_data.ptr), C.int(r.aux_data.len))
	}

	n := int(r.diagnostics_len)
	if n > 0 {
		diags := unsafe.Slice(r.diagnostics, n)
		out.Diagnostics = make([]Diagnostic, 0, n)
		for _, d := range diags {
			diag := Diagnostic{
				Severity: int(d.severity),
				Message:  cStrToGo(d.message),
				HasSpan:  d.has_span != 0,
			}
			if diag.HasSpan {
				diag.Span = Span{FileID: uint32(d.span.file_id), Start: uint32(d.span.start), End: uint32(d.span.end)}
			}
			out.Diagnostics = append(out.Diagnostics, diag)
		}
	}

	if out.Kind != ResultLeave && out.Kind != ResultReplace && out.Kind != ResultRemove {
		return InvokeResult{}, apperr.Protocol("", fmt.Sprintf("invalid ProcMacroResult discriminant %d", r.kind), nil)
	}
	return out, nil
}

func cStreamToEncodedBytes(s C.ScarbTokenStream) []byte {
	if s.len == 0 || s.trees == nil {
		return nil
	}
	// The host only ever decodes the single opaque-blob leaf shape it
	// itself produces via encodedStreamToC's mirror on the plugin side;
	// a well-behaved plugin returns its replacement tokens the same way.
	first := unsafe.Slice(s.trees, int(s.len))[0]
	return C.GoBytes(unsafe.Pointer(first.text.ptr), C.int(first.text.len))
}
