//go:build !unix

// This build receives no dlopen-based implementation: the native-plugin
// loading mechanism (spec.md §4.2) relies on dlfcn.h, which only exists on
// Unix-like targets. A host built for another target can still link and
// run everything else in this module; only Loader.Open becomes
// unconditionally unavailable.
package loader

import "fmt"

var nativeOpen = func(path string) (nativeHandle, error) {
	return nil, fmt.Errorf("native plugin loading is unsupported on this platform (no dlopen)")
}
