// Package apperr defines the error taxonomy used across the macro host.
//
// Every failure the host can produce belongs to one of the kinds below
// (see spec.md §7). The kind drives both how the host logs the failure and
// whether it is fatal to the whole compilation or just to the plugin/macro
// that produced it.
package apperr

import "fmt"

// Kind classifies a failure by where in the host pipeline it originated.
type Kind string

const (
	// KindConfig covers manifest/registration mistakes caught before
	// dispatch begins: a native-plugin target coexisting with Cairo
	// dependencies, an unwritable cache root, a duplicate macro name.
	KindConfig Kind = "config"

	// KindBuild covers native-toolchain subprocess failures.
	KindBuild Kind = "build"

	// KindLoad covers ABI mismatches, missing symbols, and OS load
	// failures when opening a compiled plugin.
	KindLoad Kind = "load"

	// KindInvocation covers a plugin's own Remove/Replace diagnostics
	// surfaced as compiler errors.
	KindInvocation Kind = "invocation"

	// KindProtocol covers malformed data crossing the FFI boundary:
	// negative lengths, invalid enum discriminants, unbalanced groups.
	KindProtocol Kind = "protocol"

	// KindCatastrophic covers failures that are out of contract and
	// unrecoverable (a plugin crashing the host process). The host
	// cannot construct this value for itself — it exists so callers
	// that detect such a condition (e.g. a recovered panic at a plugin
	// call boundary) can report it uniformly.
	KindCatastrophic Kind = "catastrophic"
)

// Error is a taxonomy-tagged error carrying enough identity to let a
// diagnostic consumer attribute the failure to a plugin and/or macro.
type Error struct {
	Kind       Kind
	PluginName string // empty when not attributable to a single plugin
	MacroName  string // empty when not attributable to a single macro
	Message    string
	Err        error // wrapped underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.PluginName != "" && e.MacroName != "":
		return fmt.Sprintf("%s: plugin %q macro %q: %s", e.Kind, e.PluginName, e.MacroName, e.detail())
	case e.PluginName != "":
		return fmt.Sprintf("%s: plugin %q: %s", e.Kind, e.PluginName, e.detail())
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.detail())
	}
}

func (e *Error) detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap enables errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Config builds a KindConfig error.
func Config(message string, cause error) *Error {
	return &Error{Kind: KindConfig, Message: message, Err: cause}
}

// Build builds a KindBuild error scoped to a plugin.
func Build(pluginName, message string, cause error) *Error {
	return &Error{Kind: KindBuild, PluginName: pluginName, Message: message, Err: cause}
}

// Load builds a KindLoad error scoped to a plugin.
func Load(pluginName, message string, cause error) *Error {
	return &Error{Kind: KindLoad, PluginName: pluginName, Message: message, Err: cause}
}

// Invocation builds a KindInvocation error scoped to a plugin and macro.
func Invocation(pluginName, macroName, message string) *Error {
	return &Error{Kind: KindInvocation, PluginName: pluginName, MacroName: macroName, Message: message}
}

// Protocol builds a KindProtocol error scoped to a plugin.
func Protocol(pluginName, message string, cause error) *Error {
	return &Error{Kind: KindProtocol, PluginName: pluginName, Message: message, Err: cause}
}

// Catastrophic builds a KindCatastrophic error scoped to a plugin, for
// callers that recovered a panic at a plugin call boundary and need to
// report it through the same taxonomy (see spec.md §7's documented
// unrecoverable-failure carve-out).
func Catastrophic(pluginName, message string, cause error) *Error {
	return &Error{Kind: KindCatastrophic, PluginName: pluginName, Message: message, Err: cause}
}

// Fatal reports whether an error of this kind aborts the whole
// compilation (as opposed to being scoped to a single plugin/macro).
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindConfig, KindProtocol, KindCatastrophic:
		return true
	default:
		return false
	}
}
