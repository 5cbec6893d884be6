// Package postprocess implements the post-processor (C7, spec.md §4.7):
// after Cairo compilation concludes, replay each plugin's accumulated
// aux-data blobs through its registered post_process callback.
package postprocess

import (
	"github.com/software-mansion/scarb-macro-host/internal/abi"
	"github.com/software-mansion/scarb-macro-host/internal/diagnostics"
	"github.com/software-mansion/scarb-macro-host/internal/logger"
)

// Plugin is the narrow view of a loaded plugin post-processing needs: the
// ability to replay aux data, and whether it registered post_process at
// all (declared via abi.KindPostProcess in its expansions list).
type Plugin interface {
	ID() string
	Expansions() []abi.Kind
	PostProcess(aux [][]byte) error
}

// Run iterates plugins that registered post_process and calls each one's
// entry point exactly once, with its full aux-data blob list ordered by
// invocation ID (spec.md §4.7: "assembles a PostProcessCtx containing the
// auxiliary-data blobs produced by that plugin's invocations (ordered by
// invocation_id), and calls the entry point once"). The order among
// different plugins is unspecified; Run processes them in the order given.
// A single plugin's failure is logged and does not stop post-processing of
// the remaining plugins — post-process callbacks are observational, not
// load-bearing for compilation success.
func Run(plugins []Plugin, sink *diagnostics.Sink) {
	log := logger.PostProcess()

	for _, p := range plugins {
		if !registersPostProcess(p) {
			continue
		}

		entries := sink.AuxDataFor(p.ID())
		aux := make([][]byte, len(entries))
		for i, e := range entries {
			aux[i] = e.Data
		}

		if err := p.PostProcess(aux); err != nil {
			log.Error().Str("plugin", p.ID()).Err(err).Msg("post_process callback failed")
		}
	}
}

func registersPostProcess(p Plugin) bool {
	for _, k := range p.Expansions() {
		if k == abi.KindPostProcess {
			return true
		}
	}
	return false
}
