// Command macro-host is a small demonstration binary that wires every
// component together the way a real build tool would: it loads a
// manifest, resolves/builds/loads the declared plugins, builds an
// expansion registry, and runs the dispatcher and post-processor over an
// empty toy Cairo module (no source file is read), adapted from the
// teacher's env-var driven cmd/main.go bootstrap.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/software-mansion/scarb-macro-host/internal/buildcache"
	"github.com/software-mansion/scarb-macro-host/internal/buildledger"
	"github.com/software-mansion/scarb-macro-host/internal/cairoast"
	"github.com/software-mansion/scarb-macro-host/internal/config"
	"github.com/software-mansion/scarb-macro-host/internal/distlock"
	"github.com/software-mansion/scarb-macro-host/internal/gc"
	"github.com/software-mansion/scarb-macro-host/internal/host"
	"github.com/software-mansion/scarb-macro-host/internal/logger"
	"github.com/software-mansion/scarb-macro-host/internal/manifest"
)

func main() {
	manifestPath := flag.String("manifest", "", "path to the top-level package manifest")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: ", err)
		os.Exit(1)
	}
	logger.Initialize(cfg.LogLevel, true)

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "usage: macro-host -manifest <path>")
		os.Exit(2)
	}

	top, err := manifest.ParseFile(*manifestPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to parse manifest")
	}

	var ledger *buildledger.Ledger
	if cfg.BuildLedgerDSN != "" {
		ledger, err = buildledger.Open(cfg.BuildLedgerDSN)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("build ledger unavailable, continuing without it")
		} else {
			defer ledger.Close()
		}
	}

	var dist *distlock.Lock
	if cfg.DistributedLockRedisAddr != "" {
		dist, err = distlock.Dial(cfg.DistributedLockRedisAddr)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("distributed lock backend unavailable, falling back to local locking only")
		} else {
			defer dist.Close()
		}
	}

	cache, err := buildcache.New(buildcache.Options{
		Root:        cfg.CacheRoot,
		HostTriple:  hostTriple(),
		ABIVersion:  cfg.ABIVersion,
		Toolchain:   buildcache.Toolchain{Version: cfg.NativeToolchain, CompilerPath: cfg.NativeCompilerBinary},
		Incremental: cfg.Incremental,
		Ledger:      ledger,
		DistLock:    dist,
	})
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to initialize plugin build cache")
	}

	sweeper := gc.NewSweeper(cfg.CacheRoot, 30*24*time.Hour)
	if err := sweeper.Start("@hourly"); err != nil {
		logger.Log.Warn().Err(err).Msg("cache gc scheduling failed, continuing without it")
	} else {
		defer sweeper.Stop()
	}

	h := host.New(cache, host.Config{
		ABIVersion:       cfg.ABIVersion,
		HostTriple:       hostTriple(),
		Toolchain:        buildcache.Toolchain{Version: cfg.NativeToolchain, CompilerPath: cfg.NativeCompilerBinary},
		TopLevel:         top,
		ValidatePrebuilt: host.ValidatePrebuiltABI,
	})
	defer h.Close()

	ctx := context.Background()
	reg, collisions := h.BuildRegistry(ctx, top.Plugins)
	if len(collisions) > 0 {
		for _, c := range collisions {
			logger.Log.Error().Err(c).Msg("macro registry collision")
		}
		os.Exit(1)
	}

	logger.Log.Info().
		Int("bang", len(reg.Names(0))).
		Msg("registry built")

	mod := &cairoast.Module{}
	h.Dispatch(mod)
	h.PostProcess()

	sink := h.Sink()
	for _, d := range sink.Diagnostics() {
		logger.Log.Info().Str("severity", d.Severity.String()).Str("plugin", d.Plugin).Msg(d.Message)
	}
	if sink.HasErrors() {
		os.Exit(1)
	}
}

func hostTriple() string {
	return fmt.Sprintf("%s-%s", runtime.GOARCH, runtime.GOOS)
}
