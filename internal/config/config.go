// Package config centralizes the macro host's process-wide configuration:
// the environment variables listed in spec.md §6 plus the ambient
// observability knobs SPEC_FULL.md adds. Adapted from the teacher's
// env-var bootstrapping in cmd/main.go (getEnv/getEnvInt helpers).
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/software-mansion/scarb-macro-host/internal/abi"
)

// Host is the process-wide configuration read once at startup. It is
// injected into every component that needs it; nothing in the host
// mutates it after construction (spec.md §9: "global state... injected at
// startup, never mutated").
type Host struct {
	// ABIVersion is the frozen integer both host and plugins compile
	// against (spec.md §4.1). It is a build-time constant, not an
	// environment override — see abi.Version.
	ABIVersion uint32

	// CacheRoot is the content-addressed plugin artifact cache
	// directory (spec.md §6 "cache/plugins/<BuildKey-hex>/...").
	CacheRoot string

	// NativeToolchain overrides the toolchain version used to compile
	// plugins (spec.md §6 NATIVE_TOOLCHAIN). Empty means "use whatever
	// the toolchain driver resolves by default".
	NativeToolchain string

	// NativeCompilerBinary overrides the compiler driver binary path
	// (spec.md §6 NATIVE_COMPILER_BINARY).
	NativeCompilerBinary string

	// Incremental holds PLUGIN_INCREMENTAL (spec.md §6), true unless the
	// variable parses as false. It is handed to internal/buildcache via
	// Options.Incremental; the build cache stores it but passes no
	// incremental-build flag to the native toolchain and does not fold it
	// into BuildKey.
	Incremental bool

	// DistributedLockRedisAddr, when non-empty, makes internal/buildcache
	// take an internal/distlock lease in addition to its local file lock
	// for the §4.3 advisory lock — an ambient multi-machine-CI concern,
	// not part of BuildKey.
	DistributedLockRedisAddr string

	// BuildLedgerDSN, when non-empty, enables internal/buildledger's
	// best-effort Postgres audit trail of resolved BuildKeys.
	BuildLedgerDSN string

	// LogLevel is passed to internal/logger.Initialize.
	LogLevel string
}

// Load builds a Host configuration from the process environment,
// defaulting any unset variable the way the teacher's getEnv does.
func Load() (*Host, error) {
	cacheRoot := getEnv("CACHE_ROOT", "")
	if cacheRoot == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}
		cacheRoot = filepath.Join(userCache, "scarb", "plugins")
	}

	return &Host{
		ABIVersion:               abi.Version,
		CacheRoot:                cacheRoot,
		NativeToolchain:          getEnv("NATIVE_TOOLCHAIN", ""),
		NativeCompilerBinary:     getEnv("NATIVE_COMPILER_BINARY", ""),
		Incremental:              getEnvBool("PLUGIN_INCREMENTAL", true),
		DistributedLockRedisAddr: getEnv("DISTRIBUTED_LOCK_REDIS_ADDR", ""),
		BuildLedgerDSN:           getEnv("BUILD_LEDGER_DSN", ""),
		LogLevel:                 getEnv("SCARB_MACRO_HOST_LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
