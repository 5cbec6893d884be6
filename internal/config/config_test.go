package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/software-mansion/scarb-macro-host/internal/abi"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CACHE_ROOT", "NATIVE_TOOLCHAIN", "NATIVE_COMPILER_BINARY",
		"PLUGIN_INCREMENTAL", "DISTRIBUTED_LOCK_REDIS_ADDR",
		"BUILD_LEDGER_DSN", "SCARB_MACRO_HOST_LOG_LEVEL",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ABIVersion != abi.Version {
		t.Errorf("ABIVersion = %d, want %d (abi.Version)", cfg.ABIVersion, abi.Version)
	}
	if cfg.CacheRoot == "" {
		t.Error("CacheRoot = \"\", want a default derived from os.UserCacheDir")
	}
	if !cfg.Incremental {
		t.Error("Incremental = false, want true by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want \"info\"", cfg.LogLevel)
	}
	if cfg.DistributedLockRedisAddr != "" || cfg.BuildLedgerDSN != "" {
		t.Error("optional ambient backends should default to disabled (empty)")
	}
}

func TestLoadRespectsEnvOverrides(t *testing.T) {
	clearEnv(t)

	root := filepath.Join(t.TempDir(), "cache")
	os.Setenv("CACHE_ROOT", root)
	os.Setenv("NATIVE_TOOLCHAIN", "2024.1")
	os.Setenv("PLUGIN_INCREMENTAL", "false")
	os.Setenv("SCARB_MACRO_HOST_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheRoot != root {
		t.Errorf("CacheRoot = %q, want %q", cfg.CacheRoot, root)
	}
	if cfg.NativeToolchain != "2024.1" {
		t.Errorf("NativeToolchain = %q, want \"2024.1\"", cfg.NativeToolchain)
	}
	if cfg.Incremental {
		t.Error("Incremental = true, want false from PLUGIN_INCREMENTAL=false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want \"debug\"", cfg.LogLevel)
	}
}

func TestLoadIgnoresUnparsableBoolOverride(t *testing.T) {
	clearEnv(t)
	os.Setenv("PLUGIN_INCREMENTAL", "not-a-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Incremental {
		t.Error("Incremental = false, want fallback to default true on unparsable override")
	}
}
