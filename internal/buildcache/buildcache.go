// Package buildcache implements the plugin build cache (C3, spec.md §4.3):
// synthesising a native build manifest, computing the BuildKey, driving the
// native toolchain as a subprocess, and storing the resulting shared
// object in a content-addressed on-disk cache.
//
// The subprocess-invocation idiom (CommandContext, CombinedOutput,
// environment scrubbing) is adapted from the teacher's GitClient
// (api/internal/sync/git.go) — the only place in the teacher repo that
// shells out to an external tool and has to reason about its exit status
// and captured output as a first-class error. The advisory-locking idiom
// is new (gofrs/flock), falling back to internal/distlock when configured,
// matching the teacher's own "cache disabled, fall back gracefully"
// posture in api/internal/cache/cache.go.
package buildcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/software-mansion/scarb-macro-host/internal/apperr"
	"github.com/software-mansion/scarb-macro-host/internal/buildledger"
	"github.com/software-mansion/scarb-macro-host/internal/distlock"
	"github.com/software-mansion/scarb-macro-host/internal/logger"
	"github.com/software-mansion/scarb-macro-host/internal/manifest"
)

// BuildKey is a content hash over everything that determines a plugin
// artifact's bits (spec.md §3). crypto/sha256 is used directly — hashing
// is a one-line stdlib call with no ecosystem idiom to borrow (see
// DESIGN.md's standard-library justification section).
type BuildKey [32]byte

// Hex renders the BuildKey the way cache paths and distlock keys need it.
func (k BuildKey) Hex() string { return hex.EncodeToString(k[:]) }

// Toolchain names the native compiler driver and its version, both folded
// into BuildKey since they affect the produced bits (spec.md §3, §6).
type Toolchain struct {
	Version      string // NATIVE_TOOLCHAIN
	CompilerPath string // NATIVE_COMPILER_BINARY
}

// ComputeBuildKey hashes plugin name + version + source fingerprint +
// host-triple + ABI version + native-toolchain identity, per spec.md §3.
func ComputeBuildKey(pkg manifest.PluginPackage, hostTriple string, abiVersion uint32, tc Toolchain) BuildKey {
	h := sha256.New()
	fmt.Fprintf(h, "name=%s\x00version=%s\x00fingerprint=%s\x00triple=%s\x00abi=%d\x00toolchain=%s\x00compiler=%s\x00",
		pkg.Name, pkg.Version, pkg.SourceFingerprint, hostTriple, abiVersion, tc.Version, tc.CompilerPath)
	var k BuildKey
	copy(k[:], h.Sum(nil))
	return k
}

// ArtifactHandle is the on-disk path of a compiled shared object plus its
// BuildKey (spec.md §3), owned by the cache directory.
type ArtifactHandle struct {
	BuildKey BuildKey
	Path     string
}

// libraryFileName returns the platform-conventional shared-library file
// name (spec.md §6 "lib.{so|dylib|dll}").
func libraryFileName() string {
	switch runtime.GOOS {
	case "darwin":
		return "lib.dylib"
	case "windows":
		return "lib.dll"
	default:
		return "lib.so"
	}
}

// Cache is the content-addressed plugin build cache. One Cache is shared
// across every compilation unit in a process.
type Cache struct {
	root        string // CACHE_ROOT, conventionally cache/plugins
	hostTriple  string
	abiVersion  uint32
	toolchain   Toolchain
	incremental bool
	runNative   func(ctx context.Context, manifestPath, buildDir string, tc Toolchain) (artifactSrcPath string, err error)

	ledger *buildledger.Ledger // optional, may be nil
	dist   *distlock.Lock      // optional, may be nil
}

// Options configures a Cache.
type Options struct {
	Root        string
	HostTriple  string
	ABIVersion  uint32
	Toolchain   Toolchain
	Incremental bool
	Ledger      *buildledger.Ledger
	DistLock    *distlock.Lock
}

// New creates a Cache rooted at opts.Root, creating the directory if
// necessary.
func New(opts Options) (*Cache, error) {
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, apperr.Config(fmt.Sprintf("cache root %s is not writable", opts.Root), err)
	}
	return &Cache{
		root:        opts.Root,
		hostTriple:  opts.HostTriple,
		abiVersion:  opts.ABIVersion,
		toolchain:   opts.Toolchain,
		incremental: opts.Incremental,
		runNative:   runNativeToolchain,
		ledger:      opts.Ledger,
		dist:        opts.DistLock,
	}, nil
}

func (c *Cache) artifactDir(key BuildKey) string {
	return filepath.Join(c.root, key.Hex())
}

func (c *Cache) artifactPath(key BuildKey) string {
	return filepath.Join(c.artifactDir(key), libraryFileName())
}

// lockPath is the gofrs/flock advisory lock file for one BuildKey — a
// sibling of the artifact directory, never itself inside the
// content-addressed tree (spec.md §4.3: "nothing but artifacts keyed by
// BuildKey lives there").
func (c *Cache) lockPath(key BuildKey) string {
	return filepath.Join(c.root, ".locks", key.Hex()+".lock")
}

// Resolve obtains the ArtifactHandle for pkg: a cache hit returns
// immediately; a miss builds it via the native toolchain (spec.md §4.3).
// allowPrebuilt gates whether a dropped-in prebuilt artifact at
// prebuiltPath may be accepted instead of invoking the toolchain
// (spec.md §4.3, §6 allow-prebuilt-plugins).
func (c *Cache) Resolve(ctx context.Context, pkg manifest.PluginPackage, allowPrebuilt bool, prebuiltPath string, validate func(libPath string) error) (ArtifactHandle, error) {
	key := ComputeBuildKey(pkg, c.hostTriple, c.abiVersion, c.toolchain)
	log := logger.Build()

	if path, ok := c.lookup(key); ok {
		log.Debug().Str("plugin", pkg.Name).Str("build_key", key.Hex()).Msg("cache hit")
		return ArtifactHandle{BuildKey: key, Path: path}, nil
	}

	if allowPrebuilt && prebuiltPath != "" {
		if err := c.acceptPrebuilt(key, prebuiltPath, validate); err == nil {
			handle := ArtifactHandle{BuildKey: key, Path: c.artifactPath(key)}
			c.recordLedger(pkg, handle)
			return handle, nil
		} else {
			// Fall back silently to rebuilding, per spec.md §4.3: "never
			// fail the compilation solely because a prebuilt was
			// unusable".
			log.Warn().Str("plugin", pkg.Name).Err(err).Msg("prebuilt artifact unusable, rebuilding")
		}
	}

	unlock, err := c.acquireLock(ctx, key)
	if err != nil {
		return ArtifactHandle{}, err
	}
	defer unlock()

	// Re-check after acquiring the lock: a concurrent winner may have
	// finished the build while we were waiting (spec.md §4.3 invariant 1,
	// §8 property 1).
	if path, ok := c.lookup(key); ok {
		return ArtifactHandle{BuildKey: key, Path: path}, nil
	}

	path, err := c.build(ctx, pkg, key)
	if err != nil {
		return ArtifactHandle{}, err
	}

	handle := ArtifactHandle{BuildKey: key, Path: path}
	c.recordLedger(pkg, handle)
	return handle, nil
}

func (c *Cache) recordLedger(pkg manifest.PluginPackage, handle ArtifactHandle) {
	if c.ledger == nil {
		return
	}
	c.ledger.Record(buildledger.Entry{
		BuildKeyHex:   handle.BuildKey.Hex(),
		PluginName:    pkg.Name,
		PluginVersion: pkg.Version,
		HostTriple:    c.hostTriple,
		ResolvedAt:    stableNow(),
		ArtifactPath:  handle.Path,
	})
}

func (c *Cache) lookup(key BuildKey) (string, bool) {
	path := c.artifactPath(key)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// acceptPrebuilt validates and installs a dropped-in prebuilt artifact
// into the content-addressed cache under key, without invoking the
// toolchain (spec.md §4.3, §8 scenario S5).
func (c *Cache) acceptPrebuilt(key BuildKey, prebuiltPath string, validate func(libPath string) error) error {
	if validate != nil {
		if err := validate(prebuiltPath); err != nil {
			return fmt.Errorf("prebuilt artifact at %s failed validation: %w", prebuiltPath, err)
		}
	}
	if err := os.MkdirAll(c.artifactDir(key), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(prebuiltPath)
	if err != nil {
		return err
	}
	return os.WriteFile(c.artifactPath(key), data, 0o755)
}

// acquireLock serializes concurrent builds of the same BuildKey across
// processes (spec.md §4.3 invariant 1, §5). When a distributed lock backend
// is configured it is tried first; either way the local gofrs/flock lock
// is always held too, since distlock only protects cross-machine races and
// cannot replace in-process/on-host file locking.
func (c *Cache) acquireLock(ctx context.Context, key BuildKey) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(c.lockPath(key)), 0o755); err != nil {
		return nil, apperr.Build("", "failed to create lock directory", err)
	}

	releaseDist := func() {}
	if c.dist != nil {
		owner := fmt.Sprintf("pid-%d", os.Getpid())
		for {
			ok, err := c.dist.TryAcquire(ctx, key.Hex(), owner, 2*time.Minute)
			if err != nil {
				logger.Build().Warn().Err(err).Msg("distlock unavailable, relying on local lock only")
				break
			}
			if ok {
				releaseDist = func() { _ = c.dist.Release(ctx, key.Hex(), owner) }
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	fl := flock.New(c.lockPath(key))
	locked, err := fl.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		releaseDist()
		return nil, apperr.Build("", "failed to acquire build lock", err)
	}
	if !locked {
		releaseDist()
		return nil, apperr.Build("", "failed to acquire build lock", ctx.Err())
	}
	return func() {
		_ = fl.Unlock()
		releaseDist()
	}, nil
}

// build synthesises the native manifest, invokes the native toolchain in a
// private build directory, and moves the produced artifact into the cache
// keyed by BuildKey (spec.md §4.3 steps 1 and 4).
func (c *Cache) build(ctx context.Context, pkg manifest.PluginPackage, key BuildKey) (string, error) {
	log := logger.Build()

	buildDir, err := os.MkdirTemp("", "scarb-macro-build-*")
	if err != nil {
		return "", apperr.Build(pkg.Name, "failed to create isolated build directory", err)
	}
	defer os.RemoveAll(buildDir)

	native := manifest.Synthesize(pkg, c.abiVersion)
	manifestBytes, err := native.Marshal()
	if err != nil {
		return "", apperr.Build(pkg.Name, "failed to synthesize native manifest", err)
	}
	manifestPath := filepath.Join(buildDir, "native-manifest.yaml")
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return "", apperr.Build(pkg.Name, "failed to write native manifest", err)
	}

	log.Info().Str("plugin", pkg.Name).Str("build_key", key.Hex()).Msg("invoking native toolchain")
	artifactSrc, err := c.runNative(ctx, manifestPath, buildDir, c.toolchain)
	if err != nil {
		return "", apperr.Build(pkg.Name, "native toolchain failed", err)
	}

	if err := os.MkdirAll(c.artifactDir(key), 0o755); err != nil {
		return "", apperr.Build(pkg.Name, "failed to create cache entry directory", err)
	}
	dest := c.artifactPath(key)
	if err := moveFile(artifactSrc, dest); err != nil {
		return "", apperr.Build(pkg.Name, "failed to install built artifact into cache", err)
	}
	return dest, nil
}

// runNativeToolchain shells out to the configured native compiler driver,
// the same way the teacher's GitClient wraps `git`: CommandContext,
// CombinedOutput surfaced verbatim on failure, and a scrubbed environment
// (spec.md §4.3 invariant: "scrubbed of user-level overrides... selected
// overrides... read from well-defined environment variables").
func runNativeToolchain(ctx context.Context, manifestPath, buildDir string, tc Toolchain) (string, error) {
	compiler := tc.CompilerPath
	if compiler == "" {
		compiler = "scarb-native-plugin-cc"
	}

	args := []string{"build", "--manifest", manifestPath, "--out-dir", buildDir}
	if tc.Version != "" {
		args = append(args, "--toolchain", tc.Version)
	}

	cmd := exec.CommandContext(ctx, compiler, args...)
	cmd.Dir = buildDir
	cmd.Env = scrubbedEnv(tc)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w\noutput:\n%s", compiler, strings.Join(args, " "), err, string(output))
	}

	produced := filepath.Join(buildDir, libraryFileName())
	if _, err := os.Stat(produced); err != nil {
		return "", fmt.Errorf("native toolchain reported success but produced no %s", libraryFileName())
	}
	return produced, nil
}

// scrubbedEnv strips the ambient environment down to what determinism
// requires, re-adding only the well-defined overrides spec.md §6 lists.
func scrubbedEnv(tc Toolchain) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	if tc.Version != "" {
		env = append(env, "NATIVE_TOOLCHAIN="+tc.Version)
	}
	if tc.CompilerPath != "" {
		env = append(env, "NATIVE_COMPILER_BINARY="+tc.CompilerPath)
	}
	return env
}

func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	// os.Rename fails across filesystem boundaries (e.g. temp dir on a
	// different mount than the cache root); fall back to copy+remove.
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o755); err != nil {
		return err
	}
	return os.Remove(src)
}

func stableNow() time.Time { return time.Now() }
